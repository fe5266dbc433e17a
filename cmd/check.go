/*
Copyright © 2020 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/notargets/gocoupled/comm"
)

// CheckCmd represents the check command
var CheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validates a YAML input deck without running it",
	Long: `Parses and validates a coupled input deck, then prints the resolved
parameters and the job layout the run command would use`,
	Run: func(cmd *cobra.Command, args []string) {
		var (
			err error
		)
		fmt.Println("check called")
		var deckFile string
		if deckFile, err = cmd.Flags().GetString("deckFile"); err != nil {
			panic(err)
		}
		ip := processDeck(deckFile)
		ip.Print()
		size, procsPerNode := worldLayout(ip)
		job := comm.DriverLayout{Nodes: size / procsPerNode, ProcsPerNode: procsPerNode}
		fmt.Printf("%s\t= Job\n", job)
		fmt.Printf("deck is valid\n")
	},
}

func init() {
	rootCmd.AddCommand(CheckCmd)
	CheckCmd.Flags().StringP("deckFile", "D", "", "YAML input deck to validate")
}
