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
	"io/ioutil"
	"os"

	"github.com/pkg/profile"
	"github.com/spf13/cobra"

	"github.com/notargets/gocoupled/InputParameters"
	"github.com/notargets/gocoupled/comm"
	"github.com/notargets/gocoupled/coupling"
	"github.com/notargets/gocoupled/utils"
)

type ModelRun struct {
	DeckFile     string
	CheckVolumes bool
	Profile      bool
}

// RunCmd represents the run command
var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Coupled Picard iteration driven by a YAML input deck",
	Long: `Runs the coupled neutronics / heat-fluids Picard iteration described
by a YAML input deck, on an in-process job sized to fit both solvers`,
	Run: func(cmd *cobra.Command, args []string) {
		var (
			err error
		)
		fmt.Println("run called")
		mr := &ModelRun{}
		if mr.DeckFile, err = cmd.Flags().GetString("deckFile"); err != nil {
			panic(err)
		}
		mr.CheckVolumes, _ = cmd.Flags().GetBool("checkVolumes")
		mr.Profile, _ = cmd.Flags().GetBool("profile")
		ip := processDeck(mr.DeckFile)
		RunCoupled(mr, ip)
	},
}

func processDeck(deckFile string) (ip *InputParameters.CouplingParameters) {
	var (
		err error
	)
	if len(deckFile) == 0 {
		err := fmt.Errorf("must supply an input deck (-D, --deckFile) in YAML format")
		fmt.Printf("error: %s\n", err.Error())
		exampleFile := `
########################################
Title: "Single Pin"
Power: 2.0e4
MaxTimesteps: 1
MaxPicardIter: 5
Epsilon: 1.e-2
Norm: Linf # Can be "L1" or "L2"
Alpha: 0.7
AlphaT: robbins-monro
Neutronics:
  Driver: surrogate
  Nodes: 1
  ProcsPerNode: 1
  Lattice: {PinsX: 1, PinsY: 1, Pitch: 1.26, FuelRadius: 0.406, Height: 120}
  AxialLevels: 10
HeatFluids:
  Driver: surrogate
  Nodes: 1
  ProcsPerNode: 1
  Lattice: {PinsX: 1, PinsY: 1, Pitch: 1.26, FuelRadius: 0.406, Height: 120}
  AxialLevels: 20
  FuelRings: 5
########################################
`
		fmt.Printf("Example File:%s\n", exampleFile)
		os.Exit(1)
	}
	var data []byte
	if data, err = ioutil.ReadFile(deckFile); err != nil {
		panic(err)
	}
	ip = InputParameters.DefaultParameters()
	if err = ip.Parse(data); err != nil {
		panic(err)
	}
	if err = ip.Validate(); err != nil {
		fmt.Printf("error: %s\n", err.Error())
		os.Exit(1)
	}
	return
}

// worldLayout sizes the in-process job so both driver requests fit.
func worldLayout(ip *InputParameters.CouplingParameters) (size, procsPerNode int) {
	nodes := ip.Neutronics.Nodes
	if ip.HeatFluids.Nodes > nodes {
		nodes = ip.HeatFluids.Nodes
	}
	procsPerNode = ip.Neutronics.ProcsPerNode
	if ip.HeatFluids.ProcsPerNode > procsPerNode {
		procsPerNode = ip.HeatFluids.ProcsPerNode
	}
	size = nodes * procsPerNode
	return
}

func RunCoupled(mr *ModelRun, ip *InputParameters.CouplingParameters) {
	if mr.Profile {
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(".")).Stop()
	}
	ip.Print()
	size, procsPerNode := worldLayout(ip)
	err := comm.RunWorld(size, procsPerNode, func(c *comm.Comm) error {
		cd, err := coupling.NewCoupledDriver(c, ip, mr.CheckVolumes)
		if err != nil {
			return err
		}
		return cd.Execute()
	})
	if err != nil {
		fmt.Printf("error: %s\n", err.Error())
		os.Exit(1)
	}
	fmt.Printf("%s\n", utils.GetMemUsage())
}

func init() {
	rootCmd.AddCommand(RunCmd)
	RunCmd.Flags().StringP("deckFile", "D", "", "YAML input deck describing the coupled run")
	RunCmd.Flags().BoolP("checkVolumes", "v", false, "cross-check mapped heat-fluids volumes against neutronics cell volumes")
	RunCmd.Flags().BoolP("profile", "p", false, "write a CPU profile for the run")
}
