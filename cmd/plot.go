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
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/notargets/gocoupled/utils"
)

// PlotCmd represents the plot command
var PlotCmd = &cobra.Command{
	Use:   "plot",
	Short: "Charts axial field profiles from solver CSV output",
	Long: `Reads the per-element CSV files written by the heat-fluids solver and
charts the selected field against axial position, one line per radial
slot of the chosen pin`,
	Run: func(cmd *cobra.Command, args []string) {
		var (
			err error
		)
		fmt.Println("plot called")
		var csvFile string
		if csvFile, err = cmd.Flags().GetString("csvFile"); err != nil {
			panic(err)
		}
		if len(csvFile) == 0 {
			fmt.Printf("error: must supply a CSV file (-F, --csvFile) written by a run with OutputBasename set\n")
			os.Exit(1)
		}
		pin, _ := cmd.Flags().GetInt("pin")
		field, _ := cmd.Flags().GetString("field")
		delay, _ := cmd.Flags().GetInt("delay")
		series, err := readProfiles(csvFile, pin, field)
		if err != nil {
			fmt.Printf("error: %s\n", err.Error())
			os.Exit(1)
		}
		PlotProfiles(series, delay)
	},
}

// One radial slot's axial profile: slot 0 is the pin centerline ring,
// the last slot is the coolant element.
type ProfileSeries struct {
	Slot int
	Z, F []float64
}

var fieldColumns = map[string]int{
	"temperature": 8,
	"density":     9,
	"heat_source": 10,
}

func readProfiles(name string, pin int, field string) (series []*ProfileSeries, err error) {
	col, ok := fieldColumns[field]
	if !ok {
		return nil, fmt.Errorf("field %q is not plottable, expected temperature, density or heat_source", field)
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %v", name, err)
	}
	bySlot := make(map[int]*ProfileSeries)
	for i, rec := range records {
		if i == 0 { // header
			continue
		}
		p, _ := strconv.Atoi(rec[1])
		if p != pin {
			continue
		}
		slot, _ := strconv.Atoi(rec[3])
		z, _ := strconv.ParseFloat(rec[6], 64)
		v, _ := strconv.ParseFloat(rec[col], 64)
		ps, ok := bySlot[slot]
		if !ok {
			ps = &ProfileSeries{Slot: slot}
			bySlot[slot] = ps
			series = append(series, ps)
		}
		ps.Z = append(ps.Z, z)
		ps.F = append(ps.F, v)
	}
	if len(series) == 0 {
		return nil, fmt.Errorf("%s holds no elements of pin %d", name, pin)
	}
	return
}

func PlotProfiles(series []*ProfileSeries, delayMsec int) {
	var (
		zmin, zmax = series[0].Z[0], series[0].Z[0]
		fmin, fmax = series[0].F[0], series[0].F[0]
	)
	for _, ps := range series {
		for i := range ps.Z {
			if ps.Z[i] < zmin {
				zmin = ps.Z[i]
			}
			if ps.Z[i] > zmax {
				zmax = ps.Z[i]
			}
			if ps.F[i] < fmin {
				fmin = ps.F[i]
			}
			if ps.F[i] > fmax {
				fmax = ps.F[i]
			}
		}
	}
	if fmax == fmin {
		fmax = fmin + 1
	}
	pad := 0.05 * (fmax - fmin)
	lc := utils.NewLineChart(1280, 1024, zmin, zmax, fmin-pad, fmax+pad)
	for i, ps := range series {
		lineColor := -1.
		if len(series) > 1 {
			lineColor = -1. + 2.*float64(i)/float64(len(series)-1)
		}
		name := fmt.Sprintf("ring %d", ps.Slot)
		if i == len(series)-1 {
			name = "coolant"
		}
		lc.AddLine(ps.Z, ps.F, lineColor, name)
	}
	utils.SleepFor(delayMsec)
}

func init() {
	rootCmd.AddCommand(PlotCmd)
	PlotCmd.Flags().StringP("csvFile", "F", "", "per-element CSV file written by the heat-fluids solver")
	PlotCmd.Flags().IntP("pin", "n", 0, "lattice pin to plot")
	PlotCmd.Flags().StringP("field", "q", "temperature", "field to plot: temperature, density or heat_source")
	PlotCmd.Flags().IntP("delay", "d", 10000, "milliseconds to keep the chart up")
}
