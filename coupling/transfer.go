package coupling

import (
	"fmt"

	"github.com/notargets/gocoupled/InputParameters"
	"github.com/notargets/gocoupled/drivers"
	"gonum.org/v1/gonum/floats"
)

func cellsToInts(cells []drivers.CellHandle) (ints []int) {
	ints = make([]int, len(cells))
	for i, h := range cells {
		ints[i] = int(h)
	}
	return
}

func intsToCells(ints []int) (cells []drivers.CellHandle) {
	cells = make([]drivers.CellHandle, len(ints))
	for i, v := range ints {
		cells[i] = drivers.CellHandle(v)
	}
	return
}

/*
relaxInto blends the freshly computed iterate into the previous one in
place: x <- alpha*x + (1-alpha)*xPrev. Under the Robbins-Monro
schedule the factor diminishes as 1/n with n the 1-based Picard
iteration, which makes the result the running mean of the raw
iterates.
*/
func relaxInto(x, xPrev []float64, rf InputParameters.RelaxFactor, iPicard int) {
	alpha := float64(rf)
	if rf.IsRobbinsMonro() {
		alpha = 1 / float64(iPicard+1)
	}
	floats.Scale(alpha, x)
	floats.AddScaled(x, 1-alpha, xPrev)
}

/*
updateHeatSource moves the neutronics heat deposition downstream. The
root evaluates the normalized per-cell source once; each heat rank
then ships its cell list to the root and receives back exactly its
cells' values, which are relaxed against the previous iterate and
assigned to every local element through the element-to-cell index.

The first call of a run passes relax false, since there is no previous
iterate to blend against.
*/
func (cd *CoupledDriver) updateHeatSource(relax bool) error {
	var (
		c          = cd.Comm
		heatActive = cd.HeatFluids.Active()
	)
	if relax && heatActive {
		copy(cd.cellHeatPrev, cd.cellHeat)
	}
	var global []float64
	if c.Rank() == cd.neutronicsRoot {
		var err error
		if global, err = cd.Neutronics.HeatSource(cd.Power); err != nil {
			return fmt.Errorf("heat source: %v", err)
		}
	}
	for _, hr := range cd.heatRanks {
		var ints []int
		if c.Rank() == hr {
			ints = cellsToInts(cd.cells)
		}
		ints = c.TransferInts(ints, cd.neutronicsRoot, hr)
		var packed []float64
		if c.Rank() == cd.neutronicsRoot {
			packed = make([]float64, len(ints))
			for i, h := range ints {
				packed[i] = global[h]
			}
		}
		packed = c.TransferFloat64s(packed, hr, cd.neutronicsRoot)
		if c.Rank() == hr {
			cd.cellHeat = packed
		}
	}
	if heatActive {
		if relax {
			relaxInto(cd.cellHeat, cd.cellHeatPrev, cd.alpha, cd.iPicard)
		}
		for e, idx := range cd.elemCellIdx {
			if err := cd.HeatFluids.SetHeatSourceAt(e, cd.cellHeat[idx]); err != nil {
				return fmt.Errorf("assigning heat source to element %d: %v", e, err)
			}
		}
	}
	return nil
}

/*
updateTemperature moves the heat-fluids temperature field upstream.
Each heat rank volume-averages its elements onto its cells and relaxes
the result; rank by rank, (cells, values, volumes) triples travel to
the neutronics root and are rebroadcast over the neutronics
sub-communicator, every neutronics rank accumulating sum(T*V) per
cell. The root divides by the model cell volume and publishes; the
transport solver replicates the published state internally on its next
init step.
*/
func (cd *CoupledDriver) updateTemperature(relax bool) error {
	cd.Comm.Message("Updating temperature")
	if cd.HeatFluids.Active() {
		if relax {
			copy(cd.cellTempsPrev, cd.cellTemps)
		}
		var (
			temps = cd.HeatFluids.TemperaturesLocal()
			vols  = cd.HeatFluids.VolumesLocal()
			tDotV = make([]float64, len(cd.cells))
		)
		for e, idx := range cd.elemCellIdx {
			tDotV[idx] += temps[e] * vols[e]
		}
		for i := range cd.cellTemps {
			avg := tDotV[i] / cd.cellVolumes[i]
			if avg <= 0 {
				return fmt.Errorf("averaged temperature %g K in cell %d is not positive", avg, cd.cells[i])
			}
			cd.cellTemps[i] = avg
		}
		if relax {
			relaxInto(cd.cellTemps, cd.cellTempsPrev, cd.alphaT, cd.iPicard)
		}
	}
	return cd.publishField(cd.cellTemps, nil, func(h drivers.CellHandle, v float64) error {
		return cd.Neutronics.SetTemperature(h, v)
	})
}

/*
updateDensity is the fluid counterpart: only cells whose fluid mask is
set are recomputed, accumulated and published, so solid-region
densities stay at their initial values on both sides.
*/
func (cd *CoupledDriver) updateDensity(relax bool) error {
	cd.Comm.Message("Updating density")
	if cd.HeatFluids.Active() {
		if relax {
			copy(cd.cellDensityPrev, cd.cellDensity)
		}
		var (
			rhos  = cd.HeatFluids.DensitiesLocal()
			vols  = cd.HeatFluids.VolumesLocal()
			rDotV = make([]float64, len(cd.cells))
		)
		for e, idx := range cd.elemCellIdx {
			rDotV[idx] += rhos[e] * vols[e]
		}
		for i := range cd.cellDensity {
			if !cd.cellFluid[i] {
				continue
			}
			avg := rDotV[i] / cd.cellVolumes[i]
			if avg <= 0 {
				return fmt.Errorf("averaged density %g g/cc in cell %d is not positive", avg, cd.cells[i])
			}
			cd.cellDensity[i] = avg
		}
		if relax {
			relaxInto(cd.cellDensity, cd.cellDensityPrev, cd.alphaRho, cd.iPicard)
		}
	}
	return cd.publishField(cd.cellDensity, cd.cellFluid, func(h drivers.CellHandle, v float64) error {
		return cd.Neutronics.SetDensity(h, v)
	})
}

/*
publishField is the shared upstream path. mask nil publishes every
mapped cell; otherwise only cells whose mask entry is set participate
in the accumulation and the final publish. The per-cell accumulator is
divided by the neutronics model volume, not the summed element
volumes, so meshes that do not tile a cell exactly resolve in the
model's favor. Collective over every rank.
*/
func (cd *CoupledDriver) publishField(local []float64, mask []bool, set func(drivers.CellHandle, float64) error) error {
	var (
		c          = cd.Comm
		neutActive = cd.Neutronics.Active()
		sum        []float64
		touched    []bool
	)
	if neutActive {
		sum = make([]float64, cd.Neutronics.NCells())
		touched = make([]bool, cd.Neutronics.NCells())
	}
	for _, hr := range cd.heatRanks {
		var (
			ints  []int
			vals  []float64
			vols  []float64
			flags []int
		)
		if c.Rank() == hr {
			ints = cellsToInts(cd.cells)
			vals = local
			vols = cd.cellVolumes
			flags = make([]int, len(cd.cells))
			for i := range flags {
				if mask == nil || mask[i] {
					flags[i] = 1
				}
			}
		}
		ints = c.TransferInts(ints, cd.neutronicsRoot, hr)
		vals = c.TransferFloat64s(vals, cd.neutronicsRoot, hr)
		vols = c.TransferFloat64s(vols, cd.neutronicsRoot, hr)
		flags = c.TransferInts(flags, cd.neutronicsRoot, hr)
		if neutActive {
			nc := cd.Neutronics.Comm()
			ints = nc.BcastInts(ints, 0)
			vals = nc.BcastFloat64s(vals, 0)
			vols = nc.BcastFloat64s(vols, 0)
			flags = nc.BcastInts(flags, 0)
			for i, h := range ints {
				if flags[i] == 1 {
					sum[h] += vals[i] * vols[i]
					touched[h] = true
				}
			}
		}
	}
	if c.Rank() == cd.neutronicsRoot {
		for h, hit := range touched {
			if !hit {
				continue
			}
			handle := drivers.CellHandle(h)
			if err := set(handle, sum[h]/cd.Neutronics.Volume(handle)); err != nil {
				return fmt.Errorf("publishing field: %v", err)
			}
		}
	}
	return nil
}
