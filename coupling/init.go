package coupling

import (
	"fmt"
	"math"

	"github.com/notargets/gocoupled/drivers"
	"github.com/notargets/gocoupled/geom"
)

/*
initMappings resolves every heat element's centroid to its containing
neutronics cell. One heat rank at a time ships its centroids to the
neutronics root, which resolves them (registering cells as they first
appear) and ships the handles back. Each heat rank then builds its
distinct-cell list in first-appearance order and the element-to-cell
index used by every later exchange. An unmappable centroid fails the
whole job, naming the position.
*/
func (cd *CoupledDriver) initMappings() error {
	c := cd.Comm
	c.Message("Initializing mappings")
	for _, hr := range cd.heatRanks {
		var flat []float64
		if c.Rank() == hr {
			flat = geom.Flatten(cd.HeatFluids.CentroidsLocal())
		}
		flat = c.TransferFloat64s(flat, cd.neutronicsRoot, hr)

		var handles []int
		if c.Rank() == cd.neutronicsRoot {
			found, err := cd.Neutronics.Find(geom.Unflatten(flat))
			if err != nil {
				return fmt.Errorf("mapping heat rank %d: %v", hr, err)
			}
			handles = cellsToInts(found)
		}
		handles = c.TransferInts(handles, hr, cd.neutronicsRoot)
		if c.Rank() == hr {
			cd.indexCells(intsToCells(handles))
		}
		c.Barrier()
	}
	n := c.BcastInt(cd.Neutronics.NCells(), cd.neutronicsRoot)
	c.Messagef("Mapped heat-fluids elements onto %d neutronics cells", n)
	return nil
}

// indexCells builds the rank's distinct-cell list and the per-element
// index into it.
func (cd *CoupledDriver) indexCells(elemCells []drivers.CellHandle) {
	cd.elemCells = elemCells
	cd.cellIndex = make(map[drivers.CellHandle]int)
	cd.elemCellIdx = make([]int, len(elemCells))
	for e, h := range elemCells {
		idx, ok := cd.cellIndex[h]
		if !ok {
			idx = len(cd.cells)
			cd.cells = append(cd.cells, h)
			cd.cellIndex[h] = idx
		}
		cd.elemCellIdx[e] = idx
	}
}

func (cd *CoupledDriver) initTallies() error {
	cd.Comm.Message("Initializing tallies")
	if cd.Neutronics.Active() {
		if err := cd.Neutronics.CreateTallies(); err != nil {
			return fmt.Errorf("creating tallies: %v", err)
		}
	}
	return nil
}

/*
initVolumes accumulates each heat rank's element volumes onto its
cells. These local volumes weight every upstream field average, and
their cross-rank sums are compared against the neutronics model when
the volume check is enabled.
*/
func (cd *CoupledDriver) initVolumes() error {
	cd.Comm.Message("Initializing volumes")
	if cd.HeatFluids.Active() {
		cd.cellVolumes = make([]float64, len(cd.cells))
		for e, v := range cd.HeatFluids.VolumesLocal() {
			cd.cellVolumes[cd.elemCellIdx[e]] += v
		}
	}
	if cd.checkVolumes {
		return cd.compareVolumes()
	}
	return nil
}

/*
compareVolumes accumulates the heat-side cell volumes on the
neutronics root and reports each cell whose mapped volume disagrees
with the analytic neutronics volume. Meshes that do not tile a cell
exactly will show up here; the check reports rather than fails.
*/
func (cd *CoupledDriver) compareVolumes() error {
	c := cd.Comm
	var acc []float64
	if c.Rank() == cd.neutronicsRoot {
		acc = make([]float64, cd.Neutronics.NCells())
	}
	for _, hr := range cd.heatRanks {
		var ints []int
		var vols []float64
		if c.Rank() == hr {
			ints = cellsToInts(cd.cells)
			vols = cd.cellVolumes
		}
		ints = c.TransferInts(ints, cd.neutronicsRoot, hr)
		vols = c.TransferFloat64s(vols, cd.neutronicsRoot, hr)
		if c.Rank() == cd.neutronicsRoot {
			for i, h := range ints {
				acc[h] += vols[i]
			}
		}
	}
	c.Barrier()
	mismatches := 0
	if c.Rank() == cd.neutronicsRoot {
		for h := range acc {
			var (
				handle = drivers.CellHandle(h)
				want   = cd.Neutronics.Volume(handle)
			)
			if math.Abs(want-acc[h]) > 1.e-6*math.Max(want, 1) {
				fmt.Printf("[gocoupled]: Cell %s, V = %g (neutronics), %g (accumulated from heat-fluids)\n",
					cd.Neutronics.CellLabel(handle), want, acc[h])
				mismatches++
			}
		}
	}
	mismatches = c.BcastInt(mismatches, cd.neutronicsRoot)
	total := c.BcastInt(cd.Neutronics.NCells(), cd.neutronicsRoot)
	c.Messagef("Volume check: %d of %d cells consistent", total-mismatches, total)
	return nil
}

// initFluidMask marks each of the rank's cells fluid or solid from
// the first element mapped into it.
func (cd *CoupledDriver) initFluidMask() {
	cd.Comm.Message("Initializing cell fluid mask")
	if !cd.HeatFluids.Active() {
		return
	}
	var (
		mask = cd.HeatFluids.FluidMaskLocal()
		seen = make([]bool, len(cd.cells))
	)
	cd.cellFluid = make([]bool, len(cd.cells))
	for e, idx := range cd.elemCellIdx {
		if !seen[idx] {
			cd.cellFluid[idx] = mask[e]
			seen[idx] = true
		}
	}
}

func (cd *CoupledDriver) initTemperatures() error {
	cd.Comm.Message("Initializing temperatures")
	if cd.HeatFluids.Active() {
		cd.cellTemps = make([]float64, len(cd.cells))
		cd.cellTempsPrev = make([]float64, len(cd.cells))
	}
	switch cd.TemperatureIC {
	case FromNeutronics:
		if err := cd.pullInitialField(cd.Neutronics.GetTemperature, func(vals []float64) {
			cd.cellTemps = vals
		}); err != nil {
			return fmt.Errorf("initial temperatures: %v", err)
		}
	case FromHeatFluids:
		if err := cd.updateTemperature(false); err != nil {
			return err
		}
	}
	if cd.HeatFluids.Active() {
		copy(cd.cellTempsPrev, cd.cellTemps)
	}
	return nil
}

func (cd *CoupledDriver) initDensities() error {
	cd.Comm.Message("Initializing densities")
	if cd.HeatFluids.Active() {
		cd.cellDensity = make([]float64, len(cd.cells))
		cd.cellDensityPrev = make([]float64, len(cd.cells))
	}
	switch cd.DensityIC {
	case FromNeutronics:
		if err := cd.pullInitialField(cd.Neutronics.GetDensity, func(vals []float64) {
			cd.cellDensity = vals
		}); err != nil {
			return fmt.Errorf("initial densities: %v", err)
		}
	case FromHeatFluids:
		if err := cd.updateDensity(false); err != nil {
			return err
		}
	}
	if cd.HeatFluids.Active() {
		copy(cd.cellDensityPrev, cd.cellDensity)
	}
	return nil
}

/*
pullInitialField seeds a per-cell array on every heat rank from the
neutronics root's per-cell accessor: each heat rank ships its cell
list to the root, the root evaluates the accessor over it, and the
values travel back in the same order.
*/
func (cd *CoupledDriver) pullInitialField(get func(drivers.CellHandle) float64, store func([]float64)) error {
	c := cd.Comm
	for _, hr := range cd.heatRanks {
		var ints []int
		if c.Rank() == hr {
			ints = cellsToInts(cd.cells)
		}
		ints = c.TransferInts(ints, cd.neutronicsRoot, hr)
		var vals []float64
		if c.Rank() == cd.neutronicsRoot {
			vals = make([]float64, len(ints))
			for i, h := range ints {
				vals[i] = get(drivers.CellHandle(h))
			}
		}
		vals = c.TransferFloat64s(vals, hr, cd.neutronicsRoot)
		if c.Rank() == hr {
			store(vals)
		}
	}
	return nil
}

// initHeatSource sizes the per-cell heat source arrays; the first
// downstream update fills them.
func (cd *CoupledDriver) initHeatSource() {
	cd.Comm.Message("Initializing heat source")
	if cd.HeatFluids.Active() {
		cd.cellHeat = make([]float64, len(cd.cells))
		cd.cellHeatPrev = make([]float64, len(cd.cells))
	}
}
