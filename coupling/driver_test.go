package coupling

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/notargets/gocoupled/InputParameters"
	"github.com/notargets/gocoupled/comm"
	"github.com/notargets/gocoupled/drivers"
	"github.com/notargets/gocoupled/geom"
)

/*
The mock solvers model a row of unit-wide neutronics cells along x:
a centroid with coordinate x lies in cell int(x). The heat mock scripts
its element temperatures per completed solve so a test can drive the
Picard loop through a prescribed sequence of raw iterates.
*/
type testNeutronics struct {
	c       *comm.Comm
	volumes []float64
	temps   []float64
	rhos    []float64
	source  []float64

	setT   map[drivers.CellHandle][]float64
	setRho map[drivers.CellHandle][]float64
	solves int
	writes [][2]int
}

func newTestNeutronics(c *comm.Comm, volumes, temps, rhos, source []float64) *testNeutronics {
	return &testNeutronics{
		c: c, volumes: volumes, temps: temps, rhos: rhos, source: source,
		setT:   make(map[drivers.CellHandle][]float64),
		setRho: make(map[drivers.CellHandle][]float64),
	}
}

func (m *testNeutronics) Comm() *comm.Comm { return m.c }
func (m *testNeutronics) Active() bool     { return m.c.Active() }
func (m *testNeutronics) InitStep() error  { return nil }
func (m *testNeutronics) SolveStep() error { m.solves++; return nil }
func (m *testNeutronics) WriteStep(timestep, iteration int) error {
	m.writes = append(m.writes, [2]int{timestep, iteration})
	return nil
}
func (m *testNeutronics) FinalizeStep() error { return nil }

func (m *testNeutronics) Find(positions []geom.Position) ([]drivers.CellHandle, error) {
	found := make([]drivers.CellHandle, len(positions))
	for i, pos := range positions {
		h := int(pos.X)
		if h < 0 || h >= len(m.volumes) {
			return nil, fmt.Errorf("position (%g, %g, %g) is outside the model", pos.X, pos.Y, pos.Z)
		}
		found[i] = drivers.CellHandle(h)
	}
	return found, nil
}

func (m *testNeutronics) CreateTallies() error { return nil }
func (m *testNeutronics) NCells() int          { return len(m.volumes) }
func (m *testNeutronics) CellLabel(c drivers.CellHandle) string {
	return fmt.Sprintf("cell_%d", c)
}
func (m *testNeutronics) Volume(c drivers.CellHandle) float64 { return m.volumes[c] }
func (m *testNeutronics) IsFissionable(c drivers.CellHandle) bool {
	return m.source != nil && m.source[c] > 0
}
func (m *testNeutronics) GetTemperature(c drivers.CellHandle) float64 { return m.temps[c] }
func (m *testNeutronics) GetDensity(c drivers.CellHandle) float64     { return m.rhos[c] }
func (m *testNeutronics) SetTemperature(c drivers.CellHandle, T float64) error {
	m.setT[c] = append(m.setT[c], T)
	return nil
}
func (m *testNeutronics) SetDensity(c drivers.CellHandle, rho float64) error {
	m.setRho[c] = append(m.setRho[c], rho)
	return nil
}
func (m *testNeutronics) HeatSource(power float64) ([]float64, error) {
	return append([]float64(nil), m.source...), nil
}
func (m *testNeutronics) KEffective() drivers.UncertainValue {
	return drivers.UncertainValue{Value: 1, StdDev: 0}
}

type testHeat struct {
	c         *comm.Comm
	centroids []geom.Position
	volumes   []float64
	temps     [][]float64 // indexed by completed solves, clamped to the last entry
	rhos      []float64
	fluid     []bool

	qByElem map[int][]float64
	qErr    error
	solves  int
	writes  [][2]int
}

func newTestHeat(c *comm.Comm, centroids []geom.Position, volumes []float64,
	temps [][]float64, rhos []float64, fluid []bool) *testHeat {
	return &testHeat{
		c: c, centroids: centroids, volumes: volumes, temps: temps,
		rhos: rhos, fluid: fluid,
		qByElem: make(map[int][]float64),
	}
}

func (m *testHeat) Comm() *comm.Comm { return m.c }
func (m *testHeat) Active() bool     { return m.c.Active() }
func (m *testHeat) InitStep() error  { return nil }
func (m *testHeat) SolveStep() error { m.solves++; return nil }
func (m *testHeat) WriteStep(timestep, iteration int) error {
	m.writes = append(m.writes, [2]int{timestep, iteration})
	return nil
}
func (m *testHeat) FinalizeStep() error { return nil }

func (m *testHeat) NElemsLocal() int                { return len(m.centroids) }
func (m *testHeat) CentroidsLocal() []geom.Position { return m.centroids }
func (m *testHeat) VolumesLocal() []float64         { return m.volumes }
func (m *testHeat) TemperaturesLocal() []float64 {
	i := m.solves
	if i >= len(m.temps) {
		i = len(m.temps) - 1
	}
	return m.temps[i]
}
func (m *testHeat) DensitiesLocal() []float64 { return m.rhos }
func (m *testHeat) FluidMaskLocal() []bool    { return m.fluid }
func (m *testHeat) SetHeatSourceAt(localElem int, q float64) error {
	if m.qErr != nil {
		return m.qErr
	}
	if localElem < 0 || localElem >= len(m.centroids) {
		return fmt.Errorf("element %d out of range", localElem)
	}
	m.qByElem[localElem] = append(m.qByElem[localElem], q)
	return nil
}

// newTestDriver wires mocks into a driver with neutral knobs; tests
// adjust the knobs before calling initialize.
func newTestDriver(c *comm.Comm, n *testNeutronics, h *testHeat) *CoupledDriver {
	return &CoupledDriver{
		Comm:          c,
		Neutronics:    n,
		HeatFluids:    h,
		Power:         1,
		MaxTimesteps:  1,
		MaxPicard:     1,
		Epsilon:       1.e-3,
		Norm:          Linf,
		TemperatureIC: FromHeatFluids,
		DensityIC:     FromHeatFluids,
		alpha:         1, alphaT: 1, alphaRho: 1,
		neutronicsRoot: comm.RootWorldRank(c, n.c),
		heatRoot:       comm.RootWorldRank(c, h.c),
		heatRanks:      comm.MemberWorldRanks(c, h.c),
	}
}

func pos(x float64) geom.Position { return geom.Position{X: x, Y: 0, Z: 0} }

func TestFieldTransfers(t *testing.T) {
	{ // Heat source scatter: two elements in two cells, power 1 W.
		// The transport mock reports {3, 0} scaled onto 1 W, so each
		// element must receive exactly its cell's entry.
		var (
			n *testNeutronics
			h *testHeat
		)
		assert.NoError(t, comm.RunWorld(1, 1, func(c *comm.Comm) error {
			n = newTestNeutronics(c, []float64{1, 2}, nil, nil, []float64{1. / 3, 0})
			h = newTestHeat(c,
				[]geom.Position{pos(0.5), pos(1.5)}, []float64{1, 2},
				[][]float64{{500, 600}}, []float64{0.7, 0.8}, []bool{true, true})
			cd := newTestDriver(c, n, h)
			if err := cd.initialize(); err != nil {
				return err
			}
			return cd.updateHeatSource(false)
		}))
		assert.Equal(t, []float64{1. / 3}, h.qByElem[0])
		assert.Equal(t, []float64{0}, h.qByElem[1])
	}
	{ // Volume-weighted averaging: one cell holding elements with
		// (T, V) = (300, 1) and (600, 3) averages to 525.
		var (
			n  *testNeutronics
			cd *CoupledDriver
		)
		assert.NoError(t, comm.RunWorld(1, 1, func(c *comm.Comm) error {
			n = newTestNeutronics(c, []float64{4}, nil, nil, []float64{1})
			h := newTestHeat(c,
				[]geom.Position{pos(0.5), pos(0.5)}, []float64{1, 3},
				[][]float64{{300, 600}}, []float64{0.7, 0.7}, []bool{true, true})
			cd = newTestDriver(c, n, h)
			if err := cd.initialize(); err != nil {
				return err
			}
			return cd.updateTemperature(true)
		}))
		assert.Equal(t, []float64{525}, cd.cellTemps)
		assert.Equal(t, []float64{525, 525}, n.setT[0])

		// Mapping invariants: one distinct cell, rank cell volume is the
		// sum over its elements.
		assert.Equal(t, []drivers.CellHandle{0, 0}, cd.elemCells)
		assert.Equal(t, []drivers.CellHandle{0}, cd.cells)
		assert.Equal(t, []float64{4}, cd.cellVolumes)
	}
	{ // Fluid mask guards density: only the fluid cell is published.
		var (
			n  *testNeutronics
			cd *CoupledDriver
		)
		assert.NoError(t, comm.RunWorld(1, 1, func(c *comm.Comm) error {
			n = newTestNeutronics(c, []float64{1, 2}, nil, nil, []float64{1, 0})
			h := newTestHeat(c,
				[]geom.Position{pos(0.5), pos(1.5)}, []float64{1, 2},
				[][]float64{{560, 900}}, []float64{0.7, 10.4}, []bool{true, false})
			cd = newTestDriver(c, n, h)
			return cd.initialize()
		}))
		assert.Equal(t, []float64{0.7}, n.setRho[0])
		assert.Len(t, n.setRho, 1)
		// Both temperatures were published, so the mask and not the
		// transfer machinery excluded the solid cell.
		assert.Len(t, n.setT, 2)
		// The solid cell's local density was never recomputed.
		assert.Equal(t, 0., cd.cellDensity[1])
	}
	{ // Initial conditions from the neutronics side are pulled per cell.
		var cd *CoupledDriver
		assert.NoError(t, comm.RunWorld(1, 1, func(c *comm.Comm) error {
			n := newTestNeutronics(c, []float64{1, 2},
				[]float64{800, 565}, []float64{10.4, 0.74}, []float64{1, 0})
			h := newTestHeat(c,
				[]geom.Position{pos(0.5), pos(1.5)}, []float64{1, 2},
				[][]float64{{500, 600}}, []float64{0.7, 0.8}, []bool{false, true})
			cd = newTestDriver(c, n, h)
			cd.TemperatureIC = FromNeutronics
			cd.DensityIC = FromNeutronics
			return cd.initialize()
		}))
		assert.Equal(t, []float64{800, 565}, cd.cellTemps)
		assert.Equal(t, []float64{800, 565}, cd.cellTempsPrev)
		assert.Equal(t, []float64{10.4, 0.74}, cd.cellDensity)
	}
	{ // A non-positive averaged temperature is fatal.
		err := comm.RunWorld(1, 1, func(c *comm.Comm) error {
			n := newTestNeutronics(c, []float64{1}, nil, nil, []float64{1})
			h := newTestHeat(c,
				[]geom.Position{pos(0.5)}, []float64{1},
				[][]float64{{-20}}, []float64{0.7}, []bool{true})
			cd := newTestDriver(c, n, h)
			return cd.initialize()
		})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "not positive")
	}
	{ // An unmappable centroid is fatal and names the position.
		err := comm.RunWorld(1, 1, func(c *comm.Comm) error {
			n := newTestNeutronics(c, []float64{1}, nil, nil, []float64{1})
			h := newTestHeat(c,
				[]geom.Position{pos(7.5)}, []float64{1},
				[][]float64{{500}}, []float64{0.7}, []bool{true})
			cd := newTestDriver(c, n, h)
			return cd.initialize()
		})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "mapping heat rank 0")
		assert.Contains(t, err.Error(), "7.5")
	}
}

func TestRelaxation(t *testing.T) {
	{ // alpha = 1 keeps the raw iterate regardless of the previous one
		x, prev := []float64{10, 40}, []float64{99, -5}
		relaxInto(x, prev, 1.0, 3)
		assert.Equal(t, []float64{10, 40}, x)
	}
	{ // alpha near zero keeps the previous iterate
		x, prev := []float64{10}, []float64{50}
		relaxInto(x, prev, 1.e-12, 0)
		assert.InDelta(t, 50, x[0], 1.e-9)
	}
	{ // Robbins-Monro is the running mean of the raw iterates
		x, prev := []float64{20}, []float64{10}
		relaxInto(x, prev, InputParameters.RobbinsMonro, 1)
		assert.InDelta(t, 15, x[0], 1.e-12)
		x[0] = 30
		copy(prev, []float64{15})
		relaxInto(x, prev, InputParameters.RobbinsMonro, 2)
		assert.InDelta(t, 20, x[0], 1.e-12)
	}
	{ // Robbins-Monro through the Picard loop: raw iterates 10, 20, 30
		// publish as the cumulative means 10, 15, 20.
		var (
			n  *testNeutronics
			cd *CoupledDriver
		)
		assert.NoError(t, comm.RunWorld(1, 1, func(c *comm.Comm) error {
			n = newTestNeutronics(c, []float64{1},
				[]float64{500}, []float64{0.7}, []float64{1})
			h := newTestHeat(c,
				[]geom.Position{pos(0.5)}, []float64{1},
				[][]float64{{10}, {10}, {20}, {30}}, []float64{0.7}, []bool{true})
			cd = newTestDriver(c, n, h)
			cd.TemperatureIC = FromNeutronics
			cd.DensityIC = FromNeutronics
			cd.MaxPicard = 3
			cd.Epsilon = 1.e-12
			cd.alphaT = InputParameters.RobbinsMonro
			if err := cd.initialize(); err != nil {
				return err
			}
			return cd.Execute()
		}))
		assert.InDeltaSlice(t, []float64{10, 15, 20}, n.setT[0], 1.e-12)
		assert.InDelta(t, 20, cd.cellTemps[0], 1.e-12)
	}
}

func TestConvergenceMonitor(t *testing.T) {
	{ // Linf threshold triggers around the largest component
		var got []bool
		assert.NoError(t, comm.RunWorld(1, 1, func(c *comm.Comm) error {
			n := newTestNeutronics(c, []float64{1, 1}, nil, nil, nil)
			h := newTestHeat(c,
				[]geom.Position{pos(0.5), pos(1.5)}, []float64{1, 1},
				[][]float64{{500, 600}}, []float64{0.7, 0.7}, []bool{true, true})
			cd := newTestDriver(c, n, h)
			cd.cellTempsPrev = []float64{500, 600}
			cd.cellTemps = []float64{500.0001, 600.0003}
			cd.Epsilon = 5.e-4
			got = append(got, cd.isConverged())
			cd.Epsilon = 2.e-4
			got = append(got, cd.isConverged())
			return nil
		}))
		assert.Equal(t, []bool{true, false}, got)
	}
	{ // L1 and L2 norms of delta = [3, 4] are 7 and 5
		var got []bool
		assert.NoError(t, comm.RunWorld(1, 1, func(c *comm.Comm) error {
			n := newTestNeutronics(c, []float64{1, 1}, nil, nil, nil)
			h := newTestHeat(c,
				[]geom.Position{pos(0.5), pos(1.5)}, []float64{1, 1},
				[][]float64{{500, 600}}, []float64{0.7, 0.7}, []bool{true, true})
			cd := newTestDriver(c, n, h)
			cd.cellTempsPrev = []float64{500, 600}
			cd.cellTemps = []float64{503, 604}
			for _, trial := range []struct {
				norm Norm
				eps  float64
			}{
				{L1, 7.1}, {L1, 6.9},
				{L2, 5.1}, {L2, 4.9},
			} {
				cd.Norm = trial.norm
				cd.Epsilon = trial.eps
				got = append(got, cd.isConverged())
			}
			return nil
		}))
		assert.Equal(t, []bool{true, false, true, false}, got)
	}
	{ // Convergence is monotone in epsilon
		var got []bool
		assert.NoError(t, comm.RunWorld(1, 1, func(c *comm.Comm) error {
			n := newTestNeutronics(c, []float64{1}, nil, nil, nil)
			h := newTestHeat(c,
				[]geom.Position{pos(0.5)}, []float64{1},
				[][]float64{{500}}, []float64{0.7}, []bool{true})
			cd := newTestDriver(c, n, h)
			cd.cellTempsPrev = []float64{500}
			cd.cellTemps = []float64{500.0003}
			for _, eps := range []float64{1.e-4, 2.e-4, 4.e-4, 8.e-4, 1.6e-3} {
				cd.Epsilon = eps
				got = append(got, cd.isConverged())
			}
			return nil
		}))
		for i := 1; i < len(got); i++ {
			if got[i-1] {
				assert.True(t, got[i])
			}
		}
		assert.False(t, got[0])
		assert.True(t, got[len(got)-1])
	}
}

func TestPicardLoop(t *testing.T) {
	{ // A heat-fluids initial condition seeds prev = current, so a
		// steady mock converges on the very first pass and both solvers
		// ran exactly once.
		var (
			n *testNeutronics
			h *testHeat
		)
		assert.NoError(t, comm.RunWorld(1, 1, func(c *comm.Comm) error {
			n = newTestNeutronics(c, []float64{4}, nil, nil, []float64{2})
			h = newTestHeat(c,
				[]geom.Position{pos(0.5), pos(0.5)}, []float64{1, 3},
				[][]float64{{300, 600}}, []float64{0.7, 0.7}, []bool{true, true})
			cd := newTestDriver(c, n, h)
			cd.MaxPicard = 5
			if err := cd.initialize(); err != nil {
				return err
			}
			return cd.Execute()
		}))
		assert.Equal(t, 1, n.solves)
		assert.Equal(t, 1, h.solves)
		assert.Equal(t, [][2]int{{0, 0}}, n.writes)
		assert.Equal(t, [][2]int{{0, 0}, {-1, -1}}, h.writes)
	}
	{ // max_picard = 0 solves nothing and transfers nothing, but the
		// final unindexed write still happens.
		var (
			n *testNeutronics
			h *testHeat
		)
		assert.NoError(t, comm.RunWorld(1, 1, func(c *comm.Comm) error {
			n = newTestNeutronics(c, []float64{1},
				[]float64{500}, []float64{0.7}, []float64{1})
			h = newTestHeat(c,
				[]geom.Position{pos(0.5)}, []float64{1},
				[][]float64{{500}}, []float64{0.7}, []bool{true})
			cd := newTestDriver(c, n, h)
			cd.TemperatureIC = FromNeutronics
			cd.DensityIC = FromNeutronics
			cd.MaxPicard = 0
			if err := cd.initialize(); err != nil {
				return err
			}
			return cd.Execute()
		}))
		assert.Equal(t, 0, n.solves)
		assert.Equal(t, 0, h.solves)
		assert.Empty(t, n.setT)
		assert.Empty(t, h.qByElem)
		assert.Equal(t, [][2]int{{-1, -1}}, h.writes)
	}
	{ // max_timesteps = 0 performs no work beyond the final write
		var h *testHeat
		assert.NoError(t, comm.RunWorld(1, 1, func(c *comm.Comm) error {
			n := newTestNeutronics(c, []float64{1},
				[]float64{500}, []float64{0.7}, []float64{1})
			h = newTestHeat(c,
				[]geom.Position{pos(0.5)}, []float64{1},
				[][]float64{{500}}, []float64{0.7}, []bool{true})
			cd := newTestDriver(c, n, h)
			cd.TemperatureIC = FromNeutronics
			cd.DensityIC = FromNeutronics
			cd.MaxTimesteps = 0
			if err := cd.initialize(); err != nil {
				return err
			}
			return cd.Execute()
		}))
		assert.Equal(t, 0, h.solves)
		assert.Equal(t, [][2]int{{-1, -1}}, h.writes)
	}
	{ // A failing heat-source assignment aborts the run naming the element
		err := comm.RunWorld(1, 1, func(c *comm.Comm) error {
			n := newTestNeutronics(c, []float64{1}, nil, nil, []float64{1})
			h := newTestHeat(c,
				[]geom.Position{pos(0.5)}, []float64{1},
				[][]float64{{500}}, []float64{0.7}, []bool{true})
			h.qErr = fmt.Errorf("backend rejected value")
			cd := newTestDriver(c, n, h)
			if err := cd.initialize(); err != nil {
				return err
			}
			return cd.Execute()
		})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "assigning heat source to element 0")
	}
}

/*
TestTwoHeatRanks runs the transfers with the heat solver on two ranks
and neutronics on rank 0 only, so every exchange crosses the
root-to-member paths: cell 0 spans both heat ranks and its published
average must combine their contributions.
*/
func TestTwoHeatRanks(t *testing.T) {
	var (
		ns  [2]*testNeutronics
		hs  [2]*testHeat
		cds [2]*CoupledDriver
		cvg [2][]bool
	)
	assert.NoError(t, comm.RunWorld(2, 2, func(c *comm.Comm) error {
		var (
			rank     = c.Rank()
			neutComm = c.Split([]int{0})
			heatComm = c.Split([]int{0, 1})
		)
		n := newTestNeutronics(neutComm, []float64{4, 2},
			[]float64{500, 500}, []float64{0.7, 10.4}, []float64{8, 6})
		var h *testHeat
		if rank == 0 {
			h = newTestHeat(heatComm,
				[]geom.Position{pos(0.5)}, []float64{1},
				[][]float64{{300}}, []float64{0.7}, []bool{true})
		} else {
			h = newTestHeat(heatComm,
				[]geom.Position{pos(0.5), pos(1.5)}, []float64{3, 2},
				[][]float64{{600, 400}}, []float64{0.8, 8.0}, []bool{true, false})
		}
		cd := newTestDriver(c, n, h)
		ns[rank], hs[rank], cds[rank] = n, h, cd
		if err := cd.initialize(); err != nil {
			return err
		}
		if err := cd.updateHeatSource(false); err != nil {
			return err
		}
		// Perturb the converged state differently per rank; every rank
		// must still see the same verdict.
		cd.cellTemps[0] += 0.1 + 0.2*float64(rank)
		for _, eps := range []float64{0.5, 0.2} {
			cd.Epsilon = eps
			cvg[rank] = append(cvg[rank], cd.isConverged())
		}
		return nil
	}))

	// Mapping: rank 1 owns two distinct cells in first-appearance order.
	assert.Equal(t, []drivers.CellHandle{0}, cds[0].cells)
	assert.Equal(t, []drivers.CellHandle{0, 1}, cds[1].cells)
	assert.Equal(t, []float64{1}, cds[0].cellVolumes)
	assert.Equal(t, []float64{3, 2}, cds[1].cellVolumes)

	// Cross-rank volume-weighted temperature: (300*1 + 600*3)/4 = 525 in
	// the shared cell, 400 in the rank-1-only cell.
	assert.Equal(t, []float64{525}, ns[0].setT[0])
	assert.Equal(t, []float64{400}, ns[0].setT[1])

	// Density combines only fluid contributions: (0.7*1 + 0.8*3)/4.
	assert.Len(t, ns[0].setRho[0], 1)
	assert.InDelta(t, 0.775, ns[0].setRho[0][0], 1.e-12)
	assert.Len(t, ns[0].setRho, 1)

	// The inactive-neutronics rank published nothing.
	assert.Empty(t, ns[1].setT)
	assert.Empty(t, ns[1].setRho)

	// Heat source scatter selected each rank's cells from the global
	// array {8, 6}.
	assert.Equal(t, []float64{8}, hs[0].qByElem[0])
	assert.Equal(t, []float64{8}, hs[1].qByElem[0])
	assert.Equal(t, []float64{6}, hs[1].qByElem[1])

	// Linf over both ranks is 0.3: converged at 0.5, not at 0.2, and
	// both ranks agree.
	assert.Equal(t, []bool{true, false}, cvg[0])
	assert.Equal(t, cvg[0], cvg[1])
}
