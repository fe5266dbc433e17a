package surrogate

import (
	"fmt"
	"math"

	"github.com/notargets/gocoupled/InputParameters"
	"github.com/notargets/gocoupled/comm"
	"github.com/notargets/gocoupled/drivers"
	"github.com/notargets/gocoupled/geom"
)

// cellKey identifies a neutronics cell: one fuel and one coolant cell
// per (pin, axial level).
type cellKey struct {
	pin, level int
	fuel       bool
}

/*
NeutronicsDriver is a diffusion-grade stand-in for a transport code on
the same lattice as the heat surrogate, coarser axially. Cells come
into existence as Find resolves centroids, so cell handles are dense
and ordered by first appearance, the way a tally-driven code registers
cells. CreateTallies replicates the registry across the driver's
ranks; per-cell fields are authoritative on the root between solves
and rebroadcast at each InitStep.
*/
type NeutronicsDriver struct {
	c   *comm.Comm
	lat Lattice

	levels    int
	k0, kStd  float64
	particles int
	fuelT0    float64
	coolT0    float64
	coolRho0  float64

	keys  map[cellKey]drivers.CellHandle
	cells []cellKey
	temps []float64
	rhos  []float64

	kLast   drivers.UncertainValue
	tallies bool
}

func NewNeutronicsDriver(c *comm.Comm, np InputParameters.NeutronicsParameters) (d *NeutronicsDriver, err error) {
	d = &NeutronicsDriver{
		c:         c,
		lat:       NewLattice(np.Lattice),
		levels:    np.AxialLevels,
		k0:        np.K0,
		kStd:      np.KStdDev,
		particles: np.Particles,
		fuelT0:    np.InitialFuelTemperature,
		coolT0:    np.InitialCoolantTemperature,
		coolRho0:  np.InitialCoolantDensity,
		keys:      make(map[cellKey]drivers.CellHandle),
	}
	d.kLast = drivers.UncertainValue{Value: np.K0, StdDev: d.kSpread()}
	return
}

func (d *NeutronicsDriver) Comm() *comm.Comm { return d.c }
func (d *NeutronicsDriver) Active() bool     { return d.c.Active() }

func (d *NeutronicsDriver) NCells() int { return len(d.cells) }

func (d *NeutronicsDriver) register(key cellKey) drivers.CellHandle {
	if h, ok := d.keys[key]; ok {
		return h
	}
	h := drivers.CellHandle(len(d.cells))
	d.keys[key] = h
	d.cells = append(d.cells, key)
	if key.fuel {
		d.temps = append(d.temps, d.fuelT0)
		d.rhos = append(d.rhos, fuelDensity)
	} else {
		d.temps = append(d.temps, d.coolT0)
		d.rhos = append(d.rhos, d.coolRho0)
	}
	return h
}

func (d *NeutronicsDriver) Find(positions []geom.Position) ([]drivers.CellHandle, error) {
	handles := make([]drivers.CellHandle, len(positions))
	for i, pos := range positions {
		pin, ok := d.lat.PinAt(pos)
		if !ok {
			return nil, fmt.Errorf("position (%g, %g, %g) lies outside the lattice model",
				pos.X, pos.Y, pos.Z)
		}
		lvl, ok := d.lat.LevelAt(pos.Z, d.levels)
		if !ok {
			return nil, fmt.Errorf("position (%g, %g, %g) lies outside the axial extent",
				pos.X, pos.Y, pos.Z)
		}
		handles[i] = d.register(cellKey{pin: pin, level: lvl, fuel: d.lat.InFuel(pos, pin)})
	}
	return handles, nil
}

/*
CreateTallies replicates the root's cell registry across the driver's
ranks and arms the per-cell heat tally. Collective over the driver's
communicator; Find must be complete on the root before the call.
*/
func (d *NeutronicsDriver) CreateTallies() error {
	if !d.Active() {
		return nil
	}
	var packed []int
	if d.c.IsRoot() {
		packed = make([]int, 0, 3*len(d.cells))
		for _, key := range d.cells {
			fuel := 0
			if key.fuel {
				fuel = 1
			}
			packed = append(packed, key.pin, key.level, fuel)
		}
	}
	packed = d.c.BcastInts(packed, 0)
	if !d.c.IsRoot() {
		for i := 0; i+2 < len(packed); i += 3 {
			d.register(cellKey{pin: packed[i], level: packed[i+1], fuel: packed[i+2] == 1})
		}
	}
	d.tallies = true
	return nil
}

func (d *NeutronicsDriver) checkHandle(c drivers.CellHandle) error {
	if int(c) < 0 || int(c) >= len(d.cells) {
		return fmt.Errorf("cell handle %d outside registered range [0,%d)", c, len(d.cells))
	}
	return nil
}

func (d *NeutronicsDriver) CellLabel(c drivers.CellHandle) string {
	if err := d.checkHandle(c); err != nil {
		return fmt.Sprintf("cell[%d]", c)
	}
	key := d.cells[c]
	kind := "coolant"
	if key.fuel {
		kind = "fuel"
	}
	return fmt.Sprintf("p%02d_z%02d_%s", key.pin, key.level, kind)
}

// Volume is the analytic cell volume, exact on this lattice.
func (d *NeutronicsDriver) Volume(c drivers.CellHandle) float64 {
	var (
		key = d.cells[c]
		dz  = d.lat.LevelHeight(d.levels)
	)
	if key.fuel {
		return d.lat.FuelArea() * dz
	}
	return d.lat.CoolantArea() * dz
}

func (d *NeutronicsDriver) IsFissionable(c drivers.CellHandle) bool {
	return d.cells[c].fuel
}

func (d *NeutronicsDriver) GetTemperature(c drivers.CellHandle) float64 { return d.temps[c] }
func (d *NeutronicsDriver) GetDensity(c drivers.CellHandle) float64     { return d.rhos[c] }

func (d *NeutronicsDriver) SetTemperature(c drivers.CellHandle, t float64) error {
	if err := d.checkHandle(c); err != nil {
		return err
	}
	if t <= 0 {
		return fmt.Errorf("temperature %g K for %s is not positive", t, d.CellLabel(c))
	}
	d.temps[c] = t
	return nil
}

func (d *NeutronicsDriver) SetDensity(c drivers.CellHandle, rho float64) error {
	if err := d.checkHandle(c); err != nil {
		return err
	}
	if rho <= 0 {
		return fmt.Errorf("density %g g/cc for %s is not positive", rho, d.CellLabel(c))
	}
	d.rhos[c] = rho
	return nil
}

// InitStep rebroadcasts the root's per-cell fields so every rank of
// the driver solves against the same state.
func (d *NeutronicsDriver) InitStep() error {
	if !d.Active() || d.c.Size() == 1 {
		return nil
	}
	d.temps = d.c.BcastFloat64s(d.temps, 0)
	d.rhos = d.c.BcastFloat64s(d.rhos, 0)
	return nil
}

/*
SolveStep updates the eigenvalue from the current fields: Doppler
feedback through the square root of the volume-averaged fuel
temperature, moderator feedback through the average coolant density.
*/
func (d *NeutronicsDriver) SolveStep() error {
	if !d.Active() {
		return nil
	}
	var (
		fuelT, fuelV float64
		coolRho      float64
		nCool        int
	)
	for c, key := range d.cells {
		if key.fuel {
			v := d.Volume(drivers.CellHandle(c))
			fuelT += d.temps[c] * v
			fuelV += v
		} else {
			coolRho += d.rhos[c]
			nCool++
		}
	}
	k := d.k0
	if fuelV > 0 {
		k -= dopplerCoeff * (math.Sqrt(fuelT/fuelV) - math.Sqrt(d.fuelT0))
	}
	if nCool > 0 {
		k += moderatorCoeff * (coolRho/float64(nCool) - d.coolRho0)
	}
	d.kLast = drivers.UncertainValue{Value: k, StdDev: d.kSpread()}
	return nil
}

// Feedback coefficients: dk per sqrt(K) of fuel Doppler and dk per
// g/cc of moderator density.
const (
	dopplerCoeff   = 3.0e-4
	moderatorCoeff = 0.10
)

func (d *NeutronicsDriver) kSpread() float64 {
	if d.particles <= 0 {
		return d.kStd
	}
	return d.kStd * math.Sqrt(1.e4/float64(d.particles))
}

func (d *NeutronicsDriver) KEffective() drivers.UncertainValue { return d.kLast }

/*
HeatSource distributes power [W] over the fissionable cells with a
chopped-cosine axial shape damped by local Doppler feedback, then
normalizes so the volume integral recovers the requested power. The
returned slice is indexed by cell handle; non-fissionable cells carry
zero.
*/
func (d *NeutronicsDriver) HeatSource(power float64) ([]float64, error) {
	if !d.tallies {
		return nil, fmt.Errorf("heat source requested before tallies were created")
	}
	var (
		q        = make([]float64, len(d.cells))
		weighted float64
		chi      = 1.3 // extrapolated height factor keeps the ends warm
	)
	for c, key := range d.cells {
		if !key.fuel {
			continue
		}
		var (
			z     = d.lat.LevelMid(key.level, d.levels)
			shape = math.Cos(math.Pi * (z - d.lat.Height/2) / (d.lat.Height * chi))
			damp  = 1 - dopplerDamping*(d.temps[c]-d.fuelT0)/d.fuelT0
		)
		if damp < 0.1 {
			damp = 0.1
		}
		q[c] = shape * damp
		weighted += q[c] * d.Volume(drivers.CellHandle(c))
	}
	if weighted <= 0 {
		return nil, fmt.Errorf("no fissionable cells registered, cannot place %g W", power)
	}
	scale := power / weighted
	for c := range q {
		q[c] *= scale
	}
	return q, nil
}

// Fractional suppression of local power per fractional fuel
// temperature rise above nominal.
const dopplerDamping = 0.15

func (d *NeutronicsDriver) WriteStep(timestep, iteration int) error { return nil }
func (d *NeutronicsDriver) FinalizeStep() error                     { return nil }
