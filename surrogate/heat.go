package surrogate

import (
	"fmt"
	"math"
	"os"

	"github.com/james-bowman/sparse"
	"github.com/notargets/gocoupled/InputParameters"
	"github.com/notargets/gocoupled/comm"
	"github.com/notargets/gocoupled/geom"
	"github.com/notargets/gocoupled/utils"
	"gonum.org/v1/gonum/mat"
)

const fuelDensity = 10.4 // [g/cc], inert on the coupling path

/*
HeatDriver is a single-phase subchannel model of the lattice. Each pin
channel is meshed into AxialLevels slices, each slice into FuelRings
equal-volume fuel rings plus one coolant element. Pins are divided
contiguously across the driver's ranks, so every element of a channel
lives on one rank and a solve needs no communication.

The solve marches the coolant energy balance up each channel, then
solves the steady radial conduction system of every slice against the
local coolant temperature.
*/
type HeatDriver struct {
	c   *comm.Comm
	lat Lattice

	levels, rings int
	pressure      float64 // outlet BC [MPa]
	tInlet        float64 // [K]
	mdot          float64 // per channel [kg/s]
	cp            float64 // [J/kg-K]
	kFuel         float64 // [W/cm-K]
	hFilm         float64 // [W/cm^2-K]
	outputBase    string

	pins         *utils.PartitionMap
	pinLo, pinHi int

	// rim radii and ring-centroid radii, shared by every pin
	rimRadius, ringCentroid []float64

	// per local element, fuel rings then coolant within each slice
	elemTemp, elemRho, elemQ, elemVol []float64
	fluid                             []bool
	centroids                         []geom.Position
}

func NewHeatDriver(c *comm.Comm, hp InputParameters.HeatFluidsParameters) (d *HeatDriver, err error) {
	d = &HeatDriver{
		c:          c,
		lat:        NewLattice(hp.Lattice),
		levels:     hp.AxialLevels,
		rings:      hp.FuelRings,
		pressure:   hp.PressureBC,
		tInlet:     hp.InletTemperature,
		mdot:       hp.MassFlowRate,
		cp:         hp.SpecificHeat,
		kFuel:      hp.FuelConductivity,
		hFilm:      hp.HeatTransferCoeff,
		outputBase: hp.OutputBasename,
	}
	if !c.Active() {
		return
	}
	d.pins = utils.NewPartitionMap(c.Size(), d.lat.NPins())
	d.pinLo, d.pinHi = d.pins.GetBucketRange(c.Rank())
	d.meshRadial()
	d.meshElements()
	return
}

// meshRadial fixes the equal-volume ring rims and their centroid radii.
func (d *HeatDriver) meshRadial() {
	var (
		nr = d.rings
		R  = d.lat.FuelRadius
	)
	d.rimRadius = make([]float64, nr+1)
	for i := 0; i <= nr; i++ {
		d.rimRadius[i] = R * math.Sqrt(float64(i)/float64(nr))
	}
	d.ringCentroid = make([]float64, nr)
	for i := 0; i < nr; i++ {
		r0, r1 := d.rimRadius[i], d.rimRadius[i+1]
		d.ringCentroid[i] = 2. / 3. * (r1*r1*r1 - r0*r0*r0) / (r1*r1 - r0*r0)
	}
}

func (d *HeatDriver) meshElements() {
	var (
		n        = d.NElemsLocal()
		dz       = d.lat.LevelHeight(d.levels)
		ringVol  = d.lat.FuelArea() * dz / float64(d.rings)
		coolVol  = d.lat.CoolantArea() * dz
		coolRho0 = waterRho(d.pressure, d.tInlet)
		offset   = 0.45 * d.lat.Pitch // coolant sample point, clear of the rod
	)
	d.elemTemp = make([]float64, n)
	d.elemRho = make([]float64, n)
	d.elemQ = make([]float64, n)
	d.elemVol = make([]float64, n)
	d.fluid = make([]bool, n)
	d.centroids = make([]geom.Position, n)
	for p := d.pinLo; p < d.pinHi; p++ {
		x, y := d.lat.PinCenter(p)
		for lvl := 0; lvl < d.levels; lvl++ {
			z := d.lat.LevelMid(lvl, d.levels)
			for ring := 0; ring < d.rings; ring++ {
				e := d.localIndex(p, lvl, ring)
				d.elemTemp[e] = d.tInlet
				d.elemRho[e] = fuelDensity
				d.elemVol[e] = ringVol
				d.centroids[e] = geom.Position{X: x + d.ringCentroid[ring], Y: y, Z: z}
			}
			e := d.localIndex(p, lvl, d.rings)
			d.elemTemp[e] = d.tInlet
			d.elemRho[e] = coolRho0
			d.elemVol[e] = coolVol
			d.fluid[e] = true
			d.centroids[e] = geom.Position{X: x + offset, Y: y + offset, Z: z}
		}
	}
}

// localIndex places (pin, level, slot) in the rank's element order,
// slot d.rings being the coolant element of the slice.
func (d *HeatDriver) localIndex(pin, lvl, slot int) int {
	return ((pin-d.pinLo)*d.levels+lvl)*(d.rings+1) + slot
}

func (d *HeatDriver) Comm() *comm.Comm { return d.c }
func (d *HeatDriver) Active() bool     { return d.c.Active() }

func (d *HeatDriver) NElemsLocal() int {
	if !d.Active() {
		return 0
	}
	return (d.pinHi - d.pinLo) * d.levels * (d.rings + 1)
}

func (d *HeatDriver) CentroidsLocal() []geom.Position { return d.centroids }
func (d *HeatDriver) VolumesLocal() []float64         { return d.elemVol }
func (d *HeatDriver) TemperaturesLocal() []float64    { return d.elemTemp }
func (d *HeatDriver) DensitiesLocal() []float64       { return d.elemRho }
func (d *HeatDriver) FluidMaskLocal() []bool          { return d.fluid }

func (d *HeatDriver) SetHeatSourceAt(localElem int, q float64) error {
	if localElem < 0 || localElem >= d.NElemsLocal() {
		return fmt.Errorf("heat source element %d outside local range [0,%d)",
			localElem, d.NElemsLocal())
	}
	d.elemQ[localElem] = q
	return nil
}

func (d *HeatDriver) InitStep() error { return nil }

func (d *HeatDriver) SolveStep() error {
	if !d.Active() {
		return nil
	}
	for p := d.pinLo; p < d.pinHi; p++ {
		if err := d.solveChannel(p); err != nil {
			return fmt.Errorf("channel %d: %v", p, err)
		}
	}
	return nil
}

func (d *HeatDriver) solveChannel(pin int) error {
	var (
		inlet = d.tInlet
		tCool = make([]float64, d.levels)
	)
	// Energy balance up the channel; the element temperature is the
	// slice-midpoint value.
	for lvl := 0; lvl < d.levels; lvl++ {
		var power float64
		for slot := 0; slot <= d.rings; slot++ {
			e := d.localIndex(pin, lvl, slot)
			power += d.elemQ[e] * d.elemVol[e]
		}
		rise := power / (d.mdot * d.cp)
		tCool[lvl] = inlet + rise/2
		inlet += rise
	}
	for lvl := 0; lvl < d.levels; lvl++ {
		ringT, err := d.solveConduction(pin, lvl, tCool[lvl])
		if err != nil {
			return fmt.Errorf("slice %d conduction: %v", lvl, err)
		}
		for ring := 0; ring < d.rings; ring++ {
			d.elemTemp[d.localIndex(pin, lvl, ring)] = ringT[ring]
		}
		e := d.localIndex(pin, lvl, d.rings)
		d.elemTemp[e] = tCool[lvl]
		d.elemRho[e] = waterRho(d.pressure, tCool[lvl])
	}
	return nil
}

/*
solveConduction solves steady radial conduction in one fuel slice. The
finite-volume system couples adjacent rings through their shared rim
and the outer ring to the coolant through conduction to the rod
surface in series with the film coefficient. The tridiagonal operator
is assembled in sparse coordinate form and solved dense.
*/
func (d *HeatDriver) solveConduction(pin, lvl int, tCool float64) ([]float64, error) {
	var (
		nr  = d.rings
		dz  = d.lat.LevelHeight(d.levels)
		dok = sparse.NewDOK(nr, nr)
		rhs = mat.NewVecDense(nr, nil)
	)
	for i := 0; i < nr; i++ {
		e := d.localIndex(pin, lvl, i)
		rhs.SetVec(i, d.elemQ[e]*d.elemVol[e])
	}
	for i := 0; i < nr-1; i++ {
		var (
			area = 2 * math.Pi * d.rimRadius[i+1] * dz
			dist = d.ringCentroid[i+1] - d.ringCentroid[i]
			g    = d.kFuel * area / dist
		)
		dok.Set(i, i, dok.At(i, i)+g)
		dok.Set(i+1, i+1, dok.At(i+1, i+1)+g)
		dok.Set(i, i+1, dok.At(i, i+1)-g)
		dok.Set(i+1, i, dok.At(i+1, i)-g)
	}
	var (
		surfArea = 2 * math.Pi * d.lat.FuelRadius * dz
		surfDist = d.lat.FuelRadius - d.ringCentroid[nr-1]
		gOut     = surfArea / (surfDist/d.kFuel + 1/d.hFilm)
	)
	dok.Set(nr-1, nr-1, dok.At(nr-1, nr-1)+gOut)
	rhs.SetVec(nr-1, rhs.AtVec(nr-1)+gOut*tCool)

	var sol mat.VecDense
	if err := sol.SolveVec(dok.ToCSR(), rhs); err != nil {
		return nil, err
	}
	out := make([]float64, nr)
	for i := range out {
		out[i] = sol.AtVec(i)
	}
	return out, nil
}

/*
WriteStep dumps the rank's element fields to CSV when the deck names an
output basename; otherwise it is a no-op. Negative indices mark the
final write after the coupled run.
*/
func (d *HeatDriver) WriteStep(timestep, iteration int) error {
	if !d.Active() || d.outputBase == "" {
		return nil
	}
	var name string
	if timestep < 0 || iteration < 0 {
		name = fmt.Sprintf("%s_final.r%02d.csv", d.outputBase, d.c.Rank())
	} else {
		name = fmt.Sprintf("%s_t%02d_i%02d.r%02d.csv", d.outputBase, timestep, iteration, d.c.Rank())
	}
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("writing heat fields: %v", err)
	}
	defer f.Close()
	fmt.Fprintf(f, "elem,pin,level,slot,x,y,z,volume,temperature,density,heat_source\n")
	for p := d.pinLo; p < d.pinHi; p++ {
		for lvl := 0; lvl < d.levels; lvl++ {
			for slot := 0; slot <= d.rings; slot++ {
				e := d.localIndex(p, lvl, slot)
				pos := d.centroids[e]
				fmt.Fprintf(f, "%d,%d,%d,%d,%g,%g,%g,%g,%g,%g,%g\n",
					e, p, lvl, slot, pos.X, pos.Y, pos.Z,
					d.elemVol[e], d.elemTemp[e], d.elemRho[e], d.elemQ[e])
			}
		}
	}
	return nil
}

func (d *HeatDriver) FinalizeStep() error { return nil }

/*
waterRho approximates liquid water density [g/cc] at temperature T [K]
and pressure p [MPa], fit around PWR operating conditions. The result
is floored well above zero so downstream volume weighting stays
positive even for unphysical inputs.
*/
func waterRho(p, T float64) float64 {
	rho := 1.0042 - 8.55e-4*(T-273.15) + 4.8e-4*(p-15.5)
	if rho < 0.01 {
		rho = 0.01
	}
	return rho
}
