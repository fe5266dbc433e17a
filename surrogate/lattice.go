package surrogate

import (
	"fmt"
	"math"

	"github.com/notargets/gocoupled/InputParameters"
	"github.com/notargets/gocoupled/geom"
)

/*
Lattice is a rectangular array of fuel pins, each centered in a square
coolant channel of side Pitch, extruded from z=0 to z=Height. The
lattice is centered on the origin in x and y. Both surrogate drivers
build their meshes from the same lattice so cross-mesh mapping
reduces to channel, level and in-fuel tests.
*/
type Lattice struct {
	PinsX, PinsY int
	Pitch        float64 // [cm]
	FuelRadius   float64 // [cm]
	Height       float64 // [cm]
}

func NewLattice(lp InputParameters.LatticeParameters) Lattice {
	return Lattice{
		PinsX:      lp.PinsX,
		PinsY:      lp.PinsY,
		Pitch:      lp.Pitch,
		FuelRadius: lp.FuelRadius,
		Height:     lp.Height,
	}
}

func (l Lattice) NPins() int { return l.PinsX * l.PinsY }

// PinCenter reports the axis of pin p, pins numbered row-major with
// x varying fastest.
func (l Lattice) PinCenter(p int) (x, y float64) {
	i, j := p%l.PinsX, p/l.PinsX
	x = (float64(i) - float64(l.PinsX-1)/2) * l.Pitch
	y = (float64(j) - float64(l.PinsY-1)/2) * l.Pitch
	return
}

/*
PinAt resolves a position to the pin whose channel contains it. The
boolean is false for positions outside the lattice box, including
outside the axial extent.
*/
func (l Lattice) PinAt(pos geom.Position) (p int, ok bool) {
	var (
		w = float64(l.PinsX) * l.Pitch
		h = float64(l.PinsY) * l.Pitch
		u = pos.X + w/2
		v = pos.Y + h/2
	)
	if u < 0 || u > w || v < 0 || v > h || pos.Z < 0 || pos.Z > l.Height {
		return -1, false
	}
	i := int(u / l.Pitch)
	if i == l.PinsX { // top edge belongs to the last channel
		i--
	}
	j := int(v / l.Pitch)
	if j == l.PinsY {
		j--
	}
	return j*l.PinsX + i, true
}

// InFuel reports whether the position lies inside the fuel rod of the
// channel containing it.
func (l Lattice) InFuel(pos geom.Position, p int) bool {
	x, y := l.PinCenter(p)
	return pos.DistanceXY(geom.Position{X: x, Y: y}) <= l.FuelRadius
}

// LevelAt places z on one of n equal axial levels.
func (l Lattice) LevelAt(z float64, n int) (lvl int, ok bool) {
	if z < 0 || z > l.Height {
		return -1, false
	}
	lvl = int(z / l.LevelHeight(n))
	if lvl == n { // top face belongs to the last level
		lvl--
	}
	return lvl, true
}

func (l Lattice) LevelHeight(n int) float64 { return l.Height / float64(n) }

// LevelMid is the axial midpoint of level lvl of n.
func (l Lattice) LevelMid(lvl, n int) float64 {
	return (float64(lvl) + 0.5) * l.LevelHeight(n)
}

func (l Lattice) FuelArea() float64 {
	return math.Pi * l.FuelRadius * l.FuelRadius
}

func (l Lattice) CoolantArea() float64 {
	return l.Pitch*l.Pitch - l.FuelArea()
}

func (l Lattice) String() string {
	return fmt.Sprintf("%dx%d lattice, pitch %g cm, fuel radius %g cm, height %g cm",
		l.PinsX, l.PinsY, l.Pitch, l.FuelRadius, l.Height)
}
