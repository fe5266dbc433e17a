package drivers

import (
	"fmt"

	"github.com/notargets/gocoupled/geom"
)

/*
CellHandle identifies one neutronics cell. Handles form a dense index
space: after mapping initialization every handle in [0, NCells()) is
valid, so per-cell fields can live in plain slices indexed by handle.
*/
type CellHandle int

// UncertainValue is a sampled quantity with a one-sigma uncertainty,
// e.g. an eigenvalue from a Monte Carlo tally.
type UncertainValue struct {
	Value  float64
	StdDev float64
}

func (u UncertainValue) String() string {
	return fmt.Sprintf("%.5f +/- %.5f", u.Value, u.StdDev)
}

/*
NeutronicsDriver is the neutron transport side of the coupled problem.

Find and the per-cell accessors are meaningful on the driver's root
rank; the driver replicates whatever state its own solver needs across
its sub-communicator during InitStep. Per-cell setters reject unknown
handles rather than growing the handle space.
*/
type NeutronicsDriver interface {
	Driver

	// Find resolves each position to the handle of the cell containing
	// it, registering previously unseen cells. A position outside the
	// model is an error naming the position.
	Find(positions []geom.Position) ([]CellHandle, error)

	// CreateTallies sets up per-cell heat deposition tallies over the
	// cells registered by Find. Collective over the driver's ranks.
	CreateTallies() error

	// NCells reports the number of registered cells. Handles returned
	// by Find lie in [0, NCells()).
	NCells() int

	CellLabel(c CellHandle) string
	Volume(c CellHandle) float64
	IsFissionable(c CellHandle) bool

	GetTemperature(c CellHandle) float64
	GetDensity(c CellHandle) float64
	SetTemperature(c CellHandle, t float64) error
	SetDensity(c CellHandle, rho float64) error

	// HeatSource returns the volumetric heat deposition rate [W/cm^3]
	// per cell, indexed by handle, normalized so the volume integral
	// over fissionable cells equals power [W].
	HeatSource(power float64) ([]float64, error)

	// KEffective reports the eigenvalue from the last solve.
	KEffective() UncertainValue
}
