package drivers

import "github.com/notargets/gocoupled/geom"

/*
HeatFluidsDriver is the heat and fluids side of the coupled problem.

Every *Local accessor reports the elements owned by the calling rank,
indexed 0..NElemsLocal()-1 in a fixed local order, and is meaningful
only on active ranks. Element volumes are static over the run; element
temperatures and densities reflect the most recent SolveStep.
*/
type HeatFluidsDriver interface {
	Driver

	NElemsLocal() int

	CentroidsLocal() []geom.Position
	VolumesLocal() []float64
	TemperaturesLocal() []float64
	DensitiesLocal() []float64

	// FluidMaskLocal reports, per element, whether the element lies in
	// fluid. Fluid elements receive no heat source and are the only
	// elements whose density feeds back to neutronics.
	FluidMaskLocal() []bool

	// SetHeatSourceAt assigns the volumetric heat source [W/cm^3] for
	// one locally owned element. An out-of-range element is an error
	// naming the element.
	SetHeatSourceAt(localElem int, q float64) error
}
