package coupling

import (
	"math"

	"github.com/notargets/gocoupled/comm"
	"gonum.org/v1/gonum/floats"
)

/*
isConverged measures the change in the cell temperature field between
successive Picard iterations. Each heat rank contributes the norm of
its own cells' difference; shared cells on partition boundaries count
once per owning rank. The heat root reduces, finishes the L2 square
root, compares against the tolerance and announces the result to every
rank in the simulation.
*/
func (cd *CoupledDriver) isConverged() (converged bool) {
	var (
		c     = cd.Comm
		local float64
		op    = comm.OpSum
		norm  float64
	)
	if cd.HeatFluids.Active() {
		switch cd.Norm {
		case L1:
			local = floats.Distance(cd.cellTemps, cd.cellTempsPrev, 1)
		case L2:
			d := floats.Distance(cd.cellTemps, cd.cellTempsPrev, 2)
			local = d * d
		case Linf:
			local = floats.Distance(cd.cellTemps, cd.cellTempsPrev, math.Inf(1))
		}
		if cd.Norm == Linf {
			op = comm.OpMax
		}
		hc := cd.HeatFluids.Comm()
		norm = hc.ReduceFloat64(local, op)
		if hc.IsRoot() {
			if cd.Norm == L2 {
				norm = math.Sqrt(norm)
			}
			converged = norm < cd.Epsilon
		}
	}
	converged = c.BcastBool(converged, cd.heatRoot)
	norm = c.BcastFloat64(norm, cd.heatRoot)
	c.Messagef("temperature norm: %g", norm)
	return
}
