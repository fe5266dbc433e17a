package coupling

import (
	"fmt"
	"strings"

	"github.com/notargets/gocoupled/InputParameters"
	"github.com/notargets/gocoupled/comm"
	"github.com/notargets/gocoupled/drivers"
	"github.com/notargets/gocoupled/surrogate"
)

// Norm selects the convergence norm applied to the temperature field.
type Norm uint

const (
	L1 Norm = iota
	L2
	Linf
)

var (
	NormNames = map[string]Norm{
		"l1":   L1,
		"l2":   L2,
		"linf": Linf,
	}
	NormPrintNames = []string{"L1", "L2", "Linf"}
)

func NewNorm(label string) (n Norm) {
	var (
		ok  bool
		err error
	)
	label = strings.ToLower(label)
	if n, ok = NormNames[label]; !ok {
		err = fmt.Errorf("unable to use norm named %s", label)
		panic(err)
	}
	return
}

func (n Norm) Print() string { return NormPrintNames[n] }

// Initial selects which driver supplies a field's initial condition.
type Initial uint

const (
	FromNeutronics Initial = iota
	FromHeatFluids
)

var (
	InitialNames = map[string]Initial{
		"neutronics":  FromNeutronics,
		"heat_fluids": FromHeatFluids,
	}
	InitialPrintNames = []string{"neutronics", "heat_fluids"}
)

func NewInitial(label string) (ic Initial) {
	var (
		ok  bool
		err error
	)
	label = strings.ToLower(label)
	if ic, ok = InitialNames[label]; !ok {
		err = fmt.Errorf("unable to use initial condition named %s", label)
		panic(err)
	}
	return
}

func (ic Initial) Print() string { return InitialPrintNames[ic] }

/*
CoupledDriver runs Picard-iterated neutronics / heat-fluids coupling.
Every rank of the job constructs the driver and executes the same call
sequence; physics happens on each driver's sub-communicator and field
exchange happens through the coupling communicator, rank pair by rank
pair in a fixed order, so a run is reproducible for a given layout.

Heat-rank state is indexed two ways: elements carry the index of their
containing cell within the rank's distinct-cell list (first-appearance
order), and the per-cell arrays (volumes, fluid mask, temperature,
density, heat source, and their previous-iterate copies) follow that
list.
*/
type CoupledDriver struct {
	Comm       *comm.Comm
	Neutronics drivers.NeutronicsDriver
	HeatFluids drivers.HeatFluidsDriver

	Power         float64
	MaxTimesteps  int
	MaxPicard     int
	Epsilon       float64
	Norm          Norm
	TemperatureIC Initial
	DensityIC     Initial

	alpha    InputParameters.RelaxFactor
	alphaT   InputParameters.RelaxFactor
	alphaRho InputParameters.RelaxFactor

	iTimestep, iPicard int

	neutronicsRoot int   // world rank of the neutronics root
	heatRoot       int   // world rank of the heat-fluids root
	heatRanks      []int // world ranks of the heat-fluids members

	// per heat rank
	elemCells       []drivers.CellHandle
	cells           []drivers.CellHandle
	cellIndex       map[drivers.CellHandle]int
	elemCellIdx     []int
	cellVolumes     []float64
	cellFluid       []bool
	cellTemps       []float64
	cellTempsPrev   []float64
	cellDensity     []float64
	cellDensityPrev []float64
	cellHeat        []float64
	cellHeatPrev    []float64

	checkVolumes bool
}

/*
NewCoupledDriver validates the deck, splits the driver
sub-communicators, constructs both backends, discovers the roots,
reports the layout, and runs the mapping and field initialization
sequence. Collective over every rank of c.
*/
func NewCoupledDriver(c *comm.Comm, ip *InputParameters.CouplingParameters, checkVolumes bool) (cd *CoupledDriver, err error) {
	if err = ip.Validate(); err != nil {
		return nil, fmt.Errorf("input deck: %v", err)
	}
	cd = &CoupledDriver{
		Comm:          c,
		Power:         ip.Power,
		MaxTimesteps:  ip.MaxTimesteps,
		MaxPicard:     ip.MaxPicardIter,
		Epsilon:       ip.Epsilon,
		Norm:          NewNorm(ip.Norm),
		TemperatureIC: NewInitial(ip.TemperatureIC),
		DensityIC:     NewInitial(ip.DensityIC),
		alpha:         ip.Alpha,
		alphaT:        ip.TemperatureRelax(),
		alphaRho:      ip.DensityRelax(),
		checkVolumes:  checkVolumes,
	}

	neutComm, err := comm.SplitDriver(c, comm.DriverLayout{
		Nodes: ip.Neutronics.Nodes, ProcsPerNode: ip.Neutronics.ProcsPerNode,
	})
	if err != nil {
		return nil, fmt.Errorf("neutronics: %v", err)
	}
	heatComm, err := comm.SplitDriver(c, comm.DriverLayout{
		Nodes: ip.HeatFluids.Nodes, ProcsPerNode: ip.HeatFluids.ProcsPerNode,
	})
	if err != nil {
		return nil, fmt.Errorf("heat-fluids: %v", err)
	}

	if cd.Neutronics, err = newNeutronics(neutComm, ip.Neutronics); err != nil {
		return nil, err
	}
	if cd.HeatFluids, err = newHeatFluids(heatComm, ip.HeatFluids); err != nil {
		return nil, err
	}

	cd.neutronicsRoot = comm.RootWorldRank(c, neutComm)
	cd.heatRoot = comm.RootWorldRank(c, heatComm)
	cd.heatRanks = comm.MemberWorldRanks(c, heatComm)
	comm.Report(c, c, neutComm, heatComm)

	if err = cd.initialize(); err != nil {
		return nil, err
	}
	return cd, nil
}

func newNeutronics(c *comm.Comm, np InputParameters.NeutronicsParameters) (drivers.NeutronicsDriver, error) {
	switch drivers.NewNeutronicsKind(np.Driver) {
	case drivers.NeutronicsSurrogate:
		return surrogate.NewNeutronicsDriver(c, np)
	default:
		return nil, fmt.Errorf("%s driver: %w", np.Driver, drivers.ErrNotEnabled)
	}
}

func newHeatFluids(c *comm.Comm, hp InputParameters.HeatFluidsParameters) (drivers.HeatFluidsDriver, error) {
	switch drivers.NewHeatFluidsKind(hp.Driver) {
	case drivers.HeatFluidsSurrogate:
		return surrogate.NewHeatDriver(c, hp)
	default:
		return nil, fmt.Errorf("%s driver: %w", hp.Driver, drivers.ErrNotEnabled)
	}
}

func (cd *CoupledDriver) initialize() (err error) {
	if err = cd.initMappings(); err != nil {
		return
	}
	if err = cd.initTallies(); err != nil {
		return
	}
	if err = cd.initVolumes(); err != nil {
		return
	}
	cd.initFluidMask()
	if err = cd.initTemperatures(); err != nil {
		return
	}
	if err = cd.initDensities(); err != nil {
		return
	}
	cd.initHeatSource()
	return
}

/*
Execute runs the timestep and Picard loops in the fixed phase order:
neutron transport, heat source downstream, heat-fluids solve,
temperature and density upstream, convergence check. A converged
Picard loop breaks early; the final heat-fluids state is written
unindexed after the last timestep.
*/
func (cd *CoupledDriver) Execute() error {
	c := cd.Comm
	for cd.iTimestep = 0; cd.iTimestep < cd.MaxTimesteps; cd.iTimestep++ {
		c.Messagef("i_timestep: %d", cd.iTimestep)
		for cd.iPicard = 0; cd.iPicard < cd.MaxPicard; cd.iPicard++ {
			c.Messagef("i_picard: %d", cd.iPicard)
			if cd.Neutronics.Active() {
				if err := cd.stepNeutronics(); err != nil {
					return err
				}
			}
			c.Barrier()

			relax := cd.iTimestep > 0 || cd.iPicard > 0
			if err := cd.updateHeatSource(relax); err != nil {
				return err
			}
			if cd.HeatFluids.Active() {
				if err := cd.stepHeatFluids(); err != nil {
					return err
				}
			}
			c.Barrier()

			if err := cd.updateTemperature(true); err != nil {
				return err
			}
			if err := cd.updateDensity(true); err != nil {
				return err
			}
			if cd.isConverged() {
				c.Messagef("converged at i_picard = %d", cd.iPicard)
				break
			}
		}
		c.Barrier()
	}
	if err := cd.HeatFluids.WriteStep(-1, -1); err != nil {
		return fmt.Errorf("final heat-fluids write: %v", err)
	}
	return nil
}

func (cd *CoupledDriver) stepNeutronics() error {
	n := cd.Neutronics
	if err := n.InitStep(); err != nil {
		return fmt.Errorf("neutronics init step: %v", err)
	}
	if err := n.SolveStep(); err != nil {
		return fmt.Errorf("neutronics solve step: %v", err)
	}
	n.Comm().Messagef("k-effective: %s", n.KEffective())
	if err := n.WriteStep(cd.iTimestep, cd.iPicard); err != nil {
		return fmt.Errorf("neutronics write step: %v", err)
	}
	if err := n.FinalizeStep(); err != nil {
		return fmt.Errorf("neutronics finalize step: %v", err)
	}
	return nil
}

func (cd *CoupledDriver) stepHeatFluids() error {
	h := cd.HeatFluids
	if err := h.InitStep(); err != nil {
		return fmt.Errorf("heat-fluids init step: %v", err)
	}
	if err := h.SolveStep(); err != nil {
		return fmt.Errorf("heat-fluids solve step: %v", err)
	}
	if err := h.WriteStep(cd.iTimestep, cd.iPicard); err != nil {
		return fmt.Errorf("heat-fluids write step: %v", err)
	}
	if err := h.FinalizeStep(); err != nil {
		return fmt.Errorf("heat-fluids finalize step: %v", err)
	}
	return nil
}
