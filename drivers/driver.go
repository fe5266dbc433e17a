package drivers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/notargets/gocoupled/comm"
)

// ErrNotEnabled marks a driver kind that is recognized but not
// compiled into this build.
var ErrNotEnabled = errors.New("not enabled in this build")

/*
Driver is the step lifecycle shared by both physics codes. A driver is
constructed on every rank of the job but is only Active on the ranks of
its own sub-communicator; lifecycle calls on inactive ranks must be
no-ops so call sites can stay unguarded where the original sequence is.

WriteStep receives the timestep and iteration indices so output files
can be labeled; the final unindexed write passes -1 for both.
*/
type Driver interface {
	Comm() *comm.Comm
	Active() bool
	InitStep() error
	SolveStep() error
	WriteStep(timestep, iteration int) error
	FinalizeStep() error
}

// NeutronicsKind selects the neutron transport backend.
type NeutronicsKind uint

const (
	NeutronicsSurrogate NeutronicsKind = iota
	NeutronicsOpenMC
	NeutronicsShift
)

var (
	NeutronicsKindNames = map[string]NeutronicsKind{
		"surrogate": NeutronicsSurrogate,
		"openmc":    NeutronicsOpenMC,
		"shift":     NeutronicsShift,
	}
	NeutronicsKindPrintNames = []string{"surrogate", "openmc", "shift"}
)

func NewNeutronicsKind(label string) (k NeutronicsKind) {
	var (
		ok  bool
		err error
	)
	label = strings.ToLower(label)
	if k, ok = NeutronicsKindNames[label]; !ok {
		err = fmt.Errorf("unable to use neutronics driver named %s", label)
		panic(err)
	}
	return
}

func (k NeutronicsKind) Print() string { return NeutronicsKindPrintNames[k] }

// HeatFluidsKind selects the heat and fluids backend.
type HeatFluidsKind uint

const (
	HeatFluidsSurrogate HeatFluidsKind = iota
	HeatFluidsNek5000
)

var (
	HeatFluidsKindNames = map[string]HeatFluidsKind{
		"surrogate": HeatFluidsSurrogate,
		"nek5000":   HeatFluidsNek5000,
	}
	HeatFluidsKindPrintNames = []string{"surrogate", "nek5000"}
)

func NewHeatFluidsKind(label string) (k HeatFluidsKind) {
	var (
		ok  bool
		err error
	)
	label = strings.ToLower(label)
	if k, ok = HeatFluidsKindNames[label]; !ok {
		err = fmt.Errorf("unable to use heat-fluids driver named %s", label)
		panic(err)
	}
	return
}

func (k HeatFluidsKind) Print() string { return HeatFluidsKindPrintNames[k] }
