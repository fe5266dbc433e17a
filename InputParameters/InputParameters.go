package InputParameters

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ghodss/yaml"
	"github.com/notargets/gocoupled/drivers"
)

/*
RelaxFactor is an under-relaxation factor for Picard iteration: a
number in (0,1], or the literal string robbins-monro to request the
diminishing 1/n schedule. In YAML either form is accepted:

	Alpha: 0.7
	AlphaT: robbins-monro
*/
type RelaxFactor float64

const RobbinsMonro RelaxFactor = -1

func (rf *RelaxFactor) UnmarshalJSON(data []byte) error {
	label := strings.Trim(string(data), `"`)
	if strings.EqualFold(label, "robbins-monro") {
		*rf = RobbinsMonro
		return nil
	}
	v, err := strconv.ParseFloat(label, 64)
	if err != nil {
		return fmt.Errorf("relaxation factor %q is neither a number nor robbins-monro", label)
	}
	*rf = RelaxFactor(v)
	return nil
}

func (rf RelaxFactor) IsRobbinsMonro() bool { return rf == RobbinsMonro }

func (rf RelaxFactor) Print() string {
	if rf.IsRobbinsMonro() {
		return "robbins-monro"
	}
	return strconv.FormatFloat(float64(rf), 'g', -1, 64)
}

// Lattice geometry shared by the surrogate drivers. Lengths in [cm].
type LatticeParameters struct {
	PinsX      int     `yaml:"PinsX"`
	PinsY      int     `yaml:"PinsY"`
	Pitch      float64 `yaml:"Pitch"`
	FuelRadius float64 `yaml:"FuelRadius"`
	Height     float64 `yaml:"Height"`
}

type NeutronicsParameters struct {
	Driver       string            `yaml:"Driver"`
	Nodes        int               `yaml:"Nodes"`
	ProcsPerNode int               `yaml:"ProcsPerNode"`
	Lattice      LatticeParameters `yaml:"Lattice"`
	AxialLevels  int               `yaml:"AxialLevels"`
	// Nominal eigenvalue and sampled spread reported by the surrogate
	// transport solve.
	K0        float64 `yaml:"K0"`
	KStdDev   float64 `yaml:"KStdDev"`
	Particles int     `yaml:"Particles"`
	// Initial fields used when the coupled run takes its initial
	// condition from neutronics.
	InitialFuelTemperature    float64 `yaml:"InitialFuelTemperature"`
	InitialCoolantTemperature float64 `yaml:"InitialCoolantTemperature"`
	InitialCoolantDensity     float64 `yaml:"InitialCoolantDensity"`
}

type HeatFluidsParameters struct {
	Driver       string            `yaml:"Driver"`
	Nodes        int               `yaml:"Nodes"`
	ProcsPerNode int               `yaml:"ProcsPerNode"`
	Lattice      LatticeParameters `yaml:"Lattice"`
	AxialLevels  int               `yaml:"AxialLevels"`
	FuelRings    int               `yaml:"FuelRings"`
	// Outlet pressure boundary condition [MPa].
	PressureBC float64 `yaml:"PressureBC"`
	// Coolant inlet temperature [K] and per-channel mass flow [kg/s].
	InletTemperature float64 `yaml:"InletTemperature"`
	MassFlowRate     float64 `yaml:"MassFlowRate"`
	// Material and closure constants.
	FuelConductivity  float64 `yaml:"FuelConductivity"`  // [W/cm-K]
	HeatTransferCoeff float64 `yaml:"HeatTransferCoeff"` // [W/cm^2-K]
	SpecificHeat      float64 `yaml:"SpecificHeat"`      // [J/kg-K]
	// When set, each indexed write dumps per-element fields to
	// <OutputBasename>_<timestep>_<iteration>.csv.
	OutputBasename string `yaml:"OutputBasename"`
}

// Parameters obtained from the YAML input file
type CouplingParameters struct {
	Title         string               `yaml:"Title"`
	Power         float64              `yaml:"Power"` // [W]
	MaxTimesteps  int                  `yaml:"MaxTimesteps"`
	MaxPicardIter int                  `yaml:"MaxPicardIter"`
	Epsilon       float64              `yaml:"Epsilon"`
	Norm          string               `yaml:"Norm"`          // L1, L2 or Linf
	TemperatureIC string               `yaml:"TemperatureIC"` // neutronics or heat_fluids
	DensityIC     string               `yaml:"DensityIC"`
	Alpha         RelaxFactor          `yaml:"Alpha"`
	AlphaT        *RelaxFactor         `yaml:"AlphaT"`   // defaults to Alpha
	AlphaRho      *RelaxFactor         `yaml:"AlphaRho"` // defaults to Alpha
	Neutronics    NeutronicsParameters `yaml:"Neutronics"`
	HeatFluids    HeatFluidsParameters `yaml:"HeatFluids"`
}

// DefaultParameters fills every optional knob so a deck only needs to
// state what it changes.
func DefaultParameters() (ip *CouplingParameters) {
	ip = &CouplingParameters{
		Title:         "coupled",
		MaxTimesteps:  1,
		MaxPicardIter: 1,
		Epsilon:       1.e-3,
		Norm:          "Linf",
		TemperatureIC: "neutronics",
		DensityIC:     "neutronics",
		Alpha:         1.0,
		Neutronics: NeutronicsParameters{
			Driver:                    "surrogate",
			Nodes:                     1,
			ProcsPerNode:              1,
			AxialLevels:               5,
			K0:                        1.00200,
			KStdDev:                   2.3e-4,
			Particles:                 10000,
			InitialFuelTemperature:    900.,
			InitialCoolantTemperature: 565.,
			InitialCoolantDensity:     0.74,
		},
		HeatFluids: HeatFluidsParameters{
			Driver:            "surrogate",
			Nodes:             1,
			ProcsPerNode:      1,
			AxialLevels:       10,
			FuelRings:         4,
			PressureBC:        15.5,
			InletTemperature:  565.,
			MassFlowRate:      0.30,
			FuelConductivity:  0.0287,
			HeatTransferCoeff: 3.2,
			SpecificHeat:      5830.,
		},
	}
	return
}

func (ip *CouplingParameters) Parse(data []byte) error {
	return yaml.Unmarshal(data, ip)
}

// TemperatureRelax and DensityRelax resolve the per-field factors,
// falling back to the shared Alpha where a deck left them unset.
func (ip *CouplingParameters) TemperatureRelax() RelaxFactor {
	if ip.AlphaT != nil {
		return *ip.AlphaT
	}
	return ip.Alpha
}

func (ip *CouplingParameters) DensityRelax() RelaxFactor {
	if ip.AlphaRho != nil {
		return *ip.AlphaRho
	}
	return ip.Alpha
}

func validRelax(rf RelaxFactor) bool {
	return rf.IsRobbinsMonro() || (rf > 0 && rf <= 1)
}

func validLattice(lat LatticeParameters) error {
	switch {
	case lat.PinsX < 1 || lat.PinsY < 1:
		return fmt.Errorf("lattice needs at least one pin in each direction, got %dx%d",
			lat.PinsX, lat.PinsY)
	case lat.Pitch <= 0 || lat.FuelRadius <= 0 || lat.Height <= 0:
		return fmt.Errorf("lattice pitch, fuel radius and height must be positive")
	case 2*lat.FuelRadius >= lat.Pitch:
		return fmt.Errorf("fuel radius %g does not fit inside pitch %g",
			lat.FuelRadius, lat.Pitch)
	}
	return nil
}

// Validate reports the first problem with the deck. It runs before any
// communicator is split, so a bad deck fails fast on every rank.
func (ip *CouplingParameters) Validate() error {
	switch {
	case ip.Power <= 0:
		return fmt.Errorf("Power must be positive, got %g", ip.Power)
	case ip.MaxTimesteps < 0 || ip.MaxPicardIter < 0:
		return fmt.Errorf("MaxTimesteps and MaxPicardIter cannot be negative")
	case ip.Epsilon <= 0:
		return fmt.Errorf("Epsilon must be positive, got %g", ip.Epsilon)
	case !validRelax(ip.Alpha):
		return fmt.Errorf("Alpha must lie in (0,1] or be robbins-monro")
	case !validRelax(ip.TemperatureRelax()):
		return fmt.Errorf("AlphaT must lie in (0,1] or be robbins-monro")
	case !validRelax(ip.DensityRelax()):
		return fmt.Errorf("AlphaRho must lie in (0,1] or be robbins-monro")
	}
	switch strings.ToLower(ip.Norm) {
	case "l1", "l2", "linf":
	default:
		return fmt.Errorf("Norm must be one of L1, L2, Linf, got %q", ip.Norm)
	}
	for _, ic := range []string{ip.TemperatureIC, ip.DensityIC} {
		switch strings.ToLower(ic) {
		case "neutronics", "heat_fluids":
		default:
			return fmt.Errorf("initial condition must be neutronics or heat_fluids, got %q", ic)
		}
	}
	if _, ok := drivers.NeutronicsKindNames[strings.ToLower(ip.Neutronics.Driver)]; !ok {
		return fmt.Errorf("unknown neutronics driver %q, expected one of %v",
			ip.Neutronics.Driver, drivers.NeutronicsKindPrintNames)
	}
	if _, ok := drivers.HeatFluidsKindNames[strings.ToLower(ip.HeatFluids.Driver)]; !ok {
		return fmt.Errorf("unknown heat-fluids driver %q, expected one of %v",
			ip.HeatFluids.Driver, drivers.HeatFluidsKindPrintNames)
	}
	if ip.Neutronics.Nodes < 1 || ip.Neutronics.ProcsPerNode < 1 ||
		ip.HeatFluids.Nodes < 1 || ip.HeatFluids.ProcsPerNode < 1 {
		return fmt.Errorf("driver node and rank counts must be positive")
	}
	if err := validLattice(ip.Neutronics.Lattice); err != nil {
		return fmt.Errorf("Neutronics.Lattice: %v", err)
	}
	if err := validLattice(ip.HeatFluids.Lattice); err != nil {
		return fmt.Errorf("HeatFluids.Lattice: %v", err)
	}
	if ip.Neutronics.AxialLevels < 1 || ip.HeatFluids.AxialLevels < 1 {
		return fmt.Errorf("AxialLevels must be positive for both drivers")
	}
	if ip.HeatFluids.FuelRings < 1 {
		return fmt.Errorf("FuelRings must be positive, got %d", ip.HeatFluids.FuelRings)
	}
	if ip.HeatFluids.InletTemperature <= 0 || ip.HeatFluids.MassFlowRate <= 0 ||
		ip.HeatFluids.SpecificHeat <= 0 {
		return fmt.Errorf("coolant inlet temperature, mass flow rate and specific heat must be positive")
	}
	if ip.HeatFluids.PressureBC <= 0 {
		return fmt.Errorf("PressureBC must be positive, got %g", ip.HeatFluids.PressureBC)
	}
	return nil
}

func (ip *CouplingParameters) Print() {
	fmt.Printf("\"%s\"\t\t= Title\n", ip.Title)
	fmt.Printf("%8.1f\t\t= Power [W]\n", ip.Power)
	fmt.Printf("[%d]\t\t\t= Max Timesteps\n", ip.MaxTimesteps)
	fmt.Printf("[%d]\t\t\t= Max Picard Iterations\n", ip.MaxPicardIter)
	fmt.Printf("%8.2e\t\t= Epsilon\n", ip.Epsilon)
	fmt.Printf("[%s]\t\t\t= Norm\n", ip.Norm)
	fmt.Printf("[%s]\t\t= Temperature IC\n", ip.TemperatureIC)
	fmt.Printf("[%s]\t\t= Density IC\n", ip.DensityIC)
	fmt.Printf("[%s]\t\t\t= Alpha\n", ip.Alpha.Print())
	fmt.Printf("[%s]\t\t\t= AlphaT\n", ip.TemperatureRelax().Print())
	fmt.Printf("[%s]\t\t\t= AlphaRho\n", ip.DensityRelax().Print())
	fmt.Printf("[%s] on %d node(s) x %d rank(s)\t= Neutronics\n",
		ip.Neutronics.Driver, ip.Neutronics.Nodes, ip.Neutronics.ProcsPerNode)
	fmt.Printf("[%s] on %d node(s) x %d rank(s)\t= Heat-Fluids\n",
		ip.HeatFluids.Driver, ip.HeatFluids.Nodes, ip.HeatFluids.ProcsPerNode)
}
