package comm

import (
	"fmt"
	"os"
)

/*
Report prints one line per world rank showing how that rank sits in
each communicator, serialized so the table comes out in rank order:

	[gocoupled]: Communicator layout:
	hostname       world    coup     neut     heat
	node0424           0       0        0        0
	node0424           1       1        1       -1

Inactive membership prints as -1. Every world rank must call Report.
*/
func Report(world, coup, neut, heat *Comm) {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	hostWidth := world.AllreduceMaxInt(len(host))
	if hostWidth < len("hostname") {
		hostWidth = len("hostname")
	}
	world.Message("Communicator layout:")
	if world.IsRoot() {
		fmt.Printf("%-*s %8s %8s %8s %8s\n", hostWidth, "hostname", "world", "coup", "neut", "heat")
	}
	for r := 0; r < world.Size(); r++ {
		if world.Rank() == r {
			fmt.Printf("%-*s %8d %8d %8d %8d\n",
				hostWidth, host, world.Rank(), coup.Rank(), neut.Rank(), heat.Rank())
		}
		world.Barrier()
	}
}
