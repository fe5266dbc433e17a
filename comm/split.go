package comm

import "fmt"

/*
DriverLayout is the resource request for one physics driver: how many
nodes it spans and how many ranks it uses on each of those nodes. Both
drivers count nodes from the front of the job, so their rank sets
overlap starting at world rank 0 rather than packing disjointly.
*/
type DriverLayout struct {
	Nodes        int
	ProcsPerNode int
}

func (l DriverLayout) String() string {
	return fmt.Sprintf("%d node(s) x %d rank(s)", l.Nodes, l.ProcsPerNode)
}

// node and intranode place a world rank in the job's node grid.
func node(worldRank, procsPerNode int) int      { return worldRank / procsPerNode }
func intranode(worldRank, procsPerNode int) int { return worldRank % procsPerNode }

/*
SplitDriver carves the driver's sub-communicator out of the world
communicator. A world rank is a member when its node index and its
rank-within-node both fall inside the layout. Requesting more nodes or
more ranks per node than the job provides is an error on every rank.
*/
func SplitDriver(world *Comm, layout DriverLayout) (*Comm, error) {
	if layout.Nodes < 1 || layout.ProcsPerNode < 1 {
		return nil, fmt.Errorf("driver layout %s: node and rank counts must be positive", layout)
	}
	if layout.Nodes > world.Nodes() {
		return nil, fmt.Errorf("driver layout %s: job spans only %d node(s)", layout, world.Nodes())
	}
	if layout.ProcsPerNode > world.ProcsPerNode() {
		return nil, fmt.Errorf("driver layout %s: job provides only %d rank(s) per node",
			layout, world.ProcsPerNode())
	}
	var members []int
	for r := 0; r < world.Size(); r++ {
		if node(r, world.ProcsPerNode()) < layout.Nodes &&
			intranode(r, world.ProcsPerNode()) < layout.ProcsPerNode {
			members = append(members, r)
		}
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("driver layout %s selects no ranks", layout)
	}
	return world.Split(members), nil
}

/*
RootWorldRank reports the world rank of sub's root on every world rank,
members and non-members alike. Each rank contributes its own world rank
if it is the sub-communicator's root and a sentinel otherwise; a global
max reduction leaves the answer everywhere.
*/
func RootWorldRank(world, sub *Comm) int {
	contribution := -1
	if sub.Active() && sub.IsRoot() {
		contribution = world.Rank()
	}
	return world.AllreduceMaxInt(contribution)
}

/*
MemberWorldRanks reports, on every world rank, the ascending world
ranks that are members of sub. Each rank contributes its own world rank
or a sentinel, and the gathered list is filtered.
*/
func MemberWorldRanks(world, sub *Comm) (members []int) {
	contribution := -1
	if sub.Active() {
		contribution = world.Rank()
	}
	for _, r := range world.AllgatherInt(contribution) {
		if r >= 0 {
			members = append(members, r)
		}
	}
	return
}
