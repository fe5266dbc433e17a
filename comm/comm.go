package comm

import (
	"fmt"
	"math"
)

/*
Comm is a communicator over some subset of the job's ranks. The world
communicator covers every rank; Split carves out sub-communicators. A
rank that is not a member still holds a Comm value for the group, just
an inactive one, so collective call sites can guard on Active without
nil checks.

Collectives are implemented as a flat tree rooted at the group's first
member: reductions receive contributions in ascending member order, so
floating-point results are bitwise reproducible across runs of the same
layout.
*/
type Comm struct {
	world *World
	ranks []int // world ranks of the members, ascending
	rank  int   // my rank within the group, -1 if not a member
}

func worldComm(w *World, worldRank int) (c *Comm) {
	c = &Comm{world: w, ranks: make([]int, w.size), rank: worldRank}
	for i := range c.ranks {
		c.ranks[i] = i
	}
	return
}

// Rank is this process's rank within the communicator, -1 if inactive.
func (c *Comm) Rank() int { return c.rank }

// Size is the number of member ranks.
func (c *Comm) Size() int { return len(c.ranks) }

// Active reports whether the calling rank is a member.
func (c *Comm) Active() bool { return c.rank >= 0 }

// IsRoot reports whether the calling rank is the communicator's root.
func (c *Comm) IsRoot() bool { return c.rank == 0 }

// WorldRank is the calling rank's rank in the world communicator.
func (c *Comm) WorldRank() int {
	if c.rank >= 0 {
		return c.ranks[c.rank]
	}
	return -1
}

// ProcsPerNode is the node width the job was launched with.
func (c *Comm) ProcsPerNode() int { return c.world.procsPerNode }

// Nodes is the number of nodes spanned by the whole job.
func (c *Comm) Nodes() int {
	return (c.world.size + c.world.procsPerNode - 1) / c.world.procsPerNode
}

/*
Split builds a sub-communicator from the given world ranks. Membership
must be identical on every calling rank; the ranks are sorted so the
lowest world rank becomes the sub-communicator's root. Ranks outside
members receive an inactive Comm.
*/
func (c *Comm) Split(members []int) (sub *Comm) {
	ranks := append([]int(nil), members...)
	for i := 1; i < len(ranks); i++ {
		for j := i; j > 0 && ranks[j] < ranks[j-1]; j-- {
			ranks[j], ranks[j-1] = ranks[j-1], ranks[j]
		}
	}
	sub = &Comm{world: c.world, ranks: ranks, rank: -1}
	for i, r := range ranks {
		if r == c.WorldRank() {
			sub.rank = i
		}
	}
	return
}

func (c *Comm) mustBeActive(op string) {
	if !c.Active() {
		panic(fmt.Errorf("%s called on an inactive communicator", op))
	}
}

// Barrier blocks until every member rank has entered it.
func (c *Comm) Barrier() {
	c.mustBeActive("Barrier")
	if c.Size() == 1 {
		return
	}
	root := c.ranks[0]
	me := c.WorldRank()
	if c.IsRoot() {
		for _, r := range c.ranks[1:] {
			c.world.recv(me, r, tagBarrier)
		}
		for _, r := range c.ranks[1:] {
			c.world.send(me, r, tagBarrierRelease, nil)
		}
	} else {
		c.world.send(me, root, tagBarrier, nil)
		c.world.recv(me, root, tagBarrierRelease)
	}
}

/*
BcastFloat64s distributes root's slice to every member and returns it.
The value passed by non-root members is ignored, mirroring a broadcast
that resizes the receive buffer to the root's shape. root is a rank
within this communicator.
*/
func (c *Comm) BcastFloat64s(vals []float64, root int) []float64 {
	c.mustBeActive("BcastFloat64s")
	payload := c.bcast(copyFloat64s(vals), root)
	return payload.([]float64)
}

// BcastInts distributes root's slice to every member and returns it.
func (c *Comm) BcastInts(vals []int, root int) []int {
	c.mustBeActive("BcastInts")
	payload := c.bcast(copyInts(vals), root)
	return payload.([]int)
}

// BcastFloat64 distributes root's value to every member and returns it.
func (c *Comm) BcastFloat64(val float64, root int) float64 {
	c.mustBeActive("BcastFloat64")
	return c.bcast(val, root).(float64)
}

// BcastInt distributes root's value to every member and returns it.
func (c *Comm) BcastInt(val int, root int) int {
	c.mustBeActive("BcastInt")
	return c.bcast(val, root).(int)
}

// BcastBool distributes root's value to every member and returns it.
func (c *Comm) BcastBool(val bool, root int) bool {
	c.mustBeActive("BcastBool")
	return c.bcast(val, root).(bool)
}

func (c *Comm) bcast(payload interface{}, root int) interface{} {
	if root < 0 || root >= c.Size() {
		panic(fmt.Errorf("broadcast root %d outside communicator of size %d", root, c.Size()))
	}
	if c.Size() == 1 {
		return payload
	}
	rootWorld := c.ranks[root]
	me := c.WorldRank()
	if c.rank == root {
		for i, r := range c.ranks {
			if i == root {
				continue
			}
			c.world.send(me, r, tagBcast, payload)
		}
		return payload
	}
	return c.world.recv(me, rootWorld, tagBcast)
}

// Reduction operations.
type ReduceOp uint

const (
	OpSum ReduceOp = iota
	OpMax
)

/*
ReduceFloat64 combines one value per member at the communicator's root
in ascending member order. The reduced value is returned on the root;
other members get their own contribution back unchanged.
*/
func (c *Comm) ReduceFloat64(val float64, op ReduceOp) float64 {
	c.mustBeActive("ReduceFloat64")
	me := c.WorldRank()
	if !c.IsRoot() {
		c.world.send(me, c.ranks[0], tagReduce, val)
		return val
	}
	acc := val
	for _, r := range c.ranks[1:] {
		v := c.world.recv(me, r, tagReduce).(float64)
		switch op {
		case OpSum:
			acc += v
		case OpMax:
			acc = math.Max(acc, v)
		default:
			panic(fmt.Errorf("unknown reduction op %d", op))
		}
	}
	return acc
}

// AllreduceMaxInt combines one int per member with max and returns the
// result on every member.
func (c *Comm) AllreduceMaxInt(val int) int {
	c.mustBeActive("AllreduceMaxInt")
	me := c.WorldRank()
	if !c.IsRoot() {
		c.world.send(me, c.ranks[0], tagReduce, val)
		return c.world.recv(me, c.ranks[0], tagBcast).(int)
	}
	acc := val
	for _, r := range c.ranks[1:] {
		if v := c.world.recv(me, r, tagReduce).(int); v > acc {
			acc = v
		}
	}
	for _, r := range c.ranks[1:] {
		c.world.send(me, r, tagBcast, acc)
	}
	return acc
}

// AllgatherInt collects one int per member, ordered by member rank,
// and returns the full slice on every member.
func (c *Comm) AllgatherInt(val int) []int {
	c.mustBeActive("AllgatherInt")
	me := c.WorldRank()
	if !c.IsRoot() {
		c.world.send(me, c.ranks[0], tagGather, val)
		return c.world.recv(me, c.ranks[0], tagBcast).([]int)
	}
	all := make([]int, c.Size())
	all[0] = val
	for i, r := range c.ranks[1:] {
		all[i+1] = c.world.recv(me, r, tagGather).(int)
	}
	for _, r := range c.ranks[1:] {
		c.world.send(me, r, tagBcast, all)
	}
	return all
}

/*
TransferFloat64s moves a slice from rank src to rank dst, both ranks
within this communicator. The source passes the data; the destination
receives it as the return value. When src == dst the data is returned
directly with no communication, and ranks that are neither source nor
destination return nil immediately.
*/
func (c *Comm) TransferFloat64s(vals []float64, dst, src int) []float64 {
	payload := c.transfer(func() interface{} { return copyFloat64s(vals) }, dst, src)
	if payload == nil {
		return nil
	}
	return payload.([]float64)
}

// TransferInts is TransferFloat64s for int slices.
func (c *Comm) TransferInts(vals []int, dst, src int) []int {
	payload := c.transfer(func() interface{} { return copyInts(vals) }, dst, src)
	if payload == nil {
		return nil
	}
	return payload.([]int)
}

func (c *Comm) transfer(pack func() interface{}, dst, src int) interface{} {
	if dst < 0 || dst >= c.Size() || src < 0 || src >= c.Size() {
		panic(fmt.Errorf("transfer between ranks %d and %d outside communicator of size %d",
			src, dst, c.Size()))
	}
	switch {
	case !c.Active():
		return nil
	case src == dst && c.rank == src:
		return pack()
	case c.rank == src:
		c.world.send(c.WorldRank(), c.ranks[dst], tagTransfer, pack())
		return nil
	case c.rank == dst:
		return c.world.recv(c.WorldRank(), c.ranks[src], tagTransfer)
	}
	return nil
}

// Message prints a tagged status line from the communicator's root.
func (c *Comm) Message(msg string) {
	if c.Active() && c.IsRoot() {
		fmt.Printf("[gocoupled]: %s\n", msg)
	}
}

// Messagef is Message with formatting.
func (c *Comm) Messagef(format string, args ...interface{}) {
	c.Message(fmt.Sprintf(format, args...))
}

func copyFloat64s(vals []float64) []float64 {
	if vals == nil {
		return nil
	}
	return append([]float64(nil), vals...)
}

func copyInts(vals []int) []int {
	if vals == nil {
		return nil
	}
	return append([]int(nil), vals...)
}
