package comm

import (
	"fmt"
	"sync"
)

/*
An in-process SPMD job. Every rank runs the same body in its own
goroutine, and ranks exchange messages through per-pair FIFO mailboxes
owned by the World. Because all ranks execute the same sequence of
communication calls, matching sends and receives line up in program
order; the tag carried on each envelope is checked on receipt to catch
a rank that has fallen out of step.
*/

const mailboxDepth = 8

type envelope struct {
	tag     int
	payload interface{}
}

// message tags, one per operation kind
const (
	tagBarrier = iota + 1
	tagBarrierRelease
	tagBcast
	tagReduce
	tagGather
	tagTransfer
)

var errAborted = fmt.Errorf("communicator shut down while a rank was blocked")

type World struct {
	size         int
	procsPerNode int
	boxes        [][]chan envelope // boxes[dst][src]
	aborted      chan struct{}
	abortOnce    sync.Once
}

func newWorld(size, procsPerNode int) (w *World) {
	w = &World{
		size:         size,
		procsPerNode: procsPerNode,
		boxes:        make([][]chan envelope, size),
		aborted:      make(chan struct{}),
	}
	for dst := 0; dst < size; dst++ {
		w.boxes[dst] = make([]chan envelope, size)
		for src := 0; src < size; src++ {
			w.boxes[dst][src] = make(chan envelope, mailboxDepth)
		}
	}
	return
}

func (w *World) abort() {
	w.abortOnce.Do(func() { close(w.aborted) })
}

func (w *World) send(src, dst, tag int, payload interface{}) {
	select {
	case w.boxes[dst][src] <- envelope{tag: tag, payload: payload}:
	case <-w.aborted:
		panic(errAborted)
	}
}

func (w *World) recv(dst, src, tag int) interface{} {
	select {
	case env := <-w.boxes[dst][src]:
		if env.tag != tag {
			panic(fmt.Errorf("rank %d: message from rank %d carries tag %d, expected %d",
				dst, src, env.tag, tag))
		}
		return env.payload
	case <-w.aborted:
		panic(errAborted)
	}
}

/*
RunWorld executes body once per rank, size ranks in all, and blocks
until every rank has returned. procsPerNode fixes how ranks group into
nodes for sub-communicator layout; pass 0 to place all ranks on a
single node. The first error returned by any rank (lowest rank wins)
becomes RunWorld's error, and once any rank fails the remaining ranks
are unblocked and shut down.

A panic inside body is recovered and reported as that rank's error, so
a communicator misuse on one rank surfaces as a failed job rather than
a crashed process.
*/
func RunWorld(size, procsPerNode int, body func(c *Comm) error) error {
	if size < 1 {
		return fmt.Errorf("world size must be positive, got %d", size)
	}
	if procsPerNode == 0 {
		procsPerNode = size
	}
	if procsPerNode < 0 {
		return fmt.Errorf("procs per node must be positive, got %d", procsPerNode)
	}
	var (
		w    = newWorld(size, procsPerNode)
		errs = make([]error, size)
		wg   sync.WaitGroup
	)
	for rank := 0; rank < size; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					if err, ok := r.(error); ok {
						errs[rank] = fmt.Errorf("rank %d: %v", rank, err)
					} else {
						errs[rank] = fmt.Errorf("rank %d: panic: %v", rank, r)
					}
					w.abort()
				}
			}()
			if err := body(worldComm(w, rank)); err != nil {
				errs[rank] = fmt.Errorf("rank %d: %v", rank, err)
				w.abort()
			}
		}(rank)
	}
	wg.Wait()
	return firstRealError(errs)
}

// firstRealError prefers the lowest-rank error that is not a secondary
// shutdown error, so the report names the rank that actually failed.
func firstRealError(errs []error) error {
	var fallback error
	for rank, err := range errs {
		if err == nil {
			continue
		}
		if fallback == nil {
			fallback = err
		}
		if !isAbortError(err, rank) {
			return err
		}
	}
	return fallback
}

func isAbortError(err error, rank int) bool {
	return err.Error() == fmt.Sprintf("rank %d: %v", rank, errAborted)
}
