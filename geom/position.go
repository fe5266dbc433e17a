package geom

import "math"

// Position is a point in the job's global 3D frame, in [cm].
type Position struct {
	X, Y, Z float64
}

func (p Position) DistanceXY(q Position) float64 {
	dx, dy := p.X-q.X, p.Y-q.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Flatten packs positions into an x,y,z-interleaved slice for transport.
func Flatten(positions []Position) (vals []float64) {
	vals = make([]float64, 3*len(positions))
	for i, p := range positions {
		vals[3*i] = p.X
		vals[3*i+1] = p.Y
		vals[3*i+2] = p.Z
	}
	return
}

// Unflatten is the inverse of Flatten.
func Unflatten(vals []float64) (positions []Position) {
	if len(vals)%3 != 0 {
		panic("position buffer length is not a multiple of 3")
	}
	positions = make([]Position, len(vals)/3)
	for i := range positions {
		positions[i] = Position{vals[3*i], vals[3*i+1], vals[3*i+2]}
	}
	return
}
