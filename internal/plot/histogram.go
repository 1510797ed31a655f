package plot

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DefaultBinSize is the histogram bin width in degrees.
const DefaultBinSize = 2.0

// edgeTolerance snaps a computed edge onto the data maximum.
const edgeTolerance = 1e-9

// Histogram holds raw (un-normalised) counts over bins
// [Edges[i], Edges[i+1]). The last bin also holds values equal to its
// upper edge.
type Histogram struct {
	Edges  []float64
	Counts []float64
}

// NewHistogram bins values starting at their minimum, stepping size until an
// edge reaches the maximum. NaN values are ignored.
func NewHistogram(values []float64, size float64) (Histogram, error) {
	if !(size > 0) {
		return Histogram{}, errors.New("histogram bin size must be positive")
	}
	data := dropNaN(values)
	if len(data) == 0 {
		return Histogram{}, nil
	}
	sort.Float64s(data)

	start, end := floats.Min(data), floats.Max(data)
	edges := binEdges(start, end, size)

	// stat.Histogram wants x < last divider, so nudge it past the max.
	dividers := make([]float64, len(edges))
	copy(dividers, edges)
	last := len(dividers) - 1
	if dividers[last] <= end {
		dividers[last] = math.Nextafter(end, math.Inf(1))
	}

	counts := stat.Histogram(nil, dividers, data, nil)
	return Histogram{Edges: edges, Counts: counts}, nil
}

func binEdges(start, end, size float64) []float64 {
	edges := []float64{start}
	for k := 1; ; k++ {
		e := start + float64(k)*size
		if math.Abs(e-end) <= edgeTolerance {
			edges = append(edges, end)
			return edges
		}
		edges = append(edges, e)
		if e >= end {
			return edges
		}
	}
}

// Centers returns the midpoint of every bin.
func (h Histogram) Centers() []float64 {
	if len(h.Edges) < 2 {
		return nil
	}
	out := make([]float64, len(h.Edges)-1)
	for i := range out {
		out[i] = (h.Edges[i] + h.Edges[i+1]) / 2
	}
	return out
}

// total returns the number of counted values.
func (h Histogram) total() float64 {
	return floats.Sum(h.Counts)
}
