package risk

import (
	"math"
	"sort"
	"time"
)

// ReturnSeries is an ordered sequence of daily returns, oldest first
type ReturnSeries []float64

// TimedReturn is a return stamped with the time of the later observation
type TimedReturn struct {
	Timestamp time.Time `json:"timestamp"`
	Return    float64   `json:"return"`
}

// NewReturnSeries validates and copies returns
func NewReturnSeries(returns []float64) (ReturnSeries, error) {
	out := make(ReturnSeries, len(returns))
	for i, r := range returns {
		if !isFinite(r) {
			return nil, NewInvalidInputError("NewReturnSeries", "returns must be finite").
				WithDetails("index", i)
		}
		out[i] = r
	}
	return out, nil
}

// ReturnsFromHistory derives consecutive percentage deltas from a value
// history. Steps whose previous value is zero or non-finite are skipped.
func ReturnsFromHistory(points []ValuePoint) ReturnSeries {
	timed := TimedReturnsFromHistory(points)
	out := make(ReturnSeries, len(timed))
	for i, tr := range timed {
		out[i] = tr.Return
	}
	return out
}

// TimedReturnsFromHistory is ReturnsFromHistory keeping timestamps
func TimedReturnsFromHistory(points []ValuePoint) []TimedReturn {
	if len(points) < 2 {
		return []TimedReturn{}
	}

	sorted := points
	if !sort.SliceIsSorted(points, func(i, j int) bool { return points[i].Timestamp.Before(points[j].Timestamp) }) {
		sorted = make([]ValuePoint, len(points))
		copy(sorted, points)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })
	}

	out := make([]TimedReturn, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		prev, curr := sorted[i-1].TotalValue, sorted[i].TotalValue
		if prev == 0 || !isFinite(prev) || !isFinite(curr) {
			continue
		}
		out = append(out, TimedReturn{
			Timestamp: sorted[i].Timestamp,
			Return:    (curr - prev) / prev,
		})
	}
	return out
}

// Values extracts the raw returns of a timed series
func Values(series []TimedReturn) ReturnSeries {
	out := make(ReturnSeries, len(series))
	for i, tr := range series {
		out[i] = tr.Return
	}
	return out
}

// Mean returns the arithmetic mean, or 0 for an empty series
func (rs ReturnSeries) Mean() float64 {
	if len(rs) == 0 {
		return 0
	}
	var sum float64
	for _, r := range rs {
		sum += r
	}
	return sum / float64(len(rs))
}

// Variance returns the population variance
func (rs ReturnSeries) Variance() float64 {
	if len(rs) == 0 {
		return 0
	}
	mean := rs.Mean()
	var sumSquares float64
	for _, r := range rs {
		d := r - mean
		sumSquares += d * d
	}
	return sumSquares / float64(len(rs))
}

// StdDev returns the population standard deviation
func (rs ReturnSeries) StdDev() float64 {
	return math.Sqrt(rs.Variance())
}

// Sorted returns an ascending copy (worst first)
func (rs ReturnSeries) Sorted() ReturnSeries {
	out := make(ReturnSeries, len(rs))
	copy(out, rs)
	sort.Float64s(out)
	return out
}
