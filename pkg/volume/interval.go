package volume

import (
	"fmt"
	"strings"
)

// Interval is an axis-aligned box over an image's coordinate space,
// expressed as a minimum corner and a size per axis.
type Interval struct {
	Min  []int
	Size []int
}

// NewInterval creates an interval from a minimum corner and per-axis sizes.
// Both slices are copied.
func NewInterval(min, size []int) Interval {
	return Interval{
		Min:  append([]int(nil), min...),
		Size: append([]int(nil), size...),
	}
}

// NumDims returns the number of axes the interval spans.
func (iv Interval) NumDims() int { return len(iv.Min) }

// Max returns the exclusive end of the interval along axis d.
func (iv Interval) Max(d int) int { return iv.Min[d] + iv.Size[d] }

// NumElements returns the number of samples covered by the interval.
func (iv Interval) NumElements() int {
	if len(iv.Size) == 0 {
		return 0
	}
	n := 1
	for _, s := range iv.Size {
		if s <= 0 {
			return 0
		}
		n *= s
	}
	return n
}

// Empty reports whether the interval covers no samples.
func (iv Interval) Empty() bool { return iv.NumElements() == 0 }

// Contains reports whether other lies entirely within iv.
func (iv Interval) Contains(other Interval) bool {
	if len(iv.Min) != len(other.Min) {
		return false
	}
	for d := range iv.Min {
		if other.Min[d] < iv.Min[d] || other.Max(d) > iv.Max(d) {
			return false
		}
	}
	return true
}

// Intersect returns the overlap of two intervals. The result is empty
// (some size <= 0) when they do not overlap.
func (iv Interval) Intersect(other Interval) Interval {
	out := Interval{Min: make([]int, len(iv.Min)), Size: make([]int, len(iv.Min))}
	for d := range iv.Min {
		lo := max(iv.Min[d], other.Min[d])
		hi := min(iv.Max(d), other.Max(d))
		out.Min[d] = lo
		out.Size[d] = max(hi-lo, 0)
	}
	return out
}

// Equal reports whether two intervals have the same corner and size.
func (iv Interval) Equal(other Interval) bool {
	if len(iv.Min) != len(other.Min) || len(iv.Size) != len(other.Size) {
		return false
	}
	for d := range iv.Min {
		if iv.Min[d] != other.Min[d] || iv.Size[d] != other.Size[d] {
			return false
		}
	}
	return true
}

func (iv Interval) String() string {
	parts := make([]string, len(iv.Min))
	for d := range iv.Min {
		parts[d] = fmt.Sprintf("%d:%d", iv.Min[d], iv.Max(d))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
