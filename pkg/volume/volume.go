// Package volume provides the N-dimensional image type shared by the tiling,
// filtering and segmentation packages.
//
// An Image stores float64 samples in a flat slice with the first axis varying
// fastest. Every axis carries a type (X, Y, Z, Channel, Time) and a minimum
// coordinate, so a crop remembers where it came from. X and Y are mandatory.
package volume

import (
	"errors"
	"fmt"
	"math"
)

// AxisType identifies the meaning of an image axis.
type AxisType int

const (
	X AxisType = iota
	Y
	Z
	Channel
	Time
)

func (a AxisType) String() string {
	switch a {
	case X:
		return "X"
	case Y:
		return "Y"
	case Z:
		return "Z"
	case Channel:
		return "Channel"
	case Time:
		return "Time"
	default:
		return fmt.Sprintf("AxisType(%d)", int(a))
	}
}

// Sentinel errors returned (wrapped) by image operations.
var (
	ErrAxis        = errors.New("invalid axes")
	ErrShape       = errors.New("shape mismatch")
	ErrOutOfBounds = errors.New("out of bounds")
)

// XYZ is the axis layout of a single-channel 3D stack.
var XYZ = []AxisType{X, Y, Z}

// Image is an N-dimensional array of scalar samples with typed axes.
type Image struct {
	axes    []AxisType
	dims    []int
	min     []int
	strides []int
	data    []float64
}

// New allocates a zero-filled image with the given axes and sizes.
func New(axes []AxisType, dims []int) (*Image, error) {
	if err := validate(axes, dims); err != nil {
		return nil, err
	}
	im := newImage(axes, dims)
	im.data = make([]float64, product(dims))
	return im, nil
}

// FromData wraps an existing sample slice. The slice is not copied.
func FromData(axes []AxisType, dims []int, data []float64) (*Image, error) {
	if err := validate(axes, dims); err != nil {
		return nil, err
	}
	if n := product(dims); len(data) != n {
		return nil, fmt.Errorf("%w: %d samples for %v (want %d)", ErrShape, len(data), dims, n)
	}
	im := newImage(axes, dims)
	im.data = data
	return im, nil
}

// NewLike allocates a zero-filled image with the same axes, sizes and origin as im.
func NewLike(im *Image) *Image {
	out := newImage(im.axes, im.dims)
	copy(out.min, im.min)
	out.data = make([]float64, len(im.data))
	return out
}

func newImage(axes []AxisType, dims []int) *Image {
	im := &Image{
		axes:    append([]AxisType(nil), axes...),
		dims:    append([]int(nil), dims...),
		min:     make([]int, len(dims)),
		strides: make([]int, len(dims)),
	}
	stride := 1
	for d := range dims {
		im.strides[d] = stride
		stride *= dims[d]
	}
	return im
}

func validate(axes []AxisType, dims []int) error {
	if len(axes) != len(dims) {
		return fmt.Errorf("%w: %d axes for %d sizes", ErrAxis, len(axes), len(dims))
	}
	seen := make(map[AxisType]bool, len(axes))
	for d, a := range axes {
		if a < X || a > Time {
			return fmt.Errorf("%w: unknown axis %v", ErrAxis, a)
		}
		if seen[a] {
			return fmt.Errorf("%w: duplicate axis %v", ErrAxis, a)
		}
		seen[a] = true
		if dims[d] <= 0 {
			return fmt.Errorf("%w: axis %v has size %d", ErrShape, a, dims[d])
		}
	}
	if !seen[X] || !seen[Y] {
		return fmt.Errorf("%w: X and Y axes are required", ErrAxis)
	}
	return nil
}

func product(dims []int) int {
	n := 1
	for _, d := range dims {
		n *= d
	}
	return n
}

// Axes returns a copy of the axis types.
func (im *Image) Axes() []AxisType { return append([]AxisType(nil), im.axes...) }

// Dims returns a copy of the per-axis sizes.
func (im *Image) Dims() []int { return append([]int(nil), im.dims...) }

// Min returns a copy of the per-axis minimum coordinates.
func (im *Image) Min() []int { return append([]int(nil), im.min...) }

// NumDims returns the number of axes.
func (im *Image) NumDims() int { return len(im.dims) }

// Len returns the number of samples.
func (im *Image) Len() int { return len(im.data) }

// Data exposes the backing slice, first axis fastest.
func (im *Image) Data() []float64 { return im.data }

// Strides returns the element distance between neighbours along each axis.
func (im *Image) Strides() []int { return append([]int(nil), im.strides...) }

// AxisIndex returns the dimension index of axis t, or -1 if the image has no such axis.
func (im *Image) AxisIndex(t AxisType) int {
	for d, a := range im.axes {
		if a == t {
			return d
		}
	}
	return -1
}

// Size returns the extent along axis t, or 1 if the image has no such axis.
func (im *Image) Size(t AxisType) int {
	if d := im.AxisIndex(t); d >= 0 {
		return im.dims[d]
	}
	return 1
}

// Interval returns the full coordinate box of the image.
func (im *Image) Interval() Interval {
	return NewInterval(im.min, im.dims)
}

func (im *Image) offset(pos []int) int {
	if len(pos) != len(im.dims) {
		panic(fmt.Sprintf("volume: %d coordinates for %d axes", len(pos), len(im.dims)))
	}
	idx := 0
	for d, p := range pos {
		idx += (p - im.min[d]) * im.strides[d]
	}
	return idx
}

// At returns the sample at the given absolute coordinates.
func (im *Image) At(pos ...int) float64 { return im.data[im.offset(pos)] }

// Set stores v at the given absolute coordinates.
func (im *Image) Set(v float64, pos ...int) { im.data[im.offset(pos)] = v }

// Clone returns a deep copy.
func (im *Image) Clone() *Image {
	out := NewLike(im)
	copy(out.data, im.data)
	return out
}

// WithMin returns a view sharing im's samples whose origin is moved to min.
func (im *Image) WithMin(min []int) (*Image, error) {
	if len(min) != len(im.dims) {
		return nil, fmt.Errorf("%w: %d coordinates for %d axes", ErrShape, len(min), len(im.dims))
	}
	out := *im
	out.min = append([]int(nil), min...)
	return &out, nil
}

// ZeroMin returns a view sharing im's samples with its origin at zero.
func (im *Image) ZeroMin() *Image {
	out, _ := im.WithMin(make([]int, len(im.dims)))
	return out
}

// Crop copies the samples inside iv into a new image whose origin is iv.Min.
// iv is given in im's absolute coordinates and must lie within the image.
func (im *Image) Crop(iv Interval) (*Image, error) {
	if iv.NumDims() != im.NumDims() {
		return nil, fmt.Errorf("%w: %d-d interval on %d-d image", ErrShape, iv.NumDims(), im.NumDims())
	}
	if iv.Empty() {
		return nil, fmt.Errorf("%w: empty crop %v", ErrShape, iv)
	}
	if !im.Interval().Contains(iv) {
		return nil, fmt.Errorf("%w: crop %v outside %v", ErrOutOfBounds, iv, im.Interval())
	}
	out := newImage(im.axes, iv.Size)
	copy(out.min, iv.Min)
	out.data = make([]float64, product(iv.Size))
	srcStart := make([]int, len(iv.Min))
	for d := range iv.Min {
		srcStart[d] = iv.Min[d] - im.min[d]
	}
	copyRegion(out, make([]int, len(iv.Min)), im, srcStart, iv.Size)
	return out, nil
}

// Blit copies all of src into im so that src's first sample lands on the
// absolute coordinate at. Axis layouts must match and src must fit.
func (im *Image) Blit(src *Image, at []int) error {
	if err := im.sameAxes(src); err != nil {
		return err
	}
	if len(at) != im.NumDims() {
		return fmt.Errorf("%w: %d coordinates for %d axes", ErrShape, len(at), im.NumDims())
	}
	dst := NewInterval(at, src.dims)
	if !im.Interval().Contains(dst) {
		return fmt.Errorf("%w: blit %v outside %v", ErrOutOfBounds, dst, im.Interval())
	}
	dstStart := make([]int, len(at))
	for d := range at {
		dstStart[d] = at[d] - im.min[d]
	}
	copyRegion(im, dstStart, src, make([]int, len(at)), src.dims)
	return nil
}

// Add adds other to im element by element. Sizes must match; origins are ignored.
func (im *Image) Add(other *Image) error {
	if err := im.sameShape(other); err != nil {
		return err
	}
	for i, v := range other.data {
		im.data[i] += v
	}
	return nil
}

// Sub subtracts other from im element by element.
func (im *Image) Sub(other *Image) error {
	if err := im.sameShape(other); err != nil {
		return err
	}
	for i, v := range other.data {
		im.data[i] -= v
	}
	return nil
}

// Fill sets every sample to v.
func (im *Image) Fill(v float64) {
	for i := range im.data {
		im.data[i] = v
	}
}

// MinMax returns the smallest and largest sample.
func (im *Image) MinMax() (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range im.data {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

// SameShape reports whether two images have identical axes and sizes.
func SameShape(a, b *Image) bool { return a.sameShape(b) == nil }

func (im *Image) sameAxes(other *Image) error {
	if len(im.axes) != len(other.axes) {
		return fmt.Errorf("%w: %v vs %v", ErrAxis, im.axes, other.axes)
	}
	for d := range im.axes {
		if im.axes[d] != other.axes[d] {
			return fmt.Errorf("%w: %v vs %v", ErrAxis, im.axes, other.axes)
		}
	}
	return nil
}

func (im *Image) sameShape(other *Image) error {
	if err := im.sameAxes(other); err != nil {
		return err
	}
	for d := range im.dims {
		if im.dims[d] != other.dims[d] {
			return fmt.Errorf("%w: %v vs %v", ErrShape, im.dims, other.dims)
		}
	}
	return nil
}

// copyRegion copies a box of the given size from src to dst. Start positions
// are zero-based indices into each image. Runs along the first axis are
// contiguous and copied in one go.
func copyRegion(dst *Image, dstStart []int, src *Image, srcStart []int, size []int) {
	n := len(size)
	for _, s := range size {
		if s <= 0 {
			return
		}
	}
	counter := make([]int, n)
	for {
		si, di := 0, 0
		for d := 0; d < n; d++ {
			si += (srcStart[d] + counter[d]) * src.strides[d]
			di += (dstStart[d] + counter[d]) * dst.strides[d]
		}
		copy(dst.data[di:di+size[0]], src.data[si:si+size[0]])

		d := 1
		for ; d < n; d++ {
			counter[d]++
			if counter[d] < size[d] {
				break
			}
			counter[d] = 0
		}
		if d == n {
			return
		}
	}
}
