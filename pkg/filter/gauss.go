// Package filter implements the spatial filters of the segmentation
// pipeline: Gaussian and box smoothing, difference of Gaussians,
// thresholding and local maxima detection.
//
// Filters act on the X, Y and Z axes of an image and treat every channel and
// time point independently. Borders are handled by mirroring without
// repeating the edge sample, so a filter evaluated on a tile whose border is
// also the image border behaves exactly as on the whole image.
package filter

import (
	"errors"
	"fmt"
	"math"

	"tiledseg/pkg/volume"
)

// ErrParameter is returned for invalid filter parameters.
var ErrParameter = errors.New("invalid filter parameter")

// Sigmas holds the Gaussian standard deviation per spatial axis, in pixels.
// A zero sigma leaves that axis unfiltered.
type Sigmas struct {
	X, Y, Z float64
}

// Isotropic returns equal sigmas on all three axes.
func Isotropic(s float64) Sigmas { return Sigmas{X: s, Y: s, Z: s} }

// Scale divides every sigma by f.
func (s Sigmas) Scale(f float64) Sigmas {
	return Sigmas{X: s.X / f, Y: s.Y / f, Z: s.Z / f}
}

func (s Sigmas) validate() error {
	if s.X < 0 || s.Y < 0 || s.Z < 0 {
		return fmt.Errorf("%w: negative sigma %+v", ErrParameter, s)
	}
	return nil
}

// Radius returns the kernel radius used for sigma: ceil(4*sigma).
func Radius(sigma float64) int {
	if sigma <= 0 {
		return 0
	}
	return int(math.Ceil(4 * sigma))
}

// Margin returns the tile overlap needed for a Gaussian with the given sigmas
// to be computed exactly across tile seams.
func Margin(s Sigmas) int {
	return max(Radius(s.X), Radius(s.Y))
}

// Kernel returns a normalised 1D Gaussian kernel of length 2*Radius(sigma)+1.
func Kernel(sigma float64) []float64 {
	r := Radius(sigma)
	k := make([]float64, 2*r+1)
	if r == 0 {
		k[0] = 1
		return k
	}
	factor := -0.5 / (sigma * sigma)
	sum := 0.0
	for i := range k {
		x := float64(i - r)
		k[i] = math.Exp(factor * x * x)
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// mirror maps an index outside [0, n) back inside by reflection about the
// edge samples.
func mirror(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * (n - 1)
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - i
	}
	return i
}

// convolveAxis convolves every line of data along axis with kernel k in place.
func convolveAxis(data []float64, l volume.Layout, axis volume.AxisType, k []float64) {
	n, stride, starts := l.Lines(axis)
	if n <= 1 || len(k) <= 1 {
		return
	}
	r := len(k) / 2
	line := make([]float64, n)
	for _, s := range starts {
		for i := 0; i < n; i++ {
			line[i] = data[s+i*stride]
		}
		for i := 0; i < n; i++ {
			acc := 0.0
			for j, w := range k {
				acc += w * line[mirror(i+j-r, n)]
			}
			data[s+i*stride] = acc
		}
	}
}

// Gaussian returns img smoothed by a separable Gaussian.
func Gaussian(img *volume.Image, s Sigmas) (*volume.Image, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	out := img.Clone()
	l := out.Layout()
	convolveAxis(out.Data(), l, volume.X, Kernel(s.X))
	convolveAxis(out.Data(), l, volume.Y, Kernel(s.Y))
	convolveAxis(out.Data(), l, volume.Z, Kernel(s.Z))
	return out, nil
}

// DifferenceOfGaussians returns Gaussian(s/ratio) - Gaussian(s), which
// responds positively to blobs of radius around s*sqrt(2).
func DifferenceOfGaussians(img *volume.Image, s Sigmas, ratio float64) (*volume.Image, error) {
	if ratio <= 0 {
		return nil, fmt.Errorf("%w: ratio %v must be positive", ErrParameter, ratio)
	}
	narrow, err := Gaussian(img, s.Scale(ratio))
	if err != nil {
		return nil, err
	}
	wide, err := Gaussian(img, s)
	if err != nil {
		return nil, err
	}
	if err := narrow.Sub(wide); err != nil {
		return nil, err
	}
	return narrow, nil
}

// BoxBlur returns the mean over a (2r+1) window along every spatial axis.
func BoxBlur(img *volume.Image, radius int) (*volume.Image, error) {
	if radius < 0 {
		return nil, fmt.Errorf("%w: negative radius %d", ErrParameter, radius)
	}
	k := make([]float64, 2*radius+1)
	for i := range k {
		k[i] = 1 / float64(len(k))
	}
	out := img.Clone()
	l := out.Layout()
	convolveAxis(out.Data(), l, volume.X, k)
	convolveAxis(out.Data(), l, volume.Y, k)
	convolveAxis(out.Data(), l, volume.Z, k)
	return out, nil
}
