// Package imageio reads and writes volumes as sequences of numbered 2D
// slice files.
//
// Slices are converted to 16-bit luminance. In Normalized mode samples map
// to [0, 1]; in Raw mode they keep their 16-bit value, which is what label
// images need.
package imageio

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/image/tiff"

	"tiledseg/pkg/volume"
)

var (
	// ErrNoSlices is returned when a directory holds no readable slice files.
	ErrNoSlices = errors.New("no slice images found")
	// ErrSliceSize is returned when slices in one stack differ in size.
	ErrSliceSize = errors.New("slice dimensions differ")
	// ErrFormat is returned for an unsupported output format.
	ErrFormat = errors.New("unsupported image format")
	// ErrSampleFormat is returned for TIFF slices whose sample layout the
	// decoder cannot read, such as 32-bit float.
	ErrSampleFormat = errors.New("unsupported TIFF sample format")
)

// Scale selects how samples map to 16-bit pixel values.
type Scale int

const (
	// Normalized maps [0, 1] to [0, 65535].
	Normalized Scale = iota
	// Raw stores the rounded sample value.
	Raw
)

func (s Scale) String() string {
	if s == Raw {
		return "raw"
	}
	return "normalized"
}

func (s Scale) toPixel(v float64) uint16 {
	if s == Normalized {
		v *= 65535
	}
	return uint16(math.Max(0, math.Min(65535, math.Round(v))))
}

func (s Scale) fromPixel(p uint16) float64 {
	if s == Normalized {
		return float64(p) / 65535
	}
	return float64(p)
}

var sliceExts = map[string]bool{
	".tif": true, ".tiff": true, ".png": true, ".jpg": true, ".jpeg": true,
}

// ListSlices returns the slice files of dir in slice order: by the number
// embedded in the file name, then by name.
func ListSlices(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if sliceExts[strings.ToLower(filepath.Ext(e.Name()))] {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoSlices, dir)
	}
	sort.Slice(names, func(i, j int) bool {
		ni, nj := extractNumber(names[i]), extractNumber(names[j])
		if ni != nj {
			return ni < nj
		}
		return names[i] < names[j]
	})
	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(dir, n)
	}
	return paths, nil
}

// extractNumber returns the decimal number formed by the digits of the file
// name, or 0 if there are none.
func extractNumber(filename string) int {
	var digits strings.Builder
	for _, c := range filepath.Base(filename) {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}
	n, err := strconv.Atoi(digits.String())
	if err != nil {
		return 0
	}
	return n
}

func decode(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		img, err := tiff.Decode(f)
		var unsupported tiff.UnsupportedError
		if errors.As(err, &unsupported) {
			return nil, fmt.Errorf("%w: %s: %v; only 8 or 16-bit integer samples can be read, convert 32-bit float probability maps to 16-bit",
				ErrSampleFormat, path, err)
		}
		return img, err
	default:
		img, _, err := image.Decode(f)
		return img, err
	}
}

// copyPlane writes the luminance of src into data starting at offset.
func copyPlane(data []float64, offset int, src image.Image, scale Scale) {
	b := src.Bounds()
	w := b.Dx()
	if g, ok := src.(*image.Gray16); ok {
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < w; x++ {
				data[offset+y*w+x] = scale.fromPixel(g.Gray16At(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
		return
	}
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < w; x++ {
			c := color.Gray16Model.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
			data[offset+y*w+x] = scale.fromPixel(c.Y)
		}
	}
}

// LoadImage reads a single slice as an X,Y image.
func LoadImage(path string, scale Scale) (*volume.Image, error) {
	src, err := decode(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load image %s: %w", path, err)
	}
	b := src.Bounds()
	img, err := volume.New([]volume.AxisType{volume.X, volume.Y}, []int{b.Dx(), b.Dy()})
	if err != nil {
		return nil, fmt.Errorf("image %s: %w", path, err)
	}
	copyPlane(img.Data(), 0, src, scale)
	return img, nil
}

// LoadStack reads the slices of dir into an X,Y,Z image, one Z plane per
// file.
func LoadStack(dir string, scale Scale) (*volume.Image, error) {
	paths, err := ListSlices(dir)
	if err != nil {
		return nil, err
	}
	var img *volume.Image
	var w, h int
	for z, path := range paths {
		src, err := decode(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load image %s: %w", path, err)
		}
		b := src.Bounds()
		if img == nil {
			w, h = b.Dx(), b.Dy()
			img, err = volume.New(volume.XYZ, []int{w, h, len(paths)})
			if err != nil {
				return nil, fmt.Errorf("stack %s: %w", dir, err)
			}
		} else if b.Dx() != w || b.Dy() != h {
			return nil, fmt.Errorf("%w: %s is %dx%d, expected %dx%d", ErrSliceSize, path, b.Dx(), b.Dy(), w, h)
		}
		copyPlane(img.Data(), z*w*h, src, scale)
	}
	return img, nil
}

// Format is an output slice file format.
type Format string

const (
	TIFF Format = "tiff"
	PNG  Format = "png"
)

func (f Format) ext() (string, error) {
	switch f {
	case TIFF, "tif", "":
		return ".tif", nil
	case PNG:
		return ".png", nil
	}
	return "", fmt.Errorf("%w: %q", ErrFormat, string(f))
}

// SaveOptions controls SaveStack.
type SaveOptions struct {
	Format Format
	Scale  Scale
	// Prefix names the files; it defaults to "slice".
	Prefix string
}

// SaveStack writes every XY plane of img to dir as a 16-bit grayscale file
// and returns the written paths. Images with channel or time axes get one
// numbered block of planes per channel and time index.
func SaveStack(img *volume.Image, dir string, opts SaveOptions) ([]string, error) {
	ext, err := opts.Format.ext()
	if err != nil {
		return nil, err
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "slice"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	l := img.Layout()
	var paths []string
	for b := range l.Bases {
		for z := 0; z < l.NZ; z++ {
			name := fmt.Sprintf("%s_%04d%s", prefix, z, ext)
			if len(l.Bases) > 1 {
				name = fmt.Sprintf("%s_b%02d_%04d%s", prefix, b, z, ext)
			}
			plane := planeZ(img, l, b, z, opts.Scale)
			path := filepath.Join(dir, name)
			if err := writePlane(path, plane, opts.Format); err != nil {
				return paths, err
			}
			paths = append(paths, path)
		}
	}
	return paths, nil
}

func planeZ(img *volume.Image, l volume.Layout, block, z int, scale Scale) *image.Gray16 {
	out := image.NewGray16(image.Rect(0, 0, l.NX, l.NY))
	data := img.Data()
	base := l.Bases[block]
	for y := 0; y < l.NY; y++ {
		for x := 0; x < l.NX; x++ {
			out.SetGray16(x, y, color.Gray16{Y: scale.toPixel(data[l.Offset(base, x, y, z)])})
		}
	}
	return out
}

func writePlane(path string, plane image.Image, format Format) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create image file: %w", err)
	}
	if format == PNG {
		err = png.Encode(f, plane)
	} else {
		err = tiff.Encode(f, plane, &tiff.Options{Compression: tiff.Deflate})
	}
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to encode image %s: %w", path, err)
	}
	return f.Close()
}
