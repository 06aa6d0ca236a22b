package imageio

import (
	"fmt"
	"image"
	"image/color"

	"tiledseg/pkg/volume"
)

// ExtractPlane returns the plane of img orthogonal to axis at position pos
// as a 16-bit grayscale image. For axis X the image is Z wide and Y high;
// for Y it is X wide and Z high; for Z it is the XY plane. fixed selects the
// index of every non-spatial axis in axis order and defaults to zero.
func ExtractPlane(img *volume.Image, axis volume.AxisType, pos int, scale Scale, fixed ...int) (*image.Gray16, error) {
	l := img.Layout()
	block, err := blockIndex(img, fixed)
	if err != nil {
		return nil, err
	}
	base := l.Bases[block]

	limit := map[volume.AxisType]int{volume.X: l.NX, volume.Y: l.NY, volume.Z: l.NZ}
	n, ok := limit[axis]
	if !ok {
		return nil, fmt.Errorf("%w: invalid axis %v (must be X, Y or Z)", volume.ErrAxis, axis)
	}
	if pos < 0 || pos >= n {
		return nil, fmt.Errorf("%w: position %d outside [0, %d) along %v", volume.ErrOutOfBounds, pos, n, axis)
	}

	data := img.Data()
	var out *image.Gray16
	switch axis {
	case volume.X:
		out = image.NewGray16(image.Rect(0, 0, l.NZ, l.NY))
		for y := 0; y < l.NY; y++ {
			for z := 0; z < l.NZ; z++ {
				out.SetGray16(z, y, color.Gray16{Y: scale.toPixel(data[l.Offset(base, pos, y, z)])})
			}
		}
	case volume.Y:
		out = image.NewGray16(image.Rect(0, 0, l.NX, l.NZ))
		for z := 0; z < l.NZ; z++ {
			for x := 0; x < l.NX; x++ {
				out.SetGray16(x, z, color.Gray16{Y: scale.toPixel(data[l.Offset(base, x, pos, z)])})
			}
		}
	default:
		out = planeZ(img, l, block, pos, scale)
	}
	return out, nil
}

// blockIndex maps indices of the non-spatial axes to a Layout block.
func blockIndex(img *volume.Image, fixed []int) (int, error) {
	axes, dims := img.Axes(), img.Dims()
	block, k := 0, 0
	for d, a := range axes {
		if a == volume.X || a == volume.Y || a == volume.Z {
			continue
		}
		idx := 0
		if k < len(fixed) {
			idx = fixed[k]
		}
		k++
		if idx < 0 || idx >= dims[d] {
			return 0, fmt.Errorf("%w: %v index %d outside [0, %d)", volume.ErrOutOfBounds, a, idx, dims[d])
		}
		block = block*dims[d] + idx
	}
	if len(fixed) > k {
		return 0, fmt.Errorf("%w: %d fixed indices for %d non-spatial axes", volume.ErrAxis, len(fixed), k)
	}
	return block, nil
}
