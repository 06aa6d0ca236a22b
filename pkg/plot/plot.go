// Package plot renders measured nuclei back into a volume.
package plot

import (
	"errors"
	"fmt"
	"math"

	"tiledseg/pkg/measure"
	"tiledseg/pkg/volume"
)

// ErrDims is returned for an empty output volume.
var ErrDims = errors.New("invalid plot dimensions")

// Radius returns the radius of the sphere whose volume is v voxels.
func Radius(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return math.Cbrt(3 * v / (4 * math.Pi))
}

// Nuclei draws every measurement as a sphere of equal volume centred on its
// rounded centroid. Channel c of the result holds the measured mean of
// channel c; later nuclei overwrite earlier ones where spheres overlap.
// Parts of a sphere outside dims are clipped.
func Nuclei(ms []measure.Measurement, dims [3]int, channels int) (*volume.Image, error) {
	if dims[0] <= 0 || dims[1] <= 0 || dims[2] <= 0 || channels <= 0 {
		return nil, fmt.Errorf("%w: %v with %d channels", ErrDims, dims, channels)
	}
	out, err := volume.New(
		[]volume.AxisType{volume.X, volume.Y, volume.Z, volume.Channel},
		[]int{dims[0], dims[1], dims[2], channels})
	if err != nil {
		return nil, err
	}
	l := out.Layout()
	data := out.Data()

	for _, m := range ms {
		r := Radius(m.Volume)
		ri := int(math.Ceil(r))
		cx, cy, cz := int(math.Round(m.CX)), int(math.Round(m.CY)), int(math.Round(m.CZ))
		for dz := -ri; dz <= ri; dz++ {
			z := cz + dz
			if z < 0 || z >= l.NZ {
				continue
			}
			for dy := -ri; dy <= ri; dy++ {
				y := cy + dy
				if y < 0 || y >= l.NY {
					continue
				}
				for dx := -ri; dx <= ri; dx++ {
					x := cx + dx
					if x < 0 || x >= l.NX {
						continue
					}
					if float64(dx*dx+dy*dy+dz*dz) > r*r {
						continue
					}
					for c, base := range l.Bases {
						v := 0.0
						if c < m.Channels() {
							v = m.Mean[c]
						}
						data[l.Offset(base, x, y, z)] = v
					}
				}
			}
		}
	}
	return out, nil
}
