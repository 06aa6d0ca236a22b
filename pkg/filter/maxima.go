package filter

import (
	"fmt"

	"tiledseg/pkg/volume"
)

// Threshold returns a binary image: 1 where the sample exceeds t, else 0.
func Threshold(img *volume.Image, t float64) *volume.Image {
	out := volume.NewLike(img)
	dst := out.Data()
	for i, v := range img.Data() {
		if v > t {
			dst[i] = 1
		}
	}
	return out
}

// Radii is the half-size of an ellipsoidal neighbourhood per spatial axis.
type Radii struct {
	X, Y, Z int
}

// Cube returns equal radii on all three axes.
func Cube(r int) Radii { return Radii{X: r, Y: r, Z: r} }

type offset struct{ dx, dy, dz int }

// ellipsoid lists the neighbour offsets inside the ellipsoid with the given
// radii, excluding the centre. Axes missing from the layout are skipped.
func ellipsoid(r Radii, l volume.Layout) []offset {
	rx, ry, rz := r.X, r.Y, r.Z
	if l.NZ == 1 {
		rz = 0
	}
	var offs []offset
	for dz := -rz; dz <= rz; dz++ {
		for dy := -ry; dy <= ry; dy++ {
			for dx := -rx; dx <= rx; dx++ {
				if dx == 0 && dy == 0 && dz == 0 {
					continue
				}
				d := 0.0
				if rx > 0 {
					d += float64(dx*dx) / float64(rx*rx)
				}
				if ry > 0 {
					d += float64(dy*dy) / float64(ry*ry)
				}
				if rz > 0 {
					d += float64(dz*dz) / float64(rz*rz)
				}
				if d <= 1 {
					offs = append(offs, offset{dx, dy, dz})
				}
			}
		}
	}
	return offs
}

// LocalMaxima marks the voxels that are not smaller than any neighbour inside
// the ellipsoid of the given radii and exceed cutoff. Plateaus yield several
// connected marks, which seed labelling merges into one object.
func LocalMaxima(img *volume.Image, r Radii, cutoff float64) (*volume.Image, error) {
	if r.X < 0 || r.Y < 0 || r.Z < 0 {
		return nil, fmt.Errorf("%w: negative radius %+v", ErrParameter, r)
	}
	out := volume.NewLike(img)
	src, dst := img.Data(), out.Data()
	l := img.Layout()
	offs := ellipsoid(r, l)

	for _, b := range l.Bases {
		for z := 0; z < l.NZ; z++ {
			for y := 0; y < l.NY; y++ {
				for x := 0; x < l.NX; x++ {
					i := l.Offset(b, x, y, z)
					v := src[i]
					if v <= cutoff {
						continue
					}
					isMax := true
					for _, o := range offs {
						nx, ny, nz := x+o.dx, y+o.dy, z+o.dz
						if nx < 0 || ny < 0 || nz < 0 || nx >= l.NX || ny >= l.NY || nz >= l.NZ {
							continue
						}
						if src[l.Offset(b, nx, ny, nz)] > v {
							isMax = false
							break
						}
					}
					if isMax {
						dst[i] = 1
					}
				}
			}
		}
	}
	return out, nil
}
