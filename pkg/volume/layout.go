package volume

// Layout describes the spatial part of an image's storage. Images without a
// Z axis have NZ = 1. Bases lists the offset of the first sample of every
// spatial block, one per combination of channel and time indices.
type Layout struct {
	NX, NY, NZ int
	SX, SY, SZ int
	Bases      []int
}

// Layout returns the spatial storage layout of im.
func (im *Image) Layout() Layout {
	l := Layout{NZ: 1}
	l.Bases = []int{0}
	for d, a := range im.axes {
		switch a {
		case X:
			l.NX, l.SX = im.dims[d], im.strides[d]
		case Y:
			l.NY, l.SY = im.dims[d], im.strides[d]
		case Z:
			l.NZ, l.SZ = im.dims[d], im.strides[d]
		default:
			next := make([]int, 0, len(l.Bases)*im.dims[d])
			for _, b := range l.Bases {
				for i := 0; i < im.dims[d]; i++ {
					next = append(next, b+i*im.strides[d])
				}
			}
			l.Bases = next
		}
	}
	return l
}

// Voxels returns the number of samples in one spatial block.
func (l Layout) Voxels() int { return l.NX * l.NY * l.NZ }

// Offset returns the storage offset of (x, y, z) within the block at base.
func (l Layout) Offset(base, x, y, z int) int {
	return base + x*l.SX + y*l.SY + z*l.SZ
}

// Lines returns the length and stride of lines running along axis together
// with the offset of every line's first sample. axis must be X, Y or Z.
func (l Layout) Lines(axis AxisType) (n, stride int, starts []int) {
	nx, ny, nz := l.NX, l.NY, l.NZ
	switch axis {
	case X:
		n, stride, nx = l.NX, l.SX, 1
	case Y:
		n, stride, ny = l.NY, l.SY, 1
	case Z:
		n, stride, nz = l.NZ, l.SZ, 1
	default:
		return 0, 0, nil
	}
	starts = make([]int, 0, len(l.Bases)*nx*ny*nz)
	for _, b := range l.Bases {
		for z := 0; z < nz; z++ {
			for y := 0; y < ny; y++ {
				for x := 0; x < nx; x++ {
					starts = append(starts, l.Offset(b, x, y, z))
				}
			}
		}
	}
	return n, stride, starts
}
