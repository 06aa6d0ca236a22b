// Package segment turns a seed mask and a relief image into labelled objects.
//
// LabelSeeds numbers the connected components of a seed mask, Watershed grows
// those labels over a relief image in order of decreasing relief, and Objects
// gathers the voxels of every label.
package segment

import (
	"container/heap"
	"errors"
	"fmt"
	"sort"

	"tiledseg/pkg/volume"
)

// ErrSpatialOnly is returned for label operations on images that carry
// channel or time axes.
var ErrSpatialOnly = errors.New("image must only have spatial axes")

// Voxel is an integer position in a volume.
type Voxel struct {
	X, Y, Z int
}

// Object is a labelled set of voxels.
type Object struct {
	Label  int
	Voxels []Voxel
}

type offset struct{ dx, dy, dz int }

// neighbours returns the 26-connected (8-connected in 2D) neighbourhood.
func neighbours(l volume.Layout) []offset {
	rz := 1
	if l.NZ == 1 {
		rz = 0
	}
	var offs []offset
	for dz := -rz; dz <= rz; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx != 0 || dy != 0 || dz != 0 {
					offs = append(offs, offset{dx, dy, dz})
				}
			}
		}
	}
	return offs
}

func spatialLayout(img *volume.Image) (volume.Layout, error) {
	l := img.Layout()
	if len(l.Bases) != 1 {
		return l, fmt.Errorf("%w: axes %v", ErrSpatialOnly, img.Axes())
	}
	return l, nil
}

// LabelSeeds assigns consecutive labels, starting at 1, to the connected
// components of the non-zero voxels of mask. Components are numbered in
// scan order (X fastest, then Y, then Z).
func LabelSeeds(mask *volume.Image) (*volume.Image, int, error) {
	l, err := spatialLayout(mask)
	if err != nil {
		return nil, 0, err
	}
	out := volume.NewLike(mask)
	src, dst := mask.Data(), out.Data()
	offs := neighbours(l)

	next := 0
	var stack []Voxel
	for z := 0; z < l.NZ; z++ {
		for y := 0; y < l.NY; y++ {
			for x := 0; x < l.NX; x++ {
				i := l.Offset(0, x, y, z)
				if src[i] == 0 || dst[i] != 0 {
					continue
				}
				next++
				dst[i] = float64(next)
				stack = append(stack[:0], Voxel{x, y, z})
				for len(stack) > 0 {
					v := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					for _, o := range offs {
						nx, ny, nz := v.X+o.dx, v.Y+o.dy, v.Z+o.dz
						if nx < 0 || ny < 0 || nz < 0 || nx >= l.NX || ny >= l.NY || nz >= l.NZ {
							continue
						}
						j := l.Offset(0, nx, ny, nz)
						if src[j] != 0 && dst[j] == 0 {
							dst[j] = float64(next)
							stack = append(stack, Voxel{nx, ny, nz})
						}
					}
				}
			}
		}
	}
	return out, next, nil
}

// WatershedOptions configures Watershed.
type WatershedOptions struct {
	// Threshold is the relief value a voxel must exceed to be flooded.
	Threshold float64
	// Mask, when set, additionally restricts flooding to its non-zero voxels.
	Mask *volume.Image
}

type floodItem struct {
	value float64
	order int
	x, y  int
	z     int
	label float64
}

// floodQueue pops the highest relief first; equal values leave in insertion order.
type floodQueue []floodItem

func (q floodQueue) Len() int { return len(q) }
func (q floodQueue) Less(i, j int) bool {
	if q[i].value != q[j].value {
		return q[i].value > q[j].value
	}
	return q[i].order < q[j].order
}
func (q floodQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *floodQueue) Push(x any)   { *q = append(*q, x.(floodItem)) }
func (q *floodQueue) Pop() any {
	old := *q
	it := old[len(old)-1]
	*q = old[:len(old)-1]
	return it
}

// Watershed floods relief from the labelled seeds. Voxels are claimed in
// order of decreasing relief by the label that reaches them first; voxels
// whose relief does not exceed the threshold, or that lie outside the mask,
// stay background. Seeds keep their label even where they could not be
// flooded.
func Watershed(relief, seeds *volume.Image, opts WatershedOptions) (*volume.Image, error) {
	if !volume.SameShape(relief, seeds) {
		return nil, fmt.Errorf("%w: relief %v, seeds %v", volume.ErrShape, relief.Dims(), seeds.Dims())
	}
	if opts.Mask != nil && !volume.SameShape(relief, opts.Mask) {
		return nil, fmt.Errorf("%w: relief %v, mask %v", volume.ErrShape, relief.Dims(), opts.Mask.Dims())
	}
	l, err := spatialLayout(relief)
	if err != nil {
		return nil, err
	}
	out := seeds.Clone()
	lab, rel := out.Data(), relief.Data()
	var mask []float64
	if opts.Mask != nil {
		mask = opts.Mask.Data()
	}
	offs := neighbours(l)

	q := &floodQueue{}
	order := 0
	for z := 0; z < l.NZ; z++ {
		for y := 0; y < l.NY; y++ {
			for x := 0; x < l.NX; x++ {
				i := l.Offset(0, x, y, z)
				if lab[i] != 0 {
					heap.Push(q, floodItem{value: rel[i], order: order, x: x, y: y, z: z, label: lab[i]})
					order++
				}
			}
		}
	}

	for q.Len() > 0 {
		it := heap.Pop(q).(floodItem)
		for _, o := range offs {
			nx, ny, nz := it.x+o.dx, it.y+o.dy, it.z+o.dz
			if nx < 0 || ny < 0 || nz < 0 || nx >= l.NX || ny >= l.NY || nz >= l.NZ {
				continue
			}
			j := l.Offset(0, nx, ny, nz)
			if lab[j] != 0 || rel[j] <= opts.Threshold || (mask != nil && mask[j] == 0) {
				continue
			}
			lab[j] = it.label
			heap.Push(q, floodItem{value: rel[j], order: order, x: nx, y: ny, z: nz, label: it.label})
			order++
		}
	}
	return out, nil
}

// Objects collects the voxels of every non-zero label, sorted by label.
// Voxel coordinates are relative to the image origin.
func Objects(labels *volume.Image) ([]Object, error) {
	l, err := spatialLayout(labels)
	if err != nil {
		return nil, err
	}
	data := labels.Data()
	byLabel := make(map[int]*Object)
	for z := 0; z < l.NZ; z++ {
		for y := 0; y < l.NY; y++ {
			for x := 0; x < l.NX; x++ {
				v := data[l.Offset(0, x, y, z)]
				if v <= 0 {
					continue
				}
				id := int(v)
				obj, ok := byLabel[id]
				if !ok {
					obj = &Object{Label: id}
					byLabel[id] = obj
				}
				obj.Voxels = append(obj.Voxels, Voxel{x, y, z})
			}
		}
	}
	objects := make([]Object, 0, len(byLabel))
	for _, obj := range byLabel {
		objects = append(objects, *obj)
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Label < objects[j].Label })
	return objects, nil
}
