// Package measure computes per-object statistics from a segmentation and
// reads and writes them as CSV tables.
package measure

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/kdtree"

	"tiledseg/pkg/segment"
	"tiledseg/pkg/volume"
)

// ErrChannel is returned when a measurement channel does not cover the objects.
var ErrChannel = errors.New("invalid measurement channel")

// Calibration is the physical size of a voxel along each axis. The zero
// value is treated as one unit per voxel.
type Calibration struct {
	X float64 `yaml:"x" toml:"x"`
	Y float64 `yaml:"y" toml:"y"`
	Z float64 `yaml:"z" toml:"z"`
}

func (c Calibration) orDefault() Calibration {
	if c.X <= 0 {
		c.X = 1
	}
	if c.Y <= 0 {
		c.Y = 1
	}
	if c.Z <= 0 {
		c.Z = 1
	}
	return c
}

// Measurement holds the statistics of one object. Centroids are in voxel
// coordinates, Volume is a voxel count, NNDistance is in calibrated units.
type Measurement struct {
	Particle   int
	CX, CY, CZ float64
	Volume     float64
	Integral   []float64
	Mean       []float64
	NNDistance float64
	Elongation float64
}

// Channels returns the number of measured channels.
func (m Measurement) Channels() int { return len(m.Mean) }

// Measure computes a Measurement for every object. channels are spatial
// images sharing the label image's extent; their origins are ignored.
// Particles are numbered from 1 in the order of objects.
func Measure(objects []segment.Object, channels []*volume.Image, cal Calibration) ([]Measurement, error) {
	cal = cal.orDefault()
	layouts := make([]volume.Layout, len(channels))
	for c, ch := range channels {
		l := ch.Layout()
		if len(l.Bases) != 1 {
			return nil, fmt.Errorf("%w: channel %d has axes %v", ErrChannel, c, ch.Axes())
		}
		layouts[c] = l
	}

	ms := make([]Measurement, len(objects))
	for i, obj := range objects {
		m := Measurement{
			Particle: i + 1,
			Volume:   float64(len(obj.Voxels)),
			Integral: make([]float64, len(channels)),
			Mean:     make([]float64, len(channels)),
		}
		for _, v := range obj.Voxels {
			m.CX += float64(v.X)
			m.CY += float64(v.Y)
			m.CZ += float64(v.Z)
		}
		if n := m.Volume; n > 0 {
			m.CX /= n
			m.CY /= n
			m.CZ /= n
		}
		for c, ch := range channels {
			l, data := layouts[c], ch.Data()
			for _, v := range obj.Voxels {
				if v.X >= l.NX || v.Y >= l.NY || v.Z >= l.NZ {
					return nil, fmt.Errorf("%w: channel %d does not contain voxel %+v of object %d",
						ErrChannel, c, v, obj.Label)
				}
				m.Integral[c] += data[l.Offset(0, v.X, v.Y, v.Z)]
			}
			if m.Volume > 0 {
				m.Mean[c] = m.Integral[c] / m.Volume
			}
		}
		m.Elongation = elongation(obj.Voxels, m, cal)
		ms[i] = m
	}
	nearestNeighbours(ms, cal)
	return ms, nil
}

// elongation is the square root of the ratio of the largest to the smallest
// principal variance of the object's voxels. Each voxel contributes the
// variance of a unit box so single voxels and flat objects stay finite.
func elongation(voxels []segment.Voxel, m Measurement, cal Calibration) float64 {
	n := float64(len(voxels))
	if n == 0 {
		return math.NaN()
	}
	scale := [3]float64{cal.X, cal.Y, cal.Z}
	var cov [3][3]float64
	for _, v := range voxels {
		d := [3]float64{
			(float64(v.X) - m.CX) * cal.X,
			(float64(v.Y) - m.CY) * cal.Y,
			(float64(v.Z) - m.CZ) * cal.Z,
		}
		for a := 0; a < 3; a++ {
			for b := a; b < 3; b++ {
				cov[a][b] += d[a] * d[b]
			}
		}
	}
	sym := mat.NewSymDense(3, nil)
	for a := 0; a < 3; a++ {
		for b := a; b < 3; b++ {
			c := cov[a][b] / n
			if a == b {
				c += scale[a] * scale[a] / 12
			}
			sym.SetSym(a, b, c)
		}
	}
	var eig mat.EigenSym
	if !eig.Factorize(sym, false) {
		return math.NaN()
	}
	values := eig.Values(nil)
	lo, hi := values[0], values[len(values)-1]
	if lo <= 0 {
		return math.Inf(1)
	}
	return math.Sqrt(hi / lo)
}

// centroid is a measured object position in calibrated space.
type centroid struct {
	p     [3]float64
	index int
}

func (c centroid) Compare(o kdtree.Comparable, d kdtree.Dim) float64 {
	return c.p[d] - o.(centroid).p[d]
}

func (c centroid) Dims() int { return 3 }

// Distance returns the squared Euclidean distance.
func (c centroid) Distance(o kdtree.Comparable) float64 {
	q := o.(centroid)
	dx, dy, dz := c.p[0]-q.p[0], c.p[1]-q.p[1], c.p[2]-q.p[2]
	return dx*dx + dy*dy + dz*dz
}

type centroids []centroid

func (c centroids) Index(i int) kdtree.Comparable         { return c[i] }
func (c centroids) Len() int                              { return len(c) }
func (c centroids) Slice(start, end int) kdtree.Interface { return c[start:end] }
func (c centroids) Pivot(d kdtree.Dim) int {
	p := centroidPlane{centroids: c, Dim: d}
	return kdtree.Partition(p, kdtree.MedianOfMedians(p))
}

type centroidPlane struct {
	centroids
	kdtree.Dim
}

func (p centroidPlane) Less(i, j int) bool {
	return p.centroids[i].p[p.Dim] < p.centroids[j].p[p.Dim]
}

func (p centroidPlane) Slice(start, end int) kdtree.SortSlicer {
	return centroidPlane{centroids: p.centroids[start:end], Dim: p.Dim}
}

func (p centroidPlane) Swap(i, j int) {
	p.centroids[i], p.centroids[j] = p.centroids[j], p.centroids[i]
}

// nearestNeighbours fills NNDistance for every measurement. A lone object
// gets NaN.
func nearestNeighbours(ms []Measurement, cal Calibration) {
	if len(ms) < 2 {
		for i := range ms {
			ms[i].NNDistance = math.NaN()
		}
		return
	}
	pts := make(centroids, len(ms))
	for i, m := range ms {
		pts[i] = centroid{p: [3]float64{m.CX * cal.X, m.CY * cal.Y, m.CZ * cal.Z}, index: i}
	}
	queries := append(centroids(nil), pts...)
	tree := kdtree.New(pts, false)

	for _, q := range queries {
		keeper := kdtree.NewNKeeper(2)
		tree.NearestSet(keeper, q)
		best := math.Inf(1)
		for _, item := range keeper.Heap {
			if item.Comparable == nil || item.Comparable.(centroid).index == q.index {
				continue
			}
			best = math.Min(best, item.Dist)
		}
		ms[q.index].NNDistance = math.Sqrt(best)
	}
}
