package measure

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Summary aggregates a measurement table.
type Summary struct {
	Count          int
	MeanVolume     float64
	StdVolume      float64
	MeanNNDistance float64
	MeanElongation float64
	MeanIntensity  []float64
}

// Summarize computes population statistics over ms. Undefined values such
// as the neighbour distance of a lone object are skipped.
func Summarize(ms []Measurement) Summary {
	s := Summary{Count: len(ms)}
	if len(ms) == 0 {
		return s
	}
	volumes := make([]float64, len(ms))
	var nn, el []float64
	channels := 0
	for i, m := range ms {
		volumes[i] = m.Volume
		if finite(m.NNDistance) {
			nn = append(nn, m.NNDistance)
		}
		if finite(m.Elongation) {
			el = append(el, m.Elongation)
		}
		channels = max(channels, m.Channels())
	}
	s.MeanVolume, s.StdVolume = stat.MeanStdDev(volumes, nil)
	if len(ms) == 1 {
		s.StdVolume = 0
	}
	s.MeanNNDistance = meanOrNaN(nn)
	s.MeanElongation = meanOrNaN(el)

	s.MeanIntensity = make([]float64, channels)
	for c := range s.MeanIntensity {
		var vals []float64
		for _, m := range ms {
			if c < m.Channels() {
				vals = append(vals, m.Mean[c])
			}
		}
		s.MeanIntensity[c] = meanOrNaN(vals)
	}
	return s
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func meanOrNaN(x []float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	return stat.Mean(x, nil)
}
