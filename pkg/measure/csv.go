package measure

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// ErrMalformedCSV is returned when a measurement table cannot be parsed.
var ErrMalformedCSV = errors.New("malformed measurement table")

// Header returns the column names for a table with the given channel count.
func Header(channels int) []string {
	h := []string{"Particle", "cx", "cy", "cz", "Volume"}
	for c := 0; c < channels; c++ {
		h = append(h, fmt.Sprintf("Integral %d", c), fmt.Sprintf("Mean %d", c))
	}
	return append(h, "NNDistance", "Elongation")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// WriteCSV writes ms as a comma separated table. Channel columns
// interleave integral and mean per channel.
func WriteCSV(w io.Writer, ms []Measurement) error {
	channels := 0
	for _, m := range ms {
		channels = max(channels, m.Channels())
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(Header(channels)); err != nil {
		return err
	}
	row := make([]string, 0, 7+2*channels)
	for _, m := range ms {
		row = append(row[:0],
			strconv.Itoa(m.Particle),
			formatFloat(m.CX), formatFloat(m.CY), formatFloat(m.CZ),
			formatFloat(m.Volume))
		for c := 0; c < channels; c++ {
			if c < m.Channels() {
				row = append(row, formatFloat(m.Integral[c]), formatFloat(m.Mean[c]))
			} else {
				row = append(row, "", "")
			}
		}
		row = append(row, formatFloat(m.NNDistance), formatFloat(m.Elongation))
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

type column struct {
	name string
	dst  *float64
	def  float64
}

// ReadCSV parses a table written by WriteCSV. Columns are matched by name,
// so extra columns are ignored and NNDistance and Elongation may be absent.
// Rows without a Particle column are numbered from 1.
func ReadCSV(r io.Reader) ([]Measurement, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty input", ErrMalformedCSV)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCSV, err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	for _, name := range []string{"cx", "cy", "cz", "Volume"} {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", ErrMalformedCSV, name)
		}
	}
	channels := 0
	for {
		if _, ok := cols[fmt.Sprintf("Mean %d", channels)]; !ok {
			break
		}
		channels++
	}

	var ms []Measurement
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedCSV, err)
		}
		field := func(name string, def float64) (float64, error) {
			i, ok := cols[name]
			if !ok || i >= len(rec) || strings.TrimSpace(rec[i]) == "" {
				return def, nil
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
			if err != nil {
				return 0, fmt.Errorf("%w: line %d column %q: %v", ErrMalformedCSV, line, name, err)
			}
			return v, nil
		}

		m := Measurement{
			Particle: len(ms) + 1,
			Integral: make([]float64, channels),
			Mean:     make([]float64, channels),
		}
		p, err := field("Particle", float64(m.Particle))
		if err != nil {
			return nil, err
		}
		m.Particle = int(p)
		targets := []column{
			{"cx", &m.CX, 0}, {"cy", &m.CY, 0}, {"cz", &m.CZ, 0}, {"Volume", &m.Volume, 0},
			{"NNDistance", &m.NNDistance, math.NaN()}, {"Elongation", &m.Elongation, math.NaN()},
		}
		for c := 0; c < channels; c++ {
			targets = append(targets,
				column{fmt.Sprintf("Integral %d", c), &m.Integral[c], 0},
				column{fmt.Sprintf("Mean %d", c), &m.Mean[c], 0})
		}
		for _, tg := range targets {
			v, err := field(tg.name, tg.def)
			if err != nil {
				return nil, err
			}
			*tg.dst = v
		}
		ms = append(ms, m)
	}
	return ms, nil
}
