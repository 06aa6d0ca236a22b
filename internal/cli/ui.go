package cli

import (
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"tiledseg/internal/models"
	"tiledseg/pkg/measure"
)

var (
	colorCyan   = lipgloss.Color("36")  // Teal - primary
	colorGreen  = lipgloss.Color("35")  // Green - success
	colorYellow = lipgloss.Color("220") // Amber - warnings
	colorRed    = lipgloss.Color("167") // Soft red - errors
	colorWhite  = lipgloss.Color("255") // Bright white - values
	colorGray   = lipgloss.Color("245") // Gray - secondary text
	colorDim    = lipgloss.Color("240") // Dim gray - muted text
)

var (
	// StyleTitle for main headings.
	StyleTitle = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)

	// StyleDim for secondary text.
	StyleDim = lipgloss.NewStyle().Foreground(colorDim)

	// StyleValue for data values.
	StyleValue = lipgloss.NewStyle().Foreground(colorWhite)

	// StyleNumber for numeric values.
	StyleNumber = lipgloss.NewStyle().Foreground(colorCyan)

	// StyleWarning for warning messages.
	StyleWarning = lipgloss.NewStyle().Foreground(colorYellow)
)

var (
	styleIconSuccess = lipgloss.NewStyle().Foreground(colorGreen)
	styleIconError   = lipgloss.NewStyle().Foreground(colorRed)
	styleIconWarning = lipgloss.NewStyle().Foreground(colorYellow)
	styleKey         = lipgloss.NewStyle().Foreground(colorGray).Width(14)
)

const (
	iconSuccess = "✓"
	iconError   = "✗"
	iconWarning = "!"
	iconArrow   = "→"
)

func printSuccess(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, styleIconSuccess.Render(iconSuccess)+" "+fmt.Sprintf(format, args...))
}

func printError(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, styleIconError.Render(iconError)+" "+fmt.Sprintf(format, args...))
}

// PrintError reports a failed command on w.
func PrintError(w io.Writer, err error) {
	printError(w, "%v", err)
}

func printWarning(w io.Writer, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(w, styleIconWarning.Render(iconWarning)+" "+StyleWarning.Render(msg))
}

// printFile prints a file output line.
func printFile(w io.Writer, path string) {
	fmt.Fprintln(w, "  "+StyleDim.Render(iconArrow)+" "+StyleValue.Render(path))
}

// printKeyValue prints a labeled value.
func printKeyValue(w io.Writer, key, value string) {
	fmt.Fprintln(w, styleKey.Render(key)+" "+StyleValue.Render(value))
}

// printReport prints the stages of a run with their timings and outputs.
func printReport(w io.Writer, r *models.RunReport) {
	fmt.Fprintln(w, StyleTitle.Render(r.Command)+" "+StyleDim.Render(r.ID.String()))
	v := r.Volume
	if v.Voxels() > 0 {
		printKeyValue(w, "volume", fmt.Sprintf("%d x %d x %d, %d channel(s)", v.Width, v.Height, v.Depth, v.Channels))
	}
	for _, st := range r.Stages {
		line := StyleNumber.Render(st.Duration.Round(time.Millisecond).String())
		if st.Detail != "" {
			line += StyleDim.Render(" · ") + st.Detail
		}
		printKeyValue(w, st.Name, line)
		if st.Output != "" {
			printFile(w, st.Output)
		}
	}
	printKeyValue(w, "total", StyleNumber.Render(r.Total().Round(time.Millisecond).String()))
}

// printSummary prints aggregate statistics of the measured objects.
func printSummary(w io.Writer, s measure.Summary) {
	printKeyValue(w, "objects", StyleNumber.Render(fmt.Sprint(s.Count)))
	if s.Count == 0 {
		return
	}
	printKeyValue(w, "volume", fmt.Sprintf("%s ± %s voxels", formatStat(s.MeanVolume), formatStat(s.StdVolume)))
	printKeyValue(w, "nn distance", formatStat(s.MeanNNDistance))
	printKeyValue(w, "elongation", formatStat(s.MeanElongation))
	means := make([]string, len(s.MeanIntensity))
	for i, m := range s.MeanIntensity {
		means[i] = formatStat(m)
	}
	printKeyValue(w, "intensity", strings.Join(means, ", "))
}

func formatStat(v float64) string {
	if math.IsNaN(v) {
		return StyleDim.Render("n/a")
	}
	return StyleNumber.Render(fmt.Sprintf("%.2f", v))
}
