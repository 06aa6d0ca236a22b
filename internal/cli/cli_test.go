package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tiledseg/internal/models"
	"tiledseg/pkg/config"
	"tiledseg/pkg/imageio"
	"tiledseg/pkg/measure"
	"tiledseg/pkg/pipeline"
	"tiledseg/pkg/volume"
)

// execute runs the root command with args and returns what it printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	c := New(io.Discard, LogInfo)
	c.Out = &out
	root := c.RootCommand()
	root.SetArgs(args)
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestConfigInitAndShow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tiledseg.yaml")

	if _, err := execute(t, "config", "init", path); err != nil {
		t.Fatalf("config init failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if _, err := execute(t, "config", "init", path); err == nil {
		t.Error("config init should refuse to overwrite an existing file")
	}
	if _, err := execute(t, "config", "init", "--force", path); err != nil {
		t.Errorf("config init --force failed: %v", err)
	}

	out, err := execute(t, "config", "show", path)
	if err != nil {
		t.Fatalf("config show failed: %v", err)
	}
	if !strings.Contains(out, "divX: 1") || !strings.Contains(out, "sigma: 8") {
		t.Errorf("config show printed:\n%s", out)
	}

	out, err = execute(t, "config", "show", "--toml")
	if err != nil {
		t.Fatalf("config show --toml failed: %v", err)
	}
	if !strings.Contains(out, "[tiling]") {
		t.Errorf("TOML output missing [tiling] table:\n%s", out)
	}
}

func TestConfigErrors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("segmentation:\n  ratio: 0.5\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "config", "show", bad); !errors.Is(err, config.ErrInvalid) {
		t.Errorf("invalid config: got %v, want ErrInvalid", err)
	}
	if _, err := execute(t, "-c", filepath.Join(dir, "missing.yaml"), "config", "show"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing config: got %v, want ErrNotExist", err)
	}
}

func writeStack(t *testing.T, dir string) {
	t.Helper()
	img, err := volume.New(volume.XYZ, []int{12, 10, 3})
	if err != nil {
		t.Fatal(err)
	}
	for i := range img.Data() {
		img.Data()[i] = float64(i%7) / 7
	}
	if _, err := imageio.SaveStack(img, dir, imageio.SaveOptions{Format: imageio.PNG}); err != nil {
		t.Fatal(err)
	}
}

func TestTileCommand(t *testing.T) {
	dir := t.TempDir()
	input, output := filepath.Join(dir, "in"), filepath.Join(dir, "out")
	writeStack(t, input)

	out, err := execute(t, "tile", "-i", input, "-o", output,
		"--filter", "box", "--radius", "1", "--div-x", "2", "--div-y", "2", "--margin", "1", "--format", "png")
	if err != nil {
		t.Fatalf("tile failed: %v", err)
	}
	files, err := imageio.ListSlices(output)
	if err != nil {
		t.Fatalf("no output slices: %v", err)
	}
	if len(files) != 3 || filepath.Ext(files[0]) != ".png" {
		t.Errorf("output slices = %v", files)
	}
	if !strings.Contains(out, "Saved") {
		t.Errorf("tile printed:\n%s", out)
	}

	if _, err := execute(t, "tile", "-i", input, "-o", output, "--filter", "median"); !errors.Is(err, pipeline.ErrUnknownFilter) {
		t.Errorf("unknown filter: got %v, want ErrUnknownFilter", err)
	}
	if _, err := execute(t, "tile", "-i", input, "-o", output, "--div-x", "0"); !errors.Is(err, config.ErrInvalid) {
		t.Errorf("zero divisions: got %v, want ErrInvalid", err)
	}
}

func TestSegmentCommandFlags(t *testing.T) {
	if _, err := execute(t, "segment"); err == nil {
		t.Error("segment without --input should fail")
	}
	if _, err := execute(t, "segment", "-i", t.TempDir(), "--ratio", "1"); !errors.Is(err, config.ErrInvalid) {
		t.Errorf("ratio 1: got %v, want ErrInvalid", err)
	}
	if _, err := execute(t, "segment", "-i", t.TempDir()); !errors.Is(err, imageio.ErrNoSlices) {
		t.Errorf("empty input: got %v, want ErrNoSlices", err)
	}
}

func TestPlotCommand(t *testing.T) {
	dir := t.TempDir()
	ref := filepath.Join(dir, "ref")
	writeStack(t, ref)

	csvPath := filepath.Join(dir, "points.csv")
	f, err := os.Create(csvPath)
	if err != nil {
		t.Fatal(err)
	}
	err = measure.WriteCSV(f, []measure.Measurement{
		{Particle: 1, CX: 5, CY: 5, CZ: 1, Volume: 10, Integral: []float64{100}, Mean: []float64{10}, Elongation: 1},
	})
	f.Close()
	if err != nil {
		t.Fatal(err)
	}

	output := filepath.Join(dir, "nuclei")
	if _, err := execute(t, "plot", "--csv", csvPath, "-r", ref, "-o", output); err != nil {
		t.Fatalf("plot failed: %v", err)
	}
	img, err := imageio.LoadStack(output, imageio.Raw)
	if err != nil {
		t.Fatalf("LoadStack failed: %v", err)
	}
	if got := img.At(5, 5, 1); got != 10 {
		t.Errorf("centre = %v, want 10", got)
	}
}

func TestPrintReport(t *testing.T) {
	r := models.NewRunReport("segment", "in")
	r.Volume = models.VolumeInfo{Width: 4, Height: 3, Depth: 2, Channels: 1}
	st := r.AddStage("dog", r.Started)
	st.Detail = "4 tiles, margin 32"
	st.Output = "intermediary/01_dog"

	var buf bytes.Buffer
	printReport(&buf, r)
	printSummary(&buf, measure.Summary{Count: 2, MeanIntensity: []float64{0.5}})
	out := buf.String()
	for _, want := range []string{"segment", "4 x 3 x 2", "4 tiles, margin 32", "intermediary/01_dog", "objects", "0.50"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestFlagsOverrideConfigBeforeValidation(t *testing.T) {
	dir := t.TempDir()
	input, output := filepath.Join(dir, "in"), filepath.Join(dir, "out")
	writeStack(t, input)
	cfgPath := filepath.Join(dir, "zero.yaml")
	if err := os.WriteFile(cfgPath, []byte("tiling:\n  divX: 0\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := execute(t, "-c", cfgPath, "tile", "-i", input, "-o", output, "--filter", "identity"); !errors.Is(err, config.ErrInvalid) {
		t.Errorf("divX 0 without override: got %v, want ErrInvalid", err)
	}
	if _, err := execute(t, "-c", cfgPath, "tile", "-i", input, "-o", output, "--filter", "identity", "--div-x", "2"); err != nil {
		t.Errorf("--div-x 2 should override the config value: %v", err)
	}
}

func TestQuantifyCommand(t *testing.T) {
	dir := t.TempDir()
	labels, err := volume.New(volume.XYZ, []int{12, 10, 3})
	if err != nil {
		t.Fatal(err)
	}
	labels.Set(1, 2, 2, 0)
	labels.Set(1, 3, 2, 0)
	labels.Set(2, 9, 8, 2)
	labelDir := filepath.Join(dir, "labels")
	if _, err := imageio.SaveStack(labels, labelDir, imageio.SaveOptions{Scale: imageio.Raw}); err != nil {
		t.Fatal(err)
	}
	chDir := filepath.Join(dir, "ch")
	writeStack(t, chDir)

	csvPath := filepath.Join(dir, "points.csv")
	out, err := execute(t, "quantify", "-l", labelDir, "-m", chDir, "-o", csvPath)
	if err != nil {
		t.Fatalf("quantify failed: %v", err)
	}
	if !strings.Contains(out, "Saved 2 objects") {
		t.Errorf("quantify printed:\n%s", out)
	}
	f, err := os.Open(csvPath)
	if err != nil {
		t.Fatalf("CSV not written: %v", err)
	}
	defer f.Close()
	ms, err := measure.ReadCSV(f)
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}
	if len(ms) != 2 || ms[0].Volume != 2 || ms[1].Volume != 1 || ms[0].Channels() != 1 {
		t.Errorf("measurements = %+v", ms)
	}

	if _, err := execute(t, "quantify", "-o", csvPath); err == nil {
		t.Error("quantify without --labels should fail")
	}
}
