package imageio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"tiledseg/pkg/volume"
)

// createTestStack builds an X,Y,Z image with distinct values per voxel.
func createTestStack(t *testing.T, nx, ny, nz int) *volume.Image {
	t.Helper()
	img, err := volume.New(volume.XYZ, []int{nx, ny, nz})
	if err != nil {
		t.Fatalf("Failed to create stack: %v", err)
	}
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				img.Set(float64(x+10*y+100*z), x, y, z)
			}
		}
	}
	return img
}

func TestExtractNumber(t *testing.T) {
	tests := []struct {
		name string
		want int
	}{
		{"slice_0012.tif", 12},
		{"/data/stack/img7.png", 7},
		{"no-digits.jpg", 0},
		{"a1b2.tif", 12},
	}
	for _, tt := range tests {
		if got := extractNumber(tt.name); got != tt.want {
			t.Errorf("extractNumber(%q) = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	img := createTestStack(t, 7, 5, 4)
	for _, format := range []Format{TIFF, PNG} {
		t.Run(string(format), func(t *testing.T) {
			dir := t.TempDir()
			paths, err := SaveStack(img, dir, SaveOptions{Format: format, Scale: Raw})
			if err != nil {
				t.Fatalf("SaveStack failed: %v", err)
			}
			if len(paths) != 4 {
				t.Fatalf("expected 4 files, got %d", len(paths))
			}
			loaded, err := LoadStack(dir, Raw)
			if err != nil {
				t.Fatalf("LoadStack failed: %v", err)
			}
			if !volume.SameShape(img, loaded) {
				t.Fatalf("shape %v, want %v", loaded.Dims(), img.Dims())
			}
			for i, v := range img.Data() {
				if loaded.Data()[i] != v {
					t.Fatalf("sample %d = %v, want %v", i, loaded.Data()[i], v)
				}
			}
		})
	}
}

func TestNormalizedScale(t *testing.T) {
	img, _ := volume.New(volume.XYZ, []int{3, 1, 1})
	img.Set(0, 0, 0, 0)
	img.Set(0.5, 1, 0, 0)
	img.Set(2, 2, 0, 0)
	dir := t.TempDir()
	if _, err := SaveStack(img, dir, SaveOptions{}); err != nil {
		t.Fatalf("SaveStack failed: %v", err)
	}
	loaded, err := LoadStack(dir, Normalized)
	if err != nil {
		t.Fatalf("LoadStack failed: %v", err)
	}
	want := []float64{0, 32768.0 / 65535, 1}
	for i, w := range want {
		if math.Abs(loaded.Data()[i]-w) > 1e-9 {
			t.Errorf("sample %d = %v, want %v", i, loaded.Data()[i], w)
		}
	}
}

func TestLoadStackOrdering(t *testing.T) {
	dir := t.TempDir()
	// Lexical order would put 10 before 2.
	for _, n := range []int{10, 2, 1} {
		g := image.NewGray16(image.Rect(0, 0, 2, 2))
		g.SetGray16(0, 0, color.Gray16{Y: uint16(n)})
		if err := writePlane(filepath.Join(dir, "img"+strconv.Itoa(n)+".png"), g, PNG); err != nil {
			t.Fatalf("writePlane failed: %v", err)
		}
	}
	img, err := LoadStack(dir, Raw)
	if err != nil {
		t.Fatalf("LoadStack failed: %v", err)
	}
	for z, want := range []float64{1, 2, 10} {
		if got := img.At(0, 0, z); got != want {
			t.Errorf("plane %d starts with %v, want %v", z, got, want)
		}
	}
}

func TestLoadStackErrors(t *testing.T) {
	empty := t.TempDir()
	os.WriteFile(filepath.Join(empty, "notes.txt"), []byte("x"), 0644)
	if _, err := LoadStack(empty, Normalized); !errors.Is(err, ErrNoSlices) {
		t.Errorf("expected ErrNoSlices, got %v", err)
	}

	mixed := t.TempDir()
	writePlane(filepath.Join(mixed, "s1.png"), image.NewGray16(image.Rect(0, 0, 4, 4)), PNG)
	writePlane(filepath.Join(mixed, "s2.png"), image.NewGray16(image.Rect(0, 0, 5, 4)), PNG)
	if _, err := LoadStack(mixed, Normalized); !errors.Is(err, ErrSliceSize) {
		t.Errorf("expected ErrSliceSize, got %v", err)
	}

	if _, err := LoadStack(filepath.Join(empty, "missing"), Normalized); err == nil {
		t.Errorf("expected error for missing directory")
	}
	if _, err := SaveStack(createTestStack(t, 2, 2, 1), t.TempDir(), SaveOptions{Format: "bmp"}); !errors.Is(err, ErrFormat) {
		t.Errorf("expected ErrFormat, got %v", err)
	}
}

func TestLoadImageJPEG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "white.jpg")
	src := image.NewGray(image.Rect(0, 0, 6, 3))
	for i := range src.Pix {
		src.Pix[i] = 255
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}
	if err := jpeg.Encode(f, src, &jpeg.Options{Quality: 100}); err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}
	f.Close()

	img, err := LoadImage(path, Normalized)
	if err != nil {
		t.Fatalf("LoadImage failed: %v", err)
	}
	if d := img.Dims(); d[0] != 6 || d[1] != 3 || img.NumDims() != 2 {
		t.Errorf("unexpected dims %v", d)
	}
	if v := img.At(2, 1); v < 0.99 {
		t.Errorf("white pixel loaded as %v", v)
	}
}

func TestExtractPlane(t *testing.T) {
	img := createTestStack(t, 4, 3, 2)
	tests := []struct {
		axis   volume.AxisType
		pos    int
		w, h   int
		px, py int
		want   uint16
	}{
		{volume.Z, 1, 4, 3, 2, 1, 112},
		{volume.Y, 2, 4, 2, 3, 1, 123},
		{volume.X, 3, 2, 3, 1, 2, 123},
	}
	for _, tt := range tests {
		t.Run(tt.axis.String(), func(t *testing.T) {
			plane, err := ExtractPlane(img, tt.axis, tt.pos, Raw)
			if err != nil {
				t.Fatalf("ExtractPlane failed: %v", err)
			}
			if b := plane.Bounds(); b.Dx() != tt.w || b.Dy() != tt.h {
				t.Errorf("bounds %v, want %dx%d", b, tt.w, tt.h)
			}
			if got := plane.Gray16At(tt.px, tt.py).Y; got != tt.want {
				t.Errorf("pixel (%d,%d) = %d, want %d", tt.px, tt.py, got, tt.want)
			}
		})
	}

	if _, err := ExtractPlane(img, volume.Z, 2, Raw); !errors.Is(err, volume.ErrOutOfBounds) {
		t.Errorf("expected ErrOutOfBounds, got %v", err)
	}
	if _, err := ExtractPlane(img, volume.Channel, 0, Raw); !errors.Is(err, volume.ErrAxis) {
		t.Errorf("expected ErrAxis, got %v", err)
	}
}

func TestExtractPlaneChannels(t *testing.T) {
	img, _ := volume.New([]volume.AxisType{volume.X, volume.Y, volume.Channel}, []int{2, 2, 3})
	img.Set(7, 1, 1, 2)
	plane, err := ExtractPlane(img, volume.Z, 0, Raw, 2)
	if err != nil {
		t.Fatalf("ExtractPlane failed: %v", err)
	}
	if plane.Gray16At(1, 1).Y != 7 {
		t.Errorf("channel 2 pixel = %d, want 7", plane.Gray16At(1, 1).Y)
	}
	if _, err := ExtractPlane(img, volume.Z, 0, Raw, 3); !errors.Is(err, volume.ErrOutOfBounds) {
		t.Errorf("expected ErrOutOfBounds for channel 3, got %v", err)
	}

	paths, err := SaveStack(img, t.TempDir(), SaveOptions{Format: PNG, Scale: Raw, Prefix: "ch"})
	if err != nil {
		t.Fatalf("SaveStack failed: %v", err)
	}
	if len(paths) != 3 || filepath.Base(paths[2]) != "ch_b02_0000.png" {
		t.Errorf("unexpected paths %v", paths)
	}
}

// writeFloatTIFF writes an uncompressed 2x2 single-sample 32-bit float TIFF,
// the layout pixel classifiers use for probability maps.
func writeFloatTIFF(t *testing.T, path string) {
	t.Helper()
	type entry struct {
		tag, typ uint16
		value    uint32
	}
	const short, long = 3, 4
	entries := []entry{
		{256, short, 2},  // ImageWidth
		{257, short, 2},  // ImageLength
		{258, short, 32}, // BitsPerSample
		{259, short, 1},  // Compression: none
		{262, short, 1},  // PhotometricInterpretation: BlackIsZero
		{273, long, 0},   // StripOffsets, patched below
		{277, short, 1},  // SamplesPerPixel
		{278, short, 2},  // RowsPerStrip
		{279, long, 16},  // StripByteCounts
		{339, short, 3},  // SampleFormat: IEEE float
	}
	dataOffset := uint32(8 + 2 + 12*len(entries) + 4)
	entries[5].value = dataOffset

	var buf bytes.Buffer
	le := binary.LittleEndian
	buf.WriteString("II")
	binary.Write(&buf, le, uint16(42))
	binary.Write(&buf, le, uint32(8))
	binary.Write(&buf, le, uint16(len(entries)))
	for _, e := range entries {
		binary.Write(&buf, le, e.tag)
		binary.Write(&buf, le, e.typ)
		binary.Write(&buf, le, uint32(1))
		binary.Write(&buf, le, e.value)
	}
	binary.Write(&buf, le, uint32(0))
	for _, v := range []float32{0, 0.25, 0.5, 1} {
		binary.Write(&buf, le, v)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadFloatTIFF(t *testing.T) {
	dir := t.TempDir()
	writeFloatTIFF(t, filepath.Join(dir, "pmap_0000.tif"))

	_, err := LoadStack(dir, Normalized)
	if !errors.Is(err, ErrSampleFormat) {
		t.Fatalf("got %v, want ErrSampleFormat", err)
	}
	if msg := err.Error(); !strings.Contains(msg, "pmap_0000.tif") || !strings.Contains(msg, "16-bit") {
		t.Errorf("error %q should name the file and suggest 16-bit input", msg)
	}
}
