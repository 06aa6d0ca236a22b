package segment

import (
	"errors"
	"math"
	"testing"

	"tiledseg/pkg/volume"
)

func newVolume(t *testing.T, nx, ny, nz int) *volume.Image {
	t.Helper()
	img, err := volume.New(volume.XYZ, []int{nx, ny, nz})
	if err != nil {
		t.Fatalf("Failed to create volume: %v", err)
	}
	return img
}

func TestLabelSeeds(t *testing.T) {
	mask := newVolume(t, 8, 8, 3)
	// Diagonal chain is one component under 26-connectivity.
	mask.Set(1, 0, 0, 0)
	mask.Set(1, 1, 1, 1)
	mask.Set(1, 2, 2, 2)
	// Separate blob.
	mask.Set(1, 6, 6, 0)
	mask.Set(1, 7, 6, 0)
	// Isolated voxel.
	mask.Set(1, 0, 7, 2)

	labels, n, err := LabelSeeds(mask)
	if err != nil {
		t.Fatalf("LabelSeeds failed: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 components, got %d", n)
	}
	tests := []struct {
		x, y, z int
		want    float64
	}{
		{0, 0, 0, 1}, {1, 1, 1, 1}, {2, 2, 2, 1},
		{6, 6, 0, 2}, {7, 6, 0, 2},
		{0, 7, 2, 3},
		{4, 4, 1, 0},
	}
	for _, tt := range tests {
		if got := labels.At(tt.x, tt.y, tt.z); got != tt.want {
			t.Errorf("label at (%d,%d,%d) = %v, want %v", tt.x, tt.y, tt.z, got, tt.want)
		}
	}
}

func TestLabelSeeds2D(t *testing.T) {
	mask, _ := volume.New([]volume.AxisType{volume.X, volume.Y}, []int{5, 5})
	mask.Set(1, 0, 0)
	mask.Set(1, 1, 1)
	mask.Set(1, 4, 4)
	_, n, err := LabelSeeds(mask)
	if err != nil {
		t.Fatalf("LabelSeeds failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 components, got %d", n)
	}
}

func TestLabelSeedsRejectsChannels(t *testing.T) {
	mask, _ := volume.New([]volume.AxisType{volume.X, volume.Y, volume.Channel}, []int{4, 4, 2})
	if _, _, err := LabelSeeds(mask); !errors.Is(err, ErrSpatialOnly) {
		t.Errorf("expected ErrSpatialOnly, got %v", err)
	}
}

// touchingBlobs builds a relief with two overlapping Gaussian blobs along X.
func touchingBlobs(t *testing.T) *volume.Image {
	t.Helper()
	relief := newVolume(t, 30, 15, 15)
	centres := [][3]float64{{9, 7, 7}, {20, 7, 7}}
	for z := 0; z < 15; z++ {
		for y := 0; y < 15; y++ {
			for x := 0; x < 30; x++ {
				v := 0.0
				for _, c := range centres {
					dx, dy, dz := float64(x)-c[0], float64(y)-c[1], float64(z)-c[2]
					v += math.Exp(-(dx*dx + dy*dy + dz*dz) / (2 * 16))
				}
				relief.Set(v, x, y, z)
			}
		}
	}
	return relief
}

func TestWatershedSplitsTouchingBlobs(t *testing.T) {
	relief := touchingBlobs(t)
	seeds := newVolume(t, 30, 15, 15)
	seeds.Set(1, 9, 7, 7)
	seeds.Set(2, 20, 7, 7)

	labels, err := Watershed(relief, seeds, WatershedOptions{Threshold: 0.2})
	if err != nil {
		t.Fatalf("Watershed failed: %v", err)
	}
	for x := 0; x < 30; x++ {
		v := relief.At(x, 7, 7)
		got := labels.At(x, 7, 7)
		switch {
		case v <= 0.2:
			if got != 0 {
				t.Errorf("x=%d below threshold labelled %v", x, got)
			}
		case x <= 14:
			if got != 1 {
				t.Errorf("x=%d labelled %v, want 1", x, got)
			}
		case x >= 15:
			if got != 2 {
				t.Errorf("x=%d labelled %v, want 2", x, got)
			}
		}
	}
	if labels.At(0, 0, 0) != 0 {
		t.Errorf("corner should stay background")
	}

	objects, err := Objects(labels)
	if err != nil {
		t.Fatalf("Objects failed: %v", err)
	}
	if len(objects) != 2 || objects[0].Label != 1 || objects[1].Label != 2 {
		t.Fatalf("unexpected objects %+v", objects)
	}
	if d := len(objects[0].Voxels) - len(objects[1].Voxels); d < -50 || d > 50 {
		t.Errorf("symmetric blobs should have similar sizes: %d vs %d",
			len(objects[0].Voxels), len(objects[1].Voxels))
	}
}

func TestWatershedKeepsSeedsBelowThreshold(t *testing.T) {
	relief := newVolume(t, 5, 5, 1)
	seeds := newVolume(t, 5, 5, 1)
	seeds.Set(4, 2, 2, 0)
	labels, err := Watershed(relief, seeds, WatershedOptions{Threshold: 0.5})
	if err != nil {
		t.Fatalf("Watershed failed: %v", err)
	}
	objects, _ := Objects(labels)
	if len(objects) != 1 || objects[0].Label != 4 || len(objects[0].Voxels) != 1 {
		t.Errorf("unexpected objects %+v", objects)
	}
	if objects[0].Voxels[0] != (Voxel{2, 2, 0}) {
		t.Errorf("seed voxel moved to %+v", objects[0].Voxels[0])
	}
}

func TestWatershedShapeMismatch(t *testing.T) {
	if _, err := Watershed(newVolume(t, 4, 4, 4), newVolume(t, 4, 4, 3), WatershedOptions{}); !errors.Is(err, volume.ErrShape) {
		t.Errorf("expected ErrShape, got %v", err)
	}
}

func TestWatershedPreservesOrigin(t *testing.T) {
	relief := newVolume(t, 4, 4, 2)
	relief.Fill(1)
	seeds, _ := newVolume(t, 4, 4, 2).WithMin([]int{10, 20, 0})
	seeds.Set(1, 10, 20, 0)
	relief, _ = relief.WithMin([]int{10, 20, 0})
	labels, err := Watershed(relief, seeds, WatershedOptions{})
	if err != nil {
		t.Fatalf("Watershed failed: %v", err)
	}
	if m := labels.Min(); m[0] != 10 || m[1] != 20 {
		t.Errorf("origin = %v", m)
	}
	for i, v := range labels.Data() {
		if v != 1 {
			t.Fatalf("sample %d = %v, want 1", i, v)
		}
	}
}

func TestWatershedMask(t *testing.T) {
	relief := touchingBlobs(t)
	seeds := newVolume(t, 30, 15, 15)
	seeds.Set(1, 9, 7, 7)
	mask := newVolume(t, 30, 15, 15)
	for z := 0; z < 15; z++ {
		for y := 0; y < 15; y++ {
			for x := 0; x < 12; x++ {
				mask.Set(1, x, y, z)
			}
		}
	}
	labels, err := Watershed(relief, seeds, WatershedOptions{Threshold: math.Inf(-1), Mask: mask})
	if err != nil {
		t.Fatalf("Watershed failed: %v", err)
	}
	for x := 0; x < 30; x++ {
		want := 0.0
		if x < 12 {
			want = 1
		}
		if got := labels.At(x, 3, 7); got != want {
			t.Errorf("x=%d labelled %v, want %v", x, got, want)
		}
	}

	bad := newVolume(t, 2, 2, 2)
	if _, err := Watershed(relief, seeds, WatershedOptions{Mask: bad}); !errors.Is(err, volume.ErrShape) {
		t.Errorf("expected ErrShape for mismatched mask, got %v", err)
	}
}
