package filter

import (
	"context"

	"tiledseg/pkg/tiling"
	"tiledseg/pkg/volume"
)

// Identity returns a transform that copies its region.
func Identity() tiling.Transform {
	return func(_ context.Context, region *volume.Image) (*volume.Image, error) {
		return region.Clone(), nil
	}
}

// GaussianTransform adapts Gaussian for tiled application.
func GaussianTransform(s Sigmas) tiling.Transform {
	return func(_ context.Context, region *volume.Image) (*volume.Image, error) {
		return Gaussian(region, s)
	}
}

// BoxBlurTransform adapts BoxBlur for tiled application.
func BoxBlurTransform(radius int) tiling.Transform {
	return func(_ context.Context, region *volume.Image) (*volume.Image, error) {
		return BoxBlur(region, radius)
	}
}

// DoGTransform adapts DifferenceOfGaussians for tiled application.
func DoGTransform(s Sigmas, ratio float64) tiling.Transform {
	return func(_ context.Context, region *volume.Image) (*volume.Image, error) {
		return DifferenceOfGaussians(region, s, ratio)
	}
}
