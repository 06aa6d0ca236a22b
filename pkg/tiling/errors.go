package tiling

import (
	"errors"
	"fmt"
)

// Sentinel errors for tiled computation.
var (
	// ErrInvalidPartition is returned when a tile count is not positive or the
	// margin is negative.
	ErrInvalidPartition = errors.New("invalid partition")

	// ErrRegionTooSmall is returned when the grid asks for more tiles along an
	// axis than the image has pixels, leaving an empty nominal tile.
	ErrRegionTooSmall = errors.New("region too small")

	// ErrTileShape is returned (inside a TileError) when a transform result
	// cannot be trimmed back to the tile footprint or disagrees with the
	// canvas on the non-spatial axes.
	ErrTileShape = errors.New("unexpected tile result shape")

	// ErrNoImage is returned when Apply is called without an image or transform.
	ErrNoImage = errors.New("no image or transform")
)

// TileError reports a failure while computing one tile. K and L are the
// tile's grid coordinates along X and Y.
type TileError struct {
	K, L int
	Err  error
}

// Error returns the failing tile and the underlying cause.
func (e *TileError) Error() string {
	return fmt.Sprintf("tile (%d, %d) failed: %v", e.K, e.L, e.Err)
}

// Unwrap returns the underlying cause.
func (e *TileError) Unwrap() error { return e.Err }

// FailedTile returns the coordinates of the tile that caused err, if any.
func FailedTile(err error) (k, l int, ok bool) {
	var te *TileError
	if errors.As(err, &te) {
		return te.K, te.L, true
	}
	return 0, 0, false
}
