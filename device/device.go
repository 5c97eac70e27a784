// Package device describes the physical geometry and identity of a
// microfluidic chip design.
package device

import (
	"fmt"
	"image"
	"math"
)

// Dims is the number of chamber rows and columns on the device.
type Dims struct {
	Rows int `json:"rows" toml:"rows"`
	Cols int `json:"cols" toml:"cols"`
}

// Corners are the pixel centers of the four corner chambers in a stitched
// image: upper left is chamber (1, 1) and lower right is (Cols, Rows).
type Corners struct {
	UL image.Point `json:"ul" toml:"ul"`
	UR image.Point `json:"ur" toml:"ur"`
	LL image.Point `json:"ll" toml:"ll"`
	LR image.Point `json:"lr" toml:"lr"`
}

type Device struct {
	Setup   string
	Name    string
	Dims    Dims
	Corners Corners
	Pins    Pinlist
}

func (d *Device) String() string {
	return fmt.Sprintf("(%s, %s)", d.Setup, d.Name)
}

func (d *Device) Validate() error {
	if d.Dims.Rows < 1 || d.Dims.Cols < 1 {
		return fmt.Errorf("device %s: dims must be positive, got %d rows and %d cols", d, d.Dims.Rows, d.Dims.Cols)
	}
	if d.Corners.UL == d.Corners.LR {
		return fmt.Errorf("device %s: corners are degenerate", d)
	}
	return nil
}

// Chamber is one lattice position.
type Chamber struct {
	X, Y   int // 1-based column and row
	Center image.Point
}

// Lattice interpolates every chamber center bilinearly from the corners, in
// row-major order.
func (d *Device) Lattice() []Chamber {
	out := make([]Chamber, 0, d.Dims.Rows*d.Dims.Cols)

	for y := 1; y <= d.Dims.Rows; y++ {
		v := fraction(y, d.Dims.Rows)
		for x := 1; x <= d.Dims.Cols; x++ {
			u := fraction(x, d.Dims.Cols)

			top := lerp(d.Corners.UL, d.Corners.UR, u)
			bottom := lerp(d.Corners.LL, d.Corners.LR, u)

			out = append(out, Chamber{
				X: x,
				Y: y,
				Center: image.Point{
					X: int(math.Round(top[0] + (bottom[0]-top[0])*v)),
					Y: int(math.Round(top[1] + (bottom[1]-top[1])*v)),
				},
			})
		}
	}

	return out
}

// Pitch is the approximate center-to-center chamber spacing in pixels along
// each axis. Single-row or single-column devices fall back to the other axis.
func (d *Device) Pitch() (dx, dy int) {
	if d.Dims.Cols > 1 {
		dx = int(math.Abs(float64(d.Corners.UR.X-d.Corners.UL.X)) / float64(d.Dims.Cols-1))
	}
	if d.Dims.Rows > 1 {
		dy = int(math.Abs(float64(d.Corners.LL.Y-d.Corners.UL.Y)) / float64(d.Dims.Rows-1))
	}
	if dx == 0 {
		dx = dy
	}
	if dy == 0 {
		dy = dx
	}
	return dx, dy
}

func fraction(i, n int) float64 {
	if n <= 1 {
		return 0
	}
	return float64(i-1) / float64(n-1)
}

func lerp(a, b image.Point, t float64) [2]float64 {
	return [2]float64{
		float64(a.X) + float64(b.X-a.X)*t,
		float64(a.Y) + float64(b.Y-a.Y)*t,
	}
}
