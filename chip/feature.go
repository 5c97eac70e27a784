package chip

import (
	"image"
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"
)

// locate returns the intensity-weighted centroid of the bright pixels of a
// stamp, relative to the stamp origin. If nothing rises above the threshold
// the stamp center is used.
func locate(pixels *image.Gray16, k float64) image.Point {
	b := pixels.Bounds()

	values := make([]float64, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			values = append(values, float64(pixels.Gray16At(x, y).Y))
		}
	}

	mean, std := stat.MeanStdDev(values, nil)
	threshold := mean + k*std

	// Raw moments, weighted by how far each pixel rises above the threshold:
	// M00 is the total weight, M10 and M01 the weighted sums of x and y.
	var M00, M10, M01 float64
	i := 0
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			w := values[i] - threshold
			i++
			if w <= 0 {
				continue
			}
			M00 += w
			M10 += w * float64(x)
			M01 += w * float64(y)
		}
	}

	if M00 == 0 {
		return image.Pt(b.Dx()/2, b.Dy()/2)
	}

	return image.Pt(int(math.Round(M10/M00)), int(math.Round(M01/M00)))
}

// measure summarizes the disk of the given radius around center (relative to
// the stamp origin) against the rest of the stamp.
func measure(pixels *image.Gray16, center image.Point, radius int) Feature {
	b := pixels.Bounds()
	r2 := radius * radius

	inside := make([]float64, 0, 4*r2+1)
	outside := make([]float64, 0, b.Dx()*b.Dy())
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			v := float64(pixels.Gray16At(b.Min.X+x, b.Min.Y+y).Y)
			dx, dy := x-center.X, y-center.Y
			if dx*dx+dy*dy <= r2 {
				inside = append(inside, v)
			} else {
				outside = append(outside, v)
			}
		}
	}

	out := Feature{
		Center: center,
		Radius: radius,
		Area:   len(inside),
	}

	// stats returns an error only for empty input, leaving zeros in place.
	out.Median, _ = stats.Median(inside)
	out.Sum, _ = stats.Sum(inside)
	out.BackgroundMedian, _ = stats.Median(outside)

	return out
}
