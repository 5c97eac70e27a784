package chip

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strconv"

	"github.com/carbocation/chipcollections/table"
	"github.com/carbocation/pfx"
	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"gopkg.in/guregu/null.v3"
)

// IDColumn holds the pinlist identifier of each chamber.
const IDColumn = "id"

var featureColors = map[FeatureType]color.Color{
	FeatureChamber: color.RGBA{R: 0, G: 200, B: 0, A: 255},
	FeatureButton:  color.RGBA{R: 220, G: 0, B: 0, A: 255},
}

// Summarize returns one row per chamber with the pinlist id and, for every
// located feature type, its absolute position and measurements.
func (l *Lattice) Summarize() (*table.Table, error) {
	if l.state < StateProcessed {
		return nil, fmt.Errorf("%s: %w", l.path, ErrNotProcessed)
	}

	located := make([]FeatureType, 0, 2)
	columns := []string{IDColumn}
	for _, ft := range FeatureAll.Components() {
		if !l.located[ft] {
			continue
		}
		located = append(located, ft)
		for _, suffix := range []string{"x", "y", "radius", "median", "sum", "area", "bg_median"} {
			columns = append(columns, string(ft)+"_"+suffix)
		}
	}

	out, err := table.New(columns...)
	if err != nil {
		return nil, err
	}

	for _, s := range l.stamps {
		values := make([]null.String, 0, len(columns))

		if pin, exists := l.device.Pins.Lookup(s.key.X, s.key.Y); exists {
			values = append(values, null.StringFrom(pin.MutantID))
		} else {
			values = append(values, null.String{})
		}

		for _, ft := range located {
			f := s.features[ft]
			values = append(values,
				null.StringFrom(strconv.Itoa(s.bounds.Min.X+f.Center.X)),
				null.StringFrom(strconv.Itoa(s.bounds.Min.Y+f.Center.Y)),
				null.StringFrom(strconv.Itoa(f.Radius)),
				null.StringFrom(formatFloat(f.Median)),
				null.StringFrom(formatFloat(f.Sum)),
				null.StringFrom(strconv.Itoa(f.Area)),
				null.StringFrom(formatFloat(f.BackgroundMedian)),
			)
		}

		if err := out.Append(s.key, values...); err != nil {
			return nil, err
		}
	}

	return out, nil
}

// SummaryImage tiles every stamp, rescaled to 8 bits, in device order and
// circles the located features of the requested type.
func (l *Lattice) SummaryImage(features FeatureType) (image.Image, error) {
	if !features.Valid() {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidFeature, features)
	}
	if err := l.requireStamps(); err != nil {
		return nil, err
	}

	lo, hi := extrema(l.img)

	panes := make([]image.Image, 0, len(l.stamps))
	for _, s := range l.stamps {
		dc := gg.NewContextForImage(toUbyte(s.pixels, lo, hi))
		dc.SetLineWidth(1)
		for _, ft := range features.Components() {
			f, exists := s.features[ft]
			if !exists {
				continue
			}
			dc.SetColor(featureColors[ft])
			dc.DrawCircle(float64(f.Center.X), float64(f.Center.Y), float64(f.Radius))
			dc.Stroke()
		}
		panes = append(panes, dc.Image())
	}

	return imageGrid(panes, l.device.Dims.Cols)
}

// imageGrid pastes equally sized panes row by row, ncols per row, onto a black
// background. Panes at the image edge can be smaller; every cell is as large
// as the largest pane.
func imageGrid(panes []image.Image, ncols int) (image.Image, error) {
	if len(panes) == 0 || ncols < 1 {
		return nil, fmt.Errorf("imageGrid: nothing to draw")
	}

	maxWidth, maxHeight := 0, 0
	for i, pane := range panes {
		if pane.Bounds().Dx() == 0 || pane.Bounds().Dy() == 0 {
			return nil, fmt.Errorf("imageGrid: pane %d has a height or width of 0", i)
		}
		if x := pane.Bounds().Dx(); x > maxWidth {
			maxWidth = x
		}
		if y := pane.Bounds().Dy(); y > maxHeight {
			maxHeight = y
		}
	}

	nrows := len(panes) / ncols
	if len(panes)%ncols != 0 {
		nrows++
	}

	out := imaging.New(ncols*maxWidth, nrows*maxHeight, color.Black)
	for i, pane := range panes {
		row, col := i/ncols, i%ncols
		out = imaging.Paste(out, pane, image.Pt(col*maxWidth, row*maxHeight))
	}

	return out, nil
}

// RepoDump writes a crop around each located feature as a PNG to
// root/<MutantID>/<x>_<y>/<title>.png. Chambers without a pin go under NA.
func (l *Lattice) RepoDump(features FeatureType, root, title string, asUbyte bool) error {
	if !features.Valid() {
		return fmt.Errorf("%w: got %q", ErrInvalidFeature, features)
	}
	if err := l.requireStamps(); err != nil {
		return err
	}

	lo, hi := extrema(l.img)

	for _, s := range l.stamps {
		mutant := "NA"
		if pin, exists := l.device.Pins.Lookup(s.key.X, s.key.Y); exists && pin.MutantID != "" {
			mutant = pin.MutantID
		}

		for _, ft := range features.Components() {
			f, exists := s.features[ft]
			if !exists {
				continue
			}

			half := 2 * f.Radius
			origin := s.pixels.Bounds().Min
			r := image.Rect(f.Center.X-half, f.Center.Y-half, f.Center.X+half+1, f.Center.Y+half+1).Add(origin).Intersect(s.pixels.Bounds())
			crop := s.pixels.SubImage(r).(*image.Gray16)

			var out image.Image = crop
			if asUbyte {
				out = toUbyte(crop, lo, hi)
			}

			dir := filepath.Join(root, mutant, fmt.Sprintf("%d_%d", s.key.X, s.key.Y))
			if err := os.MkdirAll(dir, 0755); err != nil {
				return pfx.Err(err)
			}

			name := title
			if len(features.Components()) > 1 {
				name = title + "_" + string(ft)
			}
			if err := imaging.Save(out, filepath.Join(dir, name+".png")); err != nil {
				return pfx.Err(err)
			}
		}
	}

	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
