package chip

import (
	"fmt"
	"image"
	"image/draw"
	"path/filepath"

	"cloud.google.com/go/storage"
	"github.com/carbocation/chipcollections/device"
	"github.com/carbocation/chipcollections/table"
	"github.com/sirupsen/logrus"
)

// Params control feature finding on a Lattice.
type Params struct {
	ButtonRadius  int
	ChamberRadius int

	// Pixels brighter than mean + ThresholdK*stddev of a stamp contribute to
	// the located feature center.
	ThresholdK float64
}

var DefaultParams = Params{
	ButtonRadius:  4,
	ChamberRadius: 10,
	ThresholdK:    1,
}

func (p Params) radius(f FeatureType) int {
	if f == FeatureButton {
		return p.ButtonRadius
	}
	return p.ChamberRadius
}

// LatticeLoader opens images as Lattice chips. Client is only needed when
// paths point into Google Storage.
type LatticeLoader struct {
	Params Params
	Client *storage.Client
}

func (l LatticeLoader) Load(dev *device.Device, path string, meta Meta) (Image, error) {
	params := l.Params
	if params == (Params{}) {
		params = DefaultParams
	}
	return OpenLattice(dev, path, meta, params, l.Client)
}

var DefaultLoader Loader = LatticeLoader{Params: DefaultParams}

// Feature is one located feature. Center is relative to its stamp so that it
// can be carried to another image of the same device.
type Feature struct {
	Center image.Point
	Radius int

	Median           float64
	Sum              float64
	Area             int
	BackgroundMedian float64
}

type stamp struct {
	key      table.Key
	bounds   image.Rectangle
	pixels   *image.Gray16
	features map[FeatureType]Feature
}

// Lattice is a chip image whose chambers sit on the grid interpolated from the
// device corners.
type Lattice struct {
	device *device.Device
	path   string
	meta   Meta
	params Params

	img      *image.Gray16
	state    State
	stamps   []stamp
	located  map[FeatureType]bool
	released bool

	// reload re-decodes the image after DeleteStamps dropped it. Nil when the
	// image was handed over already decoded.
	reload func() (image.Image, error)
}

func OpenLattice(dev *device.Device, path string, meta Meta, params Params, client *storage.Client) (*Lattice, error) {
	img, err := ReadImage(path, client)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	l, err := NewLattice(dev, path, meta, params, img)
	if err != nil {
		return nil, err
	}
	l.reload = func() (image.Image, error) {
		return ReadImage(path, client)
	}

	return l, nil
}

// NewLattice wraps an already decoded image.
func NewLattice(dev *device.Device, path string, meta Meta, params Params, img image.Image) (*Lattice, error) {
	if err := dev.Validate(); err != nil {
		return nil, err
	}

	return &Lattice{
		device:  dev,
		path:    path,
		meta:    meta,
		params:  params,
		img:     toGray16(img),
		state:   StateLoaded,
		located: make(map[FeatureType]bool),
	}, nil
}

func (l *Lattice) Path() string {
	return l.path
}

func (l *Lattice) State() State {
	return l.state
}

func (l *Lattice) Meta() Meta {
	return l.meta
}

func (l *Lattice) String() string {
	return fmt.Sprintf("%s %s (%s, %dms)", l.device, filepath.Base(l.path), l.meta.Channel, l.meta.Exposure)
}

// Stamp crops one stamp per chamber, centered on the lattice position and one
// pitch wide. Re-stamping discards any located features.
func (l *Lattice) Stamp() error {
	if l.img == nil {
		img, err := l.reload()
		if err != nil {
			return fmt.Errorf("%s: %w", l.path, err)
		}
		l.img = toGray16(img)
	}

	dx, dy := l.device.Pitch()
	if dx < 1 || dy < 1 {
		// A single chamber device has no pitch; use the whole image.
		dx, dy = l.img.Bounds().Dx(), l.img.Bounds().Dy()
	}

	lattice := l.device.Lattice()
	stamps := make([]stamp, 0, len(lattice))
	for _, c := range lattice {
		r := image.Rect(c.Center.X-dx/2, c.Center.Y-dy/2, c.Center.X+dx-dx/2, c.Center.Y+dy-dy/2).Intersect(l.img.Bounds())
		if r.Empty() {
			return fmt.Errorf("%s: chamber (%d, %d) at %v falls outside the image %v", l.path, c.X, c.Y, c.Center, l.img.Bounds())
		}

		// Copy, so that releasing the stamps releases their memory.
		pixels := image.NewGray16(r)
		draw.Draw(pixels, r, l.img, r.Min, draw.Src)

		stamps = append(stamps, stamp{
			key:      table.Key{X: c.X, Y: c.Y},
			bounds:   r,
			pixels:   pixels,
			features: make(map[FeatureType]Feature),
		})
	}

	l.stamps = stamps
	l.located = make(map[FeatureType]bool)
	l.released = false
	l.state = StateStamped

	logrus.WithField("chip", l.String()).Debugf("Stamped %d chambers", len(stamps))

	return nil
}

func (l *Lattice) requireStamps() error {
	if l.state < StateStamped {
		return fmt.Errorf("%s: %w", l.path, ErrNotStamped)
	}
	if l.released {
		return fmt.Errorf("%s: %w", l.path, ErrStampsReleased)
	}
	return nil
}

// Find locates features directly in every stamp.
func (l *Lattice) Find(features FeatureType) error {
	if !features.Valid() {
		return fmt.Errorf("%w: got %q", ErrInvalidFeature, features)
	}
	if err := l.requireStamps(); err != nil {
		return err
	}

	for _, ft := range features.Components() {
		radius := l.params.radius(ft)
		for i := range l.stamps {
			s := &l.stamps[i]
			center := locate(s.pixels, l.params.ThresholdK)
			s.features[ft] = measure(s.pixels, center, radius)
		}
		l.located[ft] = true
	}

	l.state = StateProcessed
	return nil
}

// MapTo copies this chip's stamp-relative feature positions onto target and
// measures them there. target must be a stamped Lattice of the same device.
func (l *Lattice) MapTo(target Image, features FeatureType) error {
	if !features.Valid() {
		return fmt.Errorf("%w: got %q", ErrInvalidFeature, features)
	}
	for _, ft := range features.Components() {
		if !l.located[ft] {
			return fmt.Errorf("%s: %s: %w", l.path, ft, ErrFeaturesMissing)
		}
	}

	t, ok := target.(*Lattice)
	if !ok {
		return fmt.Errorf("%w: %T", ErrIncompatibleTarget, target)
	}
	if err := t.requireStamps(); err != nil {
		return err
	}
	if len(t.stamps) != len(l.stamps) {
		return fmt.Errorf("%w: %d stamps on the reference but %d on %s", ErrIncompatibleTarget, len(l.stamps), len(t.stamps), t.path)
	}

	for _, ft := range features.Components() {
		for i := range t.stamps {
			ref := l.stamps[i].features[ft]
			s := &t.stamps[i]
			s.features[ft] = measure(s.pixels, clampTo(ref.Center, s.pixels.Bounds().Size()), ref.Radius)
		}
		t.located[ft] = true
	}

	t.state = StateProcessed
	return nil
}

// DeleteStamps also drops the decoded image when it can be read again from
// its file, so a released chip holds only its feature measurements.
func (l *Lattice) DeleteStamps() {
	for i := range l.stamps {
		l.stamps[i].pixels = nil
	}
	if len(l.stamps) > 0 {
		l.released = true
	}
	if l.reload != nil {
		l.img = nil
	}
}

func clampTo(p image.Point, size image.Point) image.Point {
	if p.X >= size.X {
		p.X = size.X - 1
	}
	if p.Y >= size.Y {
		p.Y = size.Y - 1
	}
	if p.X < 0 {
		p.X = 0
	}
	if p.Y < 0 {
		p.Y = 0
	}
	return p
}
