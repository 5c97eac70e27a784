package collections

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/carbocation/chipcollections/chip"
	"github.com/carbocation/chipcollections/device"
	"github.com/carbocation/chipcollections/table"
)

func init() {
	ShowProgress = false
}

// stubChip stands in for a real chip image. Its summary has one row for each
// of two chambers with the file stem as the median, so joins and concatenations
// are easy to follow.
type stubChip struct {
	path     string
	meta     chip.Meta
	state    chip.State
	located  map[chip.FeatureType]bool
	found    []chip.FeatureType
	mapped   string
	released bool
}

var _ chip.Image = (*stubChip)(nil)

func stubLoader() chip.Loader {
	return chip.LoaderFunc(func(dev *device.Device, path string, meta chip.Meta) (chip.Image, error) {
		return &stubChip{path: path, meta: meta, located: make(map[chip.FeatureType]bool)}, nil
	})
}

func (s *stubChip) Path() string { return s.path }

func (s *stubChip) State() chip.State { return s.state }

func (s *stubChip) Stamp() error {
	s.state = chip.StateStamped
	s.located = make(map[chip.FeatureType]bool)
	s.released = false
	return nil
}

func (s *stubChip) Find(features chip.FeatureType) error {
	if s.state < chip.StateStamped {
		return chip.ErrNotStamped
	}
	for _, ft := range features.Components() {
		s.located[ft] = true
	}
	s.found = append(s.found, features)
	s.state = chip.StateProcessed
	return nil
}

func (s *stubChip) MapTo(target chip.Image, features chip.FeatureType) error {
	for _, ft := range features.Components() {
		if !s.located[ft] {
			return chip.ErrFeaturesMissing
		}
	}
	t, ok := target.(*stubChip)
	if !ok {
		return chip.ErrIncompatibleTarget
	}
	if t.state < chip.StateStamped {
		return chip.ErrNotStamped
	}
	for _, ft := range features.Components() {
		t.located[ft] = true
	}
	t.mapped = s.path
	t.state = chip.StateProcessed
	return nil
}

func (s *stubChip) Summarize() (*table.Table, error) {
	t, err := table.New(chip.IDColumn, "median")
	if err != nil {
		return nil, err
	}
	stem := fileStem(s.path)
	if err := t.AppendStrings(table.Key{X: 2, Y: 1}, "WT", stem); err != nil {
		return nil, err
	}
	if err := t.AppendStrings(table.Key{X: 1, Y: 1}, "WT", stem); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *stubChip) SummaryImage(features chip.FeatureType) (image.Image, error) {
	return image.NewGray16(image.Rect(0, 0, 4, 4)), nil
}

func (s *stubChip) RepoDump(features chip.FeatureType, root, title string, asUbyte bool) error {
	return os.WriteFile(filepath.Join(root, fmt.Sprintf("%s_%s.png", title, features)), nil, 0644)
}

func (s *stubChip) DeleteStamps() {
	s.released = true
}

func testDevice() *device.Device {
	return &device.Device{Setup: "s1", Name: "d1", Dims: device.Dims{Rows: 1, Cols: 2}}
}

// touch creates empty files below dir, making parent directories as needed.
func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, nil, 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func stub(t *testing.T, img chip.Image) *stubChip {
	t.Helper()
	s, ok := img.(*stubChip)
	if !ok {
		t.Fatalf("expected *stubChip, got %T", img)
	}
	return s
}

func column(t *testing.T, tab *table.Table, name string) []string {
	t.Helper()
	cells, err := tab.Column(name)
	if err != nil {
		t.Fatal(err)
	}
	out := make([]string, 0, len(cells))
	for _, c := range cells {
		out = append(out, c.ValueOrZero())
	}
	return out
}
