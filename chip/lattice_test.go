package chip

import (
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/carbocation/chipcollections/device"
	"github.com/carbocation/chipcollections/table"
)

var testParams = Params{ButtonRadius: 3, ChamberRadius: 3, ThresholdK: 1}

func testDevice(t *testing.T) *device.Device {
	t.Helper()
	pins, err := device.NewPinlist([]device.Pin{{X: 1, Y: 1, MutantID: "WT"}, {X: 2, Y: 1, MutantID: "A12G"}})
	if err != nil {
		t.Fatal(err)
	}
	return &device.Device{
		Setup: "s1",
		Name:  "d1",
		Dims:  device.Dims{Rows: 2, Cols: 2},
		Corners: device.Corners{
			UL: image.Pt(10, 10),
			UR: image.Pt(30, 10),
			LL: image.Pt(10, 30),
			LR: image.Pt(30, 30),
		},
		Pins: pins,
	}
}

// syntheticChip draws a bright disk of radius 3 offset by (2, 1) from every
// lattice center.
func syntheticChip(t *testing.T, dev *device.Device, bright uint16) *Lattice {
	t.Helper()
	img := image.NewGray16(image.Rect(0, 0, 40, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 40; x++ {
			img.SetGray16(x, y, color.Gray16{Y: 100})
		}
	}
	for _, c := range dev.Lattice() {
		cx, cy := c.Center.X+2, c.Center.Y+1
		for y := cy - 3; y <= cy+3; y++ {
			for x := cx - 3; x <= cx+3; x++ {
				if (x-cx)*(x-cx)+(y-cy)*(y-cy) <= 9 {
					img.SetGray16(x, y, color.Gray16{Y: bright})
				}
			}
		}
	}

	l, err := NewLattice(dev, "synthetic_1.tif", Meta{Channel: "2bf", Exposure: 50}, testParams, img)
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func value(t *testing.T, tab *table.Table, row int, column string) string {
	t.Helper()
	v, err := tab.Value(row, column)
	if err != nil {
		t.Fatal(err)
	}
	return v.ValueOrZero()
}

func TestParseFeatureType(t *testing.T) {
	for _, s := range []string{"button", "chamber", "all"} {
		if _, err := ParseFeatureType(s); err != nil {
			t.Errorf("%s: %v", s, err)
		}
	}
	if _, err := ParseFeatureType("buttons"); !errors.Is(err, ErrInvalidFeature) {
		t.Errorf("Expected ErrInvalidFeature, got %v", err)
	}
	if c := FeatureAll.Components(); len(c) != 2 {
		t.Errorf("Expected 2 components for all, got %v", c)
	}
}

func TestLatticeStateMachine(t *testing.T) {
	dev := testDevice(t)
	l := syntheticChip(t, dev, 5000)

	if l.State() != StateLoaded {
		t.Fatalf("Expected loaded, got %s", l.State())
	}
	if err := l.Find(FeatureChamber); !errors.Is(err, ErrNotStamped) {
		t.Errorf("Expected ErrNotStamped, got %v", err)
	}
	if _, err := l.Summarize(); !errors.Is(err, ErrNotProcessed) {
		t.Errorf("Expected ErrNotProcessed, got %v", err)
	}

	if err := l.Stamp(); err != nil {
		t.Fatal(err)
	}
	if l.State() != StateStamped {
		t.Fatalf("Expected stamped, got %s", l.State())
	}
	if err := l.Find(FeatureType("nope")); !errors.Is(err, ErrInvalidFeature) {
		t.Errorf("Expected ErrInvalidFeature, got %v", err)
	}
	if err := l.Find(FeatureChamber); err != nil {
		t.Fatal(err)
	}
	if l.State() != StateProcessed {
		t.Fatalf("Expected processed, got %s", l.State())
	}
}

func TestLatticeFindAndSummarize(t *testing.T) {
	dev := testDevice(t)
	l := syntheticChip(t, dev, 5000)
	if err := l.Stamp(); err != nil {
		t.Fatal(err)
	}
	if err := l.Find(FeatureChamber); err != nil {
		t.Fatal(err)
	}

	summary, err := l.Summarize()
	if err != nil {
		t.Fatal(err)
	}
	if summary.Len() != 4 {
		t.Fatalf("Expected 4 rows, got %d", summary.Len())
	}
	if summary.HasColumn("button_median") {
		t.Error("Buttons were never located but have a column")
	}

	if k := summary.Row(0).Key; k != (table.Key{X: 1, Y: 1}) {
		t.Errorf("Expected first key (1, 1), got %v", k)
	}
	for column, expected := range map[string]string{
		IDColumn:            "WT",
		"chamber_x":         "12",
		"chamber_y":         "11",
		"chamber_median":    "5000",
		"chamber_bg_median": "100",
		"chamber_area":      "29",
	} {
		if got := value(t, summary, 0, column); got != expected {
			t.Errorf("%s: got %s, expected %s", column, got, expected)
		}
	}

	// No pin at (1, 2)
	if v, _ := summary.Value(2, IDColumn); v.Valid {
		t.Errorf("Expected a null id, got %v", v)
	}
}

func TestLatticeMapTo(t *testing.T) {
	dev := testDevice(t)
	ref := syntheticChip(t, dev, 5000)
	ref.Stamp()
	if err := ref.Find(FeatureChamber); err != nil {
		t.Fatal(err)
	}

	target := syntheticChip(t, dev, 2000)
	if err := ref.MapTo(target, FeatureChamber); !errors.Is(err, ErrNotStamped) {
		t.Errorf("Expected ErrNotStamped, got %v", err)
	}
	target.Stamp()
	if err := ref.MapTo(target, FeatureButton); !errors.Is(err, ErrFeaturesMissing) {
		t.Errorf("Expected ErrFeaturesMissing, got %v", err)
	}
	if err := ref.MapTo(target, FeatureChamber); err != nil {
		t.Fatal(err)
	}

	summary, err := target.Summarize()
	if err != nil {
		t.Fatal(err)
	}
	if got := value(t, summary, 3, "chamber_median"); got != "2000" {
		t.Errorf("Expected the mapped chamber to measure 2000, got %s", got)
	}
	if got := value(t, summary, 3, "chamber_x"); got != "32" {
		t.Errorf("Expected chamber_x 32, got %s", got)
	}
}

func TestLatticeDeleteStamps(t *testing.T) {
	dev := testDevice(t)
	l := syntheticChip(t, dev, 5000)
	l.Stamp()
	l.Find(FeatureChamber)
	l.DeleteStamps()

	if _, err := l.Summarize(); err != nil {
		t.Errorf("Summaries should survive released stamps: %v", err)
	}
	if err := l.Find(FeatureChamber); !errors.Is(err, ErrStampsReleased) {
		t.Errorf("Expected ErrStampsReleased, got %v", err)
	}
	if _, err := l.SummaryImage(FeatureChamber); !errors.Is(err, ErrStampsReleased) {
		t.Errorf("Expected ErrStampsReleased, got %v", err)
	}

	// Stamping again recovers
	if err := l.Stamp(); err != nil {
		t.Fatal(err)
	}
	if err := l.Find(FeatureChamber); err != nil {
		t.Error(err)
	}
}

func TestLatticeSummaryImageAndRepoDump(t *testing.T) {
	dev := testDevice(t)
	l := syntheticChip(t, dev, 5000)
	l.Stamp()
	l.Find(FeatureAll)

	img, err := l.SummaryImage(FeatureAll)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 40 || b.Dy() != 40 {
		t.Errorf("Expected a 40x40 summary, got %v", b)
	}

	root := t.TempDir()
	if err := l.RepoDump(FeatureButton, root, "s1d1_Button_Quant", true); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{
		filepath.Join(root, "WT", "1_1", "s1d1_Button_Quant.png"),
		filepath.Join(root, "A12G", "2_1", "s1d1_Button_Quant.png"),
		filepath.Join(root, "NA", "2_2", "s1d1_Button_Quant.png"),
	} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("Expected %s: %v", p, err)
		}
	}
}

func TestTIFFRoundTrip(t *testing.T) {
	img := image.NewGray16(image.Rect(0, 0, 4, 3))
	img.SetGray16(2, 1, color.Gray16{Y: 4242})

	path := filepath.Join(t.TempDir(), "img_1.tif")
	if err := WriteTIFF(path, img); err != nil {
		t.Fatal(err)
	}

	got, err := ReadImage(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if v := toGray16(got).Gray16At(2, 1).Y; v != 4242 {
		t.Errorf("Expected 4242, got %d", v)
	}

	l, err := DefaultLoader.Load(testDevice(t), path, Meta{})
	if err != nil {
		t.Fatal(err)
	}
	if l.Path() != path || l.State() != StateLoaded {
		t.Errorf("Unexpected chip %v in state %s", l.Path(), l.State())
	}
}

func TestLatticeDeleteStampsDropsImage(t *testing.T) {
	dev := testDevice(t)
	path := filepath.Join(t.TempDir(), "StitchedImg_500_2bf_0.tif")
	if err := WriteTIFF(path, syntheticChip(t, dev, 5000).img); err != nil {
		t.Fatal(err)
	}

	l, err := OpenLattice(dev, path, Meta{}, testParams, nil)
	if err != nil {
		t.Fatal(err)
	}
	l.Stamp()
	l.Find(FeatureChamber)
	l.DeleteStamps()

	if l.img != nil {
		t.Fatal("Expected the decoded image to be released along with the stamps")
	}
	if got := value(t, mustSummarize(t, l), 0, "chamber_median"); got != "5000" {
		t.Errorf("Expected the released chip to keep its measurements, got %s", got)
	}

	// Stamping again decodes the file again
	if err := l.Stamp(); err != nil {
		t.Fatal(err)
	}
	if err := l.Find(FeatureChamber); err != nil {
		t.Fatal(err)
	}
	if got := value(t, mustSummarize(t, l), 0, "chamber_median"); got != "5000" {
		t.Errorf("Expected 5000 after re-stamping, got %s", got)
	}

	// An image handed over in memory has nowhere to be read back from
	mem := syntheticChip(t, dev, 5000)
	mem.Stamp()
	mem.DeleteStamps()
	if mem.img == nil {
		t.Error("An in-memory image must be kept")
	}
}

func mustSummarize(t *testing.T, l *Lattice) *table.Table {
	t.Helper()
	summary, err := l.Summarize()
	if err != nil {
		t.Fatal(err)
	}
	return summary
}
