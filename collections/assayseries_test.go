package collections

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/carbocation/chipcollections/chip"
	"github.com/carbocation/chipcollections/table"
	"github.com/google/go-cmp/cmp"
)

func processedRef(path string, features chip.FeatureType) *stubChip {
	ref := &stubChip{path: path, located: make(map[chip.FeatureType]bool)}
	ref.Stamp()
	ref.Find(features)
	return ref
}

func newTestAssaySeries(t *testing.T, descriptions ...string) *AssaySeries {
	t.Helper()
	a, err := NewAssaySeries(testDevice(), descriptions, processedRef("chamber_ref.tif", chip.FeatureChamber), processedRef("button_ref.tif", chip.FeatureButton))
	if err != nil {
		t.Fatal(err)
	}
	a.Loader = stubLoader()
	return a
}

func TestNewAssaySeriesDuplicate(t *testing.T) {
	if _, err := NewAssaySeries(testDevice(), []string{"1uM", "5uM", "1uM"}, processedRef("chamber_ref.tif", chip.FeatureChamber), nil); !errors.Is(err, ErrDuplicateDescription) {
		t.Errorf("expected ErrDuplicateDescription, got %v", err)
	}

	a := newTestAssaySeries(t, "5uM", "1uM")
	if diff := cmp.Diff([]string{"5uM", "1uM"}, a.Descriptions()); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestAssaySeriesNilReferences(t *testing.T) {
	var missingQuant *ChipQuant
	for name, ref := range map[string]chip.Reference{
		"nil":       nil,
		"typed nil": missingQuant,
	} {
		if _, err := NewAssaySeries(testDevice(), []string{"1uM"}, ref, nil); !errors.Is(err, ErrNoReference) {
			t.Errorf("%s chamber reference: expected ErrNoReference, got %v", name, err)
		}
	}

	a, err := NewAssaySeries(testDevice(), []string{"1uM"}, processedRef("chamber_ref.tif", chip.FeatureChamber), missingQuant)
	if err != nil {
		t.Fatal(err)
	}
	if a.ButtonRef != nil {
		t.Errorf("typed nil button reference kept as %#v", a.ButtonRef)
	}
	a.Loader = stubLoader()

	path := filepath.Join(t.TempDir(), "q.tif")
	if err := a.LoadQuants([]string{"1uM"}, []string{path}, "4egfp", 50); err != nil {
		t.Fatal(err)
	}

	// Buttons are found on the quant itself when there is no button reference.
	a.ButtonRef = missingQuant
	if err := a.ProcessQuants(nil); err != nil {
		t.Fatal(err)
	}
	assay, _ := a.Assay("1uM")
	s := stub(t, assay.Quants()[0].Chip())
	if s.mapped != "" {
		t.Errorf("quant mapped from %q", s.mapped)
	}
	if diff := cmp.Diff([]chip.FeatureType{chip.FeatureButton}, s.found); diff != "" {
		t.Errorf("found mismatch (-want +got):\n%s", diff)
	}

	a.ChamberRef = (*stubChip)(nil)
	if err := a.ProcessKinetics(nil, false); !errors.Is(err, ErrNoReference) {
		t.Errorf("expected ErrNoReference, got %v", err)
	}

	if err := missingQuant.MapTo(s, chip.FeatureButton); !errors.Is(err, ErrNotProcessed) {
		t.Errorf("expected ErrNotProcessed from nil ChipQuant, got %v", err)
	}
}

func TestLoadKin(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "a/StitchedImg_0.tif", "a/StitchedImg_30.tif", "b/StitchedImg_0.tif")

	a := newTestAssaySeries(t, "1uM", "5uM")
	if err := a.LoadKin([]string{"1uM"}, []string{filepath.Join(root, "a")}, "2bf", 500); !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("expected ErrLengthMismatch, got %v", err)
	}
	if err := a.LoadKin([]string{"1uM", "9uM"}, []string{filepath.Join(root, "a"), filepath.Join(root, "b")}, "2bf", 500); !errors.Is(err, ErrUnknownAssay) {
		t.Errorf("expected ErrUnknownAssay, got %v", err)
	}

	if err := a.LoadKin([]string{"1uM", "5uM"}, []string{filepath.Join(root, "a"), filepath.Join(root, "b")}, "2bf", 500); err != nil {
		t.Fatal(err)
	}

	for desc, want := range map[string][]int{"1uM": {0, 30}, "5uM": {0}} {
		assay, _ := a.Assay(desc)
		tc, ok := assay.Series().(*Timecourse)
		if !ok {
			t.Fatalf("%s: expected *Timecourse, got %T", desc, assay.Series())
		}
		if tc.Description() != desc {
			t.Errorf("series description %q, want %q", tc.Description(), desc)
		}
		if diff := cmp.Diff(want, tc.Keys()); diff != "" {
			t.Errorf("%s keys mismatch (-want +got):\n%s", desc, diff)
		}
	}
}

func TestLoadQuants(t *testing.T) {
	a := newTestAssaySeries(t, "1uM", "5uM", "10uM")

	if err := a.LoadQuants([]string{"1uM", "5uM"}, []string{"q.tif"}, "4egfp", 50); !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("expected ErrLengthMismatch, got %v", err)
	}

	// One path is shared by every assay.
	if err := a.LoadQuants([]string{"1uM"}, []string{"shared.tif"}, "4egfp", 50); err != nil {
		t.Fatal(err)
	}
	for _, desc := range a.Descriptions() {
		assay, _ := a.Assay(desc)
		if len(assay.Quants()) != 1 || assay.Quants()[0].Chip().Path() != "shared.tif" {
			t.Errorf("%s: quants not broadcast", desc)
		}
		if assay.Quants()[0].Description() != DefaultQuantDescription {
			t.Errorf("%s: quant description %q", desc, assay.Quants()[0].Description())
		}
	}

	// Paired paths append in order, duplicates allowed.
	if err := a.LoadQuants([]string{"5uM", "5uM"}, []string{"x.tif", "y.tif"}, "4egfp", 50); err != nil {
		t.Fatal(err)
	}
	assay, _ := a.Assay("5uM")
	var paths []string
	for _, q := range assay.Quants() {
		paths = append(paths, q.Chip().Path())
	}
	if diff := cmp.Diff([]string{"shared.tif", "x.tif", "y.tif"}, paths); diff != "" {
		t.Errorf("5uM quants mismatch (-want +got):\n%s", diff)
	}
	if assay, _ := a.Assay("1uM"); len(assay.Quants()) != 1 {
		t.Errorf("1uM gained quants it was not given")
	}

	if err := a.LoadQuants([]string{"2uM", "5uM"}, []string{"x.tif", "y.tif"}, "4egfp", 50); !errors.Is(err, ErrUnknownAssay) {
		t.Errorf("expected ErrUnknownAssay, got %v", err)
	}
}

func TestFolderPatterns(t *testing.T) {
	root := t.TempDir()
	touch(t, root,
		"20240101_A1_kin/0/StitchedImages/StitchedImg_0.tif",
		"20240101_A1_rerun/0/StitchedImages/StitchedImg_0.tif",
		"20240101_B2_kin/0/StitchedImages/StitchedImg_0.tif",
	)

	a := newTestAssaySeries(t, "1uM", "5uM")

	_, err := a.resolveAll(root, "*_{}*/{}", []string{"A1"}, []string{"1uM"})
	if !errors.Is(err, ErrBadPattern) {
		t.Errorf("expected ErrBadPattern, got %v", err)
	}

	err = a.ParseKineticsFolders(root, []string{"A1", "C3"}, []string{"1uM", "5uM"}, "2bf", 500, "")
	var ge *GlobError
	if !errors.As(err, &ge) || !errors.Is(err, ErrNoMatch) || ge.Handle != "C3" {
		t.Errorf("expected a no-match GlobError for C3, got %v", err)
	}

	a.StrictGlob = true
	err = a.ParseKineticsFolders(root, []string{"A1", "B2"}, []string{"1uM", "5uM"}, "2bf", 500, "")
	if !errors.As(err, &ge) || !errors.Is(err, ErrAmbiguousMatch) || len(ge.Matches) != 2 {
		t.Errorf("expected an ambiguous GlobError, got %v", err)
	}

	a.StrictGlob = false
	if err := a.ParseKineticsFolders(root, []string{"A1", "B2"}, []string{"1uM", "5uM"}, "2bf", 500, ""); err != nil {
		t.Fatal(err)
	}
	if a.ChamberRoot != root {
		t.Errorf("ChamberRoot = %q, want %q", a.ChamberRoot, root)
	}
	assay, _ := a.Assay("1uM")
	if want := filepath.Join(root, "20240101_A1_kin/0/StitchedImages"); assay.Series().series().Root() != want {
		t.Errorf("1uM loaded from %q, want the first match %q", assay.Series().series().Root(), want)
	}
}

func TestFolderPatternsBracketedRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "plate[2]")
	touch(t, root, "20240101_A1_kin/0/StitchedImages/StitchedImg_0.tif")

	a := newTestAssaySeries(t, "1uM")
	if err := a.ParseKineticsFolders(root, []string{"A1"}, []string{"1uM"}, "2bf", 500, ""); err != nil {
		t.Fatal(err)
	}
	assay, _ := a.Assay("1uM")
	if want := filepath.Join(root, "20240101_A1_kin/0/StitchedImages"); assay.Series().series().Root() != want {
		t.Errorf("loaded from %q, want %q", assay.Series().series().Root(), want)
	}
	if diff := cmp.Diff([]int{0}, assay.Series().series().Keys()); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}
}

func TestAssaySeriesPipeline(t *testing.T) {
	kinRoot, quantRoot := t.TempDir(), t.TempDir()
	touch(t, kinRoot,
		"20240101_A1_kin/0/StitchedImages/StitchedImg_500_2bf_0.tif",
		"20240101_A1_kin/0/StitchedImages/StitchedImg_500_2bf_60.tif",
		"20240101_B2_kin/0/StitchedImages/StitchedImg_500_2bf_0.tif",
	)
	touch(t, quantRoot,
		"20240102_A1_bq/0/StitchedImages/BGSubtracted_StitchedImg_50_4egfp_0.tif",
		"20240102_B2_bq/0/StitchedImages/BGSubtracted_StitchedImg_50_4egfp_0.tif",
	)

	a := newTestAssaySeries(t, "1uM", "5uM")
	handles, descs := []string{"A1", "B2"}, []string{"1uM", "5uM"}
	if err := a.ParseKineticsFolders(kinRoot, handles, descs, "2bf", 500, ""); err != nil {
		t.Fatal(err)
	}
	if err := a.ParseQuantificationFolders(quantRoot, handles, descs, "4egfp", 50, ""); err != nil {
		t.Fatal(err)
	}
	if a.ButtonRoot != quantRoot {
		t.Errorf("ButtonRoot = %q, want %q", a.ButtonRoot, quantRoot)
	}

	if _, err := a.Summarize(); !errors.Is(err, ErrNotProcessed) {
		t.Errorf("expected ErrNotProcessed before processing, got %v", err)
	}
	if err := a.ProcessQuants([]string{"7uM"}); !errors.Is(err, ErrUnknownAssay) {
		t.Errorf("expected ErrUnknownAssay, got %v", err)
	}

	if err := a.ProcessQuants(nil); err != nil {
		t.Fatal(err)
	}
	if err := a.ProcessKinetics(nil, true); err != nil {
		t.Fatal(err)
	}

	for _, p := range []string{
		"20240101_A1_kin/0/StitchedImages/d1_1uM_Timecourse.csv.bz2",
		"20240101_A1_kin/0/StitchedImages/SummaryImages/Summary_StitchedImg_500_2bf_60.tif",
		"20240101_B2_kin/0/StitchedImages/d1_5uM_Timecourse.csv.bz2",
	} {
		if _, err := os.Stat(filepath.Join(kinRoot, p)); err != nil {
			t.Error(err)
		}
	}
	if _, err := os.Stat(filepath.Join(quantRoot, "20240102_B2_bq/0/StitchedImages/SummaryImages/Summary_BGSubtracted_StitchedImg_50_4egfp_0.tif")); err != nil {
		t.Error(err)
	}

	assay, _ := a.Assay("1uM")
	for _, k := range assay.Series().series().Keys() {
		img, _ := assay.Series().series().Chip(k)
		s := stub(t, img)
		if !s.released || s.mapped != "chamber_ref.tif" {
			t.Errorf("chip %d: released=%v mapped=%q", k, s.released, s.mapped)
		}
	}
	if got := stub(t, assay.Quants()[0].Chip()).mapped; got != "button_ref.tif" {
		t.Errorf("quant mapped from %q", got)
	}

	summary, err := a.Summarize()
	if err != nil {
		t.Fatal(err)
	}
	if summary.Len() != 6 {
		t.Fatalf("expected 6 rows, got %d", summary.Len())
	}
	if diff := cmp.Diff([]string{"1uM", "1uM", "5uM", "1uM", "1uM", "5uM"}, column(t, summary, SeriesIndexColumn)); diff != "" {
		t.Errorf("series_index mismatch (-want +got):\n%s", diff)
	}

	if _, err := a.SaveSummary(filepath.Join(kinRoot, "missing")); !errors.Is(err, ErrExportDirMissing) {
		t.Errorf("expected ErrExportDirMissing, got %v", err)
	}
	path, err := a.SaveSummary("")
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(kinRoot, "d1_TitrationSeries_Analysis.csv.bz2"); path != want {
		t.Errorf("saved to %q, want %q", path, want)
	}

	back, err := table.ReadFile(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if back.Len() != summary.Len() {
		t.Errorf("read back %d rows, want %d", back.Len(), summary.Len())
	}
	if diff := cmp.Diff(summary.Columns(), back.Columns()); diff != "" {
		t.Errorf("columns mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveSummaryNoTarget(t *testing.T) {
	a := newTestAssaySeries(t, "1uM")
	if _, err := a.SaveSummary(""); !errors.Is(err, ErrNoExportTarget) {
		t.Errorf("expected ErrNoExportTarget, got %v", err)
	}
}
