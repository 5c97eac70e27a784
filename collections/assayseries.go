package collections

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/carbocation/chipcollections/chip"
	"github.com/carbocation/chipcollections/device"
	"github.com/carbocation/chipcollections/table"
	"github.com/carbocation/pfx"
	"github.com/sirupsen/logrus"
	"gopkg.in/guregu/null.v3"
)

const (
	// The single {} in each pattern is replaced by a file handle.
	DefaultKineticsPattern       = "*_{}*/*/StitchedImages"
	DefaultQuantificationPattern = "*_{}*/*/StitchedImages/BGSubtracted_StitchedImg*.tif"

	DefaultQuantDescription = "Button_Quant"

	// SeriesIndexColumn holds the assay description in AssaySeries summaries.
	SeriesIndexColumn = "series_index"
)

// AssaySeries is an ordered set of turnover assays run on one device. Every
// assay shares the device and the two feature references.
type AssaySeries struct {
	Device *device.Device
	Attrs  map[string]string

	ChamberRef chip.Reference
	ButtonRef  chip.Reference

	// Set by ParseKineticsFolders and ParseQuantificationFolders.
	ChamberRoot string
	ButtonRoot  string

	// StrictGlob makes a folder pattern with several matches an error instead
	// of taking the first match in lexical order.
	StrictGlob bool

	// QuantDescription names the quants created by LoadQuants.
	QuantDescription string

	// Loader is handed to every series and quant. Nil means chip.DefaultLoader.
	Loader chip.Loader

	order  []string
	assays map[string]*TurnoverAssay
}

// NewAssaySeries creates one empty TurnoverAssay per description. chamberRef
// is required; a nil buttonRef means buttons are located on each quant.
func NewAssaySeries(dev *device.Device, descriptions []string, chamberRef, buttonRef chip.Reference) (*AssaySeries, error) {
	if isNilReference(chamberRef) {
		return nil, ErrNoReference
	}
	if isNilReference(buttonRef) {
		buttonRef = nil
	}

	a := &AssaySeries{
		Device:           dev,
		Attrs:            make(map[string]string),
		ChamberRef:       chamberRef,
		ButtonRef:        buttonRef,
		QuantDescription: DefaultQuantDescription,
		order:            make([]string, 0, len(descriptions)),
		assays:           make(map[string]*TurnoverAssay, len(descriptions)),
	}

	for _, desc := range descriptions {
		if _, exists := a.assays[desc]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateDescription, desc)
		}
		a.order = append(a.order, desc)
		a.assays[desc] = NewTurnoverAssay(dev, desc)
	}

	logrus.WithField("assays", a.order).Debug("AssaySeries Created")
	logrus.WithField("reference", fmt.Sprint(chamberRef)).Debug("AssaySeries Chamber Reference Set")
	logrus.WithField("reference", fmt.Sprint(buttonRef)).Debug("AssaySeries Button Reference Set")

	return a, nil
}

// Descriptions returns the assay descriptions in construction order.
func (a *AssaySeries) Descriptions() []string {
	return append([]string(nil), a.order...)
}

func (a *AssaySeries) Assay(description string) (*TurnoverAssay, bool) {
	assay, exists := a.assays[description]
	return assay, exists
}

func (a *AssaySeries) lookup(description string) (*TurnoverAssay, error) {
	assay, exists := a.assays[description]
	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAssay, description)
	}
	return assay, nil
}

// LoadKin loads one timecourse directory per assay. descriptions must name
// every assay and pair with paths by position.
func (a *AssaySeries) LoadKin(descriptions, paths []string, channel string, exposure int) error {
	if len(descriptions) != len(a.order) {
		return fmt.Errorf("%w: %d descriptions for %d assays", ErrLengthMismatch, len(descriptions), len(a.order))
	}
	if len(descriptions) != len(paths) {
		return fmt.Errorf("%w: %d descriptions, %d paths", ErrLengthMismatch, len(descriptions), len(paths))
	}
	for _, desc := range descriptions {
		if _, err := a.lookup(desc); err != nil {
			return err
		}
	}

	for i, desc := range descriptions {
		t := NewTimecourse(a.Device, desc)
		t.Loader = a.Loader
		if err := t.LoadFiles(paths[i], channel, exposure, LoadOptions{}); err != nil {
			return fmt.Errorf("assay %q: %w", desc, err)
		}
		if err := a.assays[desc].AddSeries(t); err != nil {
			return err
		}
	}

	return nil
}

// LoadQuants adds one quant per description/path pair to the matching assay.
// A single path is loaded into every assay.
func (a *AssaySeries) LoadQuants(descriptions, paths []string, channel string, exposure int) error {
	if len(descriptions) != len(paths) {
		return fmt.Errorf("%w: %d descriptions, %d paths", ErrLengthMismatch, len(descriptions), len(paths))
	}

	if len(paths) == 1 {
		descriptions = a.Descriptions()
		broadcast := make([]string, len(descriptions))
		for i := range broadcast {
			broadcast[i] = paths[0]
		}
		paths = broadcast
	}

	for _, desc := range descriptions {
		if _, err := a.lookup(desc); err != nil {
			return err
		}
	}

	for i, desc := range descriptions {
		q := NewChipQuant(a.Device, a.QuantDescription)
		q.Loader = a.Loader
		if err := q.LoadFile(paths[i], channel, exposure); err != nil {
			return fmt.Errorf("assay %q: %w", desc, err)
		}
		a.assays[desc].AddQuant(q)
	}

	return nil
}

// ParseKineticsFolders finds the kinetic imaging folder of each handle below
// root and loads it with LoadKin. An empty pattern means
// DefaultKineticsPattern.
func (a *AssaySeries) ParseKineticsFolders(root string, handles, descriptors []string, channel string, exposure int, pattern string) error {
	if pattern == "" {
		pattern = DefaultKineticsPattern
	}

	paths, err := a.resolveAll(root, pattern, handles, descriptors)
	if err != nil {
		return err
	}
	a.ChamberRoot = root

	return a.LoadKin(descriptors, paths, channel, exposure)
}

// ParseQuantificationFolders finds the quantification image of each handle
// below root and loads it with LoadQuants. An empty pattern means
// DefaultQuantificationPattern.
func (a *AssaySeries) ParseQuantificationFolders(root string, handles, descriptors []string, channel string, exposure int, pattern string) error {
	if pattern == "" {
		pattern = DefaultQuantificationPattern
	}

	paths, err := a.resolveAll(root, pattern, handles, descriptors)
	if err != nil {
		return err
	}
	a.ButtonRoot = root

	return a.LoadQuants(descriptors, paths, channel, exposure)
}

func (a *AssaySeries) resolveAll(root, pattern string, handles, descriptors []string) ([]string, error) {
	if strings.Count(pattern, "{}") != 1 {
		return nil, fmt.Errorf("%w: %q", ErrBadPattern, pattern)
	}
	if len(handles) != len(descriptors) {
		return nil, fmt.Errorf("%w: %d handles, %d descriptors", ErrLengthMismatch, len(handles), len(descriptors))
	}

	paths := make([]string, 0, len(handles))
	for _, handle := range handles {
		p, err := a.resolve(root, pattern, handle)
		if err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}

	return paths, nil
}

// resolve expands pattern for one handle. Zero matches is always an error;
// several matches are an error only under StrictGlob.
func (a *AssaySeries) resolve(root, pattern, handle string) (string, error) {
	expanded := strings.Replace(pattern, "{}", handle, 1)
	glob := filepath.Join(root, expanded)
	matches, err := globIn(root, expanded)
	if err != nil {
		return "", pfx.Err(err)
	}

	switch {
	case len(matches) == 0:
		return "", &GlobError{Pattern: glob, Handle: handle, Err: ErrNoMatch}
	case len(matches) > 1 && a.StrictGlob:
		return "", &GlobError{Pattern: glob, Handle: handle, Matches: matches, Err: ErrAmbiguousMatch}
	case len(matches) > 1:
		logrus.WithFields(logrus.Fields{"handle": handle, "matches": matches}).Warnf("Pattern %s matched %d paths, using the first", glob, len(matches))
	}

	return matches[0], nil
}

func (a *AssaySeries) subset(descriptions []string) ([]*TurnoverAssay, error) {
	if len(descriptions) == 0 {
		descriptions = a.order
	}

	out := make([]*TurnoverAssay, 0, len(descriptions))
	for _, desc := range descriptions {
		assay, err := a.lookup(desc)
		if err != nil {
			return nil, err
		}
		out = append(out, assay)
	}
	return out, nil
}

// ProcessQuants maps button positions from ButtonRef onto every quant of the
// chosen assays (all when subset is empty) and saves each quant's summary
// image next to its source image.
func (a *AssaySeries) ProcessQuants(subset []string) error {
	assays, err := a.subset(subset)
	if err != nil {
		return err
	}

	bar := newProgress(len(assays), "Mapping and Processing Buttons")
	defer bar.Finish()

	for _, assay := range assays {
		for _, q := range assay.quants {
			if err := q.Process(a.ButtonRef, chip.FeatureButton); err != nil {
				return fmt.Errorf("assay %q: %w", assay.description, err)
			}
			if _, err := q.SaveSummaryImage(""); err != nil {
				return fmt.Errorf("assay %q: %w", assay.description, err)
			}
		}
		bar.Add(1)
	}

	return nil
}

// isNilReference reports whether r is nil or a nil pointer wrapped in the
// interface.
func isNilReference(r chip.Reference) bool {
	if r == nil {
		return true
	}
	v := reflect.ValueOf(r)
	return v.Kind() == reflect.Ptr && v.IsNil()
}

type referencedProcessor interface {
	Process(reference chip.Reference, features chip.FeatureType) error
}

type selfProcessor interface {
	Process(features chip.FeatureType) error
}

// ProcessKinetics maps chamber positions from ChamberRef onto each chosen
// assay's series (all when subset is empty), then saves the series summary
// and summary images into the series root. With lowMem the stamps are
// released once saved.
func (a *AssaySeries) ProcessKinetics(subset []string, lowMem bool) error {
	if isNilReference(a.ChamberRef) {
		return ErrNoReference
	}

	assays, err := a.subset(subset)
	if err != nil {
		return err
	}

	for _, assay := range assays {
		if assay.series == nil {
			return fmt.Errorf("%s: %w", assay, ErrNoSeries)
		}

		switch s := assay.series.(type) {
		case referencedProcessor:
			err = s.Process(a.ChamberRef, chip.FeatureChamber)
		case selfProcessor:
			err = s.Process(chip.FeatureChamber)
		default:
			err = assay.series.series().MapFrom(a.ChamberRef, chip.FeatureChamber)
		}
		if err != nil {
			return err
		}

		cs := assay.series.series()
		if _, err := cs.SaveSummary(""); err != nil {
			return err
		}
		if err := cs.SaveSummaryImages("", chip.FeatureChamber); err != nil {
			return err
		}
		if lowMem {
			cs.ReleaseStamps()
		}
	}

	return nil
}

// Summarize concatenates every assay's merged summary, each stamped with the
// assay description under SeriesIndexColumn, sorted by chamber.
func (a *AssaySeries) Summarize() (*table.Table, error) {
	if len(a.order) == 0 {
		return nil, fmt.Errorf("%s: %w", a, ErrEmptySeries)
	}

	summaries := make([]*table.Table, 0, len(a.order))
	for _, desc := range a.order {
		s, err := a.assays[desc].MergeSummarize()
		if err != nil {
			return nil, err
		}
		if err := s.SetConstant(SeriesIndexColumn, null.StringFrom(desc)); err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}

	out, err := table.Concat(summaries...)
	if err != nil {
		return nil, err
	}
	out.SortByKey()

	return out, nil
}

func (a *AssaySeries) SummaryFilename() string {
	return fmt.Sprintf("%s_TitrationSeries_Analysis.csv.bz2", a.Device.Name)
}

// SaveSummary writes Summarize() into outPath, or ChamberRoot when outPath is
// empty, and returns the written path.
func (a *AssaySeries) SaveSummary(outPath string) (string, error) {
	target, err := exportTarget(outPath, a.ChamberRoot)
	if err != nil {
		return "", err
	}

	df, err := a.Summarize()
	if err != nil {
		return "", err
	}

	path := filepath.Join(target, a.SummaryFilename())
	if err := df.WriteFile(path); err != nil {
		return "", err
	}

	logrus.WithField("path", path).Debug("Saved AssaySeries Summary")
	return path, nil
}

func (a *AssaySeries) String() string {
	return fmt.Sprintf("Assays: %v, Device: %s, Attrs: %v", a.order, a.Device, a.Attrs)
}
