package collections

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/carbocation/chipcollections/chip"
	"github.com/carbocation/chipcollections/device"
	"github.com/carbocation/chipcollections/table"
	"github.com/carbocation/pfx"
	"github.com/sirupsen/logrus"
)

// ChipQuant holds a single quantification image, typically the button
// intensity image of a turnover assay. It can only be summarized once it has
// been processed.
type ChipQuant struct {
	Device *device.Device
	Attrs  map[string]string

	// Loader opens the image. Nil means chip.DefaultLoader.
	Loader chip.Loader

	description string
	img         chip.Image
	processed   bool
}

var _ chip.Reference = (*ChipQuant)(nil)

func NewChipQuant(dev *device.Device, description string) *ChipQuant {
	q := &ChipQuant{
		Device:      dev,
		Attrs:       make(map[string]string),
		description: description,
	}
	logrus.WithField("quant", q.String()).Debug("ChipQuant Created")
	return q
}

func (q *ChipQuant) Description() string {
	return q.description
}

// Chip returns the loaded image, or nil.
func (q *ChipQuant) Chip() chip.Image {
	return q.img
}

func (q *ChipQuant) Processed() bool {
	return q.processed
}

// LoadFile loads the image at path, discarding any previous image and its
// processed state.
func (q *ChipQuant) LoadFile(path, channel string, exposure int) error {
	loader := q.Loader
	if loader == nil {
		loader = chip.DefaultLoader
	}

	img, err := loader.Load(q.Device, path, chip.Meta{Channel: channel, Exposure: exposure, Attrs: map[string]string{}})
	if err != nil {
		return pfx.Err(err)
	}
	q.img = img
	q.processed = false

	logrus.WithField("description", q.description).Debug("ChipQuant Loaded")
	return nil
}

// Process stamps the chip. With a nil reference (or a nil pointer in the
// interface) the requested features are located directly, otherwise they are
// mapped from the reference.
func (q *ChipQuant) Process(reference chip.Reference, features chip.FeatureType) error {
	if !features.Valid() {
		return fmt.Errorf("%w: got %q", chip.ErrInvalidFeature, features)
	}
	if q.img == nil {
		return fmt.Errorf("%s: %w", q, ErrNotLoaded)
	}

	if err := q.img.Stamp(); err != nil {
		return fmt.Errorf("%s: %w", q, err)
	}

	if isNilReference(reference) {
		if err := q.img.Find(features); err != nil {
			return fmt.Errorf("%s: %w", q, err)
		}
	} else if err := reference.MapTo(q.img, features); err != nil {
		return fmt.Errorf("%s: %w", q, err)
	}
	q.processed = true

	logrus.WithField("quant", q.String()).Debugf("%s features processed", features)
	return nil
}

func (q *ChipQuant) Summarize() (*table.Table, error) {
	if !q.processed {
		return nil, fmt.Errorf("%s: %w", q, ErrNotProcessed)
	}
	return q.img.Summarize()
}

func (q *ChipQuant) ProcessSummarize(reference chip.Reference, features chip.FeatureType) (*table.Table, error) {
	if err := q.Process(reference, features); err != nil {
		return nil, err
	}
	return q.Summarize()
}

// MapTo lets a processed quant act as the feature reference for other chips.
func (q *ChipQuant) MapTo(target chip.Image, features chip.FeatureType) error {
	if q == nil {
		return ErrNotProcessed
	}
	if !q.processed {
		return fmt.Errorf("%s: %w", q, ErrNotProcessed)
	}
	return q.img.MapTo(target, features)
}

// SaveSummaryImage writes the button summary image to
// <outRoot>/SummaryImages/Summary_<stem>.tif. An empty outRoot means the
// directory holding the image.
func (q *ChipQuant) SaveSummaryImage(outRoot string) (string, error) {
	if q.img == nil {
		return "", fmt.Errorf("%s: %w", q, ErrNotLoaded)
	}

	root, err := exportTarget(outRoot, filepath.Dir(q.img.Path()))
	if err != nil {
		return "", err
	}

	target := filepath.Join(root, SummaryImagesDir)
	if err := os.MkdirAll(target, 0755); err != nil {
		return "", pfx.Err(err)
	}

	summary, err := q.img.SummaryImage(chip.FeatureButton)
	if err != nil {
		return "", fmt.Errorf("%s: %w", q, err)
	}

	path := filepath.Join(target, fmt.Sprintf("Summary_%s.tif", fileStem(q.img.Path())))
	if err := chip.WriteTIFF(path, summary); err != nil {
		return "", err
	}

	logrus.WithFields(logrus.Fields{"quant": q.String(), "path": path}).Debug("Saved ChipQuant Summary Image")
	return path, nil
}

// RepoDump exports the button stamps titled {setup}{device}_{description}.
func (q *ChipQuant) RepoDump(outRoot string, asUbyte bool) error {
	if q.img == nil {
		return fmt.Errorf("%s: %w", q, ErrNotLoaded)
	}

	title := fmt.Sprintf("%s%s_%s", q.Device.Setup, q.Device.Name, q.description)
	return q.img.RepoDump(chip.FeatureButton, outRoot, title, asUbyte)
}

func (q *ChipQuant) String() string {
	return fmt.Sprintf("Description: %s, Device: %s", q.description, q.Device)
}
