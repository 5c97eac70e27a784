package collections

import (
	"fmt"

	"github.com/carbocation/chipcollections/chip"
	"github.com/carbocation/chipcollections/device"
	"github.com/carbocation/chipcollections/table"
)

// StandardSeries is a concentration series whose highest concentration chip
// (the high standard) serves as its own feature reference.
type StandardSeries struct {
	*ChipSeries
}

func NewStandardSeries(dev *device.Device, description string) *StandardSeries {
	return &StandardSeries{newChipSeries(dev, "concentration_uM", description, "StandardSeries_Analysis")}
}

// HighStandardKey is the largest series index.
func (s *StandardSeries) HighStandardKey() (int, error) {
	keys := s.Keys()
	if len(keys) == 0 {
		return 0, fmt.Errorf("%s: %w", s, ErrEmptySeries)
	}
	return keys[len(keys)-1], nil
}

func (s *StandardSeries) HighStandard() (chip.Image, error) {
	key, err := s.HighStandardKey()
	if err != nil {
		return nil, err
	}
	return s.chips[key], nil
}

// MapFromHighStandard stamps every chip other than the high standard and maps
// the high standard's features onto it.
func (s *StandardSeries) MapFromHighStandard(features chip.FeatureType) error {
	hsKey, err := s.HighStandardKey()
	if err != nil {
		return err
	}

	keys := s.Keys()
	rest := make([]int, 0, len(keys)-1)
	for _, k := range keys {
		if k != hsKey {
			rest = append(rest, k)
		}
	}

	return s.mapKeys(s.chips[hsKey], features, rest, fmt.Sprintf("Processing Standard <%s>", s))
}

// Process locates features directly on the high standard and then maps them
// to every other chip. Chambers are always located; buttons only when
// features asks for them.
func (s *StandardSeries) Process(features chip.FeatureType) error {
	if !features.Valid() {
		return fmt.Errorf("%w: got %q", chip.ErrInvalidFeature, features)
	}

	hs, err := s.HighStandard()
	if err != nil {
		return err
	}

	if err := hs.Stamp(); err != nil {
		return fmt.Errorf("%s: high standard: %w", s, err)
	}
	if err := hs.Find(chip.FeatureChamber); err != nil {
		return fmt.Errorf("%s: high standard: %w", s, err)
	}
	if features.Includes(chip.FeatureButton) {
		if err := hs.Find(chip.FeatureButton); err != nil {
			return fmt.Errorf("%s: high standard: %w", s, err)
		}
	}

	return s.MapFromHighStandard(features)
}

func (s *StandardSeries) ProcessSummarize(features chip.FeatureType) (*table.Table, error) {
	if err := s.Process(features); err != nil {
		return nil, err
	}
	return s.Summarize()
}
