package collections

import (
	"github.com/carbocation/chipcollections/chip"
	"github.com/carbocation/chipcollections/device"
	"github.com/carbocation/chipcollections/table"
)

// Titration is a concentration series processed against an external
// reference, unlike StandardSeries which references its own high standard.
type Titration struct {
	*ChipSeries
}

func NewTitration(dev *device.Device, description string) *Titration {
	return &Titration{newChipSeries(dev, "concentration_uM", description, "Titration")}
}

func (t *Titration) Process(reference chip.Reference, features chip.FeatureType) error {
	return t.MapFrom(reference, features)
}

func (t *Titration) ProcessSummarize(reference chip.Reference) (*table.Table, error) {
	if err := t.Process(reference, chip.FeatureChamber); err != nil {
		return nil, err
	}
	return t.Summarize()
}
