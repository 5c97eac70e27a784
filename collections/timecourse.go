package collections

import (
	"github.com/carbocation/chipcollections/chip"
	"github.com/carbocation/chipcollections/device"
	"github.com/carbocation/chipcollections/table"
)

// Timecourse is a series indexed by elapsed time in seconds. Its features are
// mapped from an external chamber reference.
type Timecourse struct {
	*ChipSeries
}

func NewTimecourse(dev *device.Device, description string) *Timecourse {
	return &Timecourse{newChipSeries(dev, "time_s", description, "Timecourse")}
}

// Process maps feature positions from chamberReference to every chip.
func (t *Timecourse) Process(chamberReference chip.Reference, features chip.FeatureType) error {
	return t.MapFrom(chamberReference, features)
}

func (t *Timecourse) ProcessSummarize(chamberReference chip.Reference) (*table.Table, error) {
	if err := t.Process(chamberReference, chip.FeatureChamber); err != nil {
		return nil, err
	}
	return t.Summarize()
}
