package collections

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/carbocation/chipcollections/chip"
	"github.com/carbocation/chipcollections/device"
	"github.com/carbocation/chipcollections/table"
)

// Assay pairs one series with any number of quantifications of the same chip.
type Assay struct {
	Device *device.Device
	Attrs  map[string]string

	description string
	series      Series
	quants      []*ChipQuant
}

func NewAssay(dev *device.Device, description string) *Assay {
	return &Assay{
		Device:      dev,
		Attrs:       make(map[string]string),
		description: description,
	}
}

func (a *Assay) Description() string {
	return a.description
}

// Series returns the assay's series, or nil if none was added.
func (a *Assay) Series() Series {
	return a.series
}

func (a *Assay) Quants() []*ChipQuant {
	return a.quants
}

// AddSeries sets the assay's series, replacing any previous one.
func (a *Assay) AddSeries(s Series) error {
	if s == nil {
		return ErrNotSeries
	}
	if v := reflect.ValueOf(s); v.Kind() == reflect.Ptr && v.IsNil() {
		return ErrNotSeries
	}
	if s.series() == nil {
		return ErrNotSeries
	}

	a.series = s
	return nil
}

// AddQuant appends q. Descriptions need not be unique.
func (a *Assay) AddQuant(q *ChipQuant) {
	a.quants = append(a.quants, q)
}

func (a *Assay) String() string {
	return fmt.Sprintf("Assay: %s, Device: %s", a.description, a.Device)
}

// TurnoverAssay is an assay whose series summary is joined with its
// quantifications.
type TurnoverAssay struct {
	*Assay
}

func NewTurnoverAssay(dev *device.Device, description string) *TurnoverAssay {
	return &TurnoverAssay{NewAssay(dev, description)}
}

// MergeSummarize left joins every quant summary onto the series summary by
// chamber. Quant columns lose the id column and gain the suffix
// _<description>, with spaces in the description replaced by underscores.
// Series rows are never dropped; quant rows with no series row are.
func (a *TurnoverAssay) MergeSummarize() (*table.Table, error) {
	if a.series == nil {
		return nil, fmt.Errorf("%s: %w", a, ErrNoSeries)
	}

	cleaned := make([]*table.Table, 0, len(a.quants))
	for _, q := range a.quants {
		summary, err := q.Summarize()
		if err != nil {
			return nil, err
		}

		if summary.HasColumn(chip.IDColumn) {
			if summary, err = summary.Drop(chip.IDColumn); err != nil {
				return nil, err
			}
		}

		suffixed, err := summary.WithSuffix("_" + strings.ReplaceAll(q.Description(), " ", "_"))
		if err != nil {
			return nil, err
		}
		cleaned = append(cleaned, suffixed)
	}

	kinSummary, err := a.series.Summarize()
	if err != nil {
		return nil, err
	}

	return kinSummary.LeftJoin(cleaned, "_kinetic", "_buttonquant")
}
