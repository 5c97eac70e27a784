package device

import (
	"bytes"
	"encoding/csv"
	"fmt"

	"cloud.google.com/go/storage"
	"github.com/carbocation/chipcollections"
	"github.com/carbocation/pfx"
	"github.com/gocarina/gocsv"
)

// Pin is one row of a pinlist: what was spotted into the chamber at (X, Y).
type Pin struct {
	X        int    `csv:"x"`
	Y        int    `csv:"y"`
	MutantID string `csv:"MutantID"`
}

type pinKey struct{ x, y int }

// Pinlist maps chamber coordinates to their pin. The zero value is an empty
// pinlist.
type Pinlist struct {
	pins map[pinKey]Pin
}

func NewPinlist(pins []Pin) (Pinlist, error) {
	out := Pinlist{pins: make(map[pinKey]Pin, len(pins))}
	for _, p := range pins {
		k := pinKey{p.X, p.Y}
		if _, exists := out.pins[k]; exists {
			return Pinlist{}, fmt.Errorf("pinlist: chamber (%d, %d) listed twice", p.X, p.Y)
		}
		out.pins[k] = p
	}
	return out, nil
}

func (p Pinlist) Len() int {
	return len(p.pins)
}

func (p Pinlist) Lookup(x, y int) (Pin, bool) {
	pin, exists := p.pins[pinKey{x, y}]
	return pin, exists
}

// ReadPinlist parses a comma or tab delimited pinlist with x, y and MutantID
// columns. client is only needed for gs:// paths.
func ReadPinlist(path string, client *storage.Client) (Pinlist, error) {
	data, err := chipcollections.ReadAllMaybeFromGoogleStorage(path, client)
	if err != nil {
		return Pinlist{}, pfx.Err(err)
	}

	return ParsePinlist(data)
}

func ParsePinlist(data []byte) (Pinlist, error) {
	cr := csv.NewReader(bytes.NewReader(data))
	cr.Comma = chipcollections.DetermineDelimiter(data)
	cr.TrimLeadingSpace = true

	var pins []Pin
	if err := gocsv.UnmarshalCSV(cr, &pins); err != nil {
		return Pinlist{}, pfx.Err(err)
	}

	return NewPinlist(pins)
}
