// Package chip defines what the collections need from a loaded chip image and
// provides a lattice-based implementation.
//
// A chip moves through Loaded -> Stamped -> Processed. Stamping crops one
// sub-image per chamber; processing locates button and/or chamber features in
// every stamp, either directly (Find) or by copying positions from a
// reference chip (MapTo). Only a processed chip can be summarized.
package chip

import (
	"errors"
	"fmt"
	"image"

	"github.com/carbocation/chipcollections/device"
	"github.com/carbocation/chipcollections/table"
)

var (
	ErrInvalidFeature     = errors.New(`chip: feature must be "button", "chamber", or "all"`)
	ErrNotStamped         = errors.New("chip: image has not been stamped")
	ErrNotProcessed       = errors.New("chip: features have not been located")
	ErrFeaturesMissing    = errors.New("chip: reference has not located the requested features")
	ErrStampsReleased     = errors.New("chip: stamps were released; stamp again first")
	ErrIncompatibleTarget = errors.New("chip: target cannot receive mapped features")
)

type FeatureType string

const (
	FeatureButton  FeatureType = "button"
	FeatureChamber FeatureType = "chamber"
	FeatureAll     FeatureType = "all"
)

func ParseFeatureType(s string) (FeatureType, error) {
	ft := FeatureType(s)
	if !ft.Valid() {
		return "", fmt.Errorf("%w: got %q", ErrInvalidFeature, s)
	}
	return ft, nil
}

func (f FeatureType) Valid() bool {
	switch f {
	case FeatureButton, FeatureChamber, FeatureAll:
		return true
	}
	return false
}

// Components expands "all" into its parts, chamber first.
func (f FeatureType) Components() []FeatureType {
	if f == FeatureAll {
		return []FeatureType{FeatureChamber, FeatureButton}
	}
	return []FeatureType{f}
}

// Includes reports whether f covers other.
func (f FeatureType) Includes(other FeatureType) bool {
	return f == other || f == FeatureAll
}

type State uint8

const (
	StateLoaded State = iota
	StateStamped
	StateProcessed
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateStamped:
		return "stamped"
	case StateProcessed:
		return "processed"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Reference is anything whose located feature positions can be propagated
// onto another chip.
type Reference interface {
	MapTo(target Image, features FeatureType) error
}

type Image interface {
	Reference

	// Path is the file the image was loaded from.
	Path() string
	State() State

	Stamp() error
	Find(features FeatureType) error
	Summarize() (*table.Table, error)
	SummaryImage(features FeatureType) (image.Image, error)
	RepoDump(features FeatureType, root, title string, asUbyte bool) error

	// DeleteStamps drops the cropped stamp pixels. Located features and their
	// measurements survive.
	DeleteStamps()
}

// Meta is the acquisition metadata of one image.
type Meta struct {
	Channel  string
	Exposure int // ms
	Attrs    map[string]string
}

type Loader interface {
	Load(dev *device.Device, path string, meta Meta) (Image, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(dev *device.Device, path string, meta Meta) (Image, error)

func (f LoaderFunc) Load(dev *device.Device, path string, meta Meta) (Image, error) {
	return f(dev, path, meta)
}
