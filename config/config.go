// Package config reads the run description consumed by the chipassay tool.
// Files ending in .toml are parsed as TOML, anything else as JSON.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os/user"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/carbocation/chipcollections"
	"github.com/carbocation/chipcollections/device"
	"github.com/carbocation/pfx"
	"github.com/pelletier/go-toml/v2"
)

var ErrInvalid = errors.New("invalid run configuration")

type Device struct {
	Setup   string         `json:"setup" toml:"setup"`
	Name    string         `json:"name" toml:"name"`
	Dims    device.Dims    `json:"dims" toml:"dims"`
	Corners device.Corners `json:"corners" toml:"corners"`
	Pinlist string         `json:"pinlist" toml:"pinlist"`
}

// Image is a single reference image.
type Image struct {
	Path     string `json:"path" toml:"path"`
	Channel  string `json:"channel" toml:"channel"`
	Exposure int    `json:"exposure" toml:"exposure"`
}

// Folders locates one imaging folder per assay below Root. Handles pair with
// the run's Descriptions by position.
type Folders struct {
	Root     string   `json:"root" toml:"root"`
	Handles  []string `json:"handles" toml:"handles"`
	Channel  string   `json:"channel" toml:"channel"`
	Exposure int      `json:"exposure" toml:"exposure"`
	Pattern  string   `json:"pattern" toml:"pattern"`
}

type Run struct {
	ConfigPath string `json:"-" toml:"-"`

	Device           Device   `json:"device" toml:"device"`
	ChamberReference Image    `json:"chamber_reference" toml:"chamber_reference"`
	ButtonReference  Image    `json:"button_reference" toml:"button_reference"`
	Descriptions     []string `json:"descriptions" toml:"descriptions"`
	Kinetics         Folders  `json:"kinetics" toml:"kinetics"`
	Quantification   Folders  `json:"quantification" toml:"quantification"`

	// Output is where the combined summary goes. Empty means the kinetics root.
	Output     string `json:"output" toml:"output"`
	LowMem     bool   `json:"low_mem" toml:"low_mem"`
	StrictGlob bool   `json:"strict_glob" toml:"strict_glob"`
	SQLite     string `json:"sqlite" toml:"sqlite"`
}

func Default() Run {
	return Run{LowMem: true}
}

// Parse reads the run configuration at path, which may be a gs:// URL when
// client is non-nil.
func Parse(path string, client *storage.Client) (Run, error) {
	out := Default()

	data, err := chipcollections.ReadAllMaybeFromGoogleStorage(expandHomeDir(path), client)
	if err != nil {
		return out, pfx.Err(err)
	}

	if err := decode(path, data, &out); err != nil {
		return out, err
	}
	out.ConfigPath = path

	// Interpret ~ if present
	out.Device.Pinlist = expandHomeDir(out.Device.Pinlist)
	out.ChamberReference.Path = expandHomeDir(out.ChamberReference.Path)
	out.ButtonReference.Path = expandHomeDir(out.ButtonReference.Path)
	out.Kinetics.Root = expandHomeDir(out.Kinetics.Root)
	out.Quantification.Root = expandHomeDir(out.Quantification.Root)
	out.Output = expandHomeDir(out.Output)
	out.SQLite = expandHomeDir(out.SQLite)

	if err := out.Validate(); err != nil {
		return out, err
	}

	return out, nil
}

// ParseDevice reads a file holding only a device description, in the same
// format as the device section of a run.
func ParseDevice(path string, client *storage.Client) (Device, error) {
	var out Device

	data, err := chipcollections.ReadAllMaybeFromGoogleStorage(expandHomeDir(path), client)
	if err != nil {
		return out, pfx.Err(err)
	}

	if err := decode(path, data, &out); err != nil {
		return out, err
	}
	out.Pinlist = expandHomeDir(out.Pinlist)

	return out, nil
}

func decode(path string, data []byte, v interface{}) error {
	var err error
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(data, v)
	} else {
		err = json.Unmarshal(data, v)
	}
	if err != nil {
		return pfx.Err(fmt.Errorf("parse %s: %w", path, err))
	}
	return nil
}

func (r Run) Validate() error {
	var problems []string

	if r.Device.Name == "" {
		problems = append(problems, "device.name is required")
	}
	if r.Device.Dims.Rows < 1 || r.Device.Dims.Cols < 1 {
		problems = append(problems, "device.dims must be positive")
	}
	if r.ChamberReference.Path == "" {
		problems = append(problems, "chamber_reference.path is required")
	}
	if r.ButtonReference.Path == "" {
		problems = append(problems, "button_reference.path is required")
	}
	if len(r.Descriptions) == 0 {
		problems = append(problems, "at least one description is required")
	}
	for _, f := range []struct {
		name string
		Folders
	}{{"kinetics", r.Kinetics}, {"quantification", r.Quantification}} {
		name := f.name
		if f.Root == "" {
			problems = append(problems, name+".root is required")
		}
		if len(f.Handles) != len(r.Descriptions) {
			problems = append(problems, fmt.Sprintf("%s.handles has %d entries for %d descriptions", name, len(f.Handles), len(r.Descriptions)))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// Build returns the device described by d, reading its pinlist if one is
// named.
func (d Device) Build(client *storage.Client) (*device.Device, error) {
	dev := &device.Device{
		Setup:   d.Setup,
		Name:    d.Name,
		Dims:    d.Dims,
		Corners: d.Corners,
	}

	if d.Pinlist != "" {
		pins, err := device.ReadPinlist(d.Pinlist, client)
		if err != nil {
			return nil, err
		}
		dev.Pins = pins
	}

	if err := dev.Validate(); err != nil {
		return nil, err
	}

	return dev, nil
}

// Via https://stackoverflow.com/a/17617721/199475
func expandHomeDir(path string) string {
	usr, err := user.Current()
	if err != nil {
		return path
	}

	dir := usr.HomeDir

	if path == "~" {
		path = dir
	} else if strings.HasPrefix(path, "~/") {
		path = filepath.Join(dir, path[2:])
	}

	return path
}
