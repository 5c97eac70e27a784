package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/carbocation/chipcollections"
	"github.com/carbocation/chipcollections/chip"
	"github.com/carbocation/chipcollections/collections"
	_ "github.com/carbocation/chipcollections/compileinfoprint"
	"github.com/carbocation/chipcollections/config"
	"github.com/carbocation/chipcollections/device"
	"github.com/sirupsen/logrus"
)

// Safe for concurrent use by multiple goroutines
var client *storage.Client

type flags struct {
	root, kind, devicePath, description string
	reference, channel, glob, indexes   string
	exposure                            int
	features                            string
	out, repo, title                    string
	images, ubyte                       bool
}

func main() {
	fmt.Fprintf(os.Stderr, "%q\n", os.Args)

	var f flags
	var verbose, quiet bool

	flag.StringVar(&f.root, "root", "", "Directory holding the stitched images of one series.")
	flag.StringVar(&f.kind, "kind", "timecourse", "Series kind: timecourse, titration, standard, or series.")
	flag.StringVar(&f.devicePath, "device", "", "Path to a .json or .toml device description.")
	flag.StringVar(&f.description, "description", "", "Short description of the series, used in output names.")
	flag.StringVar(&f.reference, "reference", "", "Reference image whose chambers are located and mapped onto the series. Required unless -kind=standard.")
	flag.StringVar(&f.channel, "channel", "2bf", "Imaging channel.")
	flag.IntVar(&f.exposure, "exposure", 500, "Exposure time in ms.")
	flag.StringVar(&f.glob, "glob", "", "(Optional) Pattern for the series images. Defaults to "+collections.DefaultSeriesGlob)
	flag.StringVar(&f.indexes, "indexes", "", "(Optional) Comma-separated series indexes to load. Defaults to all.")
	flag.StringVar(&f.features, "features", string(chip.FeatureChamber), "Features to map: button, chamber, or all.")
	flag.StringVar(&f.out, "out", "", "(Optional) Directory for the summary. Defaults to -root.")
	flag.BoolVar(&f.images, "images", false, "Also save one summary image per chip.")
	flag.StringVar(&f.repo, "repo", "", "(Optional) Root directory for per-chamber stamp exports.")
	flag.StringVar(&f.title, "title", "", "(Optional) Title for stamp exports. Defaults to setup and device name.")
	flag.BoolVar(&f.ubyte, "ubyte", false, "Export stamps as 8-bit images.")
	flag.BoolVar(&verbose, "verbose", false, "Log every step.")
	flag.BoolVar(&quiet, "quiet", false, "Do not draw progress bars.")
	flag.Parse()

	if f.root == "" || f.devicePath == "" || f.description == "" {
		flag.PrintDefaults()
		os.Exit(1)
	}

	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	collections.ShowProgress = !quiet

	if err := run(f); err != nil {
		logrus.Fatalln(err)
	}
}

func run(f flags) error {
	features, err := chip.ParseFeatureType(f.features)
	if err != nil {
		return err
	}

	indexes, err := parseIndexes(f.indexes)
	if err != nil {
		return err
	}

	// Initialize the Google Storage client only if we're pointing to Google
	// Storage paths.
	if chipcollections.IsGoogleStoragePath(f.devicePath) || chipcollections.IsGoogleStoragePath(f.reference) {
		client, err = storage.NewClient(context.Background())
		if err != nil {
			return err
		}
	}

	devCfg, err := config.ParseDevice(f.devicePath, client)
	if err != nil {
		return err
	}
	dev, err := devCfg.Build(client)
	if err != nil {
		return err
	}

	loader := chip.LatticeLoader{Params: chip.DefaultParams, Client: client}
	opts := collections.LoadOptions{Indexes: indexes, Glob: f.glob}

	var series *collections.ChipSeries
	switch strings.ToLower(f.kind) {
	case "standard":
		s := collections.NewStandardSeries(dev, f.description)
		s.Loader = loader
		if err := s.LoadFiles(f.root, f.channel, f.exposure, opts); err != nil {
			return err
		}
		if err := s.Process(features); err != nil {
			return err
		}
		series = s.ChipSeries
	case "timecourse", "titration", "series":
		ref, err := reference(dev, loader, f.reference, features)
		if err != nil {
			return err
		}
		series, err = loadReferenced(dev, f)
		if err != nil {
			return err
		}
		series.Loader = loader
		if err := series.LoadFiles(f.root, f.channel, f.exposure, opts); err != nil {
			return err
		}
		if err := series.MapFrom(ref, features); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown -kind %q", f.kind)
	}

	path, err := series.SaveSummary(f.out)
	if err != nil {
		return err
	}
	logrus.Infof("Wrote %s", path)

	if f.images {
		if err := series.SaveSummaryImages(f.out, features); err != nil {
			return err
		}
	}

	if f.repo != "" {
		if err := series.RepoDump(f.repo, f.title, f.ubyte, features); err != nil {
			return err
		}
	}

	return nil
}

// loadReferenced builds the series types that take an external reference.
func loadReferenced(dev *device.Device, f flags) (*collections.ChipSeries, error) {
	switch strings.ToLower(f.kind) {
	case "timecourse":
		return collections.NewTimecourse(dev, f.description).ChipSeries, nil
	case "titration":
		return collections.NewTitration(dev, f.description).ChipSeries, nil
	}
	return collections.NewChipSeries(dev, "index", f.description), nil
}

func reference(dev *device.Device, loader chip.Loader, path string, features chip.FeatureType) (chip.Image, error) {
	if path == "" {
		return nil, fmt.Errorf("-reference is required for this -kind")
	}

	ref, err := loader.Load(dev, path, chip.Meta{})
	if err != nil {
		return nil, err
	}
	if err := ref.Stamp(); err != nil {
		return nil, err
	}
	if err := ref.Find(features); err != nil {
		return nil, err
	}

	return ref, nil
}

func parseIndexes(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}

	var out []int
	for _, field := range strings.Split(s, ",") {
		i, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			return nil, fmt.Errorf("bad -indexes entry %q: %w", field, err)
		}
		out = append(out, i)
	}

	return out, nil
}
