package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"cloud.google.com/go/storage"
	"github.com/carbocation/chipcollections"
	"github.com/carbocation/chipcollections/chip"
	"github.com/carbocation/chipcollections/collections"
	_ "github.com/carbocation/chipcollections/compileinfoprint"
	"github.com/carbocation/chipcollections/config"
	"github.com/carbocation/chipcollections/store"
	"github.com/sirupsen/logrus"
)

// Safe for concurrent use by multiple goroutines
var client *storage.Client

func main() {
	fmt.Fprintf(os.Stderr, "%q\n", os.Args)

	var configPath, outPath, sqlitePath string
	var verbose, quiet bool

	flag.StringVar(&configPath, "config", "", "Path to a .json or .toml run configuration.")
	flag.StringVar(&outPath, "out", "", "(Optional) Directory for the combined summary. Overrides the configuration's output.")
	flag.StringVar(&sqlitePath, "sqlite", "", "(Optional) SQLite database that will also receive the combined summary. Overrides the configuration's sqlite.")
	flag.BoolVar(&verbose, "verbose", false, "Log every step.")
	flag.BoolVar(&quiet, "quiet", false, "Do not draw progress bars.")
	flag.Parse()

	if configPath == "" {
		flag.PrintDefaults()
		os.Exit(1)
	}

	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	collections.ShowProgress = !quiet

	if err := run(configPath, outPath, sqlitePath); err != nil {
		logrus.Fatalln(err)
	}
}

func run(configPath, outPath, sqlitePath string) error {
	if err := maybeStorageClient(configPath); err != nil {
		return err
	}

	cfg, err := config.Parse(configPath, client)
	if err != nil {
		return err
	}
	if outPath != "" {
		cfg.Output = outPath
	}
	if sqlitePath != "" {
		cfg.SQLite = sqlitePath
	}

	// Initialize the Google Storage client only if we're pointing to Google
	// Storage paths.
	if err := maybeStorageClient(cfg.Device.Pinlist, cfg.ChamberReference.Path, cfg.ButtonReference.Path); err != nil {
		return err
	}

	dev, err := cfg.Device.Build(client)
	if err != nil {
		return err
	}

	loader := chip.LatticeLoader{Params: chip.DefaultParams, Client: client}

	chamberRef, err := loader.Load(dev, cfg.ChamberReference.Path, chip.Meta{Channel: cfg.ChamberReference.Channel, Exposure: cfg.ChamberReference.Exposure})
	if err != nil {
		return err
	}
	if err := chamberRef.Stamp(); err != nil {
		return err
	}
	if err := chamberRef.Find(chip.FeatureChamber); err != nil {
		return err
	}

	buttonRef := collections.NewChipQuant(dev, "Button_Reference")
	buttonRef.Loader = loader
	if err := buttonRef.LoadFile(cfg.ButtonReference.Path, cfg.ButtonReference.Channel, cfg.ButtonReference.Exposure); err != nil {
		return err
	}
	if err := buttonRef.Process(nil, chip.FeatureButton); err != nil {
		return err
	}

	assays, err := collections.NewAssaySeries(dev, cfg.Descriptions, chamberRef, buttonRef)
	if err != nil {
		return err
	}
	assays.Loader = loader
	assays.StrictGlob = cfg.StrictGlob

	kin, bq := cfg.Kinetics, cfg.Quantification
	if err := assays.ParseKineticsFolders(kin.Root, kin.Handles, cfg.Descriptions, kin.Channel, kin.Exposure, kin.Pattern); err != nil {
		return err
	}
	if err := assays.ParseQuantificationFolders(bq.Root, bq.Handles, cfg.Descriptions, bq.Channel, bq.Exposure, bq.Pattern); err != nil {
		return err
	}

	if err := assays.ProcessQuants(nil); err != nil {
		return err
	}
	if err := assays.ProcessKinetics(nil, cfg.LowMem); err != nil {
		return err
	}

	path, err := assays.SaveSummary(cfg.Output)
	if err != nil {
		return err
	}
	logrus.Infof("Wrote %s", path)

	if cfg.SQLite == "" {
		return nil
	}

	summary, err := assays.Summarize()
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.SQLite)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.SaveTable(db, dev.Name, summary); err != nil {
		return err
	}
	logrus.Infof("Wrote table %s to %s", dev.Name, cfg.SQLite)

	return nil
}

func maybeStorageClient(paths ...string) error {
	if client != nil {
		return nil
	}

	for _, p := range paths {
		if chipcollections.IsGoogleStoragePath(p) {
			var err error
			client, err = storage.NewClient(context.Background())
			return err
		}
	}

	return nil
}
