package collections

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/carbocation/chipcollections/chip"
	"github.com/carbocation/chipcollections/device"
	"github.com/carbocation/chipcollections/table"
	"github.com/carbocation/pfx"
	"github.com/sirupsen/logrus"
	"gopkg.in/guregu/null.v3"
)

const (
	// DefaultSeriesGlob matches stitched images within a series directory.
	DefaultSeriesGlob = "*StitchedImg*.tif"

	// SummaryImagesDir is created inside the export directory to hold
	// per-chip summary images.
	SummaryImagesDir = "SummaryImages"
)

// Series is implemented by ChipSeries and the types that embed it.
type Series interface {
	Summarize() (*table.Table, error)
	series() *ChipSeries
}

type LoadOptions struct {
	// Indexes, if set, restricts loading to files with these series indexes.
	Indexes []int

	// Glob replaces DefaultSeriesGlob.
	Glob string
}

// ChipSeries maps a series index (time, concentration, ...) to one chip
// image each. The meaning of the index is named by Indexer.
type ChipSeries struct {
	Device *device.Device
	Attrs  map[string]string

	// Loader opens chip images. Nil means chip.DefaultLoader.
	Loader chip.Loader

	indexer     string
	description string
	kind        string
	chips       map[int]chip.Image
	root        string
}

func NewChipSeries(dev *device.Device, indexer, description string) *ChipSeries {
	return newChipSeries(dev, indexer, description, "ChipSeries")
}

func newChipSeries(dev *device.Device, indexer, description, kind string) *ChipSeries {
	c := &ChipSeries{
		Device:      dev,
		Attrs:       make(map[string]string),
		indexer:     indexer,
		description: description,
		kind:        kind,
		chips:       make(map[int]chip.Image),
	}
	logrus.WithField("series", c.String()).Debugf("%s Created", kind)
	return c
}

func (c *ChipSeries) series() *ChipSeries {
	return c
}

func (c *ChipSeries) Indexer() string {
	return c.indexer
}

func (c *ChipSeries) Description() string {
	return c.description
}

// Root is the directory the series was loaded from, if any.
func (c *ChipSeries) Root() string {
	return c.root
}

func (c *ChipSeries) Len() int {
	return len(c.chips)
}

// Keys returns the series indexes in ascending order.
func (c *ChipSeries) Keys() []int {
	keys := make([]int, 0, len(c.chips))
	for k := range c.chips {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func (c *ChipSeries) Chip(key int) (chip.Image, bool) {
	img, exists := c.chips[key]
	return img, exists
}

func (c *ChipSeries) loader() chip.Loader {
	if c.Loader == nil {
		return chip.DefaultLoader
	}
	return c.Loader
}

func (c *ChipSeries) load(identifier int, path, channel string, exposure int) (chip.Image, error) {
	meta := chip.Meta{
		Channel:  channel,
		Exposure: exposure,
		Attrs:    map[string]string{c.indexer: strconv.Itoa(identifier)},
	}
	return c.loader().Load(c.Device, path, meta)
}

// AddFile loads the image at path under identifier, replacing any chip
// already stored there.
func (c *ChipSeries) AddFile(identifier int, path, channel string, exposure int) error {
	img, err := c.load(identifier, path, channel, exposure)
	if err != nil {
		return pfx.Err(err)
	}
	c.chips[identifier] = img

	logrus.WithFields(logrus.Fields{"root": filepath.Dir(path), "id": identifier}).Debug("Added Chip")
	return nil
}

// LoadFiles replaces the series contents with every image in root matching
// the glob. Names must end in _<index>, e.g. StitchedImg_500_2bf_12.tif for
// index 12. ChamberBorders images are skipped unless they are summaries.
func (c *ChipSeries) LoadFiles(root, channel string, exposure int, opts LoadOptions) error {
	pattern := DefaultSeriesGlob
	if opts.Glob != "" {
		pattern = opts.Glob
	}

	matches, err := globIn(root, pattern)
	if err != nil {
		return pfx.Err(err)
	}

	var wanted map[int]struct{}
	if len(opts.Indexes) > 0 {
		wanted = make(map[int]struct{}, len(opts.Indexes))
		for _, i := range opts.Indexes {
			wanted[i] = struct{}{}
		}
	}

	record := make(map[int]string)
	for _, path := range matches {
		stem := fileStem(path)
		if strings.Contains(stem, "ChamberBorders") && !strings.Contains(stem, "Summary") {
			continue
		}

		index, err := seriesIndex(path)
		if err != nil {
			return err
		}
		if wanted != nil {
			if _, ok := wanted[index]; !ok {
				continue
			}
		}
		if prior, exists := record[index]; exists {
			return fmt.Errorf("%w: %d (%s and %s)", ErrDuplicateIndex, index, prior, path)
		}
		record[index] = path
	}

	chips := make(map[int]chip.Image, len(record))
	for identifier, path := range record {
		img, err := c.load(identifier, path, channel, exposure)
		if err != nil {
			return pfx.Err(err)
		}
		chips[identifier] = img
	}

	c.root = root
	c.chips = chips

	logrus.WithFields(logrus.Fields{"root": root, "ids": c.Keys()}).Debug("Loaded Series")
	return nil
}

// globIn returns the sorted paths under root matching pattern. Only pattern
// is treated as a glob, so a root such as "run[1]" is taken literally.
func globIn(root, pattern string) ([]string, error) {
	dir := root
	if dir == "" {
		dir = "."
	}
	rel, err := fs.Glob(os.DirFS(dir), filepath.ToSlash(pattern))
	if err != nil {
		return nil, fmt.Errorf("%q: %w", pattern, err)
	}

	matches := make([]string, len(rel))
	for i, r := range rel {
		matches[i] = filepath.Join(root, filepath.FromSlash(r))
	}
	sort.Strings(matches)
	return matches, nil
}

func fileStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// seriesIndex parses the integer after the final underscore of the file stem.
func seriesIndex(path string) (int, error) {
	stem := fileStem(path)
	i := strings.LastIndex(stem, "_")
	if i < 0 {
		return 0, &FilenameError{Path: path, Err: errors.New("no underscore in name")}
	}

	index, err := strconv.Atoi(stem[i+1:])
	if err != nil {
		return 0, &FilenameError{Path: path, Err: err}
	}

	return index, nil
}

// Summarize concatenates every chip summary, each stamped with its series
// index under the Indexer column, and sorts by row key. Chips are visited in
// ascending index order and the sort is stable, so rows sharing a key stay in
// index order.
func (c *ChipSeries) Summarize() (*table.Table, error) {
	if len(c.chips) == 0 {
		return nil, fmt.Errorf("%s: %w", c, ErrEmptySeries)
	}

	summaries := make([]*table.Table, 0, len(c.chips))
	for _, k := range c.Keys() {
		df, err := c.chips[k].Summarize()
		if err != nil {
			return nil, fmt.Errorf("%s: index %d: %w", c, k, err)
		}
		if err := df.SetConstant(c.indexer, null.StringFrom(strconv.Itoa(k))); err != nil {
			return nil, err
		}
		summaries = append(summaries, df)
	}

	out, err := table.Concat(summaries...)
	if err != nil {
		return nil, err
	}
	out.SortByKey()

	return out, nil
}

// MapFrom stamps every chip and maps the reference's feature positions onto
// it.
func (c *ChipSeries) MapFrom(reference chip.Reference, features chip.FeatureType) error {
	return c.mapKeys(reference, features, c.Keys(), fmt.Sprintf("Series <%s> Stamped and Mapped", c.description))
}

func (c *ChipSeries) mapKeys(reference chip.Reference, features chip.FeatureType, keys []int, description string) error {
	if !features.Valid() {
		return fmt.Errorf("%w: got %q", chip.ErrInvalidFeature, features)
	}
	if isNilReference(reference) {
		return fmt.Errorf("%s: %w", c, ErrNoReference)
	}

	bar := newProgress(len(keys), description)
	defer bar.Finish()

	for _, k := range keys {
		img := c.chips[k]
		if err := img.Stamp(); err != nil {
			return fmt.Errorf("%s: index %d: %w", c, k, err)
		}
		if err := reference.MapTo(img, features); err != nil {
			return fmt.Errorf("%s: index %d: %w", c, k, err)
		}
		bar.Add(1)
	}

	return nil
}

// exportTarget returns outPath if given, otherwise fallback.
func exportTarget(outPath, fallback string) (string, error) {
	if outPath != "" {
		if fi, err := os.Stat(outPath); err != nil || !fi.IsDir() {
			return "", fmt.Errorf("%w: %s", ErrExportDirMissing, outPath)
		}
		return outPath, nil
	}
	if fallback == "" {
		return "", ErrNoExportTarget
	}
	return fallback, nil
}

// SummaryFilename is {device}_{description}_{kind}.csv.bz2.
func (c *ChipSeries) SummaryFilename() string {
	return fmt.Sprintf("%s_%s_%s.csv.bz2", c.Device.Name, c.description, c.kind)
}

// SaveSummary writes Summarize() as bzip2 compressed CSV into outPath, or into
// the series root when outPath is empty. It returns the written path.
func (c *ChipSeries) SaveSummary(outPath string) (string, error) {
	target, err := exportTarget(outPath, c.root)
	if err != nil {
		return "", err
	}

	df, err := c.Summarize()
	if err != nil {
		return "", err
	}

	path := filepath.Join(target, c.SummaryFilename())
	if err := df.WriteFile(path); err != nil {
		return "", err
	}

	logrus.WithFields(logrus.Fields{"series": c.String(), "path": path}).Debugf("Saved %s Summary", c.kind)
	return path, nil
}

// SaveSummaryImages writes one overlay image per chip to
// <outPath or root>/SummaryImages/Summary_<stem>.tif.
func (c *ChipSeries) SaveSummaryImages(outPath string, features chip.FeatureType) error {
	targetRoot, err := exportTarget(outPath, c.root)
	if err != nil {
		return err
	}

	target := filepath.Join(targetRoot, SummaryImagesDir)
	if err := os.MkdirAll(target, 0755); err != nil {
		return pfx.Err(err)
	}

	for _, k := range c.Keys() {
		img := c.chips[k]
		summary, err := img.SummaryImage(features)
		if err != nil {
			return fmt.Errorf("%s: index %d: %w", c, k, err)
		}
		name := fmt.Sprintf("Summary_%s.tif", fileStem(img.Path()))
		if err := chip.WriteTIFF(filepath.Join(target, name), summary); err != nil {
			return err
		}
	}

	logrus.WithField("series", c.String()).Debug("Saved Summary Images")
	return nil
}

// RepoDump exports every chip's feature crops below targetRoot. Each chip is
// titled {title}_{index}; an empty title defaults to {setup}{device}.
func (c *ChipSeries) RepoDump(targetRoot, title string, asUbyte bool, features chip.FeatureType) error {
	if title == "" {
		title = c.Device.Setup + c.Device.Name
	}

	for _, k := range c.Keys() {
		chipTitle := fmt.Sprintf("%s_%d", title, k)
		if err := c.chips[k].RepoDump(features, targetRoot, chipTitle, asUbyte); err != nil {
			return fmt.Errorf("%s: index %d: %w", c, k, err)
		}
	}

	return nil
}

// ReleaseStamps drops the stamp pixels of every chip to bound memory. The
// chips and their summaries remain.
func (c *ChipSeries) ReleaseStamps() {
	for _, img := range c.chips {
		img.DeleteStamps()
	}
}

func (c *ChipSeries) String() string {
	return fmt.Sprintf("Description: %s, Device: %s", c.description, c.Device)
}
