package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/carbocation/chipcollections"
	_ "github.com/carbocation/chipcollections/compileinfoprint"
	"github.com/carbocation/chipcollections/store"
	"github.com/carbocation/chipcollections/table"
	"github.com/sirupsen/logrus"
)

// Safe for concurrent use by multiple goroutines
var client *storage.Client

func main() {
	fmt.Fprintf(os.Stderr, "%q\n", os.Args)

	var summaries flagSlice
	var dbPath, tableName string

	flag.Var(&summaries, "summary", "Summary CSV, optionally compressed, local or gs://. Pass once per file.")
	flag.StringVar(&dbPath, "db", "", "SQLite database to write into. Created if needed.")
	flag.StringVar(&tableName, "table", "", "(Optional) Table name. Only valid with one -summary. Defaults to the summary file name without extensions.")
	flag.Parse()

	if len(summaries) < 1 || dbPath == "" || (tableName != "" && len(summaries) > 1) {
		flag.PrintDefaults()
		os.Exit(1)
	}

	// Initialize the Google Storage client only if we're pointing to Google
	// Storage paths.
	for _, s := range summaries {
		if chipcollections.IsGoogleStoragePath(s) {
			var err error
			client, err = storage.NewClient(context.Background())
			if err != nil {
				logrus.Fatalln(err)
			}

			break
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		logrus.Fatalln(err)
	}
	defer db.Close()

	for _, s := range summaries {
		name := tableName
		if name == "" {
			name = stem(s)
		}

		t, err := table.ReadFile(s, client)
		if err != nil {
			logrus.Fatalln(err)
		}

		if err := store.SaveTable(db, name, t); err != nil {
			logrus.Fatalln(err)
		}

		logrus.WithFields(logrus.Fields{"rows": t.Len(), "table": name}).Infof("Loaded %s", s)
	}
}

// stem strips every extension, so d1_TitrationSeries_Analysis.csv.bz2 becomes
// d1_TitrationSeries_Analysis.
func stem(path string) string {
	base := filepath.Base(path)
	if i := strings.Index(base, "."); i > 0 {
		return base[:i]
	}
	return base
}
