// Package compileinfo reports which commit a chipcollections binary was built
// from, so summaries can be traced back to the code that produced them.
package compileinfo

import (
	"fmt"
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

type CompileInfo struct {
	Binary     string
	Module     string
	Version    string
	GoVersion  string
	Commit     string
	CommitTime string
	Modified   bool
}

func (c CompileInfo) String() string {
	mod := ""
	if c.Modified {
		mod = " (with uncommitted changes)"
	}

	return fmt.Sprintf("%s from %s %s, commit %s at %s%s, built with %s", c.Binary, c.Module, c.Version, c.Commit, c.CommitTime, mod, c.GoVersion)
}

// Fields is the build information as structured log fields.
func (c CompileInfo) Fields() logrus.Fields {
	return logrus.Fields{
		"binary":      c.Binary,
		"version":     c.Version,
		"commit":      c.Commit,
		"commit_time": c.CommitTime,
		"modified":    c.Modified,
		"go":          c.GoVersion,
	}
}

func Get() CompileInfo {
	z, ok := debug.ReadBuildInfo()
	if !ok {
		return CompileInfo{}
	}
	return fromBuildInfo(z)
}

func fromBuildInfo(z *debug.BuildInfo) CompileInfo {
	out := CompileInfo{
		Binary:    z.Path,
		Module:    z.Main.Path,
		Version:   z.Main.Version,
		GoVersion: z.GoVersion,
	}

	for _, s := range z.Settings {
		switch s.Key {
		case "vcs.revision":
			out.Commit = s.Value
		case "vcs.time":
			out.CommitTime = s.Value
		case "vcs.modified":
			out.Modified = s.Value == "true"
		}
	}

	return out
}

// Log writes the build information to the standard logrus logger.
func Log() {
	z := Get()
	logrus.WithFields(z.Fields()).Info("Build")
}
