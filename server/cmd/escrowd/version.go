// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package main

import (
	"runtime/debug"
	"strings"
)

const (
	// appName is the application name.
	appName string = "escrowd"
)

// Version is the application version per the semantic versioning 2.0.0 spec
// (https://semver.org/). It can be overridden during the build with
// '-ldflags "-X main.Version=fullsemver"'. Without build metadata, the VCS
// revision is appended when the build info has one.
var Version = "0.1.0-pre"

func init() {
	Version = withCommit(Version)
}

func withCommit(v string) string {
	bi, ok := debug.ReadBuildInfo()
	if !ok || strings.Contains(v, "+") {
		return v
	}
	for _, s := range bi.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 7 {
			return v + "+" + s.Value[:7]
		}
	}
	return v
}
