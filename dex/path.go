// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package dex

import (
	"errors"
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// CleanAndExpandPath expands environment variables and a leading ~ or ~user,
// and cleans the result. An unresolvable home directory becomes ".".
func CleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}
	path = os.ExpandEnv(path)
	if !strings.HasPrefix(path, "~") {
		return filepath.Clean(path)
	}

	rest := path[1:]
	userName := rest
	if i := strings.IndexAny(rest, `/\`); i >= 0 {
		userName, rest = rest[:i], rest[i:]
	} else {
		rest = ""
	}

	var homeDir string
	if userName == "" {
		homeDir, _ = os.UserHomeDir()
	} else if u, err := user.Lookup(userName); err == nil {
		homeDir = u.HomeDir
	}
	if homeDir == "" {
		homeDir = "."
	}
	return filepath.Join(homeDir, rest)
}

// FileExists reports whether anything exists at the path.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, os.ErrNotExist)
}
