// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package pg

import (
	"github.com/decred/slog"
	"github.com/morphaNFT/marker-maker/dex"
)

func startLogger() {
	UseLogger(dex.StdOutLogger("PG_DB_TEST", slog.LevelDebug))
}
