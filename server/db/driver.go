// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package db

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/morphaNFT/marker-maker/dex"
)

// Driver is implemented by each storage backend. Open creates an Archivist
// and checks that the backend is usable.
type Driver interface {
	Open(ctx context.Context, cfg any) (Archivist, error)
	UseLogger(logger dex.Logger)
}

var registry = struct {
	sync.Mutex
	drivers map[string]Driver
}{drivers: make(map[string]Driver)}

// Register makes a driver available by name. Drivers register themselves in
// their package init. Registering a name twice panics.
func Register(name string, driver Driver) {
	if driver == nil {
		panic("db: nil driver " + name)
	}
	registry.Lock()
	defer registry.Unlock()
	if _, found := registry.drivers[name]; found {
		panic("db: driver " + name + " registered twice")
	}
	registry.drivers[name] = driver
}

// Drivers lists the registered driver names.
func Drivers() []string {
	registry.Lock()
	defer registry.Unlock()
	names := make([]string, 0, len(registry.drivers))
	for name := range registry.drivers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Open creates an Archivist with the named driver. The cfg type is specific to
// the driver.
func Open(ctx context.Context, name string, cfg any) (Archivist, error) {
	registry.Lock()
	drv := registry.drivers[name]
	registry.Unlock()
	if drv == nil {
		return nil, fmt.Errorf("db: unknown driver %q, have %v", name, Drivers())
	}
	return drv.Open(ctx, cfg)
}

// UseLogger passes the logger to every registered driver.
func UseLogger(logger dex.Logger) {
	registry.Lock()
	defer registry.Unlock()
	for _, drv := range registry.drivers {
		drv.UseLogger(logger)
	}
}
