package log

import (
	"fmt"
	stdlog "log"
)

// MustInit initializes the SQLite-backed logger for app, exiting the
// process on failure. Daemon startup only.
func MustInit(app string, console bool) {
	if err := Init(fmt.Sprintf("%s.db", app), console); err != nil {
		stdlog.Fatalf("FATAL: Failed to initialize logger: %v\n", err)
	}
}
