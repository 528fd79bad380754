// Package logging provides feng's single logger construction point: a
// prefixed stdlib *log.Logger threaded explicitly through constructors
// rather than a global singleton.
package logging

import (
	"log"
	"os"
)

// New builds the standard feng logger: a subsystem prefix in brackets,
// standard timestamp flags, and the short file name of the call site.
func New(subsystem string) *log.Logger {
	return log.New(os.Stdout, "[FENG:"+subsystem+"] ", log.LstdFlags|log.Lshortfile)
}
