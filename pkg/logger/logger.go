package logger

import (
	"fmt"
	"log"
	"os"
)

// New returns a stdlib-backed logger with component prefix. It is used before
// the structured logger exists, e.g. while the config is still loading.
func New(component string) *log.Logger {
	prefix := fmt.Sprintf("[%s] ", component)
	return log.New(os.Stderr, prefix, log.LstdFlags|log.Lmsgprefix)
}
