package testutil

import (
	"log"
	"os"
	"testing"
)

// TestLogger returns a logger scoped to the test, prefixed with the test
// name so interleaved output stays attributable.
func TestLogger(t *testing.T) *log.Logger {
	logger := log.New(os.Stdout, "["+t.Name()+"] ", log.LstdFlags)
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
	})
	return logger
}
