package livepreview

import (
	"testing"

	"go.uber.org/goleak"
)

// checkLeaks fails t if goroutines started after the call outlive the
// test. Call it before anything that registers its own cleanup.
func checkLeaks(t *testing.T) {
	t.Helper()
	ignore := goleak.IgnoreCurrent()
	t.Cleanup(func() { goleak.VerifyNone(t, ignore) })
}
