// Package testing is blank-imported by test packages so binaries and config see a test environment.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

// testEnv holds defaults applied before any test runs. ODYSSEY_TEST_MODE is forced; the rest only fill gaps.
var testEnv = map[string]string{
	"APP_ENV":   "test",
	"LOG_LEVEL": "error",
}

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("ODYSSEY_TEST_MODE", "1")
		for key, value := range testEnv {
			if os.Getenv(key) == "" {
				_ = os.Setenv(key, value)
			}
		}
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
