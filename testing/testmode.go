// Package testing puts the process into test mode. Package tests import it
// for its side effects only.
package testing

import "os"

// defaults are applied only when the variable is not already set, so CI can
// point tests at real services.
var defaults = map[string]string{
	"COUNSELHUB_TEST_MODE": "1",
	"GOTENBERG_URL":        "http://127.0.0.1:0",
	"LOG_FORMAT":           "json",
	"LOG_LEVEL":            "warn",
}

func init() {
	for key, value := range defaults {
		if _, ok := os.LookupEnv(key); !ok {
			_ = os.Setenv(key, value)
		}
	}
}
