package app

import (
	"os"
	"strconv"
)

// TestModeEnv switches the binaries into a no-op start so package tests can
// import them without reaching Postgres or Redis.
const TestModeEnv = "COUNSELHUB_TEST_MODE"

// InTestMode reports whether TestModeEnv is set to a true value.
func InTestMode() bool {
	on, _ := strconv.ParseBool(os.Getenv(TestModeEnv))
	return on
}
