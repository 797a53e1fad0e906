package ctl_test

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain checks no network or HTTP test-server goroutine outlives the
// tests in this package.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
