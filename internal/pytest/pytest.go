// Package pytest provides the small fixture/assertion helpers used by
// package tests written in the plain-testing style, playing the role the
// teacher's tutils/tassert packages play for its own suite.
package pytest

import "testing"

// CheckFatal fails the test immediately if err is non-nil.
func CheckFatal(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// CheckError reports (without stopping the test) if err is non-nil.
func CheckError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

// Errorf reports a failure with msg/args if cond is false, continuing the
// test, matching tassert.Errorf's semantics.
func Errorf(t *testing.T, cond bool, msg string, args ...interface{}) {
	t.Helper()
	if !cond {
		t.Errorf(msg, args...)
	}
}
