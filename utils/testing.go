package utils

import (
	"errors"
	"runtime"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func getParentInfo() (string, int) {
	parent, _, _, _ := runtime.Caller(2)
	info := runtime.FuncForPC(parent)
	file, line := info.FileLine(parent)
	return file, line
}

// Test helper
func Assert(t *testing.T, predicate bool, msg string) {
	if !predicate {
		file, line := getParentInfo()
		t.Errorf(msg+" in %s:%d", file, line)
	}
}

func AssertEqual[T comparable](t *testing.T, a T, b T) {
	if a != b {
		file, line := getParentInfo()
		t.Errorf("Expected %v == %v (%T) in %s:%d", a, b, a, file, line)
	}
}

// AssertDiff compares anything cmp can compare and prints the diff
// (-want +got) on mismatch.
func AssertDiff(t *testing.T, want any, got any, opts ...cmp.Option) {
	if diff := cmp.Diff(want, got, opts...); diff != "" {
		file, line := getParentInfo()
		t.Errorf("Mismatch (-want +got) in %s:%d:\n%s", file, line, diff)
	}
}

// Assert that error is nil
func AssertNoError(t *testing.T, err error) {
	if err != nil {
		file, line := getParentInfo()
		t.Errorf("Expected no error, got '%v' in %s:%d", err, file, line)
	}
}

// Assert that an error is not nil
func AssertError(t *testing.T, err error) {
	if err == nil {
		file, line := getParentInfo()
		t.Errorf("Expected error, got '%v' in %s:%d", err, file, line)
	}
}

// Assert that errors.Is(err, target)
func AssertErrorIs(t *testing.T, err error, target error) {
	if !errors.Is(err, target) {
		file, line := getParentInfo()
		t.Errorf("Expected error matching '%v', got '%v' in %s:%d", target, err, file, line)
	}
}

// AssertErrorAs checks that err has a *E in its chain and returns it, or nil
// (after failing the test) if it does not.
func AssertErrorAs[E error](t *testing.T, err error) E {
	var target E
	if !errors.As(err, &target) {
		file, line := getParentInfo()
		t.Errorf("Expected error of type %T, got '%v' in %s:%d", target, err, file, line)
	}
	return target
}
