package resilience

import (
	"context"
	"errors"
	"io/fs"
	"syscall"
	"testing"
)

func TestIsTransient_Markers(t *testing.T) {
	base := errors.New("some failure")

	if !IsTransient(NewTransientError(base)) {
		t.Error("transient marker should be retriable")
	}
	if IsTransient(NewPermanentError(base)) {
		t.Error("permanent marker should not be retriable")
	}

	// Markers win over the underlying error's classification.
	if !IsTransient(NewTransientError(fs.ErrNotExist)) {
		t.Error("transient marker should override the wrapped error")
	}
}

func TestIsTransient_SystemErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"deadline", context.DeadlineExceeded, true},
		{"not exist", fs.ErrNotExist, false},
		{"permission", fs.ErrPermission, false},
		{"no space", syscall.ENOSPC, false},
		{"interrupted", syscall.EINTR, true},
		{"conn reset", syscall.ECONNRESET, true},
		{"conn refused", syscall.ECONNREFUSED, true},
		{"unknown", errors.New("mystery"), false},
		{"nil", nil, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransient(tc.err); got != tc.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestIsTransient_StringHeuristics(t *testing.T) {
	if !IsTransient(errors.New("database is locked")) {
		t.Error("sqlite busy errors should be retriable")
	}
	if !IsTransient(errors.New("ERROR: deadlock detected (SQLSTATE 40P01)")) {
		t.Error("postgres deadlocks should be retriable")
	}
}

func TestClassifyError(t *testing.T) {
	if got := ClassifyError(NewTransientError(errors.New("x"))); got != "transient" {
		t.Errorf("expected transient, got %s", got)
	}
	if got := ClassifyError(errors.New("x")); got != "permanent" {
		t.Errorf("expected permanent, got %s", got)
	}
}
