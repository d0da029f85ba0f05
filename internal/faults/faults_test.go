package faults

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, ""},
		{"unmarked defaults to transient", base, ClassTransient},
		{"transient wrap", Transient(base), ClassTransient},
		{"permanent wrap", Permanent(base), ClassPermanent},
		{"exhausted wrap", Exhausted(6, base), ClassExhausted},
		{"infrastructure wrap", Infrastructure(base), ClassInfrastructure},
		{"context cancelled", context.Canceled, ClassCancelled},
		{"deadline is transient", context.DeadlineExceeded, ClassTransient},
		{"cancelled marker", fmt.Errorf("op: %w", ErrCancelled), ClassCancelled},
		{"deeply wrapped permanent", fmt.Errorf("outer: %w", Permanent(base)), ClassPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(errors.New("connection reset")) {
		t.Error("unmarked error should be retryable")
	}
	if Retryable(Permanent(errors.New("bad input"))) {
		t.Error("permanent error should not be retryable")
	}
	if Retryable(Exhausted(6, errors.New("boom"))) {
		t.Error("exhausted error should not be retryable")
	}
}

func TestExhaustedKeepsLastError(t *testing.T) {
	last := errors.New("timeout talking to upstream")
	err := Exhausted(6, last)

	if !errors.Is(err, ErrExhausted) {
		t.Error("expected ErrExhausted in chain")
	}
	if !errors.Is(err, last) {
		t.Error("expected last error in chain")
	}
}
