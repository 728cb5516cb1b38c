package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestTypedErrorClassification(t *testing.T) {
	t.Parallel()

	validation := NewValidationError("task %q missing", "a")
	configuration := NewConfigurationError("no image")
	denied := NewPermissionDenied("bash", "rm -rf /", "critical risk")
	security := NewSecurityError("container sandbox", "cwd is fixed")

	if !IsValidation(validation) || IsValidation(configuration) {
		t.Fatal("IsValidation misclassifies")
	}
	if !IsConfiguration(configuration) || IsConfiguration(denied) {
		t.Fatal("IsConfiguration misclassifies")
	}
	if !IsPermissionDenied(denied) || IsPermissionDenied(security) {
		t.Fatal("IsPermissionDenied misclassifies")
	}
	if !IsSecurity(security) || IsSecurity(validation) {
		t.Fatal("IsSecurity misclassifies")
	}
}

func TestClassificationSurvivesWrapping(t *testing.T) {
	t.Parallel()
	wrapped := fmt.Errorf("executor: %w", NewPermissionDenied("bash", "x", "y"))
	if !IsPermissionDenied(wrapped) {
		t.Fatal("wrapped permission error not detected")
	}
}

func TestPermissionDeniedMessage(t *testing.T) {
	t.Parallel()
	err := NewPermissionDenied("bash", "git push --force", "exceeds threshold")
	for _, want := range []string{"bash", "git push --force", "exceeds threshold"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("message %q missing %q", err.Error(), want)
		}
	}
}

func TestIsTransient(t *testing.T) {
	t.Parallel()
	if IsTransient(NewValidationError("bad")) || IsTransient(NewPermissionDenied("a", "b", "c")) {
		t.Fatal("policy errors are never transient")
	}
	if !IsTransient(stderrors.New("dial tcp: connection refused")) {
		t.Fatal("connection refused is transient")
	}
	if IsTransient(stderrors.New("image not found")) {
		t.Fatal("a definite failure is not transient")
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	t.Parallel()
	calls := 0
	err := Retry(context.Background(), RetryConfig{MaxAttempts: 3, Backoff: time.Millisecond}, func() error {
		calls++
		return NewConfigurationError("permanent")
	})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 for a permanent error", calls)
	}
	if !IsConfiguration(err) {
		t.Fatalf("err = %v, want the original error back", err)
	}
}

func TestRetryRetriesTransientErrors(t *testing.T) {
	t.Parallel()
	calls := 0
	err := Retry(context.Background(), RetryConfig{MaxAttempts: 3, Backoff: time.Millisecond}, func() error {
		calls++
		if calls < 3 {
			return stderrors.New("connection refused")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}
