package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to WorkflowStatus
		want     bool
	}{
		{StatusInitiated, StatusStored, true},
		{StatusStored, StatusStored, true},
		{StatusStored, StatusProcessing, true},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusInitiated, StatusFailed, true},
		{StatusInitiated, StatusProcessing, false},
		{StatusProcessing, StatusStored, false},
		{StatusCompleted, StatusProcessing, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusCompleted, false},
		{StatusCompleted, StatusCompleted, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.want {
			t.Fatalf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.want, got)
		}
	}
}

func TestFailedWorkflowRestartsOnlyBeforeJob(t *testing.T) {
	early := &Workflow{Status: StatusFailed, FailedFrom: StatusStored}
	if !early.CanMoveTo(StatusStored) {
		t.Fatalf("a workflow that failed before its job must re-enter stored")
	}
	if early.CanMoveTo(StatusProcessing) || early.CanMoveTo(StatusCompleted) {
		t.Fatalf("a restart must go through stored")
	}
	late := &Workflow{Status: StatusFailed, FailedFrom: StatusProcessing}
	if late.CanMoveTo(StatusStored) {
		t.Fatalf("a workflow whose job failed must stay failed")
	}
	if (&Workflow{Status: StatusCompleted}).CanMoveTo(StatusStored) {
		t.Fatalf("completed must never be re-entered")
	}
}

func TestTerminalStatuses(t *testing.T) {
	if !StatusCompleted.IsTerminal() || !StatusFailed.IsTerminal() {
		t.Fatalf("expected completed and failed to be terminal")
	}
	if StatusProcessing.IsTerminal() {
		t.Fatalf("processing must not be terminal")
	}
	if WorkflowStatus("archived").Valid() {
		t.Fatalf("unknown status must be invalid")
	}
}

func TestWorkflowFieldsApply(t *testing.T) {
	wf := &Workflow{ID: "wf-1", JobID: "job-1"}
	text := "1. e4 e5"
	conf := 90.5
	WorkflowFields{ExtractedText: &text, Confidence: &conf, ClearJobID: true}.Apply(wf)

	if wf.JobID != "" {
		t.Fatalf("expected job id to be cleared, got %q", wf.JobID)
	}
	if wf.ExtractedText != text || wf.Confidence != conf {
		t.Fatalf("unexpected merged record: %+v", wf)
	}
}

func TestWorkflowExpired(t *testing.T) {
	now := time.Now()
	wf := &Workflow{ExpiresAt: now.Add(-time.Second)}
	if !wf.Expired(now) {
		t.Fatalf("expected record to be expired")
	}
	if (&Workflow{}).Expired(now) {
		t.Fatalf("record without expiry must never expire")
	}
}

func TestErrorCodeMapping(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{WrapError(ErrInvalidFileType, "issue", errors.New("application/pdf")), CodeInvalidType},
		{WrapError(ErrValidation, "issue", errors.New("empty name")), CodeValidation},
		{WrapError(ErrNotFound, "get", errors.New("id=x")), CodeNotFound},
		{WrapError(ErrInvalidTransition, "transition", errors.New("completed -> stored")), CodeInvalidState},
		{WrapError(ErrConflict, "create", errors.New("id=x")), CodeConflict},
		{&DependencyError{Service: ServiceOCR, Code: "ThrottlingException", Retryable: true}, CodeDependency},
		{errors.New("boom"), CodeInternal},
	}
	for _, tc := range cases {
		if got := ErrorCode(tc.err); got != tc.want {
			t.Fatalf("ErrorCode(%v): expected %s, got %s", tc.err, tc.want, got)
		}
	}
}

func TestFailureMessageKeepsInnermostCause(t *testing.T) {
	jobFailed := fmt.Errorf("poll ocr job: %w", WrapError(ErrJobFailed, "poll ocr job job-1", errors.New("unsupported image")))
	if got := FailureMessage(jobFailed); got != "unsupported image" {
		t.Fatalf("unexpected message %q", got)
	}
	dep := fmt.Errorf("start ocr job: %w", &DependencyError{Service: ServiceOCR, Code: "ThrottlingException", Err: errors.New("rate exceeded")})
	if got := FailureMessage(dep); got != "rate exceeded" {
		t.Fatalf("unexpected message %q", got)
	}
	bare := &DependencyError{Service: ServiceOCR, Code: "InvalidJobIdException"}
	if got := FailureMessage(bare); got != bare.Error() {
		t.Fatalf("expected the dependency error itself, got %q", got)
	}
}

func TestIsRetryableOnlyForRetryableDependencies(t *testing.T) {
	retryable := WrapError(ErrInternal, "op", &DependencyError{Service: ServiceStore, Retryable: true})
	if !IsRetryable(retryable) {
		t.Fatalf("expected wrapped retryable dependency error to be retryable")
	}
	if IsRetryable(&DependencyError{Service: ServiceStore}) {
		t.Fatalf("expected non-retryable dependency error")
	}
	if IsRetryable(WrapError(ErrValidation, "op", errors.New("bad"))) {
		t.Fatalf("validation errors are never retryable")
	}
}
