package errors_test

import (
	"errors"
	"fmt"
	"testing"

	. "maproulette/pkg/errors"
)

func TestErrorCode_Message(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{Success, "Success"},
		{ChallengeNotFound, "Challenge not found"},
		{TaskConflict, "Task was claimed concurrently, please retry"},
		{DatabaseError, "Database operation failed"},
		{ErrorCode(99999), "Unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.code.Message(); got != tt.want {
				t.Errorf("Message() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code       ErrorCode
		wantStatus int
	}{
		{Success, 200},
		{InvalidParams, 400},
		{InvalidGeometry, 400},
		{ValidationFailed, 400},
		{Unauthorized, 401},
		{Forbidden, 403},
		{ChallengeNotFound, 404},
		{TaskNotFound, 404},
		{NoTaskInArea, 404},
		{TaskConflict, 409},
		{ChallengeComplete, 410},
		{ChallengeInactive, 503},
		{InternalServerError, 500},
	}

	for _, tt := range tests {
		t.Run(tt.code.Message(), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.wantStatus {
				t.Errorf("HTTPStatus() = %v, want %v", got, tt.wantStatus)
			}
		})
	}
}

func TestNew(t *testing.T) {
	err := New(TaskNotFound)

	if err.Code != TaskNotFound {
		t.Errorf("Code = %v, want %v", err.Code, TaskNotFound)
	}
	if err.Error() != TaskNotFound.Message() {
		t.Errorf("Error() = %v, want %v", err.Error(), TaskNotFound.Message())
	}
	if err.Stack == "" {
		t.Error("Stack should be captured")
	}
}

func TestWrap(t *testing.T) {
	originalErr := errors.New("connection refused")
	wrappedErr := Wrap(originalErr, DatabaseError)

	if wrappedErr.Code != DatabaseError {
		t.Errorf("Code = %v, want %v", wrappedErr.Code, DatabaseError)
	}
	if wrappedErr.Unwrap() != originalErr {
		t.Error("Unwrap() should return original error")
	}
	if Wrap(nil, DatabaseError) != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestIs_FollowsWrapChain(t *testing.T) {
	err := fmt.Errorf("select task: %w", ChallengeCompleteError("test1"))

	if !Is(err, ChallengeComplete) {
		t.Error("Is() should find a coded error behind fmt wrapping")
	}
	if Is(err, NoTaskInArea) {
		t.Error("Is() should return false for non-matching code")
	}
	if Is(nil, ChallengeComplete) {
		t.Error("Is() should return false for nil error")
	}
	if GetCode(err) != ChallengeComplete {
		t.Errorf("GetCode() = %v, want %v", GetCode(err), ChallengeComplete)
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{name: "nil error", err: nil, want: Success},
		{name: "custom error", err: New(TaskNotFound), want: TaskNotFound},
		{name: "standard error", err: errors.New("standard error"), want: InternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.want {
				t.Errorf("GetCode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDomainErrorConstructors(t *testing.T) {
	t.Run("ChallengeCompleteError", func(t *testing.T) {
		err := ChallengeCompleteError("test1")
		if err.Code != ChallengeComplete {
			t.Error("ChallengeCompleteError should use ChallengeComplete code")
		}
		if err.Details["challenge"] != "test1" {
			t.Error("challenge detail not set")
		}
	})

	t.Run("TaskNotFoundError", func(t *testing.T) {
		err := TaskNotFoundError("test1", "t9")
		if err.Code != TaskNotFound {
			t.Error("TaskNotFoundError should use TaskNotFound code")
		}
		if err.Details["task"] != "t9" {
			t.Error("task detail not set")
		}
	})

	t.Run("ConflictError", func(t *testing.T) {
		if ConflictError("").Error() != TaskConflict.Message() {
			t.Error("ConflictError without message should use the default message")
		}
	})

	t.Run("ValidationError", func(t *testing.T) {
		err := ValidationError("status", "not submittable")
		if err.Code != ValidationFailed {
			t.Error("ValidationError should use ValidationFailed code")
		}
		if err.Details["field"] != "status" {
			t.Error("Field detail not set")
		}
	})
}
