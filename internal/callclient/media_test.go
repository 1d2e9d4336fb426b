package callclient

import (
	"errors"
	"fmt"
	"testing"
)

func TestMediaFailure_Classification(t *testing.T) {
	cases := []struct {
		err  string
		want MediaErrorKind
	}{
		{"no device found for constraints", MediaErrNoDevice},
		{"video4linux: no such device", MediaErrNoDevice},
		{"permission denied by user", MediaErrPermissionDenied},
		{"NotAllowedError: media not allowed", MediaErrPermissionDenied},
		{"device busy", MediaErrDeviceBusy},
		{"capture source in use", MediaErrDeviceBusy},
		{"overconstrained: 4k not available", MediaErrUnsupported},
		{"codec not supported", MediaErrUnsupported},
		{"something exploded", MediaErrUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.err, func(t *testing.T) {
			err := MediaFailure(errors.New(tc.err))
			var me *MediaError
			if !errors.As(err, &me) {
				t.Fatalf("err = %T, want *MediaError", err)
			}
			if me.Kind != tc.want {
				t.Fatalf("kind = %q, want %q", me.Kind, tc.want)
			}
			if me.Message() == "" {
				t.Fatalf("empty user-facing message")
			}
		})
	}
}

func TestMediaFailure_PassesThroughExistingClassification(t *testing.T) {
	orig := &MediaError{Kind: MediaErrPermissionDenied, Err: errors.New("denied")}
	wrapped := fmt.Errorf("setup: %w", orig)

	err := MediaFailure(wrapped)
	var me *MediaError
	if !errors.As(err, &me) {
		t.Fatalf("err = %T", err)
	}
	if me.Kind != MediaErrPermissionDenied {
		t.Fatalf("kind = %q, want pass-through classification", me.Kind)
	}
}

func TestMediaError_Unwrap(t *testing.T) {
	inner := errors.New("root cause")
	err := MediaFailure(inner)
	if !errors.Is(err, inner) {
		t.Fatalf("wrapped cause not reachable via errors.Is")
	}
}
