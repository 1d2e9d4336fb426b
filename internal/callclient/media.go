package callclient

import (
	"errors"
	"fmt"
	"strings"
)

// MediaErrorKind classifies why local media could not be acquired. The
// classification decides what the UI tells the user; every kind still ends
// the call attempt the same way.
type MediaErrorKind string

const (
	// MediaErrNoDevice: no capture device is present.
	MediaErrNoDevice MediaErrorKind = "no-device"
	// MediaErrPermissionDenied: the user or platform refused access.
	MediaErrPermissionDenied MediaErrorKind = "permission-denied"
	// MediaErrDeviceBusy: the device exists but another consumer holds it.
	MediaErrDeviceBusy MediaErrorKind = "device-busy"
	// MediaErrUnsupported: the requested constraints cannot be satisfied.
	MediaErrUnsupported MediaErrorKind = "unsupported"
	// MediaErrUnknown: none of the recognized failure shapes matched.
	MediaErrUnknown MediaErrorKind = "unknown"
)

// MediaError wraps a media acquisition failure with its classification.
type MediaError struct {
	Kind MediaErrorKind
	Err  error
}

func (e *MediaError) Error() string {
	return fmt.Sprintf("media acquisition failed (%s): %v", e.Kind, e.Err)
}

func (e *MediaError) Unwrap() error { return e.Err }

// Message is the user-facing explanation for this failure.
func (e *MediaError) Message() string {
	switch e.Kind {
	case MediaErrNoDevice:
		return "No camera or microphone was found."
	case MediaErrPermissionDenied:
		return "Access to the camera or microphone was denied."
	case MediaErrDeviceBusy:
		return "The camera or microphone is in use by another application."
	case MediaErrUnsupported:
		return "The requested media settings are not supported by this device."
	default:
		return "The camera or microphone could not be started."
	}
}

// MediaFailure classifies an error from a SetupPeer hook. Errors that are
// already a *MediaError pass through; anything else is matched against the
// failure shapes the capture backends produce.
func MediaFailure(err error) error {
	var me *MediaError
	if errors.As(err, &me) {
		return err
	}
	return &MediaError{Kind: classifyMedia(err), Err: err}
}

func classifyMedia(err error) MediaErrorKind {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no device"), strings.Contains(msg, "not found"),
		strings.Contains(msg, "no such device"):
		return MediaErrNoDevice
	case strings.Contains(msg, "permission"), strings.Contains(msg, "not allowed"),
		strings.Contains(msg, "denied"):
		return MediaErrPermissionDenied
	case strings.Contains(msg, "busy"), strings.Contains(msg, "in use"),
		strings.Contains(msg, "not readable"):
		return MediaErrDeviceBusy
	case strings.Contains(msg, "overconstrained"), strings.Contains(msg, "unsupported"),
		strings.Contains(msg, "not supported"):
		return MediaErrUnsupported
	default:
		return MediaErrUnknown
	}
}
