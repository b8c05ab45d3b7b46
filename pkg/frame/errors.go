// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

// ErrorKind classifies a frame that could not be decoded
type ErrorKind int

const (
	KindFrameTooShort ErrorKind = iota
	KindFieldFormat
)

func (k ErrorKind) String() string {
	switch k {
	case KindFrameTooShort:
		return "FRAME_TOO_SHORT"
	case KindFieldFormat:
		return "FIELD_FORMAT"
	default:
		return "UNKNOWN"
	}
}

// DecodeError represents a frame that was discarded without producing a record
type DecodeError struct {
	Kind    ErrorKind
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DecodeError) Error() string {
	return e.Message
}

// Is matches any DecodeError of the same kind, so callers can test with
// errors.Is(err, ErrFrameTooShort).
func (e *DecodeError) Is(target error) bool {
	t, ok := target.(*DecodeError)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is
var (
	ErrFrameTooShort = &DecodeError{Kind: KindFrameTooShort, Message: "frame too short"}
	ErrFieldFormat   = &DecodeError{Kind: KindFieldFormat, Message: "field format error"}
)
