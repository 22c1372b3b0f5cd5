// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package protocol

import "errors"

// Decode and encode failures. Decode errors are wrapped with detail, so
// compare with errors.Is.
var (
	ErrInvalidSync     = errors.New("invalid sync marker")
	ErrInvalidChecksum = errors.New("invalid checksum")
	ErrInvalidLength   = errors.New("invalid length")
	ErrInvalidParams   = errors.New("invalid params")
	ErrUnknownType     = errors.New("unknown message type")
	ErrPayloadTooLarge = errors.New("payload too large")
)

// ErrorCodeFor maps a decode error onto the code sent back in an ERROR frame.
// The second return value is false when err is not a protocol error.
func ErrorCodeFor(err error) (ErrorCode, bool) {
	switch {
	case errors.Is(err, ErrInvalidChecksum):
		return ErrCodeInvalidChecksum, true
	case errors.Is(err, ErrInvalidSync), errors.Is(err, ErrUnknownType):
		return ErrCodeInvalidCommand, true
	case errors.Is(err, ErrInvalidLength), errors.Is(err, ErrInvalidParams), errors.Is(err, ErrPayloadTooLarge):
		return ErrCodeInvalidParams, true
	}
	return 0, false
}
