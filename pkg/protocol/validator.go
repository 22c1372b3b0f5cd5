// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package protocol

import (
	"fmt"
	"math"
)

// AnomalyType represents different types of telemetry anomalies
type AnomalyType int

const (
	AnomalyLengthMismatch AnomalyType = iota
	AnomalyInvalidBattery
	AnomalyInvalidTemp
	AnomalyInvalidPower
	AnomalyInvalidAttitude
	AnomalyInvalidMode
	AnomalyCRCError
	AnomalyDecodeError
)

// Plausible telemetry ranges
const (
	MinTemperature = -40.0
	MaxTemperature = 85.0
	MaxPower       = 50.0
)

// ValidationError represents a frame validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateFrame validates frame contents and detects anomalies
// Returns a slice of validation errors (empty if frame is valid)
func ValidateFrame(f *Frame) []ValidationError {
	switch f.Type() {
	case MsgTelemetryData:
		t, err := ParseTelemetry(f.Payload())
		if err != nil {
			return []ValidationError{{
				Type:    AnomalyLengthMismatch,
				Message: err.Error(),
				Details: map[string]interface{}{"length": f.Length(), "expected": TelemetryDataSize},
			}}
		}
		return ValidateTelemetry(t)
	case MsgError:
		if code, err := ParseErrorCode(f.Payload()); err == nil &&
			(code < ErrCodeInvalidCommand || code > ErrCodeInvalidState) {
			return []ValidationError{{
				Type:    AnomalyDecodeError,
				Message: fmt.Sprintf("Invalid error code=%d", uint8(code)),
				Details: map[string]interface{}{"code": uint8(code)},
			}}
		}
	}
	return []ValidationError{}
}

// ValidateTelemetry checks a telemetry packet for out-of-range values
func ValidateTelemetry(t TelemetryPacket) []ValidationError {
	errors := []ValidationError{}

	if isBad(t.Battery) || t.Battery < 0 || t.Battery > 100 {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidBattery,
			Message: fmt.Sprintf("Invalid battery=%.2f%% (valid 0-100)", t.Battery),
			Details: map[string]interface{}{"battery": t.Battery},
		})
	}

	if isBad(t.Temperature) || t.Temperature < MinTemperature || t.Temperature > MaxTemperature {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidTemp,
			Message: fmt.Sprintf("Invalid temperature=%.2f °C (valid %.0f to %.0f)", t.Temperature, MinTemperature, MaxTemperature),
			Details: map[string]interface{}{"temperature": t.Temperature, "min": MinTemperature, "max": MaxTemperature},
		})
	}

	if isBad(t.Power) || t.Power < 0 || t.Power > MaxPower {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidPower,
			Message: fmt.Sprintf("Invalid power=%.2f W (valid 0-%.0f)", t.Power, MaxPower),
			Details: map[string]interface{}{"power": t.Power, "max": MaxPower},
		})
	}

	for _, axis := range []struct {
		name  string
		value float32
	}{{"roll", t.ADCS.Roll}, {"pitch", t.ADCS.Pitch}, {"yaw", t.ADCS.Yaw}} {
		v := float64(axis.value)
		if isBad(axis.value) || v <= -math.Pi || v > math.Pi {
			errors = append(errors, ValidationError{
				Type:    AnomalyInvalidAttitude,
				Message: fmt.Sprintf("Invalid %s=%.4f rad (outside -π..π)", axis.name, axis.value),
				Details: map[string]interface{}{"axis": axis.name, "value": axis.value},
			})
		}
	}

	if t.ADCS.Mode > ModeHold {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidMode,
			Message: fmt.Sprintf("Invalid ADCS mode=%d", uint8(t.ADCS.Mode)),
			Details: map[string]interface{}{"mode": uint8(t.ADCS.Mode)},
		})
	}

	return errors
}

func isBad(v float32) bool {
	f := float64(v)
	return math.IsNaN(f) || math.IsInf(f, 0)
}
