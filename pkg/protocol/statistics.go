// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package protocol

import (
	"errors"
	"fmt"
	"time"
)

// Statistics tracks frame statistics and error rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalFrames      uint64
	ValidFrames      uint64
	CRCErrors        uint64
	DecodeErrors     uint64
	AnomalousValues  uint64
	LengthMismatches uint64
	Heartbeats       uint64
	TelemetryFrames  uint64
	ErrorFrames      uint64
	AckFrames        uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update updates statistics based on a frame and its errors
func (s *Statistics) Update(frame *Frame, decodeErr error, validationErrors []ValidationError) {
	s.TotalFrames++
	s.LastUpdateTime = time.Now()

	if decodeErr != nil {
		if errors.Is(decodeErr, ErrInvalidChecksum) {
			s.CRCErrors++
		} else {
			s.DecodeErrors++
		}
		return
	}

	if frame != nil {
		switch frame.Type() {
		case MsgHeartbeat:
			s.Heartbeats++
		case MsgTelemetryData:
			s.TelemetryFrames++
		case MsgError:
			s.ErrorFrames++
		case MsgAck:
			s.AckFrames++
		}
	}

	if len(validationErrors) == 0 {
		s.ValidFrames++
		return
	}

	for _, err := range validationErrors {
		if err.Type == AnomalyLengthMismatch {
			s.LengthMismatches++
		} else {
			s.AnomalousValues++
		}
	}
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		s.ErrorRate = float64(s.ErrorCount()) / elapsed
	}
}

// ErrorCount returns the total of all error counters
func (s *Statistics) ErrorCount() uint64 {
	return s.CRCErrors + s.DecodeErrors + s.LengthMismatches + s.AnomalousValues
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	percent := func(n uint64) float64 {
		if s.TotalFrames == 0 {
			return 0
		}
		return float64(n) * 100.0 / float64(s.TotalFrames)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", s.ValidFrames, percent(s.ValidFrames))
	result += fmt.Sprintf("  Telemetry:        %5d\n", s.TelemetryFrames)
	result += fmt.Sprintf("  Heartbeats:       %5d\n", s.Heartbeats)

	if s.AckFrames > 0 {
		result += fmt.Sprintf("  Acks:             %5d\n", s.AckFrames)
	}
	if s.ErrorFrames > 0 {
		result += fmt.Sprintf("  Error Reports:    %5d\n", s.ErrorFrames)
	}
	if s.CRCErrors > 0 {
		result += fmt.Sprintf("CRC Errors:      %8d (%.1f%%)\n", s.CRCErrors, percent(s.CRCErrors))
	}
	if s.DecodeErrors > 0 {
		result += fmt.Sprintf("Decode Errors:   %8d (%.1f%%)\n", s.DecodeErrors, percent(s.DecodeErrors))
	}
	if s.LengthMismatches > 0 {
		result += fmt.Sprintf("Length Mismatch: %8d (%.1f%%)\n", s.LengthMismatches, percent(s.LengthMismatches))
	}
	if s.AnomalousValues > 0 {
		result += fmt.Sprintf("Anomalous Values:%8d (%.1f%%)\n", s.AnomalousValues, percent(s.AnomalousValues))
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
