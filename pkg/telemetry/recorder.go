// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/Thermoquad/zenith/pkg/protocol"
)

// Record is one entry of a telemetry recording. Recordings are CBOR
// sequences of Records with integer map keys.
type Record struct {
	Received    time.Time         `cbor:"0,keyasint"`
	Source      string            `cbor:"1,keyasint,omitempty"`
	Timestamp   uint32            `cbor:"2,keyasint"`
	Temperature float32           `cbor:"3,keyasint"`
	Power       float32           `cbor:"4,keyasint"`
	Battery     float32           `cbor:"5,keyasint"`
	Roll        float32           `cbor:"6,keyasint"`
	Pitch       float32           `cbor:"7,keyasint"`
	Yaw         float32           `cbor:"8,keyasint"`
	Mode        protocol.ADCSMode `cbor:"9,keyasint"`
}

// NewRecord builds a record from a telemetry packet.
func NewRecord(p protocol.TelemetryPacket, source string, received time.Time) Record {
	return Record{
		Received:    received,
		Source:      source,
		Timestamp:   p.Timestamp,
		Temperature: p.Temperature,
		Power:       p.Power,
		Battery:     p.Battery,
		Roll:        p.ADCS.Roll,
		Pitch:       p.ADCS.Pitch,
		Yaw:         p.ADCS.Yaw,
		Mode:        p.ADCS.Mode,
	}
}

// Packet converts the record back to a telemetry packet.
func (r Record) Packet() protocol.TelemetryPacket {
	return protocol.TelemetryPacket{
		Timestamp:   r.Timestamp,
		Temperature: r.Temperature,
		Power:       r.Power,
		Battery:     r.Battery,
		ADCS: protocol.ADCSStatus{
			Roll:  r.Roll,
			Pitch: r.Pitch,
			Yaw:   r.Yaw,
			Mode:  r.Mode,
		},
	}
}

var encMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("telemetry: cbor options: %v", err))
	}
	return em
}()

// Recorder appends telemetry records to a writer.
type Recorder struct {
	mu     sync.Mutex
	enc    *cbor.Encoder
	source string
	count  int
}

// NewRecorder creates a recorder that tags each record with source.
func NewRecorder(w io.Writer, source string) *Recorder {
	return &Recorder{enc: encMode.NewEncoder(w), source: source}
}

// Record writes one telemetry packet.
func (r *Recorder) Record(p protocol.TelemetryPacket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enc.Encode(NewRecord(p, r.source, time.Now())); err != nil {
		return fmt.Errorf("record telemetry: %w", err)
	}
	r.count++
	return nil
}

// Count returns the number of records written.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Reader reads records back from a recording.
type Reader struct {
	dec *cbor.Decoder
}

// NewReader creates a reader over a recording.
func NewReader(r io.Reader) *Reader {
	return &Reader{dec: cbor.NewDecoder(r)}
}

// Next returns the next record, or io.EOF at the end of the recording.
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("read telemetry record: %w", err)
	}
	return rec, nil
}

// ReadAll reads every record in the recording.
func (r *Reader) ReadAll() ([]Record, error) {
	var out []Record
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}
