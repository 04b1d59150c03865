// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package varlog

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Statistics tracks stream statistics and session loop timing
type Statistics struct {
	mu sync.Mutex

	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalBytes    uint64
	Samples       uint64
	Desyncs       uint64
	DecodeErrors  uint64
	StaleSamples  uint64 // timestamp not newer than the last row
	ReadErrors    uint64
	LoopIntervals uint64

	// Loop timing
	LoopElapsed time.Duration // time spent handling the last read
	LoopPeriod  time.Duration // time between the last two reads

	lastLoop time.Time

	// Rates (calculated)
	ByteRate   float64 // bytes/sec
	SampleRate float64 // samples/sec
}

// StatisticsSnapshot is a copy of the counters safe to share
type StatisticsSnapshot struct {
	Uptime       time.Duration `json:"uptime" msgpack:"uptime"`
	TotalBytes   uint64        `json:"total_bytes" msgpack:"total_bytes"`
	Samples      uint64        `json:"samples" msgpack:"samples"`
	Desyncs      uint64        `json:"desyncs" msgpack:"desyncs"`
	DecodeErrors uint64        `json:"decode_errors" msgpack:"decode_errors"`
	StaleSamples uint64        `json:"stale_samples" msgpack:"stale_samples"`
	ReadErrors   uint64        `json:"read_errors" msgpack:"read_errors"`
	LoopElapsed  time.Duration `json:"loop_elapsed" msgpack:"loop_elapsed"`
	LoopPeriod   time.Duration `json:"loop_period" msgpack:"loop_period"`
	ByteRate     float64       `json:"byte_rate" msgpack:"byte_rate"`
	SampleRate   float64       `json:"sample_rate" msgpack:"sample_rate"`
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// AddBytes counts bytes read from the link
func (s *Statistics) AddBytes(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TotalBytes += uint64(n)
	s.LastUpdateTime = time.Now()
}

// Update counts one decoder result
func (s *Statistics) Update(sample *Sample, decodeErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if decodeErr != nil {
		if errors.Is(decodeErr, ErrUnconfiguredFrame) {
			s.Desyncs++
		} else {
			s.DecodeErrors++
		}
		return
	}
	if sample != nil {
		s.Samples++
	}
	s.LastUpdateTime = time.Now()
}

// AddStale counts a sample whose timestamp did not advance the log
func (s *Statistics) AddStale() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StaleSamples++
}

// AddReadError counts a failed link read
func (s *Statistics) AddReadError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ReadErrors++
}

// Loop records one I/O loop iteration that began at start
func (s *Statistics) Loop(start time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LoopElapsed = time.Since(start)
	if !s.lastLoop.IsZero() {
		s.LoopPeriod = start.Sub(s.lastLoop)
		s.LoopIntervals++
	}
	s.lastLoop = start
}

// calculateRates calculates byte and sample rates; s.mu must be held
func (s *Statistics) calculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.ByteRate = float64(s.TotalBytes) / elapsed
		s.SampleRate = float64(s.Samples) / elapsed
	}
}

// Snapshot returns a copy of the current counters with rates calculated
func (s *Statistics) Snapshot() StatisticsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calculateRates()
	return StatisticsSnapshot{
		Uptime:       time.Since(s.StartTime),
		TotalBytes:   s.TotalBytes,
		Samples:      s.Samples,
		Desyncs:      s.Desyncs,
		DecodeErrors: s.DecodeErrors,
		StaleSamples: s.StaleSamples,
		ReadErrors:   s.ReadErrors,
		LoopElapsed:  s.LoopElapsed,
		LoopPeriod:   s.LoopPeriod,
		ByteRate:     s.ByteRate,
		SampleRate:   s.SampleRate,
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	snap := s.Snapshot()

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", snap.Uptime.Seconds())
	result += fmt.Sprintf("Bytes Received:  %8d\n", snap.TotalBytes)
	result += fmt.Sprintf("Samples:         %8d\n", snap.Samples)

	if snap.Desyncs > 0 {
		result += fmt.Sprintf("Desyncs:         %8d\n", snap.Desyncs)
	}
	if snap.DecodeErrors > 0 {
		result += fmt.Sprintf("Decode Errors:   %8d\n", snap.DecodeErrors)
	}
	if snap.StaleSamples > 0 {
		result += fmt.Sprintf("Stale Samples:   %8d\n", snap.StaleSamples)
	}
	if snap.ReadErrors > 0 {
		result += fmt.Sprintf("Read Errors:     %8d\n", snap.ReadErrors)
	}

	result += fmt.Sprintf("Byte Rate:       %8.1f bytes/sec\n", snap.ByteRate)
	result += fmt.Sprintf("Sample Rate:     %8.1f samples/sec\n", snap.SampleRate)
	result += fmt.Sprintf("Loop Elapsed:    %8s\n", snap.LoopElapsed)
	result += fmt.Sprintf("Loop Period:     %8s\n", snap.LoopPeriod)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.StartTime = now
	s.LastUpdateTime = now
	s.TotalBytes = 0
	s.Samples = 0
	s.Desyncs = 0
	s.DecodeErrors = 0
	s.StaleSamples = 0
	s.ReadErrors = 0
	s.LoopIntervals = 0
	s.LoopElapsed = 0
	s.LoopPeriod = 0
	s.lastLoop = time.Time{}
	s.ByteRate = 0
	s.SampleRate = 0
}
