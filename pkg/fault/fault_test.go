// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package fault

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedSampler(v float64) Sampler {
	return func() float64 { return v }
}

type fakeTask struct {
	suspended chan struct{}
	release   chan struct{}
}

func newFakeTask() *fakeTask {
	return &fakeTask{suspended: make(chan struct{}, 1), release: make(chan struct{})}
}

func (f *fakeTask) Suspend() error {
	f.suspended <- struct{}{}
	<-f.release
	return nil
}

func TestRegister_Capacity(t *testing.T) {
	e := NewEngine()
	for i := 0; i < MaxFaults; i++ {
		require.NoError(t, e.Register(Fault{Kind: MemoryLeak, Probability: 0.5}))
	}
	assert.ErrorIs(t, e.Register(Fault{Kind: MemoryLeak, Probability: 0.5}), ErrCapacityExceeded)
	assert.Len(t, e.Active(), MaxFaults)

	e.ClearAll()
	assert.Empty(t, e.Active())
	assert.NoError(t, e.Register(Fault{Kind: MemoryLeak, Probability: 0.5}))
}

func TestRegister_Validation(t *testing.T) {
	e := NewEngine()
	assert.ErrorIs(t, e.Register(Fault{Kind: TaskDelay, Probability: 1.5}), ErrInvalidProbability)
	assert.ErrorIs(t, e.Register(Fault{Kind: TaskDelay, Probability: -0.1}), ErrInvalidProbability)
	assert.ErrorIs(t, e.Register(Fault{Kind: Kind(99), Probability: 0.1}), ErrInvalidKind)
}

func TestEvaluate_ProbabilityBoundary(t *testing.T) {
	e := NewEngine(WithSampler(fixedSampler(0.3)))
	require.NoError(t, e.Register(Fault{Kind: ADCSError, Probability: 0.3}))
	assert.False(t, e.Evaluate(context.Background(), ADCSError, nil), "sample equal to probability must not fire")

	e.ClearAll()
	require.NoError(t, e.Register(Fault{Kind: ADCSError, Probability: 0.31}))
	assert.True(t, e.Evaluate(context.Background(), ADCSError, nil))
}

func TestEvaluate_FiringRate(t *testing.T) {
	const n = 20000
	for _, p := range []float64{0.1, 0.3, 0.7} {
		e := NewEngine()
		require.NoError(t, e.Register(Fault{Kind: TransportDrop, Probability: p}))

		fired := 0
		for i := 0; i < n; i++ {
			if e.Evaluate(context.Background(), TransportDrop, nil) {
				fired++
			}
		}
		rate := float64(fired) / n
		assert.InDelta(t, p, rate, 0.02, "p=%.1f fired %d of %d", p, fired, n)
	}
}

func TestEvaluate_ZeroAndOneProbability(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.Register(Fault{Kind: TransportDrop, Probability: 0}))
	for i := 0; i < 100; i++ {
		assert.False(t, e.Evaluate(context.Background(), TransportDrop, nil))
	}

	e.ClearAll()
	require.NoError(t, e.Register(Fault{Kind: TransportDrop, Probability: 1}))
	for i := 0; i < 100; i++ {
		assert.True(t, e.Evaluate(context.Background(), TransportDrop, nil))
	}
}

func TestEvaluate_OnlyMatchingKind(t *testing.T) {
	e := NewEngine(WithSampler(fixedSampler(0)))
	require.NoError(t, e.Register(Fault{Kind: ADCSError, Probability: 1}))
	assert.False(t, e.Evaluate(context.Background(), TransportDrop, nil))
	assert.False(t, e.Evaluate(context.Background(), None, nil))
}

func TestEvaluate_Delay(t *testing.T) {
	e := NewEngine(WithSampler(fixedSampler(0)))
	require.NoError(t, e.Register(Fault{Kind: TaskDelay, Probability: 1, Duration: 30 * time.Millisecond}))

	start := time.Now()
	assert.True(t, e.Evaluate(context.Background(), TaskDelay, nil))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestEvaluate_DelayCancelled(t *testing.T) {
	e := NewEngine(WithSampler(fixedSampler(0)))
	require.NoError(t, e.Register(Fault{Kind: TransportDelay, Probability: 1, Duration: time.Hour}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	assert.True(t, e.Evaluate(ctx, TransportDelay, nil))
	assert.Less(t, time.Since(start), time.Second)
}

func TestEvaluate_HangSuspendsCaller(t *testing.T) {
	e := NewEngine(WithSampler(fixedSampler(0)))
	require.NoError(t, e.Register(Fault{Kind: TaskHang, Probability: 1}))

	task := newFakeTask()
	done := make(chan bool)
	go func() { done <- e.Evaluate(context.Background(), TaskHang, task) }()

	<-task.suspended
	select {
	case <-done:
		t.Fatal("Evaluate returned while the task was suspended")
	case <-time.After(20 * time.Millisecond):
	}

	close(task.release)
	assert.True(t, <-done)
}

func TestEvaluate_MemoryLeak(t *testing.T) {
	e := NewEngine(WithSampler(fixedSampler(0)))
	require.NoError(t, e.Register(Fault{Kind: MemoryLeak, Probability: 1}))

	for i := 0; i < 3; i++ {
		e.Evaluate(context.Background(), MemoryLeak, nil)
	}
	assert.Equal(t, 3*LeakSize, e.LeakedBytes())

	e.ClearAll()
	assert.Zero(t, e.LeakedBytes())
}

func TestEvaluate_CPUOverloadAndHook(t *testing.T) {
	var fired []Kind
	e := NewEngine(WithSampler(fixedSampler(0)), WithFiredHook(func(k Kind) { fired = append(fired, k) }))
	require.NoError(t, e.Register(Fault{Kind: CPUOverload, Probability: 1, Param: 5}))

	assert.True(t, e.Evaluate(context.Background(), CPUOverload, nil))
	assert.Equal(t, []Kind{CPUOverload}, fired)
}

func TestParseFault(t *testing.T) {
	tests := []struct {
		in   string
		want Fault
	}{
		{"adcs_error:0.2", Fault{Kind: ADCSError, Probability: 0.2}},
		{"task_delay:0.1:250ms", Fault{Kind: TaskDelay, Probability: 0.1, Duration: 250 * time.Millisecond}},
		{"CPU_OVERLOAD:0.5:0:20", Fault{Kind: CPUOverload, Probability: 0.5, Param: 20}},
		{"transport_drop:1", Fault{Kind: TransportDrop, Probability: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFault(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"task_delay", "bogus:0.1", "task_delay:2", "task_delay:0.1:fast", "cpu_overload:0.1:0:x", "a:b:c:d:e"} {
		_, err := ParseFault(bad)
		assert.Error(t, err, bad)
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "task_hang", TaskHang.String())
	k, err := ParseKind("transport_delay")
	require.NoError(t, err)
	assert.Equal(t, TransportDelay, k)
}
