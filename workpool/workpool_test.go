package workpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestPoolBoundsConcurrentExecution(t *testing.T) {
	p := New(2)

	var inFlight int32
	var maxSeen int32

	jobs := make([]func(context.Context) error, 10)
	for i := range jobs {
		jobs[i] = func(context.Context) error {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				max := atomic.LoadInt32(&maxSeen)
				if n <= max || atomic.CompareAndSwapInt32(&maxSeen, max, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return nil
		}
	}

	require.NoError(t, p.Batch(context.Background(), jobs))
	require.LessOrEqual(t, atomic.LoadInt32(&maxSeen), int32(2))
}

func TestPoolBatchPropagatesFirstError(t *testing.T) {
	p := New(4)
	wantErr := errors.New("boom")

	jobs := []func(context.Context) error{
		func(context.Context) error { return nil },
		func(context.Context) error { return wantErr },
		func(context.Context) error { return nil },
	}

	err := p.Batch(context.Background(), jobs)
	require.ErrorIs(t, err, wantErr)
}

func TestPoolSubmitRespectsContextCancellation(t *testing.T) {
	p := New(1)
	ctx := context.Background()

	block := make(chan struct{})
	done := make(chan struct{})
	go func() {
		p.Submit(ctx, func(context.Context) error {
			<-block
			return nil
		})
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)

	cancelCtx, cancel := context.WithCancel(ctx)
	cancel()

	err := p.Submit(cancelCtx, func(context.Context) error { return nil })
	require.ErrorIs(t, err, context.Canceled)

	close(block)
	<-done
}

func TestPoolMetricsTrackActiveJobs(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, 2)
	p := New(2).WithMetrics(m)

	block := make(chan struct{})
	done := make(chan struct{})
	go func() {
		p.Submit(context.Background(), func(context.Context) error {
			<-block
			return nil
		})
		close(done)
	}()

	require.Eventually(t, func() bool {
		return gaugeValue(t, reg, "hoprd_workpool_active_jobs") == 1
	}, time.Second, time.Millisecond)

	close(block)
	<-done

	require.Eventually(t, func() bool {
		return gaugeValue(t, reg, "hoprd_workpool_active_jobs") == 0
	}, time.Second, time.Millisecond)

	require.Equal(t, float64(2), gaugeValue(t, reg, "hoprd_workpool_capacity"))
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		return mf.GetMetric()[0].GetGauge().GetValue()
	}

	t.Fatalf("metric %s not found", name)
	return 0
}
