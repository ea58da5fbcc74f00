// Package mixer implements the per-packet release-time delay queue of
// §4.3: every outgoing packet is tagged with a random delay and released
// strictly in release-time order, breaking the timing correlation between
// a relay's inbound and outbound packets at a small, bounded latency cost.
package mixer

import (
	"container/heap"
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/queue"
)

// Job is one packet awaiting release.
type Job struct {
	ReleaseAt time.Time
	Send      func(ctx context.Context) error
}

type item struct {
	job   Job
	index int
}

type releaseQueue []*item

func (q releaseQueue) Len() int { return len(q) }
func (q releaseQueue) Less(i, j int) bool { return q[i].job.ReleaseAt.Before(q[j].job.ReleaseAt) }
func (q releaseQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *releaseQueue) Push(x any) {
	it := x.(*item)
	it.index = len(*q)
	*q = append(*q, it)
}

func (q *releaseQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*q = old[:n-1]
	return it
}

// Mixer holds enqueued Jobs in a release-time min-heap and drains them in
// order from a single goroutine (Run), handing each ready Job off to a
// concurrent output queue so a slow Send call on one packet cannot delay
// the next release.
type Mixer struct {
	minDelay   time.Duration
	delayRange time.Duration
	capacity   int

	mu     sync.Mutex
	pq     releaseQueue
	notify chan struct{}

	ready *queue.ConcurrentQueue

	errs chan error
}

// New builds a Mixer that delays each job by a duration drawn uniformly
// from [minDelay, minDelay+delayRange), holding at most capacity
// not-yet-released jobs before Enqueue starts blocking its caller.
func New(minDelay, delayRange time.Duration, capacity int) *Mixer {
	m := &Mixer{
		minDelay:   minDelay,
		delayRange: delayRange,
		capacity:   capacity,
		notify:     make(chan struct{}, 1),
		ready:      queue.NewConcurrentQueue(capacity),
		errs:       make(chan error, 16),
	}
	heap.Init(&m.pq)
	m.ready.Start()

	return m
}

// Enqueue schedules send for release after a random delay. It blocks,
// cooperatively, while the not-yet-released queue is at capacity — the
// backpressure signal of §4.3.
func (m *Mixer) Enqueue(ctx context.Context, send func(ctx context.Context) error) error {
	delay, err := m.randomDelay()
	if err != nil {
		return err
	}

	for {
		m.mu.Lock()
		if len(m.pq) < m.capacity {
			heap.Push(&m.pq, &item{job: Job{ReleaseAt: time.Now().Add(delay), Send: send}})
			m.mu.Unlock()

			select {
			case m.notify <- struct{}{}:
			default:
			}
			return nil
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond * 10):
		}
	}
}

func (m *Mixer) randomDelay() (time.Duration, error) {
	if m.delayRange <= 0 {
		return m.minDelay, nil
	}

	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("mixer: generate random delay: %w", err)
	}

	n := binary.BigEndian.Uint64(b[:]) % uint64(m.delayRange)
	return m.minDelay + time.Duration(n), nil
}

// Errors returns the channel of errors returned by Job.Send calls.
func (m *Mixer) Errors() <-chan error { return m.errs }

// Run waits for each queued job's release time in order and, once ready,
// hands it to the output queue for sending; it does not call Send itself,
// so one job's Send blocking cannot hold up the next release. Run returns
// when ctx is cancelled.
func (m *Mixer) Run(ctx context.Context) error {
	go m.drainReady(ctx)

	for {
		m.mu.Lock()
		if len(m.pq) == 0 {
			m.mu.Unlock()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-m.notify:
				continue
			}
		}

		next := m.pq[0]
		wait := time.Until(next.job.ReleaseAt)
		if wait <= 0 {
			heap.Pop(&m.pq)
			m.mu.Unlock()

			select {
			case m.ready.ChanIn() <- next.job:
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		case <-m.notify:
		}
	}
}

func (m *Mixer) drainReady(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.ready.Stop()
			return
		case v := <-m.ready.ChanOut():
			job := v.(Job)
			if err := job.Send(ctx); err != nil {
				select {
				case m.errs <- err:
				default:
				}
			}
		}
	}
}
