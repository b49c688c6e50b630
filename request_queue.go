// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package uie

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic/encoder"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrQueueFull is returned when the wait queue is at capacity.
	ErrQueueFull = errors.New("request queue is full")

	// ErrRequestTimeout is returned when a request waited longer than the
	// configured timeout for a slot.
	ErrRequestTimeout = errors.New("request timed out waiting in queue")
)

// RequestQueueConfig configures a RequestQueue.
type RequestQueueConfig struct {
	// MaxConcurrentRequests is the number of requests processed at once (0 = number of CPUs).
	MaxConcurrentRequests int

	// MaxQueueSize is the number of requests allowed to wait (0 = unbounded).
	MaxQueueSize int

	// RequestTimeout bounds the time spent waiting for a slot (0 = no timeout).
	RequestTimeout time.Duration
}

// QueueStats is a snapshot of queue occupancy.
type QueueStats struct {
	MaxConcurrent  int    `json:"max_concurrent"`
	MaxQueueSize   int    `json:"max_queue_size"`
	CurrentActive  int64  `json:"current_active"`
	CurrentQueued  int64  `json:"current_queued"`
	TotalProcessed uint64 `json:"total_processed"`
	TotalRejected  uint64 `json:"total_rejected"`
	TotalTimedOut  uint64 `json:"total_timed_out"`
}

// RequestQueue applies backpressure to expensive requests: a bounded number
// run at once, a bounded number wait, and the rest are rejected.
type RequestQueue struct {
	config RequestQueueConfig
	sem    *semaphore.Weighted
	logger *zap.Logger

	active    atomic.Int64
	queued    atomic.Int64
	processed atomic.Uint64
	rejected  atomic.Uint64
	timedOut  atomic.Uint64
}

// NewRequestQueue creates a request queue.
func NewRequestQueue(config RequestQueueConfig, logger *zap.Logger) *RequestQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxConcurrentRequests <= 0 {
		config.MaxConcurrentRequests = runtime.NumCPU()
	}
	logger.Info("Request queue configured",
		zap.Int("max_concurrent", config.MaxConcurrentRequests),
		zap.Int("max_queue_size", config.MaxQueueSize),
		zap.Duration("request_timeout", config.RequestTimeout))
	return &RequestQueue{
		config: config,
		sem:    semaphore.NewWeighted(int64(config.MaxConcurrentRequests)),
		logger: logger,
	}
}

// Acquire waits for a processing slot. The returned release func must be
// called exactly once when the request is done.
func (q *RequestQueue) Acquire(ctx context.Context) (release func(), err error) {
	if !q.sem.TryAcquire(1) {
		if q.config.MaxQueueSize > 0 && q.queued.Load() >= int64(q.config.MaxQueueSize) {
			q.rejected.Add(1)
			q.logger.Debug("Rejecting request, queue full",
				zap.Int64("queued", q.queued.Load()))
			return nil, ErrQueueFull
		}

		waitCtx := ctx
		if q.config.RequestTimeout > 0 {
			var cancel context.CancelFunc
			waitCtx, cancel = context.WithTimeout(ctx, q.config.RequestTimeout)
			defer cancel()
		}

		q.queued.Add(1)
		start := time.Now()
		err := q.sem.Acquire(waitCtx, 1)
		q.queued.Add(-1)
		RecordQueueWaitTime(time.Since(start).Seconds())
		if err != nil {
			if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
				q.timedOut.Add(1)
				return nil, ErrRequestTimeout
			}
			return nil, err
		}
	}

	q.active.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() {
			q.active.Add(-1)
			q.processed.Add(1)
			q.sem.Release(1)
		})
	}, nil
}

// Stats returns the current queue statistics.
func (q *RequestQueue) Stats() QueueStats {
	return QueueStats{
		MaxConcurrent:  q.config.MaxConcurrentRequests,
		MaxQueueSize:   q.config.MaxQueueSize,
		CurrentActive:  q.active.Load(),
		CurrentQueued:  q.queued.Load(),
		TotalProcessed: q.processed.Load(),
		TotalRejected:  q.rejected.Load(),
		TotalTimedOut:  q.timedOut.Load(),
	}
}

// errorResponse is the JSON body of queue and API errors.
type errorResponse struct {
	Error string `json:"error"`
}

// WriteQueueFullResponse writes a 503 with a Retry-After header.
func WriteQueueFullResponse(w http.ResponseWriter, retryAfter time.Duration) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
	w.WriteHeader(http.StatusServiceUnavailable)
	_ = encoder.NewStreamEncoder(w).Encode(errorResponse{Error: ErrQueueFull.Error()})
}

// WriteTimeoutResponse writes a 504 for requests that timed out in the queue.
func WriteTimeoutResponse(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusGatewayTimeout)
	_ = encoder.NewStreamEncoder(w).Encode(errorResponse{Error: ErrRequestTimeout.Error()})
}
