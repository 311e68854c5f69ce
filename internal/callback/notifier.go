// Package callback reports job status transitions to the requester's
// callback URL. Delivery is best-effort: failures are logged and never
// surface as job failures.
package callback

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"build-orchestrator/internal/clock"
	"build-orchestrator/internal/entity"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultAttempts  = 3
	defaultBaseDelay = time.Second
)

type Config struct {
	// Secret, when set, is sent as "Authorization: Bearer <secret>".
	Secret string

	// Timeout bounds each attempt.
	Timeout time.Duration

	// Attempts is the total number of tries per update.
	Attempts int

	// BaseDelay is the wait before the second attempt; the n-th retry
	// waits n*BaseDelay. Zero retries immediately.
	BaseDelay time.Duration

	HTTPClient *http.Client
	Clock      clock.Clock
	Logger     *slog.Logger
}

type Notifier struct {
	secret    string
	timeout   time.Duration
	attempts  int
	baseDelay time.Duration
	client    *http.Client
	clock     clock.Clock
	logger    *slog.Logger

	wg sync.WaitGroup

	mu sync.Mutex
	// queues holds undelivered updates per job id. An entry exists while
	// that job's drain goroutine runs.
	queues map[string][]pending
}

type pending struct {
	url    string
	update entity.StatusUpdate
}

func New(cfg Config) *Notifier {
	n := &Notifier{
		secret:    cfg.Secret,
		timeout:   cfg.Timeout,
		attempts:  cfg.Attempts,
		baseDelay: cfg.BaseDelay,
		client:    cfg.HTTPClient,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		queues:    map[string][]pending{},
	}
	if n.timeout <= 0 {
		n.timeout = defaultTimeout
	}
	if n.attempts <= 0 {
		n.attempts = defaultAttempts
	}
	if n.baseDelay < 0 {
		n.baseDelay = defaultBaseDelay
	}
	if n.client == nil {
		n.client = &http.Client{}
	}
	if n.clock == nil {
		n.clock = clock.Real()
	}
	if n.logger == nil {
		n.logger = slog.Default()
	}
	n.logger = n.logger.With("component", "callback")
	return n
}

// Notify delivers update in the background. It never blocks the caller.
// Updates for one job arrive in the order they were notified.
func (n *Notifier) Notify(callbackURL string, update entity.StatusUpdate) {
	if callbackURL == "" {
		return
	}
	n.wg.Add(1)

	n.mu.Lock()
	q, draining := n.queues[update.JobID]
	n.queues[update.JobID] = append(q, pending{url: callbackURL, update: update})
	n.mu.Unlock()

	if !draining {
		go n.drain(update.JobID)
	}
}

// drain delivers the job's queued updates one at a time until none remain.
func (n *Notifier) drain(jobID string) {
	for {
		n.mu.Lock()
		q := n.queues[jobID]
		if len(q) == 0 {
			delete(n.queues, jobID)
			n.mu.Unlock()
			return
		}
		next := q[0]
		n.queues[jobID] = q[1:]
		n.mu.Unlock()

		_ = n.Deliver(context.Background(), next.url, next.update)
		n.wg.Done()
	}
}

// Wait blocks until in-flight background deliveries finish.
func (n *Notifier) Wait() { n.wg.Wait() }

// Deliver posts update with bounded retries and returns the last error. The
// error is informational; callers must not fail a job on it.
func (n *Notifier) Deliver(ctx context.Context, callbackURL string, update entity.StatusUpdate) error {
	body, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal status update: %w", err)
	}
	deliveryID := DeliveryID(update)

	var lastErr error
	for attempt := 1; attempt <= n.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-n.clock.After(time.Duration(attempt-1) * n.baseDelay):
			}
		}

		lastErr = n.post(ctx, callbackURL, deliveryID, body)
		if lastErr == nil {
			n.logger.Debug("callback delivered",
				"job_id", update.JobID, "status", update.Status, "attempt", attempt)
			return nil
		}
		n.logger.Warn("callback attempt failed",
			"job_id", update.JobID, "status", update.Status, "attempt", attempt, "error", lastErr)
	}

	n.logger.Error("callback dropped",
		"job_id", update.JobID, "status", update.Status, "attempts", n.attempts, "error", lastErr)
	return lastErr
}

func (n *Notifier) post(ctx context.Context, callbackURL, deliveryID string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-ID", deliveryID)
	if n.secret != "" {
		req.Header.Set("Authorization", "Bearer "+n.secret)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// DeliveryID identifies one logical update so receivers can drop retried
// duplicates. Every attempt for the same update carries the same id.
func DeliveryID(update entity.StatusUpdate) string {
	h := blake3.New()
	_, _ = h.Write([]byte(update.JobID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(update.Status))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(strconv.Itoa(update.Step)))
	return hex.EncodeToString(h.Sum(nil)[:16])
}
