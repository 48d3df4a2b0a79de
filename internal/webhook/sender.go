// Package webhook delivers a rendered card to a Teams incoming-webhook
// URL with token-bucket rate limiting, HMAC-SHA256 signing, and a retry
// policy distinguishing 429/5xx/4xx/timeout outcomes.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"github.com/nphies/claims-core/internal/teamsevent"
)

// RateLimiter is a token-bucket limiter guarding outbound webhook calls,
// per webhook_sender.py's RateLimiter. capacity = maxBurst, refill rate
// = maxPerMinute/60 tokens/sec.
type RateLimiter struct {
	mu             sync.Mutex
	maxPerMinute   float64
	maxBurst       float64
	tokens         float64
	lastUpdate     time.Time
	now            func() time.Time
	sleep          func(time.Duration)
}

// NewRateLimiter constructs a limiter starting at full capacity.
func NewRateLimiter(maxPerMinute, maxBurst int) *RateLimiter {
	return &RateLimiter{
		maxPerMinute: float64(maxPerMinute),
		maxBurst:     float64(maxBurst),
		tokens:       float64(maxBurst),
		lastUpdate:   time.Now(),
		now:          time.Now,
		sleep:        time.Sleep,
	}
}

// Acquire blocks until at least one token is available, then debits one.
// Mutually exclusive across concurrent callers.
func (r *RateLimiter) Acquire() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	elapsed := now.Sub(r.lastUpdate).Seconds()
	r.lastUpdate = now

	refillRate := r.maxPerMinute / 60.0
	r.tokens = math.Min(r.maxBurst, r.tokens+elapsed*refillRate)

	if r.tokens < 1 {
		wait := (1 - r.tokens) / refillRate
		r.sleep(time.Duration(wait * float64(time.Second)))
		r.tokens = 1
	}
	r.tokens--
}

// Config holds the webhook sender's tunables.
type Config struct {
	MaxRequestsPerMinute int
	MaxBurst             int
	MaxRetries           int
	RetryTimeout         time.Duration
	BackoffFactor        float64
	SigningKey           string
}

// DefaultConfig mirrors webhook_sender.py's TeamsConfig defaults.
func DefaultConfig() Config {
	return Config{
		MaxRequestsPerMinute: 30,
		MaxBurst:             10,
		MaxRetries:           3,
		RetryTimeout:         10 * time.Second,
		BackoffFactor:        2.0,
	}
}

// Result is the outcome of one Send call.
type Result struct {
	StatusCode int
	RetryCount int
	SentAt     time.Time
	Error      string
}

// Sender POSTs rendered cards to Teams incoming webhooks.
type Sender struct {
	cfg        Config
	httpClient *http.Client
	limiter    *RateLimiter
	logger     zerolog.Logger
	sleep      func(time.Duration)
}

// New constructs a Sender. A zero-value Config falls back to
// DefaultConfig.
func New(cfg Config, logger zerolog.Logger) *Sender {
	if cfg.MaxRequestsPerMinute == 0 && cfg.MaxBurst == 0 {
		cfg = DefaultConfig()
	}
	return &Sender{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RetryTimeout},
		limiter:    NewRateLimiter(cfg.MaxRequestsPerMinute, cfg.MaxBurst),
		logger:     logger,
		sleep:      time.Sleep,
	}
}

func (s *Sender) sign(payload []byte) string {
	if s.cfg.SigningKey == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(s.cfg.SigningKey))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *Sender) backoff(retryCount int) time.Duration {
	d := math.Pow(s.cfg.BackoffFactor, float64(retryCount))
	if d > 60 {
		d = 60
	}
	return time.Duration(d * float64(time.Second))
}

// Send delivers payload to webhookURL, retrying per policy: 200
// succeeds, 429 honors Retry-After without consuming a backoff attempt,
// 5xx retries with exponential backoff up to MaxRetries, other 4xx fails
// immediately, and a transport-level error (including timeout) is
// retried as transient.
func (s *Sender) Send(ctx context.Context, webhookURL string, payload map[string]any, correlationID string, priority teamsevent.Priority) Result {
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{SentAt: time.Now(), Error: fmt.Sprintf("marshal payload: %v", err)}
	}
	signature := s.sign(body)

	retryCount := 0
	var lastErr string

	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		s.limiter.Acquire()

		sentAt := time.Now()
		status, retryAfter, respErr := s.post(ctx, webhookURL, body, signature, correlationID, priority)

		if respErr != nil {
			lastErr = respErr.Error()
			s.logger.Error().Err(respErr).Str("correlation_id", correlationID).Msg("webhook send failed")
			retryCount++
			if attempt < s.cfg.MaxRetries {
				s.sleepCtx(ctx, s.backoff(retryCount))
				continue
			}
			break
		}

		switch {
		case status == http.StatusOK:
			return Result{StatusCode: status, RetryCount: retryCount, SentAt: sentAt}
		case status == http.StatusTooManyRequests:
			wait := retryAfter
			if wait <= 0 {
				wait = 60 * time.Second
			}
			s.logger.Warn().Dur("wait", wait).Str("correlation_id", correlationID).Msg("teams webhook rate limited")
			s.sleepCtx(ctx, wait)
			retryCount++
			if ctx.Err() == nil {
				attempt-- // a 429 does not count against MaxRetries
			}
			continue
		case status >= 500:
			lastErr = fmt.Sprintf("server error %d", status)
			retryCount++
			if attempt < s.cfg.MaxRetries {
				s.sleepCtx(ctx, s.backoff(retryCount))
				continue
			}
		default:
			return Result{StatusCode: status, RetryCount: retryCount, SentAt: sentAt, Error: fmt.Sprintf("client error %d", status)}
		}
	}

	s.logger.Error().Str("correlation_id", correlationID).Str("error", lastErr).Msg("webhook delivery exhausted retries")
	return Result{RetryCount: retryCount, SentAt: time.Now(), Error: lastErr}
}

func (s *Sender) sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// post issues one HTTP POST, returning the status code, the parsed
// Retry-After duration (zero when absent), and a transport-level error.
func (s *Sender) post(ctx context.Context, url string, body []byte, signature, correlationID string, priority teamsevent.Priority) (int, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Correlation-ID", correlationID)
	req.Header.Set("X-Priority", string(priority))
	if signature != "" {
		req.Header.Set("X-HMAC-Signature", signature)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	var retryAfter time.Duration
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, perr := strconv.Atoi(v); perr == nil {
			retryAfter = time.Duration(secs) * time.Second
		}
	}
	return resp.StatusCode, retryAfter, nil
}

// SendBatch fans out Send concurrently across notifications, one call per
// Notification. Exceptions per call never propagate: submitOneRecover's
// panic-to-result pattern is mirrored here via conc.WaitGroup.
func (s *Sender) SendBatch(ctx context.Context, notifications []teamsevent.Notification) []Result {
	results := make([]Result, len(notifications))
	var wg conc.WaitGroup
	for i, n := range notifications {
		i, n := i, n
		wg.Go(func() {
			defer func() {
				if r := recover(); r != nil {
					results[i] = Result{SentAt: time.Now(), Error: fmt.Sprintf("panic: %v", r)}
				}
			}()
			results[i] = s.Send(ctx, n.WebhookURL, n.Card, n.Event.CorrelationID, n.Event.Priority)
		})
	}
	wg.Wait()
	return results
}
