package qualify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"leadscout-engine/internal/domain"
)

const anthropicVersion = "2023-06-01"

type Options struct {
	BaseURL        string
	Model          string
	MaxTokens      int
	Timeout        time.Duration
	MaxRetries     int
	Backoff        time.Duration
	Concurrency    int
	RequestsPerSec float64
	// APIKey is called before each request so a key stored after startup
	// is picked up.
	APIKey func() (string, error)
	Client *http.Client
	Logger *slog.Logger
}

// LLM qualifies opportunities through the Anthropic Messages API.
type LLM struct {
	opts    Options
	hc      *http.Client
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	log     *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewLLM(opts Options) *LLM {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.anthropic.com"
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1024
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	hc := opts.Client
	if hc == nil {
		hc = &http.Client{}
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(opts.RequestsPerSec), 1)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &LLM{
		opts:    opts,
		hc:      hc,
		sem:     semaphore.NewWeighted(int64(opts.Concurrency)),
		limiter: lim,
		log:     log.With("component", "qualify"),
		sleep:   sleepCtx,
	}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system"`
	Messages  []message `json:"messages"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Qualify calls the model up to 1+MaxRetries times. Transport failures,
// 429/5xx responses, attempt timeouts and unparseable answers are retried;
// other 4xx responses and refusals are not.
func (l *LLM) Qualify(ctx context.Context, o domain.RawOpportunity, taxonomy []domain.Service) (domain.Qualification, error) {
	system := SystemPrompt(taxonomy)
	user := UserPrompt(o, taxonomy)

	var last *attemptErr
	attempts := 0
	for attempt := 0; attempt <= l.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := l.opts.Backoff << (attempt - 1)
			if last != nil && last.retryAfter > wait {
				wait = last.retryAfter
			}
			if err := l.sleep(ctx, wait); err != nil {
				break
			}
		}
		attempts++
		q, err := l.attempt(ctx, system, user, taxonomy)
		if err == nil {
			return q, nil
		}
		last = err
		if !err.err.retryable() || ctx.Err() != nil {
			break
		}
		l.log.Debug("qualify attempt failed", "item", o.Label(), "attempt", attempts, "kind", err.err.Kind, "err", err.err.Err)
	}
	if last == nil {
		return domain.Qualification{}, &Error{Kind: KindTimeout, Attempts: attempts, Err: ctx.Err()}
	}
	last.err.Attempts = attempts
	return domain.Qualification{}, &last.err
}

// attemptErr carries a server-suggested retry delay alongside the error.
type attemptErr struct {
	err        Error
	retryAfter time.Duration
}

func (l *LLM) attempt(ctx context.Context, system, user string, taxonomy []domain.Service) (domain.Qualification, *attemptErr) {
	fail := func(k Kind, err error) (domain.Qualification, *attemptErr) {
		return domain.Qualification{}, &attemptErr{err: Error{Kind: k, Err: err}}
	}

	key := ""
	if l.opts.APIKey != nil {
		k, err := l.opts.APIKey()
		if err != nil {
			return fail(KindCredential, fmt.Errorf("api key: %w", err))
		}
		key = k
	}
	if key == "" {
		return fail(KindCredential, errors.New("no api key configured"))
	}

	if err := l.sem.Acquire(ctx, 1); err != nil {
		return fail(KindTimeout, err)
	}
	defer l.sem.Release(1)
	if err := l.limiter.Wait(ctx); err != nil {
		return fail(KindTimeout, err)
	}

	actx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	defer cancel()

	body, err := json.Marshal(messagesRequest{
		Model:     l.opts.Model,
		MaxTokens: l.opts.MaxTokens,
		System:    system,
		Messages:  []message{{Role: "user", Content: user}},
	})
	if err != nil {
		return fail(KindRejected, err)
	}
	req, err := http.NewRequestWithContext(actx, http.MethodPost, l.opts.BaseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return fail(KindRejected, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", key)
	req.Header.Set("anthropic-version", anthropicVersion)

	res, err := l.hc.Do(req)
	if err != nil {
		if actx.Err() != nil || isTimeout(err) {
			return fail(KindTimeout, err)
		}
		return fail(KindTransport, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		if actx.Err() != nil {
			return fail(KindTimeout, err)
		}
		return fail(KindTransport, err)
	}

	if res.StatusCode != http.StatusOK {
		var ae apiError
		_ = json.Unmarshal(raw, &ae)
		msg := ae.Error.Message
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		err := fmt.Errorf("status %d: %s", res.StatusCode, msg)
		switch {
		case res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500:
			return domain.Qualification{}, &attemptErr{err: Error{Kind: KindTransport, Err: err}, retryAfter: parseRetryAfter(res.Header.Get("Retry-After"))}
		default:
			return fail(KindRejected, err)
		}
	}

	var mr messagesResponse
	if err := json.Unmarshal(raw, &mr); err != nil {
		return fail(KindMalformed, fmt.Errorf("decode envelope: %w", err))
	}
	if mr.StopReason == "refusal" {
		return fail(KindContentPolicy, errors.New("model refused to answer"))
	}
	var text strings.Builder
	for _, c := range mr.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}
	q, err := Parse(text.String(), taxonomy)
	if err != nil {
		return fail(KindMalformed, err)
	}
	return q, nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
