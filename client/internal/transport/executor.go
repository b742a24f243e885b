// Package transport is the single choke point for backend requests. It
// composes URLs for the detected deployment, attaches credentials, bounds
// every call with a timeout, retries transient failures, classifies the
// outcome and reacts to authorization failures. Execute never returns a Go
// error: every failure is a Result with OK == false.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/propnest/marketsync/client/internal/credential"
	"github.com/propnest/marketsync/client/internal/deployenv"
	apierrors "github.com/propnest/marketsync/client/internal/errors"
)

// Credentials resolves the bearer credential for each logical request.
type Credentials interface {
	Resolve(ctx context.Context, explicit string) (string, credential.Source)
}

// Executor performs requests. It is safe for concurrent use.
type Executor struct {
	env     deployenv.Environment
	prefix  string
	policy  Policy
	creds   Credentials
	guard   *AuthGuard
	limiter *rate.Limiter
	log     zerolog.Logger

	primary  *resty.Client // nil when unavailable
	fallback *http.Client

	userAgent string
	requests  atomic.Int64
}

type settings struct {
	httpClient *http.Client
	noPrimary  bool
	prefix     string
	policy     Policy
	guard      *AuthGuard
	limiter    *rate.Limiter
	log        zerolog.Logger
	debug      bool
	userAgent  string
}

// Option configures an Executor.
type Option func(*settings)

// WithHTTPClient sets the client whose Transport both mechanisms use. Its
// Timeout is ignored; bounds come from the Policy.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *settings) { s.httpClient = hc }
}

// WithoutPrimary leaves the primary mechanism unavailable so every request
// goes through the fallback.
func WithoutPrimary() Option {
	return func(s *settings) { s.noPrimary = true }
}

// WithPathPrefix overrides DefaultPathPrefix.
func WithPathPrefix(p string) Option {
	return func(s *settings) { s.prefix = p }
}

// WithPolicy overrides DefaultPolicy. Zero fields keep their defaults.
func WithPolicy(p Policy) Option {
	return func(s *settings) { s.policy = p }
}

// WithAuthGuard installs the reaction to authorization failures.
func WithAuthGuard(g *AuthGuard) Option {
	return func(s *settings) { s.guard = g }
}

// WithRateLimit caps outgoing attempts at rps with the given burst. rps <= 0
// disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *settings) {
		if rps <= 0 {
			s.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *settings) { s.log = l }
}

// WithDebug dumps every request and response at debug level.
func WithDebug(on bool) Option {
	return func(s *settings) { s.debug = on }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(s *settings) { s.userAgent = ua }
}

// New builds an Executor for env. creds may be nil for anonymous access.
func New(env deployenv.Environment, creds Credentials, opts ...Option) *Executor {
	s := settings{
		prefix: DefaultPathPrefix,
		policy: DefaultPolicy(),
		log:    zerolog.Nop(),
		debug:  DebugRequested(),
	}
	for _, o := range opts {
		o(&s)
	}

	var base http.RoundTripper = http.DefaultTransport
	if s.httpClient != nil && s.httpClient.Transport != nil {
		base = s.httpClient.Transport
	}
	if s.debug {
		base = &debugTransport{base: base, log: s.log}
	}

	e := &Executor{
		env:       env,
		prefix:    s.prefix,
		policy:    s.policy.withDefaults(),
		creds:     creds,
		guard:     s.guard,
		limiter:   s.limiter,
		log:       s.log,
		fallback:  &http.Client{Transport: base},
		userAgent: s.userAgent,
	}
	if !s.noPrimary {
		e.primary = resty.NewWithClient(&http.Client{Transport: base})
	}
	return e
}

// URL returns the absolute or root-relative URL for endpoint.
func (e *Executor) URL(endpoint string) string {
	return ComposeURL(e.env.APIBase(), e.prefix, endpoint)
}

// Get performs a GET that clears credentials on 401/403.
func (e *Executor) Get(ctx context.Context, endpoint string, query url.Values) Result {
	return e.Execute(ctx, Request{
		Method:             http.MethodGet,
		Endpoint:           endpoint,
		Query:              query,
		ClearOnAuthFailure: true,
	})
}

// Execute performs req with bounded wait and retries. It never panics and
// never returns a Go error.
func (e *Executor) Execute(ctx context.Context, req Request) (res Result) {
	start := time.Now()
	req = req.normalized()
	op := req.operation()
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Str("operation", op).Msg("request panicked")
			res = failure(apierrors.NewNetworkError(op, fmt.Errorf("panic: %v", r)))
		}
		res.Elapsed = time.Since(start)
		requestDuration.WithLabelValues(outcome(res)).Observe(res.Elapsed.Seconds())
	}()

	target, err := absolute(e.URL(req.Endpoint), e.env.Origin, req.Query)
	if err != nil {
		return failure(apierrors.NewNetworkError(op, err))
	}
	body, err := encodeBody(req.Body)
	if err != nil {
		return failure(&apierrors.ClassifiedError{Kind: apierrors.Domain, Operation: op, Message: "request body not encodable", Underlying: err})
	}

	headers := http.Header{}
	headers.Set("Accept", "application/json")
	headers.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		headers.Set("Content-Type", "application/json")
	}
	if e.userAgent != "" {
		headers.Set("User-Agent", e.userAgent)
	}
	if e.creds != nil {
		if token, _ := e.creds.Resolve(ctx, req.Token); token != "" {
			headers.Set("Authorization", "Bearer "+token)
		}
	}

	bound := e.policy.TimeoutFor(req, e.env.Preview)
	budget := e.policy.RetriesFor(req)
	e.requests.Add(1)

	var bo backoff.BackOff = backoff.WithMaxRetries(backoff.NewConstantBackOff(e.policy.Backoff), uint64(budget))
	bo = backoff.WithContext(bo, ctx)

	attempts := 0
	_ = backoff.RetryNotify(func() error {
		attempts++
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				res = failure(apierrors.NewNetworkError(op, err))
				return backoff.Permanent(res.Err)
			}
		}
		res = e.attempt(ctx, req, op, target, headers, body, bound)
		if res.OK {
			return nil
		}
		if res.Err.Retryable() {
			return res.Err
		}
		return backoff.Permanent(res.Err)
	}, bo, func(err error, wait time.Duration) {
		e.log.Debug().Err(err).Str("operation", op).Dur("wait", wait).Msg("retrying request")
	})
	res.Attempts = attempts

	if !res.OK && res.Err.Kind == apierrors.Auth && req.ClearOnAuthFailure {
		e.log.Warn().Str("operation", op).Int("status", res.Status).Msg("authorization failure; clearing credentials")
		e.guard.Trigger()
	}
	if !res.OK {
		e.log.Debug().Str("operation", op).Int("status", res.Status).Str("kind", res.Err.Kind.String()).Int("attempts", attempts).Msg("request failed")
	}
	return res
}

// attempt runs one try: primary first unless unavailable or bypassed, with a
// single fallback replay when the primary fails synchronously.
func (e *Executor) attempt(ctx context.Context, req Request, op, target string, headers http.Header, body []byte, bound time.Duration) Result {
	if e.primary != nil && req.Prefer != PreferFallback {
		status, raw, err := e.sendPrimary(ctx, req.Method, target, headers, body, bound)
		if err == nil || isNetworkError(err) {
			res := classify(op, status, raw, err)
			attemptsTotal.WithLabelValues("primary", outcome(res)).Inc()
			return res
		}
		e.log.Debug().Err(err).Str("operation", op).Msg("primary mechanism failed; replaying through fallback")
		fallbacksTotal.Inc()
	}
	status, raw, err := e.sendFallback(ctx, req.Method, target, headers, body, bound)
	res := classify(op, status, raw, err)
	attemptsTotal.WithLabelValues("fallback", outcome(res)).Inc()
	e.logUnparsed(op, res)
	return res
}

// logUnparsed records non-JSON bodies. They never fail the request.
func (e *Executor) logUnparsed(op string, res Result) {
	if _, isText := res.Data.(RawText); isText {
		perr := apierrors.NewParseError(op, errors.New("body is not JSON"))
		e.log.Debug().Err(perr).Int("status", res.Status).Msg("unparsed response body")
	}
}

func (e *Executor) sendPrimary(ctx context.Context, method, target string, headers http.Header, body []byte, bound time.Duration) (status int, raw []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("primary mechanism panicked: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, bound)
	defer cancel()

	r := e.primary.R().SetContext(ctx).SetHeaderMultiValues(headers)
	if body != nil {
		r.SetBody(body)
	}
	resp, err := r.Execute(method, target)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode(), resp.Body(), nil
}

// sendFallback uses the raw client with a manual timer that cancels the
// whole exchange, body read included.
func (e *Executor) sendFallback(ctx context.Context, method, target string, headers http.Header, body []byte, bound time.Duration) (int, []byte, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var timedOut atomic.Bool
	timer := time.AfterFunc(bound, func() {
		timedOut.Store(true)
		cancel()
	})
	defer timer.Stop()

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, rdr)
	if err != nil {
		return 0, nil, err
	}
	httpReq.Header = headers.Clone()

	resp, err := e.fallback.Do(httpReq)
	if err != nil {
		if timedOut.Load() {
			err = fmt.Errorf("%w after %s: %v", context.DeadlineExceeded, bound, err)
		}
		return 0, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil && timedOut.Load() {
		return 0, nil, fmt.Errorf("%w after %s: %v", context.DeadlineExceeded, bound, err)
	}
	// A truncated body on a completed response is a parse problem, not a
	// network one; keep the status.
	return resp.StatusCode, raw, nil
}

// classify turns one exchange into a Result.
func classify(op string, status int, raw []byte, err error) Result {
	if err != nil {
		return failure(apierrors.NewNetworkError(op, err))
	}
	data, _ := parseBody(raw)
	res := Result{Status: status, Data: data, raw: raw}
	if status >= 200 && status < 300 {
		res.OK = true
		return res
	}
	res.Err = apierrors.NewHTTPError(status, messageFrom(data, status), op)
	return res
}

func isNetworkError(err error) bool {
	var ue *url.Error
	var ne net.Error
	return errors.As(err, &ue) || errors.As(err, &ne) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

func outcome(r Result) string {
	if r.OK {
		return "ok"
	}
	if r.Err == nil {
		return "unknown"
	}
	return r.Err.Kind.String()
}
