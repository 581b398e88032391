package host

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/AgentOS/bridge/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/protocol"
	"github.com/GriffinCanCode/AgentOS/bridge/internal/session"
)

// Deferred methods offered on every response descriptor.
var bodyMethods = []string{"arrayBuffer", "bytes", "json", "text"}

const acceptEncoding = "gzip, deflate, zstd"

// FetchService performs guest fetches and retains the responses so later
// method calls can read their bodies.
type FetchService struct {
	follow   *resty.Client
	manual   *resty.Client
	limiter  *rate.Limiter
	breakers *resilience.Group
	hosts    hostPolicy
	maxBody  int64

	retained *session.Table[*retainedResponse]
	logger   *zap.Logger
	metrics  *monitoring.Metrics

	stop      chan struct{}
	closeOnce sync.Once
}

// NewFetchService creates a fetch service from cfg.
func NewFetchService(cfg config.FetchConfig, logger *zap.Logger, metrics *monitoring.Metrics) *FetchService {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("fetch")

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	s := &FetchService{
		follow:  newRestyClient(cfg, true, logger),
		manual:  newRestyClient(cfg, false, logger),
		limiter: limiter,
		hosts:   newHostPolicy(cfg.AllowedHosts),
		maxBody: cfg.MaxBodyBytes,
		logger:  logger,
		metrics: metrics,
		stop:    make(chan struct{}),
	}

	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	s.breakers = resilience.NewGroup(resilience.Settings{
		Cooldown: cfg.BreakerCooldown.Std(),
		Trip:     resilience.ConsecutiveFailures(failures),
		OnStateChange: func(host string, from, to resilience.State) {
			logger.Info("Upstream breaker changed state",
				zap.String("host", host),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		},
	})

	s.retained = session.NewTable[*retainedResponse](cfg.Retention.Std(), func(key string, r *retainedResponse) {
		r.close()
		metrics.SetFetchesRetained(s.retained.Len())
	})
	if retention := cfg.Retention.Std(); retention > 0 {
		go s.sweep(sweepInterval(retention))
	}
	return s
}

// sweepInterval checks for expired responses at least twice per retention
// period, bounded to [minSweep, maxSweep].
func sweepInterval(retention time.Duration) time.Duration {
	return min(max(retention/2, minSweep), maxSweep)
}

const (
	minSweep = 10 * time.Millisecond
	maxSweep = time.Minute
)

// sweep closes expired retained bodies until Close.
func (s *FetchService) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := s.retained.Sweep(); n > 0 {
				s.logger.Debug("Released expired responses", zap.Int("count", n))
			}
		case <-s.stop:
			return
		}
	}
}

// newRestyClient builds a client whose transport retries through
// retryablehttp. Bodies are left unread so they can be pulled lazily.
func newRestyClient(cfg config.FetchConfig, followRedirects bool, logger *zap.Logger) *resty.Client {
	retry := retryablehttp.NewClient()
	retry.RetryMax = cfg.Retries
	retry.RetryWaitMin = 100 * time.Millisecond
	retry.RetryWaitMax = 2 * time.Second
	retry.Logger = retryLogger{logger.Sugar()}
	retry.ErrorHandler = retryablehttp.PassthroughErrorHandler

	if t, ok := retry.HTTPClient.Transport.(*http.Transport); ok {
		t.ResponseHeaderTimeout = cfg.Timeout.Std()
		t.DisableCompression = true
	}
	if !followRedirects {
		retry.HTTPClient.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	client := resty.NewWithClient(retry.StandardClient())
	client.SetDoNotParseResponse(true).
		SetLogger(logger.Sugar())
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}
	return client
}

// Fetch performs req and retains the response under req.Key. ctx must
// outlive the call: deferred body reads use the same connection.
func (s *FetchService) Fetch(ctx context.Context, req *protocol.FetchRequest) (*protocol.ResponseDescriptor, error) {
	init := req.Init
	method := init.MethodOrDefault()
	timer := monitoring.NewFetchTimer(s.metrics, method)

	target, err := url.Parse(req.URL)
	if err != nil || target.Host == "" || (target.Scheme != "http" && target.Scheme != "https") {
		timer.Stop("invalid")
		return nil, typeError("Failed to parse URL from "+req.URL, err)
	}
	if !s.hosts.allows(target.Hostname()) {
		timer.Stop("blocked")
		return nil, typeError(fmt.Sprintf("%s: %s", ErrHostNotAllowed, target.Hostname()), ErrHostNotAllowed)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		timer.Stop("limited")
		return nil, err
	}

	done, err := s.breakers.Allow(target.Host)
	if err != nil {
		timer.Stop("breaker")
		s.metrics.RecordBreakerRejection(target.Host)
		return nil, typeError(fmt.Sprintf("upstream %s unavailable", target.Host), err)
	}

	redirect := ""
	if init != nil {
		redirect = init.Redirect
	}
	client := s.follow
	if redirect == "manual" || redirect == "error" {
		client = s.manual
	}

	resp, err := s.buildRequest(ctx, client, init, method).Execute(method, req.URL)
	if err != nil {
		done(false)
		timer.Stop("error")
		if resp != nil && resp.RawBody() != nil {
			_ = resp.RawBody().Close()
		}
		s.logger.Debug("Fetch failed", zap.String("url", req.URL), zap.Error(err))
		return nil, err
	}

	status := resp.StatusCode()
	done(status < http.StatusInternalServerError)
	timer.Stop(strconv.Itoa(status))

	raw := resp.RawResponse
	redirectStatus := isRedirect(status) && raw.Header.Get("Location") != ""
	if redirect == "error" && redirectStatus {
		_ = raw.Body.Close()
		return nil, typeError("Failed to fetch: unexpected redirect to "+raw.Header.Get("Location"), nil)
	}

	desc := describe(raw, req.URL, redirect == "manual" && redirectStatus)
	retained := &retainedResponse{encoding: raw.Header.Get("Content-Encoding"), limit: s.maxBody}
	if desc.HasBody {
		retained.body = raw.Body
	} else {
		_ = raw.Body.Close()
	}

	s.retained.Put(req.Key, retained)
	s.metrics.SetFetchesRetained(s.retained.Len())
	return desc, nil
}

func (s *FetchService) buildRequest(ctx context.Context, client *resty.Client, init *protocol.RequestInit, method string) *resty.Request {
	r := client.R().SetContext(ctx)
	if init == nil {
		return r.SetHeader("Accept-Encoding", acceptEncoding)
	}

	for name, value := range init.Headers {
		r.SetHeader(name, value)
	}
	if _, ok := init.Header("Accept-Encoding"); !ok {
		r.SetHeader("Accept-Encoding", acceptEncoding)
	}
	if init.Referrer != "" && init.Referrer != "about:client" {
		r.SetHeader("Referer", init.Referrer)
	}

	if len(init.Body) > 0 && protocol.MethodAllowsBody(method) {
		if _, ok := init.Header("Content-Type"); !ok {
			r.SetHeader("Content-Type", mimetype.Detect(init.Body).String())
		}
		r.SetBody(init.Body)
	}
	return r
}

// Call invokes a deferred method against the response retained under
// call.Key. ErrUnknownFetch means nothing is retained under that key.
func (s *FetchService) Call(call *protocol.FetchCall) (any, error) {
	r, ok := s.retained.Get(call.Key)
	if !ok {
		return nil, ErrUnknownFetch
	}

	switch fn := call.Call.Function; fn {
	case "arrayBuffer", "bytes":
		return r.read()
	case "text":
		data, err := r.read()
		if err != nil {
			return nil, err
		}
		return string(data), nil
	case "json":
		data, err := r.read()
		if err != nil {
			return nil, err
		}
		var v any
		if err := sonic.ConfigStd.Unmarshal(data, &v); err != nil {
			return nil, &namedError{name: protocol.ErrorNameSyntax, msg: "Unexpected token in JSON: " + err.Error(), cause: err}
		}
		return v, nil
	default:
		return nil, typeError(fmt.Sprintf("response.%s is not a function", fn), nil)
	}
}

// Retained returns the number of retained responses.
func (s *FetchService) Retained() int {
	return s.retained.Len()
}

// Tripped returns the breaker state of every upstream host that is not
// closed.
func (s *FetchService) Tripped() map[string]string {
	states := s.breakers.States()
	out := make(map[string]string, len(states))
	for name, st := range states {
		out[name] = st.String()
	}
	return out
}

// Close stops the sweeper and releases every retained response.
func (s *FetchService) Close() {
	s.closeOnce.Do(func() { close(s.stop) })
	s.retained.Clear()
}

// describe builds the response descriptor.
func describe(resp *http.Response, requested string, opaqueRedirect bool) *protocol.ResponseDescriptor {
	status := resp.StatusCode

	finalURL := requested
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	statusText := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(status)))
	if statusText == "" {
		statusText = http.StatusText(status)
	}

	kind := "basic"
	if opaqueRedirect {
		kind = "opaqueredirect"
	}

	d := protocol.NewResponseDescriptor()
	d.Set("status", status)
	d.Set("statusText", statusText)
	d.Set("ok", status >= 200 && status < 300)
	d.Set("url", finalURL)
	d.Set("redirected", finalURL != requested)
	d.Set("type", kind)
	d.Set("bodyUsed", false)
	for _, m := range bodyMethods {
		d.Defer(m)
	}
	d.Headers = protocol.FlattenHeaders(resp.Header)
	d.HasBody = hasBody(resp.Request, status)
	return d
}

func hasBody(req *http.Request, status int) bool {
	if req != nil && req.Method == http.MethodHead {
		return false
	}
	switch status {
	case http.StatusSwitchingProtocols, http.StatusEarlyHints, http.StatusNoContent,
		http.StatusResetContent, http.StatusNotModified:
		return false
	}
	return true
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// retainedResponse holds an unread response body between deferred calls.
type retainedResponse struct {
	mu       sync.Mutex
	body     io.ReadCloser
	encoding string
	limit    int64
	consumed bool
}

// read drains the body once, decoding its Content-Encoding.
func (r *retainedResponse) read() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.consumed {
		return nil, typeError(ErrBodyConsumed.Error(), ErrBodyConsumed)
	}
	r.consumed = true
	if r.body == nil {
		return []byte{}, nil
	}
	body := r.body
	r.body = nil
	defer body.Close()

	reader, err := decodeBody(body, r.encoding)
	if err != nil {
		return nil, typeError("Failed to decode response body: "+err.Error(), err)
	}
	defer reader.Close()

	if r.limit <= 0 {
		return io.ReadAll(reader)
	}
	data, err := io.ReadAll(io.LimitReader(reader, r.limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > r.limit {
		return nil, typeError(fmt.Sprintf("%s: limit is %d bytes", ErrBodyTooLarge, r.limit), ErrBodyTooLarge)
	}
	return data, nil
}

func (r *retainedResponse) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.body != nil {
		_ = r.body.Close()
		r.body = nil
	}
}

// retryLogger adapts zap to retryablehttp's leveled logger.
type retryLogger struct {
	s *zap.SugaredLogger
}

func (l retryLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l retryLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l retryLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l retryLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
