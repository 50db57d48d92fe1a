// Package gateway sends requests to the student API with the ambient session credential and
// renews an expired access token at most once per call.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/services/metrics"
)

const (
	RenewEndpoint = "/token/refresh"

	ContentTypeJSON = "application/json"
	ContentTypeForm = "application/x-www-form-urlencoded"

	requestIDHeader = "X-Request-ID"
	maxErrorBody    = 64 << 10
)

type (
	// Gate blocks until session state is available.
	Gate interface {
		Wait(ctx context.Context) error
	}

	Config struct {
		BaseURL       string
		Timeout       time.Duration
		ExpiryMarkers []string
		Jar           http.CookieJar    // nil: a fresh in-memory jar
		Transport     http.RoundTripper // nil: http.DefaultTransport
		Gate          Gate              // optional
		Logger        core.Logger       // nil: discard
		Metrics       *metrics.Metrics  // optional
	}

	Options struct {
		Method      string // default GET
		Body        []byte
		ContentType string // default application/json
		Query       url.Values
	}

	Gateway struct {
		baseURL string
		markers []string
		jar     http.CookieJar
		authed  *http.Client // carries the jar
		public  *http.Client // never sends the jar
		gate    Gate
		logger  core.Logger
		metrics *metrics.Metrics
	}
)

func New(conf Config) (*Gateway, error) {
	if _, err := url.ParseRequestURI(conf.BaseURL); err != nil {
		return nil, errors.Wrap(err, "invalid API base URL")
	}
	jar := conf.Jar
	if jar == nil {
		var err error
		if jar, err = cookiejar.New(nil); err != nil {
			return nil, errors.Wrap(err, "creating cookie jar")
		}
	}
	transport := conf.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if conf.Logger == nil {
		conf.Logger = core.NopLogger{}
	}
	return &Gateway{
		baseURL: strings.TrimSuffix(conf.BaseURL, "/"),
		markers: conf.ExpiryMarkers,
		jar:     jar,
		authed:  &http.Client{Jar: jar, Transport: transport, Timeout: conf.Timeout},
		public:  &http.Client{Transport: transport, Timeout: conf.Timeout},
		gate:    conf.Gate,
		logger:  conf.Logger,
		metrics: conf.Metrics,
	}, nil
}

// Jar is the cookie jar holding the session credential.
func (gw *Gateway) Jar() http.CookieJar {
	return gw.jar
}

// Call sends an authenticated request. A 401 whose message marks the access token as expired
// triggers one renewal; if it succeeds the request is retried once and that response is
// returned as-is, whatever its status.
// Every other response is returned untouched: the caller closes its body.
func (gw *Gateway) Call(ctx context.Context, endpoint string, opts Options) (*http.Response, error) {
	if gw.gate != nil {
		if err := gw.gate.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, "waiting for session")
		}
	}

	resp, err := gw.do(ctx, gw.authed, endpoint, opts)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	msg := readMessage(resp)
	if !core.ContainsAny(msg, gw.markers) {
		gw.metrics.Request("unauthorized")
		return nil, &UnauthorizedError{Message: msg}
	}

	if err = gw.Renew(ctx); err != nil {
		gw.logger.Warn("access token renewal failed", err, map[string]interface{}{"endpoint": endpoint})
		return nil, ErrRenewalFailed
	}
	gw.metrics.Retry()
	return gw.do(ctx, gw.authed, endpoint, opts)
}

// CallPublic sends a request without the session credential. Cookies set by the response (the
// credential issued by a login) are still stored in the jar.
func (gw *Gateway) CallPublic(ctx context.Context, endpoint string, opts Options) (*http.Response, error) {
	resp, err := gw.do(ctx, gw.public, endpoint, opts)
	if err != nil {
		return nil, err
	}
	if cookies := resp.Cookies(); len(cookies) > 0 {
		gw.jar.SetCookies(resp.Request.URL, cookies)
	}
	return resp, nil
}

// Renew exchanges the refresh credential for a new access token. It is never retried.
func (gw *Gateway) Renew(ctx context.Context) error {
	resp, err := gw.do(ctx, gw.authed, RenewEndpoint, Options{Method: http.MethodPost})
	if err != nil {
		gw.metrics.Renewal(false)
		return err
	}
	drain(resp)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		gw.metrics.Renewal(false)
		return errors.Errorf("renewal rejected with status %d", resp.StatusCode)
	}
	gw.metrics.Renewal(true)
	return nil
}

func (gw *Gateway) do(ctx context.Context, client *http.Client, endpoint string, opts Options) (*http.Response, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	target := gw.baseURL + endpoint
	if len(opts.Query) > 0 {
		target += "?" + opts.Query.Encode()
	}

	var body io.Reader
	if opts.Body != nil {
		body = bytes.NewReader(opts.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, &RequestError{Method: method, Endpoint: endpoint, Err: err}
	}
	contentType := opts.ContentType
	if contentType == "" {
		contentType = ContentTypeJSON
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", ContentTypeJSON)
	req.Header.Set(requestIDHeader, uuid.NewString())

	resp, err := client.Do(req)
	if err != nil {
		gw.metrics.Request("error")
		return nil, &RequestError{Method: method, Endpoint: endpoint, Err: err}
	}
	gw.metrics.Request(http.StatusText(resp.StatusCode))
	return resp, nil
}

// readMessage returns the `message` of a JSON error body and closes it.
func readMessage(resp *http.Response) string {
	defer drain(resp)
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&payload); err != nil {
		return ""
	}
	return payload.Message
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()
}

// JSONBody encodes v for Options.Body.
func JSONBody(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	return b, errors.Wrap(err, "encoding request body")
}
