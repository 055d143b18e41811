// Package registryapi implements the signed HTTP client against the
// community playbook registry (spec.md §4.11, component C11). Every
// request is either Ed25519-signed (production) or bearer-token
// authenticated (sandbox); no PII is ever included in a request body.
package registryapi

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/opt-outta/engine/internal/errs"
	"github.com/opt-outta/engine/internal/playbook"
)

const requestTimeout = 10 * time.Second

// Client talks to the registry API over HTTP, signing every outbound
// request per spec.md §4.11.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	limiter     *rate.Limiter
	signingSeed ed25519.PrivateKey // nil in sandbox mode
	sandboxAuth string             // bearer token, set only in sandbox mode
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default *http.Client (tests only).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit caps outbound request rate, guarding against a runaway
// registry-polling loop from hammering the API.
func WithRateLimit(requestsPerSecond float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst) }
}

// New builds a production Client that signs requests with the given
// 32-byte Ed25519 seed.
func New(baseURL string, signingSeed []byte, opts ...Option) (*Client, error) {
	if len(signingSeed) != ed25519.SeedSize {
		return nil, errs.New(errs.KindConfiguration, "registryapi: signing seed must be exactly 32 bytes")
	}
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: requestTimeout},
		limiter:     rate.NewLimiter(rate.Limit(5), 10),
		signingSeed: ed25519.NewKeyFromSeed(signingSeed),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewSandbox builds a Client against a sandbox base URL, substituting
// bearer-token auth for Ed25519 signing (spec.md §4.11).
func NewSandbox(baseURL, bearerToken string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: requestTimeout},
		limiter:     rate.NewLimiter(rate.Limit(5), 10),
		sandboxAuth: bearerToken,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errs.Wrap(errs.KindNetwork, "registryapi: rate limiter", err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, errs.Wrap(errs.KindNetwork, "registryapi: build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if c.sandboxAuth != "" {
		req.Header.Set("Authorization", "Bearer "+c.sandboxAuth)
	} else {
		sig, ts := c.sign(method, path, body)
		req.Header.Set("X-Timestamp", ts)
		req.Header.Set("X-Signature", sig)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindNetwork, "registryapi: "+method+" "+path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.KindNetwork, "registryapi: read response body", err)
	}
	if resp.StatusCode >= 300 {
		return nil, errs.New(errs.KindNetwork, fmt.Sprintf("registryapi: %s %s returned status %d", method, path, resp.StatusCode))
	}
	return data, nil
}

// sign builds the X-Signature/X-Timestamp header pair: base64 of
// Ed25519_sign(sk, "{ts}\n{METHOD}\n{path_with_query}\n{body_or_empty}").
func (c *Client) sign(method, path string, body []byte) (signature, timestamp string) {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	message := ts + "\n" + method + "\n" + path + "\n" + string(body)
	sig := ed25519.Sign(c.signingSeed, []byte(message))
	return base64.StdEncoding.EncodeToString(sig), ts
}

func decodeEnvelope[T any](data []byte) (T, error) {
	var env playbook.Envelope[T]
	if err := json.Unmarshal(data, &env); err != nil {
		var zero T
		return zero, errs.Wrap(errs.KindNetwork, "registryapi: decode response envelope", err)
	}
	return env.Data, nil
}

// ListPlaybooks fetches the top playbooks for a broker.
func (c *Client) ListPlaybooks(ctx context.Context, brokerID string, sort string, limit int) ([]playbook.PlaybookSummary, error) {
	path := fmt.Sprintf("/playbooks?broker_id=%s&sort=%s&limit=%d", url.QueryEscape(brokerID), url.QueryEscape(sort), limit)
	data, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return decodeEnvelope[[]playbook.PlaybookSummary](data)
}

// PlaybookDetail fetches a full playbook, including its steps and
// signature.
func (c *Client) PlaybookDetail(ctx context.Context, id string) (*playbook.Playbook, error) {
	data, err := c.do(ctx, http.MethodGet, "/playbooks/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	pb, err := decodeEnvelope[playbook.Playbook](data)
	if err != nil {
		return nil, err
	}
	return &pb, nil
}

// SubmitPlaybook submits a newly-authored draft for community review.
func (c *Client) SubmitPlaybook(ctx context.Context, sub playbook.PlaybookSubmission) (*playbook.PlaybookSubmitResponse, error) {
	body, err := json.Marshal(sub)
	if err != nil {
		return nil, errs.Wrap(errs.KindNetwork, "registryapi: encode submission", err)
	}
	data, err := c.do(ctx, http.MethodPost, "/playbooks", body)
	if err != nil {
		return nil, err
	}
	resp, err := decodeEnvelope[playbook.PlaybookSubmitResponse](data)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Vote casts an up/down vote on a community playbook.
func (c *Client) Vote(ctx context.Context, playbookID, deviceID, vote string) error {
	body, err := json.Marshal(map[string]string{"device_id": deviceID, "vote": vote})
	if err != nil {
		return errs.Wrap(errs.KindNetwork, "registryapi: encode vote", err)
	}
	_, err = c.do(ctx, http.MethodPost, "/playbooks/"+url.PathEscape(playbookID)+"/vote", body)
	return err
}

// Report fire-and-forget-reports a run outcome. Network failures here are
// swallowed by the caller (spec.md §7 propagation policy), not by this
// method.
func (c *Client) Report(ctx context.Context, playbookID string, report playbook.PlaybookReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return errs.Wrap(errs.KindNetwork, "registryapi: encode report", err)
	}
	_, err = c.do(ctx, http.MethodPost, "/playbooks/"+url.PathEscape(playbookID)+"/report", body)
	return err
}

// ReportOutcome implements runengine.OutcomeReporter: it fire-and-forgets
// an outcome report, swallowing any failure.
func (c *Client) ReportOutcome(ctx context.Context, playbookID string, report playbook.PlaybookReport) {
	_ = c.Report(ctx, playbookID, report)
}

// Reports fetches the moderation report history for a playbook.
func (c *Client) Reports(ctx context.Context, playbookID string) ([]playbook.PlaybookReportEntry, error) {
	data, err := c.do(ctx, http.MethodGet, "/playbooks/"+url.PathEscape(playbookID)+"/reports", nil)
	if err != nil {
		return nil, err
	}
	return decodeEnvelope[[]playbook.PlaybookReportEntry](data)
}

// RegistryVersion fetches the current remote broker registry version.
func (c *Client) RegistryVersion(ctx context.Context) (string, error) {
	data, err := c.do(ctx, http.MethodGet, "/registry/version", nil)
	if err != nil {
		return "", err
	}
	resp, err := decodeEnvelope[playbook.RegistryVersionResponse](data)
	if err != nil {
		return "", err
	}
	return resp.Version, nil
}

// FetchRegistry fetches the full remote broker registry.
func (c *Client) FetchRegistry(ctx context.Context) (*playbook.BrokerRegistry, error) {
	data, err := c.do(ctx, http.MethodGet, "/registry", nil)
	if err != nil {
		return nil, err
	}
	reg, err := decodeEnvelope[playbook.BrokerRegistry](data)
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

// SuggestBroker reports a broker the user believes is missing from the
// registry.
func (c *Client) SuggestBroker(ctx context.Context, name, optOutURL string) error {
	body, err := json.Marshal(map[string]string{"name": name, "url": optOutURL})
	if err != nil {
		return errs.Wrap(errs.KindNetwork, "registryapi: encode broker suggestion", err)
	}
	_, err = c.do(ctx, http.MethodPost, "/broker-suggestions", body)
	return err
}

// Changelog fetches the registry's published changelog.
func (c *Client) Changelog(ctx context.Context) ([]playbook.ChangelogEntry, error) {
	data, err := c.do(ctx, http.MethodGet, "/changelog", nil)
	if err != nil {
		return nil, err
	}
	return decodeEnvelope[[]playbook.ChangelogEntry](data)
}
