// Package kommo provides an authenticated client for the Kommo CRM REST
// API (leads, pipelines, users, chats, notes).
package kommo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/apexsales/leadscore/internal/model"
)

// Client defines the Kommo API operations consumed by the scoring
// pipeline and the mover.
type Client interface {
	GetLead(ctx context.Context, id int, with ...string) (*model.Lead, error)
	GetLeads(ctx context.Context, pipelineID int, limit int) ([]model.Lead, error)
	GetAllLeads(ctx context.Context) ([]model.Lead, error)
	GetPipelines(ctx context.Context) ([]model.Pipeline, error)
	GetPipelineStatuses(ctx context.Context, pipelineID int) ([]model.StatusRef, error)
	GetUsers(ctx context.Context) ([]model.User, error)
	UpdateLead(ctx context.Context, id int, fields map[string]any) error
	MoveLead(ctx context.Context, id, pipelineID, statusID int) error
	AddTag(ctx context.Context, id int, tag string) error
	GetLeadMessages(ctx context.Context, id int) ([]model.Message, error)
	GetLeadNotes(ctx context.Context, id int) ([]model.Note, error)
	GetLeadCommunications(ctx context.Context, id int) (Communications, error)
}

// Communications bundles the message and note history of one lead.
type Communications struct {
	Messages []model.Message
	Notes    []model.Note
}

// Option configures the Kommo client.
type Option func(*httpClient)

// WithBaseURL sets a custom API base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit sets a per-second request budget. A burst equal to the
// integer portion of rps is allowed.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// WithPageLimit sets the page size used when listing leads.
func WithPageLimit(n int) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.pageLimit = n
		}
	}
}

type httpClient struct {
	baseURL   string
	token     string
	pageLimit int
	http      *http.Client
	limiter   *rate.Limiter
}

// NewClient creates a Kommo client for the given account base URL
// (e.g. https://acme.kommo.com/api/v4) and long-lived access token.
func NewClient(baseURL, token string, opts ...Option) Client {
	c := &httpClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		token:     token,
		pageLimit: 250,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// wait blocks until the rate limiter admits one request, or ctx is
// cancelled.
func (c *httpClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable
}

// do executes one authenticated request with bounded backoff retries on
// transient failures. The returned error preserves the status code and
// body text for diagnosis.
func (c *httpClient) do(ctx context.Context, method, path string, query url.Values, payload any) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, eris.Wrap(err, "kommo: rate limit")
	}

	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, eris.Wrap(err, "kommo: marshal request body")
		}
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	const maxAttempts = 3
	backoff := 1 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
		if err != nil {
			return nil, eris.Wrap(err, "kommo: create request")
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = eris.Wrap(err, "kommo: request failed")
			if attempt < maxAttempts {
				if waitErr := sleep(ctx, backoff); waitErr != nil {
					return nil, waitErr
				}
				backoff *= 2
				continue
			}
			return nil, lastErr
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, eris.Wrap(readErr, "kommo: read response body")
		}

		if retryableStatusCode(resp.StatusCode) && attempt < maxAttempts {
			lastErr = eris.Errorf("kommo: status %d: %s", resp.StatusCode, string(respBody))
			if waitErr := sleep(ctx, backoff); waitErr != nil {
				return nil, waitErr
			}
			backoff *= 2
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, eris.Errorf("kommo: %s %s: status %d: %s", method, path, resp.StatusCode, string(respBody))
		}
		return respBody, nil
	}

	return nil, lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func (c *httpClient) get(ctx context.Context, path string, query url.Values, out any) error {
	body, err := c.do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return eris.Errorf("kommo: GET %s: empty response body", path)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrapf(err, "kommo: GET %s: unmarshal response", path)
	}
	return nil
}

func (c *httpClient) GetLead(ctx context.Context, id int, with ...string) (*model.Lead, error) {
	q := url.Values{}
	if len(with) == 0 {
		with = []string{"contacts", "companies"}
	}
	q.Set("with", strings.Join(with, ","))

	var lead model.Lead
	if err := c.get(ctx, "/leads/"+strconv.Itoa(id), q, &lead); err != nil {
		return nil, eris.Wrapf(err, "kommo: get lead %d", id)
	}
	return &lead, nil
}

func (c *httpClient) GetLeads(ctx context.Context, pipelineID int, limit int) ([]model.Lead, error) {
	if limit <= 0 {
		limit = c.pageLimit
	}

	var all []model.Lead
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("filter[pipeline_id]", strconv.Itoa(pipelineID))
		q.Set("limit", strconv.Itoa(limit))
		q.Set("page", strconv.Itoa(page))
		q.Set("with", "contacts,companies")

		var resp struct {
			Embedded struct {
				Leads []model.Lead `json:"leads"`
			} `json:"_embedded"`
		}
		if err := c.get(ctx, "/leads", q, &resp); err != nil {
			return nil, eris.Wrapf(err, "kommo: list leads in pipeline %d", pipelineID)
		}
		if len(resp.Embedded.Leads) == 0 {
			break
		}
		all = append(all, resp.Embedded.Leads...)
		if len(resp.Embedded.Leads) < limit {
			break
		}
	}
	return all, nil
}

// GetAllLeads lists leads across every pipeline. A pipeline that fails to
// list is logged and skipped rather than failing the whole fetch.
func (c *httpClient) GetAllLeads(ctx context.Context) ([]model.Lead, error) {
	pipelines, err := c.GetPipelines(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "kommo: list pipelines for all-leads fetch")
	}

	var all []model.Lead
	var failed int
	for _, p := range pipelines {
		leads, err := c.GetLeads(ctx, p.ID, 0)
		if err != nil {
			zap.L().Warn("kommo: pipeline lead fetch failed",
				zap.Int("pipeline_id", p.ID),
				zap.String("pipeline", p.Name),
				zap.Error(err),
			)
			failed++
			continue
		}
		all = append(all, leads...)
	}
	if failed > 0 {
		zap.L().Warn("kommo: some pipelines failed to list",
			zap.Int("failed", failed),
			zap.Int("leads", len(all)),
		)
	}
	return all, nil
}

func (c *httpClient) GetPipelines(ctx context.Context) ([]model.Pipeline, error) {
	var resp struct {
		Embedded struct {
			Pipelines []struct {
				ID       int    `json:"id"`
				Name     string `json:"name"`
				Embedded struct {
					Statuses []model.StatusRef `json:"statuses"`
				} `json:"_embedded"`
			} `json:"pipelines"`
		} `json:"_embedded"`
	}
	if err := c.get(ctx, "/leads/pipelines", nil, &resp); err != nil {
		return nil, eris.Wrap(err, "kommo: list pipelines")
	}

	pipelines := make([]model.Pipeline, 0, len(resp.Embedded.Pipelines))
	for _, p := range resp.Embedded.Pipelines {
		pipelines = append(pipelines, model.Pipeline{
			ID:       p.ID,
			Name:     p.Name,
			Statuses: p.Embedded.Statuses,
		})
	}
	return pipelines, nil
}

func (c *httpClient) GetPipelineStatuses(ctx context.Context, pipelineID int) ([]model.StatusRef, error) {
	var resp struct {
		Embedded struct {
			Statuses []model.StatusRef `json:"statuses"`
		} `json:"_embedded"`
	}
	if err := c.get(ctx, fmt.Sprintf("/leads/pipelines/%d", pipelineID), nil, &resp); err != nil {
		return nil, eris.Wrapf(err, "kommo: pipeline %d statuses", pipelineID)
	}
	return resp.Embedded.Statuses, nil
}

func (c *httpClient) GetUsers(ctx context.Context) ([]model.User, error) {
	var resp struct {
		Embedded struct {
			Users []model.User `json:"users"`
		} `json:"_embedded"`
	}
	if err := c.get(ctx, "/users", nil, &resp); err != nil {
		return nil, eris.Wrap(err, "kommo: list users")
	}
	return resp.Embedded.Users, nil
}

func (c *httpClient) UpdateLead(ctx context.Context, id int, fields map[string]any) error {
	if _, err := c.do(ctx, http.MethodPatch, "/leads/"+strconv.Itoa(id), nil, fields); err != nil {
		return eris.Wrapf(err, "kommo: update lead %d", id)
	}
	return nil
}

func (c *httpClient) MoveLead(ctx context.Context, id, pipelineID, statusID int) error {
	return c.UpdateLead(ctx, id, map[string]any{
		"pipeline_id": pipelineID,
		"status_id":   statusID,
	})
}

// AddTag appends a tag to the lead's current tag set. Adding an existing
// tag is a no-op.
func (c *httpClient) AddTag(ctx context.Context, id int, tag string) error {
	lead, err := c.GetLead(ctx, id)
	if err != nil {
		return eris.Wrapf(err, "kommo: add tag to lead %d", id)
	}

	names := lead.TagNames()
	for _, n := range names {
		if n == tag {
			return nil
		}
	}
	names = append(names, tag)

	tags := make([]map[string]string, len(names))
	for i, n := range names {
		tags[i] = map[string]string{"name": n}
	}

	// Tag updates go through the batch PATCH endpoint.
	payload := []map[string]any{{
		"id":        id,
		"_embedded": map[string]any{"tags": tags},
	}}
	if _, err := c.do(ctx, http.MethodPatch, "/leads", nil, payload); err != nil {
		return eris.Wrapf(err, "kommo: add tag %q to lead %d", tag, id)
	}
	return nil
}

func (c *httpClient) GetLeadCommunications(ctx context.Context, id int) (Communications, error) {
	var comms Communications

	msgs, err := c.GetLeadMessages(ctx, id)
	if err != nil {
		zap.L().Warn("kommo: message fetch failed", zap.Int("lead_id", id), zap.Error(err))
	} else {
		comms.Messages = msgs
	}

	notes, err := c.GetLeadNotes(ctx, id)
	if err != nil {
		zap.L().Warn("kommo: note fetch failed", zap.Int("lead_id", id), zap.Error(err))
	} else {
		comms.Notes = notes
	}

	return comms, nil
}
