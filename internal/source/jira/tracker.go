// Package jira talks to the Jira Cloud REST API on behalf of a single
// OAuth access token: it resolves the site the token is authorized for,
// creates issues and searches them.
package jira

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nhle/tasktalk/internal/model"
	"github.com/nhle/tasktalk/internal/outcome"
)

// TrackerConfig holds the endpoints and call policy of a Tracker.
type TrackerConfig struct {
	DiscoveryURL string
	APIBaseURL   string
	SearchPath   string
	Timeout      time.Duration
	MaxRetries   int
}

// ConfigFrom derives a TrackerConfig from the application configuration.
func ConfigFrom(cfg model.JiraConfig) TrackerConfig {
	return TrackerConfig{
		DiscoveryURL: cfg.DiscoveryURL,
		APIBaseURL:   cfg.APIBaseURL,
		SearchPath:   cfg.SearchPath,
		Timeout:      cfg.Timeout,
		MaxRetries:   cfg.MaxRetries,
	}
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger used for request tracing.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = l
		t.client.logger = l
	}
}

// WithTransport replaces the HTTP transport, keeping the configured timeout.
func WithTransport(rt http.RoundTripper) Option {
	return func(t *Tracker) {
		t.client.httpClient.Transport = rt
	}
}

// Tracker performs issue operations for one access token. It resolves the
// token's site once and is meant to be discarded after a single voice turn.
// A Tracker is not safe for concurrent use.
type Tracker struct {
	client *Client
	cfg    TrackerConfig
	siteID string
	logger *slog.Logger
}

// NewTracker creates a Tracker for token. ResolveTenant must succeed
// before any issue operation is attempted.
func NewTracker(cfg TrackerConfig, token string, opts ...Option) *Tracker {
	t := &Tracker{
		client: NewClient(token, cfg.Timeout, cfg.MaxRetries),
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SiteID returns the resolved site id, or "" before resolution.
func (t *Tracker) SiteID() string {
	return t.siteID
}

// ResolveTenant asks the discovery endpoint which sites the token can
// access and keeps the first one. Once resolved, the site id never changes
// and further calls return immediately.
func (t *Tracker) ResolveTenant(ctx context.Context) error {
	const op = "resolve tenant"

	if t.siteID != "" {
		return nil
	}

	resp, err := t.client.Get(ctx, t.cfg.DiscoveryURL)
	if err != nil {
		return &outcome.Error{Kind: outcome.TenantResolutionFailed, Op: op, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		cause := remoteCause(resp)
		if resp.StatusCode == http.StatusUnauthorized {
			cause = errors.New("access token rejected")
		}
		return &outcome.Error{
			Kind:   outcome.TenantResolutionFailed,
			Op:     op,
			Status: resp.StatusCode,
			Err:    cause,
		}
	}

	var resources []AccessibleResource
	if err := resp.Decode(&resources); err != nil {
		return &outcome.Error{Kind: outcome.TenantResolutionFailed, Op: op, Status: resp.StatusCode, Err: err}
	}
	if len(resources) == 0 {
		return outcome.Errorf(outcome.TenantResolutionFailed, op, "token has no accessible resources")
	}
	if strings.TrimSpace(resources[0].ID) == "" {
		return outcome.Errorf(outcome.TenantResolutionFailed, op, "first accessible resource has no id")
	}

	t.siteID = resources[0].ID
	t.logger.Info("resolved jira site", "site_id", t.siteID, "site", resources[0].Name)
	return nil
}

// CreateIssue files a new issue of issueType in the given project and
// returns its key. Only a 201 response counts as success.
func (t *Tracker) CreateIssue(
	ctx context.Context,
	issueType model.IssueType,
	summary string,
	projectKey string,
) (string, error) {
	const op = "create issue"

	endpoint, err := t.siteURL(op, issueType.APIPath)
	if err != nil {
		return "", err
	}

	body := CreateIssueRequest{Fields: CreateIssueFields{
		Project:   ProjectRef{Key: projectKey},
		IssueType: IssueTypeRef{Name: issueType.Name},
		Summary:   summary,
	}}

	resp, err := t.client.Post(ctx, endpoint, body)
	if err != nil {
		return "", &outcome.Error{Kind: outcome.RemoteOperationFailed, Op: op, Err: err}
	}
	if resp.StatusCode != http.StatusCreated {
		return "", unexpectedStatus(op, resp)
	}

	var created CreatedIssue
	if err := resp.Decode(&created); err != nil {
		return "", &outcome.Error{Kind: outcome.MalformedResponse, Op: op, Status: resp.StatusCode, Err: err}
	}
	if created.Key == "" {
		return "", outcome.Errorf(outcome.MalformedResponse, op, "response has no %q field", "key")
	}

	t.logger.Info("created jira issue", "key", created.Key, "type", issueType.Name, "project", projectKey)
	return created.Key, nil
}

// QueryIssues runs q against the search endpoint and returns the first
// page of results. Only a 200 response counts as success.
func (t *Tracker) QueryIssues(ctx context.Context, q Query) (*SearchResponse, error) {
	const op = "query issues"

	endpoint, err := t.siteURL(op, t.cfg.SearchPath)
	if err != nil {
		return nil, err
	}

	resp, err := t.client.Post(ctx, endpoint, q.searchRequest())
	if err != nil {
		return nil, &outcome.Error{Kind: outcome.RemoteOperationFailed, Op: op, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, unexpectedStatus(op, resp)
	}

	var result SearchResponse
	if err := resp.Decode(&result); err != nil {
		return nil, &outcome.Error{Kind: outcome.MalformedResponse, Op: op, Status: resp.StatusCode, Err: err}
	}
	return &result, nil
}

// CountIssues returns the total number of issues matching q.
func (t *Tracker) CountIssues(ctx context.Context, q Query) (int, error) {
	result, err := t.QueryIssues(ctx, q)
	if err != nil {
		return 0, err
	}
	if result.Total == nil {
		return 0, outcome.Errorf(outcome.MalformedResponse, "count issues", "response has no %q field", "total")
	}
	return *result.Total, nil
}

// ListIssueSummaries returns the summaries of the first page of issues
// matching q as consecutive sentences, in the order the tracker returned
// them. An issue without a summary field makes the whole response
// malformed.
func (t *Tracker) ListIssueSummaries(ctx context.Context, q Query) (string, error) {
	result, err := t.QueryIssues(ctx, q)
	if err != nil {
		return "", err
	}
	if result.Issues == nil {
		return "", outcome.Errorf(outcome.MalformedResponse, "list issue summaries", "response has no %q field", "issues")
	}

	sentences := make([]string, 0, len(result.Issues))
	for _, issue := range result.Issues {
		if issue.Fields.Summary == nil {
			return "", outcome.Errorf(outcome.MalformedResponse, "list issue summaries",
				"issue %s has no %q field", issue.Key, "summary")
		}
		// Present but blank summaries have nothing to read out.
		if s := asSentence(*issue.Fields.Summary); s != "" {
			sentences = append(sentences, s)
		}
	}
	return strings.Join(sentences, " "), nil
}

// siteURL joins the API base, the resolved site id and path.
func (t *Tracker) siteURL(op, path string) (string, error) {
	if t.siteID == "" {
		return "", outcome.Errorf(outcome.TenantResolutionFailed, op, "site id not resolved")
	}
	return fmt.Sprintf("%s/%s/%s",
		strings.TrimRight(t.cfg.APIBaseURL, "/"),
		url.PathEscape(t.siteID),
		strings.Trim(path, "/"),
	), nil
}

func unexpectedStatus(op string, resp *Response) error {
	return &outcome.Error{
		Kind:   outcome.RemoteOperationFailed,
		Op:     op,
		Status: resp.StatusCode,
		Err:    remoteCause(resp),
	}
}

func remoteCause(resp *Response) error {
	if msg := resp.remoteMessage(); msg != "" {
		return errors.New(msg)
	}
	return nil
}

// asSentence trims s and terminates it with a full stop unless it already
// ends in sentence punctuation.
func asSentence(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	switch s[len(s)-1] {
	case '.', '!', '?':
		return s
	}
	return s + "."
}
