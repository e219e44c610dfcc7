package jira

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/tasktalk/internal/model"
	"github.com/nhle/tasktalk/internal/outcome"
)

var taskType = model.NewCatalog(model.DefaultIssuePath).Task()

// fakeJira serves the discovery endpoint at /resources and the site API
// under /ex/jira/{site}/.
type fakeJira struct {
	t         *testing.T
	discovery func(w http.ResponseWriter, r *http.Request)
	create    func(w http.ResponseWriter, r *http.Request)
	search    func(w http.ResponseWriter, r *http.Request)
	calls     atomic.Int32
}

func newFakeJira(t *testing.T) (*fakeJira, *httptest.Server) {
	t.Helper()

	f := &fakeJira{t: t}
	f.discovery = writeJSON(http.StatusOK, `[{"id":"site-1","name":"acme"},{"id":"site-2"}]`)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/resources":
			f.discovery(w, r)
		case r.Method == http.MethodPost && r.URL.Path == "/ex/jira/site-1/rest/api/2/issue":
			f.create(w, r)
		case r.Method == http.MethodPost && r.URL.Path == "/ex/jira/site-1/rest/api/2/search":
			f.search(w, r)
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func writeJSON(status int, body string) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func testConfig(baseURL string) TrackerConfig {
	return TrackerConfig{
		DiscoveryURL: baseURL + "/resources",
		APIBaseURL:   baseURL + "/ex/jira/",
		SearchPath:   model.DefaultSearchPath,
		Timeout:      2 * time.Second,
	}
}

func resolvedTracker(t *testing.T, srv *httptest.Server) *Tracker {
	t.Helper()
	tr := NewTracker(testConfig(srv.URL), "token-abc")
	require.NoError(t, tr.ResolveTenant(context.Background()))
	return tr
}

func todoQuery() Query {
	return Query{ProjectKey: "PTD", Type: taskType, Status: model.StatusToDo}
}

func TestResolveTenant_FirstResource(t *testing.T) {
	f, srv := newFakeJira(t)
	var auth string
	f.discovery = func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		writeJSON(http.StatusOK, `[{"id":"site-1"},{"id":"site-2"}]`)(w, r)
	}

	tr := NewTracker(testConfig(srv.URL), "token-abc")
	require.NoError(t, tr.ResolveTenant(context.Background()))

	assert.Equal(t, "site-1", tr.SiteID())
	assert.Equal(t, "Bearer token-abc", auth)

	// Resolution is sticky: no second discovery call.
	require.NoError(t, tr.ResolveTenant(context.Background()))
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestResolveTenant_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"code":401,"message":"Unauthorized"}`},
		{name: "server error", status: http.StatusInternalServerError, body: ``},
		{name: "empty resource list", status: http.StatusOK, body: `[]`},
		{name: "resource without id", status: http.StatusOK, body: `[{"name":"acme"}]`},
		{name: "not a list", status: http.StatusOK, body: `{"id":"site-1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, srv := newFakeJira(t)
			f.discovery = writeJSON(tt.status, tt.body)

			tr := NewTracker(testConfig(srv.URL), "token-abc")
			err := tr.ResolveTenant(context.Background())

			require.Error(t, err)
			assert.True(t, outcome.Is(err, outcome.TenantResolutionFailed), "got %v", err)
			assert.Empty(t, tr.SiteID())
			assert.Equal(t, int32(1), f.calls.Load())
		})
	}
}

func TestResolveTenant_TransportError(t *testing.T) {
	tr := NewTracker(testConfig("http://jira.invalid"), "token",
		WithTransport(roundTripFunc(func(*http.Request) (*http.Response, error) {
			return nil, errors.New("dial tcp: no route to host")
		})),
	)

	err := tr.ResolveTenant(context.Background())
	assert.True(t, outcome.Is(err, outcome.TenantResolutionFailed))
}

func TestOperationsRequireTenant(t *testing.T) {
	f, srv := newFakeJira(t)
	tr := NewTracker(testConfig(srv.URL), "token")
	ctx := context.Background()

	_, err := tr.CreateIssue(ctx, taskType, "Buy milk", "PTD")
	assert.True(t, outcome.Is(err, outcome.TenantResolutionFailed))

	_, err = tr.QueryIssues(ctx, todoQuery())
	assert.True(t, outcome.Is(err, outcome.TenantResolutionFailed))

	_, err = tr.CountIssues(ctx, todoQuery())
	assert.True(t, outcome.Is(err, outcome.TenantResolutionFailed))

	_, err = tr.ListIssueSummaries(ctx, todoQuery())
	assert.True(t, outcome.Is(err, outcome.TenantResolutionFailed))

	assert.Equal(t, int32(0), f.calls.Load(), "no remote call before resolution")
}

func TestCreateIssue(t *testing.T) {
	f, srv := newFakeJira(t)
	var payload map[string]any
	var contentType string
	f.create = func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		writeJSON(http.StatusCreated, `{"id":"10042","key":"PTD-42","self":"x"}`)(w, r)
	}
	tr := resolvedTracker(t, srv)

	key, err := tr.CreateIssue(context.Background(), taskType, "Buy milk", "PTD")
	require.NoError(t, err)
	assert.Equal(t, "PTD-42", key)
	assert.Equal(t, "application/json", contentType)

	expected := map[string]any{
		"fields": map[string]any{
			"project":   map[string]any{"key": "PTD"},
			"issuetype": map[string]any{"name": "Task"},
			"summary":   "Buy milk",
		},
	}
	assert.Equal(t, expected, payload)
}

func TestCreateIssue_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   outcome.Kind
	}{
		{name: "bad request", status: http.StatusBadRequest, body: `{"errorMessages":[],"errors":{"summary":"required"}}`, kind: outcome.RemoteOperationFailed},
		{name: "ok is not created", status: http.StatusOK, body: `{"key":"PTD-1"}`, kind: outcome.RemoteOperationFailed},
		{name: "missing key", status: http.StatusCreated, body: `{"id":"1"}`, kind: outcome.MalformedResponse},
		{name: "invalid json", status: http.StatusCreated, body: `not json`, kind: outcome.MalformedResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, srv := newFakeJira(t)
			f.create = writeJSON(tt.status, tt.body)
			tr := resolvedTracker(t, srv)

			key, err := tr.CreateIssue(context.Background(), taskType, "Buy milk", "PTD")
			require.Error(t, err)
			assert.Empty(t, key)
			assert.Equal(t, tt.kind, outcome.KindOf(err))
		})
	}
}

func TestCreateIssue_ErrorBodyInMessage(t *testing.T) {
	f, srv := newFakeJira(t)
	f.create = writeJSON(http.StatusBadRequest, `{"errorMessages":["project is archived"],"errors":{"summary":"required"}}`)
	tr := resolvedTracker(t, srv)

	_, err := tr.CreateIssue(context.Background(), taskType, "", "PTD")
	require.Error(t, err)

	var oe *outcome.Error
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, http.StatusBadRequest, oe.Status)
	assert.Contains(t, err.Error(), "project is archived; summary: required")
}

func TestQueryIssues_RequestShape(t *testing.T) {
	f, srv := newFakeJira(t)
	var req SearchRequest
	f.search = func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		writeJSON(http.StatusOK, `{"total":0,"issues":[]}`)(w, r)
	}
	tr := resolvedTracker(t, srv)

	_, err := tr.QueryIssues(context.Background(), todoQuery())
	require.NoError(t, err)

	assert.Equal(t, `project = PTD AND type = Task AND status = "To Do"`, req.JQL)
	assert.Equal(t, 0, req.StartAt)
	assert.Equal(t, 15, req.MaxResults)
	assert.Equal(t, []string{"summary", "status", "assignee"}, req.Fields)
}

func TestQueryIssues_Idempotent(t *testing.T) {
	f, srv := newFakeJira(t)
	f.search = writeJSON(http.StatusOK, `{"total":2,"issues":[{"key":"PTD-1","fields":{"summary":"A"}},{"key":"PTD-2","fields":{"summary":"B"}}]}`)
	tr := resolvedTracker(t, srv)
	ctx := context.Background()

	res1, err1 := tr.QueryIssues(ctx, todoQuery())
	res2, err2 := tr.QueryIssues(ctx, todoQuery())
	first := outcome.From(res1, err1)
	second := outcome.From(res2, err2)

	require.True(t, first.OK())
	assert.Equal(t, first.Value(), second.Value())
	assert.Equal(t, first.OK(), second.OK())
}

func TestQueryIssues_UnexpectedStatus(t *testing.T) {
	f, srv := newFakeJira(t)
	f.search = writeJSON(http.StatusBadRequest, `{"errorMessages":["The value 'NOPE' does not exist for the field 'project'."]}`)
	tr := resolvedTracker(t, srv)

	res, err := tr.QueryIssues(context.Background(), todoQuery())
	assert.Nil(t, res)
	assert.True(t, outcome.Is(err, outcome.RemoteOperationFailed))
}

func TestCountIssues(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "seven", body: `{"total":7,"issues":[]}`, want: 7},
		{name: "zero", body: `{"total":0,"issues":[]}`, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, srv := newFakeJira(t)
			f.search = writeJSON(http.StatusOK, tt.body)
			tr := resolvedTracker(t, srv)

			n, err := tr.CountIssues(context.Background(), todoQuery())
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestCountIssues_MissingTotal(t *testing.T) {
	f, srv := newFakeJira(t)
	f.search = writeJSON(http.StatusOK, `{"issues":[]}`)
	tr := resolvedTracker(t, srv)

	_, err := tr.CountIssues(context.Background(), todoQuery())
	assert.True(t, outcome.Is(err, outcome.MalformedResponse))
}

func TestListIssueSummaries_PreservesOrder(t *testing.T) {
	f, srv := newFakeJira(t)
	f.search = writeJSON(http.StatusOK, `{"total":3,"issues":[
		{"fields":{"summary":"Zebra crossing"}},
		{"fields":{"summary":"Apples?"}},
		{"fields":{"summary":"  Mow lawn. "}}
	]}`)
	tr := resolvedTracker(t, srv)

	text, err := tr.ListIssueSummaries(context.Background(), todoQuery())
	require.NoError(t, err)
	assert.Equal(t, "Zebra crossing. Apples? Mow lawn.", text)
}

func TestListIssueSummaries_Empty(t *testing.T) {
	f, srv := newFakeJira(t)
	f.search = writeJSON(http.StatusOK, `{"total":0,"issues":[]}`)
	tr := resolvedTracker(t, srv)

	text, err := tr.ListIssueSummaries(context.Background(), todoQuery())
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestListIssueSummaries_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "missing issues", body: `{"total":3}`},
		{name: "issue without fields", body: `{"total":2,"issues":[
			{"key":"PTD-1","fields":{"summary":"A"}},
			{"key":"PTD-2"}
		]}`},
		{name: "issue without summary", body: `{"total":2,"issues":[
			{"key":"PTD-1","fields":{"summary":"A"}},
			{"key":"PTD-3","fields":{"status":{"name":"To Do"}}}
		]}`},
		{name: "null summary", body: `{"total":1,"issues":[{"key":"PTD-4","fields":{"summary":null}}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, srv := newFakeJira(t)
			f.search = writeJSON(http.StatusOK, tt.body)
			tr := resolvedTracker(t, srv)

			text, err := tr.ListIssueSummaries(context.Background(), todoQuery())
			assert.True(t, outcome.Is(err, outcome.MalformedResponse), "got %v", err)
			assert.Empty(t, text)
		})
	}
}

func TestListIssueSummaries_BlankSummarySkipped(t *testing.T) {
	f, srv := newFakeJira(t)
	f.search = writeJSON(http.StatusOK, `{"total":2,"issues":[
		{"key":"PTD-1","fields":{"summary":"   "}},
		{"key":"PTD-2","fields":{"summary":"Water plants"}}
	]}`)
	tr := resolvedTracker(t, srv)

	text, err := tr.ListIssueSummaries(context.Background(), todoQuery())
	require.NoError(t, err)
	assert.Equal(t, "Water plants.", text)
}

func TestNoRetryByDefault(t *testing.T) {
	f, srv := newFakeJira(t)
	var searches atomic.Int32
	f.search = func(w http.ResponseWriter, r *http.Request) {
		searches.Add(1)
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}
	tr := resolvedTracker(t, srv)

	_, err := tr.CountIssues(context.Background(), todoQuery())
	require.Error(t, err)

	var oe *outcome.Error
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, outcome.RemoteOperationFailed, oe.Kind)
	assert.Equal(t, http.StatusTooManyRequests, oe.Status)
	assert.Equal(t, int32(1), searches.Load())
}

func TestRetryOnRateLimitWhenEnabled(t *testing.T) {
	f, srv := newFakeJira(t)
	var searches atomic.Int32
	f.search = func(w http.ResponseWriter, r *http.Request) {
		if searches.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeJSON(http.StatusOK, `{"total":4,"issues":[]}`)(w, r)
	}

	cfg := testConfig(srv.URL)
	cfg.MaxRetries = 1
	tr := NewTracker(cfg, "token")
	require.NoError(t, tr.ResolveTenant(context.Background()))

	n, err := tr.CountIssues(context.Background(), todoQuery())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, int32(2), searches.Load())
}

func TestRetryAfterIsCappedByTimeout(t *testing.T) {
	f, srv := newFakeJira(t)
	var searches atomic.Int32
	f.search = func(w http.ResponseWriter, r *http.Request) {
		if searches.Add(1) == 1 {
			w.Header().Set("Retry-After", "3600")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeJSON(http.StatusOK, `{"total":4,"issues":[]}`)(w, r)
	}

	cfg := testConfig(srv.URL)
	cfg.Timeout = 200 * time.Millisecond
	cfg.MaxRetries = 1
	tr := NewTracker(cfg, "token")
	require.NoError(t, tr.ResolveTenant(context.Background()))

	start := time.Now()
	n, err := tr.CountIssues(context.Background(), todoQuery())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, int32(2), searches.Load())
}

func TestRetrySkippedWhenWaitExceedsDeadline(t *testing.T) {
	f, srv := newFakeJira(t)
	var searches atomic.Int32
	f.search = func(w http.ResponseWriter, r *http.Request) {
		searches.Add(1)
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}

	cfg := testConfig(srv.URL)
	cfg.MaxRetries = 3
	tr := NewTracker(cfg, "token")
	require.NoError(t, tr.ResolveTenant(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err := tr.CountIssues(ctx, todoQuery())

	var oe *outcome.Error
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, outcome.RemoteOperationFailed, oe.Kind)
	assert.Equal(t, http.StatusTooManyRequests, oe.Status)
	assert.Equal(t, int32(1), searches.Load())
}

func TestRetryAfterDuration(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		attempt int
		limit   time.Duration
		want    time.Duration
	}{
		{name: "header honoured", header: "2", limit: 30 * time.Second, want: 2 * time.Second},
		{name: "header capped", header: "3600", limit: 8 * time.Second, want: 8 * time.Second},
		{name: "huge header capped", header: "99999999999999", limit: time.Second, want: time.Second},
		{name: "backoff", attempt: 2, limit: 30 * time.Second, want: 4 * time.Second},
		{name: "backoff capped", attempt: 10, limit: 30 * time.Second, want: 30 * time.Second},
		{name: "bad header falls back", header: "soon", attempt: 0, limit: 30 * time.Second, want: time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := jsonResponse(http.StatusTooManyRequests, "")
			if tt.header != "" {
				resp.Header.Set("Retry-After", tt.header)
			}
			assert.Equal(t, tt.want, retryAfterDuration(resp, tt.attempt, tt.limit))
		})
	}
}

func TestTimeoutIsBounded(t *testing.T) {
	f, srv := newFakeJira(t)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	f.discovery = func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}

	cfg := testConfig(srv.URL)
	cfg.Timeout = 50 * time.Millisecond
	tr := NewTracker(cfg, "token")

	err := tr.ResolveTenant(context.Background())
	assert.True(t, outcome.Is(err, outcome.TenantResolutionFailed))
}

func TestSiteIDIsPathEscaped(t *testing.T) {
	var path string
	tr := NewTracker(testConfig("https://jira.example"), "token",
		WithTransport(roundTripFunc(func(req *http.Request) (*http.Response, error) {
			if strings.HasSuffix(req.URL.Path, "/resources") {
				return jsonResponse(http.StatusOK, `[{"id":"a/b"}]`), nil
			}
			path = req.URL.EscapedPath()
			return jsonResponse(http.StatusCreated, `{"key":"PTD-1"}`), nil
		})),
	)
	require.NoError(t, tr.ResolveTenant(context.Background()))

	_, err := tr.CreateIssue(context.Background(), taskType, "x", "PTD")
	require.NoError(t, err)
	assert.Equal(t, "/ex/jira/a%2Fb/rest/api/2/issue", path)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}
