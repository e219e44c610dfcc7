// Package tasks exposes the to-do operations a voice user can perform,
// fixing the project, issue type and "open" status on top of the generic
// Jira tracker.
package tasks

import (
	"context"
	"log/slog"
	"strings"

	"github.com/nhle/tasktalk/internal/model"
	"github.com/nhle/tasktalk/internal/outcome"
	"github.com/nhle/tasktalk/internal/source/jira"
)

// Policy fixes which issues count as the user's tasks.
type Policy struct {
	ProjectKey string
	IssueType  model.IssueType
	OpenStatus model.IssueStatus
}

// DefaultPolicy files tasks as the catalog's Task type in the configured
// project and treats "To Do" as open.
func DefaultPolicy(cfg model.JiraConfig, catalog model.Catalog) Policy {
	return Policy{
		ProjectKey: cfg.ProjectKey,
		IssueType:  catalog.Task(),
		OpenStatus: model.StatusToDo,
	}
}

// Connector builds connected task services. It is created once at startup
// and is safe for concurrent use; every Connect call gets its own tracker.
type Connector struct {
	cfg    jira.TrackerConfig
	policy Policy
	logger *slog.Logger
	opts   []jira.Option
}

// NewConnector returns a Connector that creates trackers from cfg.
func NewConnector(
	cfg jira.TrackerConfig,
	policy Policy,
	logger *slog.Logger,
	opts ...jira.Option,
) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{
		cfg:    cfg,
		policy: policy,
		logger: logger,
		opts:   append([]jira.Option{jira.WithLogger(logger)}, opts...),
	}
}

// Connect resolves the site for token and returns a Service bound to it.
// When the token is empty or the site cannot be resolved, no Service is
// returned and the error's outcome.Kind says why. No further remote call
// is made after a failed resolution.
func (c *Connector) Connect(ctx context.Context, token string) (*Service, error) {
	if strings.TrimSpace(token) == "" {
		return nil, outcome.Errorf(outcome.Unauthenticated, "connect", "no access token")
	}

	tracker := jira.NewTracker(c.cfg, token, c.opts...)
	if err := tracker.ResolveTenant(ctx); err != nil {
		c.logger.Warn("jira connection failed", "error", err)
		return nil, err
	}

	return &Service{tracker: tracker, policy: c.policy, logger: c.logger}, nil
}

// Service performs task operations against a resolved Jira site. It only
// exists in the connected state; obtain one from Connector.Connect.
type Service struct {
	tracker *jira.Tracker
	policy  Policy
	logger  *slog.Logger
}

// SiteID returns the Jira site the service is bound to.
func (s *Service) SiteID() string {
	return s.tracker.SiteID()
}

// AddTask creates a new task and returns its issue key.
func (s *Service) AddTask(ctx context.Context, summary string) outcome.Outcome[string] {
	key, err := s.tracker.CreateIssue(ctx, s.policy.IssueType, summary, s.policy.ProjectKey)
	s.report("add task", err)
	return outcome.From(key, err)
}

// CountOpenTasks returns the number of tasks still to do.
func (s *Service) CountOpenTasks(ctx context.Context) outcome.Outcome[int] {
	n, err := s.tracker.CountIssues(ctx, s.openQuery())
	s.report("count open tasks", err)
	return outcome.From(n, err)
}

// ListOpenTasks returns the summaries of the tasks still to do as
// consecutive sentences, in tracker order.
func (s *Service) ListOpenTasks(ctx context.Context) outcome.Outcome[string] {
	text, err := s.tracker.ListIssueSummaries(ctx, s.openQuery())
	s.report("list open tasks", err)
	return outcome.From(text, err)
}

func (s *Service) openQuery() jira.Query {
	return jira.Query{
		ProjectKey: s.policy.ProjectKey,
		Type:       s.policy.IssueType,
		Status:     s.policy.OpenStatus,
	}
}

func (s *Service) report(op string, err error) {
	if err != nil {
		s.logger.Warn("task operation failed", "op", op, "kind", outcome.KindOf(err), "error", err)
	}
}
