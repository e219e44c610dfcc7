package jira

import (
	"regexp"
	"strings"

	"github.com/nhle/tasktalk/internal/model"
)

// Search parameters fixed for every query.
const (
	searchPageSize = 15
)

// searchFields are the Jira fields requested during search queries.
var searchFields = []string{"summary", "status", "assignee"}

// Query selects issues of one type in one project, optionally narrowed to
// a single workflow status. An empty Status means any status.
type Query struct {
	ProjectKey string
	Type       model.IssueType
	Status     model.IssueStatus
}

// JQL renders the query as a JQL expression, e.g.
//
//	project = PTD AND type = Task AND status = "To Do"
func (q Query) JQL() string {
	var b strings.Builder
	b.WriteString("project = ")
	b.WriteString(jqlValue(q.ProjectKey))
	b.WriteString(" AND type = ")
	b.WriteString(jqlValue(q.Type.Name))
	if q.Status != "" {
		b.WriteString(" AND status = ")
		b.WriteString(jqlValue(string(q.Status)))
	}
	return b.String()
}

func (q Query) searchRequest() SearchRequest {
	return SearchRequest{
		JQL:        q.JQL(),
		StartAt:    0,
		MaxResults: searchPageSize,
		Fields:     searchFields,
	}
}

var bareJQLValue = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// jqlValue leaves simple identifiers bare and quotes everything else.
func jqlValue(s string) string {
	if bareJQLValue.MatchString(s) {
		return s
	}
	return `"` + escapeJQL(s) + `"`
}

// escapeJQL escapes special characters in a quoted JQL value.
func escapeJQL(s string) string {
	// Escape backslashes first, then double-quotes.
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}
