package model

import "strings"

// Issue type names understood by the tracker.
const (
	IssueTypeTask  = "Task"
	IssueTypeStory = "Story"
	IssueTypeEpic  = "Epic"
)

// IssueType selects both the issuetype.name field of a created issue and
// the REST endpoint family it is created through.
type IssueType struct {
	// Name is the Jira issue type name (e.g. "Task").
	Name string

	// APIPath is the tenant-relative REST path issues of this type are
	// created at (e.g. "rest/api/2/issue").
	APIPath string
}

// IssueStatus is a Jira workflow state used as a query filter.
type IssueStatus string

// Workflow states of the configured project.
const (
	StatusToDo       IssueStatus = "To Do"
	StatusInProgress IssueStatus = "In Progress"
	StatusDone       IssueStatus = "Complete"
)

// Catalog is the fixed set of issue types, built once at startup and
// passed to the components that need it. It is safe for concurrent use.
type Catalog struct {
	types map[string]IssueType
}

// NewCatalog builds the catalog of supported issue types, all created
// through issuePath.
func NewCatalog(issuePath string) Catalog {
	issuePath = strings.Trim(issuePath, "/")
	types := make(map[string]IssueType, 3)
	for _, name := range []string{IssueTypeTask, IssueTypeStory, IssueTypeEpic} {
		types[strings.ToLower(name)] = IssueType{Name: name, APIPath: issuePath}
	}
	return Catalog{types: types}
}

// lookup returns the issue type with the given name, ignoring case.
func (c Catalog) lookup(name string) (IssueType, bool) {
	t, ok := c.types[strings.ToLower(strings.TrimSpace(name))]
	return t, ok
}

// Task returns the Task issue type.
func (c Catalog) Task() IssueType {
	t, _ := c.lookup(IssueTypeTask)
	return t
}
