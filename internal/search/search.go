package search

import "context"

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultIntake ResultType = "intake"
	ResultNote   ResultType = "note"
	ResultAction ResultType = "action"
)

func ParseResultType(value string) (ResultType, bool) {
	switch ResultType(value) {
	case "":
		return "", true
	case ResultIntake, ResultNote, ResultAction:
		return ResultType(value), true
	default:
		return "", false
	}
}

// Result is a single search hit returned to the caller.
type Result struct {
	Type     ResultType `json:"type"`
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Snippet  string     `json:"snippet"`
	IntakeID string     `json:"intakeId"`
	State    string     `json:"state,omitempty"`
}

// Query describes a search request. Admin notes and the action log are
// reviewer-only, so a query without ReviewerView only searches intakes.
// RequesterID, when set, limits intakes to those the requester owns.
type Query struct {
	Text         string
	FilterType   ResultType
	FilterState  string
	RequesterID  string
	Limit        int
	Offset       int
	ReviewerView bool
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// IntakeRecord is the data indexed for a system intake.
type IntakeRecord struct {
	ID            string `json:"id"`
	RequesterID   string `json:"requesterId"`
	RequestName   string `json:"requestName"`
	LCID          string `json:"lcid"`
	RequesterName string `json:"requesterName"`
	Component     string `json:"component"`
	BusinessNeed  string `json:"businessNeed"`
	State         string `json:"state"`
	DecisionState string `json:"decisionState"`
}

// NoteRecord is the data indexed for an admin note.
type NoteRecord struct {
	ID       string `json:"id"`
	IntakeID string `json:"intakeId"`
	Author   string `json:"author"`
	Content  string `json:"content"`
}

// ActionRecord is the data indexed for an action log entry.
type ActionRecord struct {
	ID       string `json:"id"`
	IntakeID string `json:"intakeId"`
	Type     string `json:"type"`
	Actor    string `json:"actor"`
	Feedback string `json:"feedback"`
}

func (q Query) includes(rtyp ResultType) bool {
	if rtyp != ResultIntake && (!q.ReviewerView || q.RequesterID != "") {
		return false
	}
	return q.FilterType == "" || q.FilterType == rtyp
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return 20
	}
	if q.Limit > 100 {
		return 100
	}
	return q.Limit
}

func (q Query) offset() int {
	if q.Offset < 0 {
		return 0
	}
	return q.Offset
}
