package search

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	meili "github.com/meilisearch/meilisearch-go"
)

const (
	idxIntakes = "govreview_intakes"
	idxNotes   = "govreview_notes"
	idxActions = "govreview_actions"
)

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	logger  *log.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes. An
// unreachable server is not an error; the health loop picks it up later.
func NewMeili(url, apiKey string, logger *log.Logger) *Meili {
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		logger: logger.With("component", "meilisearch"),
		done:   make(chan struct{}),
	}

	if _, err := m.client.Health(); err != nil {
		m.logger.Warn("meilisearch unavailable", "url", url, "err", err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

type indexSpec struct {
	uid        string
	rtyp       ResultType
	filterable []string
	searchable []string
}

var indexSpecs = []indexSpec{
	{
		uid:        idxIntakes,
		rtyp:       ResultIntake,
		filterable: []string{"state", "decisionState", "requesterId"},
		searchable: []string{"requestName", "lcid", "requesterName", "component", "businessNeed"},
	},
	{
		uid:        idxNotes,
		rtyp:       ResultNote,
		filterable: []string{"intakeId"},
		searchable: []string{"content", "author"},
	},
	{
		uid:        idxActions,
		rtyp:       ResultAction,
		filterable: []string{"intakeId", "type"},
		searchable: []string{"feedback", "type", "actor"},
	},
}

func (m *Meili) configureIndexes() {
	for _, idx := range indexSpecs {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        idx.uid,
			PrimaryKey: "id",
		}); err != nil {
			m.logger.Debug("create index failed (may already exist)", "index", idx.uid, "err", err)
		}

		index := m.client.Index(idx.uid)
		filterable := make([]interface{}, len(idx.filterable))
		for i, v := range idx.filterable {
			filterable[i] = v
		}
		if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
			m.logger.Warn("update filterable attributes", "index", idx.uid, "err", err)
		}
		searchable := idx.searchable
		if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
			m.logger.Warn("update searchable attributes", "index", idx.uid, "err", err)
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info("meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries every index the query allows and merges the hits.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, errors.New("meilisearch unhealthy")
	}

	var queries []*meili.SearchRequest
	for _, idx := range indexSpecs {
		if !q.includes(idx.rtyp) {
			continue
		}
		sr := &meili.SearchRequest{
			IndexUID:              idx.uid,
			Query:                 q.Text,
			Limit:                 int64(q.limit()),
			Offset:                int64(q.offset()),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		}
		if idx.rtyp == ResultIntake {
			if filter := intakeFilter(q); len(filter) > 0 {
				sr.Filter = filter
			}
		}
		queries = append(queries, sr)
	}
	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{Queries: queries})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtyp := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, rtyp))
		}
	}
	return results, total, nil
}

// intakeFilter returns the AND-ed filter expressions for the intakes index.
func intakeFilter(q Query) []string {
	var filter []string
	if q.FilterState != "" {
		filter = append(filter, fmt.Sprintf("state = %q", q.FilterState))
	}
	if q.RequesterID != "" {
		filter = append(filter, fmt.Sprintf("requesterId = %q", q.RequesterID))
	}
	return filter
}

func indexToResultType(uid string) ResultType {
	for _, idx := range indexSpecs {
		if idx.uid == uid {
			return idx.rtyp
		}
	}
	return ""
}

func hitToResult(hit meili.Hit, rtyp ResultType) Result {
	r := Result{Type: rtyp, ID: decodeString(hit, "id")}
	switch rtyp {
	case ResultIntake:
		r.IntakeID = r.ID
		r.State = decodeString(hit, "state")
		r.Title = firstNonBlank(decodeFormattedString(hit, "requestName"), decodeString(hit, "requestName"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "businessNeed"), decodeString(hit, "lcid"))
	case ResultNote:
		r.IntakeID = decodeString(hit, "intakeId")
		r.Title = decodeString(hit, "author")
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "content"), decodeString(hit, "content"))
	case ResultAction:
		r.IntakeID = decodeString(hit, "intakeId")
		r.Title = decodeString(hit, "type")
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "feedback"), decodeString(hit, "feedback"))
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func (m *Meili) IndexIntakes(records []IntakeRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxIntakes).AddDocuments(records, nil)
	return err
}

func (m *Meili) IndexNotes(records []NoteRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxNotes).AddDocuments(records, nil)
	return err
}

func (m *Meili) IndexActions(records []ActionRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxActions).AddDocuments(records, nil)
	return err
}

func (m *Meili) DeleteNote(id string) error {
	_, err := m.client.Index(idxNotes).DeleteDocument(id, nil)
	return err
}
