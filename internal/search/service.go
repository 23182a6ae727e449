package search

import (
	"context"

	"github.com/charmbracelet/log"
)

type meiliBackend interface {
	Healthy() bool
	Search(q Query) ([]Result, int, error)
	IndexIntakes(records []IntakeRecord) error
	IndexNotes(records []NoteRecord) error
	IndexActions(records []ActionRecord) error
}

type fallbackBackend interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	LoadAllRecords(ctx context.Context) ([]IntakeRecord, []NoteRecord, []ActionRecord, error)
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili  meiliBackend
	pgfts  fallbackBackend
	logger *log.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not
// configured.
func NewService(m *Meili, pgfts *PgFTS, logger *log.Logger) *Service {
	s := &Service{logger: logger.With("component", "search")}
	if m != nil {
		s.meili = m
	}
	if pgfts != nil {
		s.pgfts = pgfts
	}
	return s
}

func (s *Service) meiliReady() bool {
	return s.meili != nil && s.meili.Healthy()
}

// Healthy reports whether the primary index is reachable. Search still works
// through the database fallback when it is not.
func (s *Service) Healthy() bool {
	return s.meiliReady()
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meiliReady() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("meilisearch error, falling back to pgfts", "err", err)
	}
	if s.pgfts == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}

	results, total, err := s.pgfts.Search(ctx, q)
	if err != nil {
		s.logger.Error("pgfts search failed", "err", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexIntake pushes an intake to Meilisearch in the background.
func (s *Service) IndexIntake(record IntakeRecord) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.IndexIntakes([]IntakeRecord{record}); err != nil {
			s.logger.Warn("index intake", "intake_id", record.ID, "err", err)
		}
	}()
}

func (s *Service) IndexNote(record NoteRecord) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.IndexNotes([]NoteRecord{record}); err != nil {
			s.logger.Warn("index note", "note_id", record.ID, "err", err)
		}
	}()
}

func (s *Service) IndexAction(record ActionRecord) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.IndexActions([]ActionRecord{record}); err != nil {
			s.logger.Warn("index action", "action_id", record.ID, "err", err)
		}
	}()
}

// ReindexAllFromPG loads every searchable record from Postgres and pushes it
// to Meilisearch. It returns the number of records sent.
func (s *Service) ReindexAllFromPG(ctx context.Context) (int, error) {
	if !s.meiliReady() || s.pgfts == nil {
		return 0, nil
	}
	intakes, notes, actions, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.meili.IndexIntakes(intakes); err != nil {
		return 0, err
	}
	if err := s.meili.IndexNotes(notes); err != nil {
		return len(intakes), err
	}
	if err := s.meili.IndexActions(actions); err != nil {
		return len(intakes) + len(notes), err
	}
	return len(intakes) + len(notes) + len(actions), nil
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
