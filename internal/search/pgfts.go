package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down the whole API is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs a UNION ALL across intakes, admin notes, and the action log
// using plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	var subQueries []string

	if q.includes(ResultIntake) {
		var where string
		where, args = intakeWhere(q, tsQuery, args)
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'intake'::text AS type, si.id, si.request_name AS title,
				ts_headline('english', coalesce(si.business_need, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				si.id AS intake_id, si.state,
				ts_rank(si.search_vector, %s) AS rank
			FROM system_intakes si
			WHERE %s`, tsQuery, tsQuery, where))
	}

	if q.includes(ResultNote) {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'note'::text AS type, n.id, n.author_name AS title,
				ts_headline('english', n.content, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				n.intake_id, ''::text AS state,
				ts_rank(n.search_vector, %s) AS rank
			FROM admin_notes n
			WHERE n.search_vector @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	if q.includes(ResultAction) {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'action'::text AS type, a.id, a.action_type AS title,
				ts_headline('english', coalesce(a.feedback, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				a.intake_id, ''::text AS state,
				ts_rank(a.search_vector, %s) AS rank
			FROM intake_actions a
			WHERE a.search_vector @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}
	union := strings.Join(subQueries, " UNION ALL ")

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*) FROM ("+union+") sub", args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, intake_id, state
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`, union, q.limit(), q.offset())
	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.IntakeID, &r.State); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// intakeWhere builds the intake subquery's WHERE clause, appending its
// parameters to args.
func intakeWhere(q Query, tsQuery string, args []any) (string, []any) {
	where := "si.search_vector @@ " + tsQuery
	if q.FilterState != "" {
		args = append(args, q.FilterState)
		where += fmt.Sprintf(" AND si.state = $%d", len(args))
	}
	if q.RequesterID != "" {
		args = append(args, q.RequesterID)
		where += fmt.Sprintf(" AND si.requester_id = $%d", len(args))
	}
	return where, args
}

// LoadAllRecords returns every searchable record for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]IntakeRecord, []NoteRecord, []ActionRecord, error) {
	intakeRows, err := p.db.QueryContext(ctx, `
		SELECT id, coalesce(requester_id, ''), request_name, coalesce(lcid, ''), requester_name, requester_component, business_need, state, decision_state
		FROM system_intakes
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load intakes: %w", err)
	}
	defer intakeRows.Close()

	intakes := make([]IntakeRecord, 0)
	for intakeRows.Next() {
		var r IntakeRecord
		if err := intakeRows.Scan(&r.ID, &r.RequesterID, &r.RequestName, &r.LCID, &r.RequesterName, &r.Component, &r.BusinessNeed, &r.State, &r.DecisionState); err != nil {
			return nil, nil, nil, fmt.Errorf("scan intake: %w", err)
		}
		intakes = append(intakes, r)
	}
	if err := intakeRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate intakes: %w", err)
	}

	noteRows, err := p.db.QueryContext(ctx, `SELECT id, intake_id, author_name, content FROM admin_notes`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load notes: %w", err)
	}
	defer noteRows.Close()

	notes := make([]NoteRecord, 0)
	for noteRows.Next() {
		var r NoteRecord
		if err := noteRows.Scan(&r.ID, &r.IntakeID, &r.Author, &r.Content); err != nil {
			return nil, nil, nil, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, r)
	}
	if err := noteRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate notes: %w", err)
	}

	actionRows, err := p.db.QueryContext(ctx, `SELECT id, intake_id, action_type, actor_name, feedback FROM intake_actions`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load actions: %w", err)
	}
	defer actionRows.Close()

	actions := make([]ActionRecord, 0)
	for actionRows.Next() {
		var r ActionRecord
		if err := actionRows.Scan(&r.ID, &r.IntakeID, &r.Type, &r.Actor, &r.Feedback); err != nil {
			return nil, nil, nil, fmt.Errorf("scan action: %w", err)
		}
		actions = append(actions, r)
	}
	if err := actionRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate actions: %w", err)
	}

	return intakes, notes, actions, nil
}
