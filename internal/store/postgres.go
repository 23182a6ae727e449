package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"govreview/api/internal/workflow"
)

var (
	// ErrDuplicate is returned when a write hits a unique constraint.
	ErrDuplicate = errors.New("duplicate record")
	// ErrConflict is returned when an intake changed after it was read.
	ErrConflict = errors.New("intake was modified concurrently")
)

type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role)
		VALUES ($1, $2, $3, $4, $5)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.Role)
	if err != nil {
		return wrapWrite("create user", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.getUser(ctx, `WHERE LOWER(email) = LOWER($1)`, email)
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return s.getUser(ctx, `WHERE id = $1`, userID)
}

func (s *PostgresStore) getUser(ctx context.Context, where string, arg string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, created_at, updated_at
		FROM users `+where, arg).Scan(
		&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// SaveRefreshSession is the database fallback used when Redis is not configured.
func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash string, user User, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, user.ID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.display_name, u.email, u.role
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

const intakeColumns = `
	si.id, si.request_name, COALESCE(si.requester_id, ''), si.requester_name, si.requester_email, si.requester_component,
	si.request_type, si.state, si.decision_state, si.step, si.admin_lead, si.business_need,
	(SELECT bc.id FROM business_cases bc WHERE bc.intake_id = si.id),
	si.rejection_reason, si.decision_next_steps, si.trb_follow_up,
	si.lcid, si.lcid_issued_at, si.lcid_expires_at, si.lcid_retires_at,
	si.lcid_scope, si.lcid_next_steps, si.lcid_cost_baseline, si.lcid_expiration_alert_sent_at,
	si.submitted_at, si.created_at, si.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIntake(row rowScanner) (SystemIntake, error) {
	var (
		item         SystemIntake
		businessCase sql.NullString
		lcid         sql.NullString
		issuedAt     sql.NullTime
		expiresAt    sql.NullTime
		retiresAt    sql.NullTime
		alertSentAt  sql.NullTime
		submittedAt  sql.NullTime
		scope        string
		nextSteps    string
		costBaseline string
	)
	err := row.Scan(
		&item.ID, &item.RequestName, &item.Requester.ID, &item.Requester.Name, &item.Requester.Email, &item.Requester.Component,
		&item.RequestType, &item.State, &item.DecisionState, &item.Step, &item.AdminLead, &item.BusinessNeed,
		&businessCase,
		&item.RejectionReason, &item.DecisionNextSteps, &item.TRBFollowUp,
		&lcid, &issuedAt, &expiresAt, &retiresAt,
		&scope, &nextSteps, &costBaseline, &alertSentAt,
		&submittedAt, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return SystemIntake{}, err
	}
	if businessCase.Valid {
		item.BusinessCaseID = &businessCase.String
	}
	item.SubmittedAt = timePtr(submittedAt)
	if lcid.Valid && lcid.String != "" {
		item.Lifecycle = &LifecycleID{
			LCID:                  lcid.String,
			IssuedAt:              issuedAt.Time,
			ExpiresAt:             expiresAt.Time,
			RetiresAt:             timePtr(retiresAt),
			Scope:                 scope,
			NextSteps:             nextSteps,
			CostBaseline:          costBaseline,
			ExpirationAlertSentAt: timePtr(alertSentAt),
		}
	}
	return item, nil
}

func (s *PostgresStore) CreateSystemIntake(ctx context.Context, item SystemIntake) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO system_intakes (id, request_name, requester_id, requester_name, requester_email, requester_component,
			request_type, state, decision_state, step, business_need)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, item.ID, item.RequestName, nullString(item.Requester.ID), item.Requester.Name, item.Requester.Email, item.Requester.Component,
		string(item.RequestType), string(item.State), string(item.DecisionState), string(item.Step), item.BusinessNeed)
	if err != nil {
		return wrapWrite("create system intake", err)
	}
	return nil
}

func (s *PostgresStore) GetSystemIntake(ctx context.Context, intakeID string) (SystemIntake, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+intakeColumns+` FROM system_intakes si WHERE si.id = $1`, intakeID)
	return scanIntake(row)
}

// ListSystemIntakes returns intakes in state, newest first. An empty state
// lists every intake; a non-empty requesterID limits the list to that
// requester's intakes.
func (s *PostgresStore) ListSystemIntakes(ctx context.Context, state workflow.RequestState, requesterID string) ([]SystemIntake, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+intakeColumns+`
		FROM system_intakes si
		WHERE ($1 = '' OR si.state = $1)
			AND ($2 = '' OR si.requester_id = $2)
		ORDER BY si.updated_at DESC
	`, string(state), requesterID)
	if err != nil {
		return nil, fmt.Errorf("list system intakes: %w", err)
	}
	defer rows.Close()

	items := make([]SystemIntake, 0)
	for rows.Next() {
		item, err := scanIntake(rows)
		if err != nil {
			return nil, fmt.Errorf("scan system intake: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate system intakes: %w", err)
	}
	return items, nil
}

// SubmitSystemIntake stamps submitted_at. It reports false when the intake
// was already submitted.
func (s *PostgresStore) SubmitSystemIntake(ctx context.Context, intakeID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE system_intakes SET submitted_at=NOW(), updated_at=NOW()
		WHERE id=$1 AND submitted_at IS NULL
	`, intakeID)
	if err != nil {
		return false, fmt.Errorf("submit system intake: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("submit system intake rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) UpdateAdminLead(ctx context.Context, intakeID, adminLead string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE system_intakes SET admin_lead=$2, updated_at=NOW() WHERE id=$1
	`, intakeID, adminLead)
	if err != nil {
		return fmt.Errorf("update admin lead: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ApplyAction writes the intake's new state and appends the action in one
// transaction. The update only succeeds if the intake is unchanged since
// PreviousUpdatedAt; otherwise ErrConflict is returned. When GenerateLCID is
// set and the lifecycle carries no LCID, the next YYDDDNNN id is allocated.
func (s *PostgresStore) ApplyAction(ctx context.Context, change ActionChange) (SystemIntake, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return SystemIntake{}, fmt.Errorf("begin action tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	intake := change.Intake
	if change.GenerateLCID && intake.Lifecycle != nil && intake.Lifecycle.LCID == "" {
		lcid, err := nextLCID(ctx, tx, s.now())
		if err != nil {
			return SystemIntake{}, err
		}
		lifecycle := *intake.Lifecycle
		lifecycle.LCID = lcid
		intake.Lifecycle = &lifecycle

		details := make(map[string]any, len(change.Action.Details)+1)
		for key, value := range change.Action.Details {
			details[key] = value
		}
		details["lcid"] = lcid
		change.Action.Details = details
	}

	var (
		lcid, scope, nextSteps, costBaseline any = nil, "", "", ""
		issuedAt, expiresAt, retiresAt       any
	)
	resetAlert := change.ResetExpirationAlert || intake.Lifecycle == nil
	if lc := intake.Lifecycle; lc != nil {
		lcid = lc.LCID
		issuedAt = lc.IssuedAt
		expiresAt = lc.ExpiresAt
		retiresAt = nullTime(lc.RetiresAt)
		scope, nextSteps, costBaseline = lc.Scope, lc.NextSteps, lc.CostBaseline
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE system_intakes
		SET state=$2, decision_state=$3, step=$4, rejection_reason=$5, decision_next_steps=$6, trb_follow_up=$7,
			lcid=$8, lcid_issued_at=$9, lcid_expires_at=$10, lcid_retires_at=$11,
			lcid_scope=$12, lcid_next_steps=$13, lcid_cost_baseline=$14,
			lcid_expiration_alert_sent_at=CASE WHEN $15::boolean THEN NULL ELSE lcid_expiration_alert_sent_at END,
			updated_at=NOW()
		WHERE id=$1 AND updated_at=$16
	`, intake.ID, string(intake.State), string(intake.DecisionState), string(intake.Step),
		intake.RejectionReason, intake.DecisionNextSteps, intake.TRBFollowUp,
		lcid, issuedAt, expiresAt, retiresAt, scope, nextSteps, costBaseline, resetAlert,
		change.PreviousUpdatedAt)
	if err != nil {
		return SystemIntake{}, wrapWrite("update intake state", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return SystemIntake{}, fmt.Errorf("update intake state rows: %w", err)
	}
	if affected == 0 {
		return SystemIntake{}, ErrConflict
	}

	if err := insertAction(ctx, tx, change.Action); err != nil {
		return SystemIntake{}, err
	}
	if err := tx.Commit(); err != nil {
		return SystemIntake{}, fmt.Errorf("commit action tx: %w", err)
	}
	return s.GetSystemIntake(ctx, intake.ID)
}

func nextLCID(ctx context.Context, tx *sql.Tx, now time.Time) (string, error) {
	var seq int
	err := tx.QueryRowContext(ctx, `
		INSERT INTO lcid_sequences (day_prefix, last_value)
		VALUES ($1, 1)
		ON CONFLICT (day_prefix) DO UPDATE SET last_value = lcid_sequences.last_value + 1
		RETURNING last_value
	`, workflow.LCIDPrefix(now)).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("allocate lcid: %w", err)
	}
	return workflow.FormatLCID(now, seq)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertAction(ctx context.Context, db execer, action Action) error {
	details := action.Details
	if details == nil {
		details = map[string]any{}
	}
	encodedDetails, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshal action details: %w", err)
	}
	recipients := action.Recipients
	if recipients.RegularRecipientEmails == nil {
		recipients.RegularRecipientEmails = []string{}
	}
	encodedRecipients, err := json.Marshal(recipients)
	if err != nil {
		return fmt.Errorf("marshal action recipients: %w", err)
	}
	createdAt := action.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO intake_actions (id, intake_id, action_type, actor_name, actor_email, feedback, step, details, recipients, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9::jsonb, $10)
	`, action.ID, action.IntakeID, string(action.Type), action.ActorName, action.ActorEmail, action.Feedback, action.Step,
		string(encodedDetails), string(encodedRecipients), createdAt)
	if err != nil {
		return wrapWrite("insert action", err)
	}
	return nil
}

// InsertAction appends an action that carries no intake state change.
func (s *PostgresStore) InsertAction(ctx context.Context, action Action) error {
	return insertAction(ctx, s.db, action)
}

func (s *PostgresStore) ListActions(ctx context.Context, intakeID string) ([]Action, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, intake_id, action_type, actor_name, actor_email, feedback, step, details, recipients, created_at
		FROM intake_actions
		WHERE intake_id=$1
		ORDER BY created_at DESC
	`, intakeID)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	items := make([]Action, 0)
	for rows.Next() {
		var (
			item          Action
			detailsRaw    []byte
			recipientsRaw []byte
		)
		if err := rows.Scan(
			&item.ID,
			&item.IntakeID,
			&item.Type,
			&item.ActorName,
			&item.ActorEmail,
			&item.Feedback,
			&item.Step,
			&detailsRaw,
			&recipientsRaw,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		_ = json.Unmarshal(detailsRaw, &item.Details)
		_ = json.Unmarshal(recipientsRaw, &item.Recipients)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertAdminNote(ctx context.Context, note AdminNote) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO admin_notes (id, intake_id, author_name, author_email, content)
		VALUES ($1, $2, $3, $4, $5)
	`, note.ID, note.IntakeID, note.AuthorName, note.AuthorEmail, note.Content)
	if err != nil {
		return wrapWrite("insert admin note", err)
	}
	return nil
}

func (s *PostgresStore) ListAdminNotes(ctx context.Context, intakeID string) ([]AdminNote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, intake_id, author_name, author_email, content, created_at
		FROM admin_notes
		WHERE intake_id=$1
		ORDER BY created_at DESC
	`, intakeID)
	if err != nil {
		return nil, fmt.Errorf("list admin notes: %w", err)
	}
	defer rows.Close()

	items := make([]AdminNote, 0)
	for rows.Next() {
		var item AdminNote
		if err := rows.Scan(&item.ID, &item.IntakeID, &item.AuthorName, &item.AuthorEmail, &item.Content, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan admin note: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate admin notes: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListGRBReviewers(ctx context.Context, intakeID string) ([]GRBReviewer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, intake_id, name, email, voting_role, grb_role, created_at
		FROM grb_reviewers
		WHERE intake_id=$1
		ORDER BY name ASC
	`, intakeID)
	if err != nil {
		return nil, fmt.Errorf("list grb reviewers: %w", err)
	}
	defer rows.Close()

	items := make([]GRBReviewer, 0)
	for rows.Next() {
		var item GRBReviewer
		if err := rows.Scan(&item.ID, &item.IntakeID, &item.Name, &item.Email, &item.VotingRole, &item.GRBRole, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan grb reviewer: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate grb reviewers: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertGRBReviewer(ctx context.Context, reviewer GRBReviewer) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO grb_reviewers (id, intake_id, name, email, voting_role, grb_role)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, reviewer.ID, reviewer.IntakeID, reviewer.Name, reviewer.Email, reviewer.VotingRole, reviewer.GRBRole)
	if err != nil {
		return wrapWrite("insert grb reviewer", err)
	}
	return nil
}

func (s *PostgresStore) DeleteGRBReviewer(ctx context.Context, intakeID, reviewerID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM grb_reviewers WHERE intake_id=$1 AND id=$2`, intakeID, reviewerID)
	if err != nil {
		return false, fmt.Errorf("delete grb reviewer: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete grb reviewer rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) InsertDocument(ctx context.Context, doc Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO intake_documents (id, intake_id, file_name, document_type, content_type, size_bytes, object_key, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, doc.ID, doc.IntakeID, doc.FileName, doc.DocumentType, doc.ContentType, doc.Size, doc.ObjectKey, doc.UploadedBy)
	if err != nil {
		return wrapWrite("insert document", err)
	}
	return nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, intakeID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, intake_id, file_name, document_type, content_type, size_bytes, object_key, uploaded_by, created_at
		FROM intake_documents
		WHERE intake_id=$1
		ORDER BY created_at DESC
	`, intakeID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		var item Document
		if err := rows.Scan(&item.ID, &item.IntakeID, &item.FileName, &item.DocumentType, &item.ContentType, &item.Size, &item.ObjectKey, &item.UploadedBy, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, intakeID, documentID string) (Document, error) {
	var item Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, intake_id, file_name, document_type, content_type, size_bytes, object_key, uploaded_by, created_at
		FROM intake_documents
		WHERE intake_id=$1 AND id=$2
	`, intakeID, documentID).Scan(&item.ID, &item.IntakeID, &item.FileName, &item.DocumentType, &item.ContentType, &item.Size, &item.ObjectKey, &item.UploadedBy, &item.CreatedAt)
	if err != nil {
		return Document{}, err
	}
	return item, nil
}

func (s *PostgresStore) GetBusinessCase(ctx context.Context, intakeID string) (BusinessCase, error) {
	var item BusinessCase
	err := s.db.QueryRowContext(ctx, `
		SELECT id, intake_id, status, head_commit, updated_by, created_at, updated_at
		FROM business_cases
		WHERE intake_id=$1
	`, intakeID).Scan(&item.ID, &item.IntakeID, &item.Status, &item.HeadCommit, &item.UpdatedBy, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return BusinessCase{}, err
	}
	return item, nil
}

// UpsertBusinessCase records the latest business case commit for an intake.
func (s *PostgresStore) UpsertBusinessCase(ctx context.Context, item BusinessCase) (BusinessCase, error) {
	var saved BusinessCase
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO business_cases (id, intake_id, status, head_commit, updated_by)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (intake_id) DO UPDATE
			SET status=EXCLUDED.status, head_commit=EXCLUDED.head_commit, updated_by=EXCLUDED.updated_by, updated_at=NOW()
		RETURNING id, intake_id, status, head_commit, updated_by, created_at, updated_at
	`, item.ID, item.IntakeID, item.Status, item.HeadCommit, item.UpdatedBy).Scan(
		&saved.ID, &saved.IntakeID, &saved.Status, &saved.HeadCommit, &saved.UpdatedBy, &saved.CreatedAt, &saved.UpdatedAt,
	)
	if err != nil {
		return BusinessCase{}, wrapWrite("upsert business case", err)
	}
	return saved, nil
}

// ListExpiringLCIDs returns unretired LCIDs that expire after now and on or
// before cutoff, and have not yet had an expiration alert.
func (s *PostgresStore) ListExpiringLCIDs(ctx context.Context, now, cutoff time.Time) ([]ExpiringLCID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_name, requester_name, requester_email, lcid, lcid_expires_at, lcid_retires_at
		FROM system_intakes
		WHERE lcid IS NOT NULL
			AND lcid_expiration_alert_sent_at IS NULL
			AND lcid_expires_at > $1
			AND lcid_expires_at <= $2
			AND (lcid_retires_at IS NULL OR lcid_retires_at > $1)
		ORDER BY lcid_expires_at ASC
	`, now, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list expiring lcids: %w", err)
	}
	defer rows.Close()

	items := make([]ExpiringLCID, 0)
	for rows.Next() {
		var (
			item      ExpiringLCID
			retiresAt sql.NullTime
		)
		if err := rows.Scan(&item.IntakeID, &item.RequestName, &item.RequesterName, &item.RequesterEmail, &item.LCID, &item.ExpiresAt, &retiresAt); err != nil {
			return nil, fmt.Errorf("scan expiring lcid: %w", err)
		}
		item.RetiresAt = timePtr(retiresAt)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expiring lcids: %w", err)
	}
	return items, nil
}

// MarkExpirationAlertSent records the alert and its action log entry. It
// reports false when another sweep already claimed the intake.
func (s *PostgresStore) MarkExpirationAlertSent(ctx context.Context, intakeID string, sentAt time.Time, action Action) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin alert tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE system_intakes SET lcid_expiration_alert_sent_at=$2
		WHERE id=$1 AND lcid IS NOT NULL AND lcid_expiration_alert_sent_at IS NULL
	`, intakeID, sentAt)
	if err != nil {
		return false, fmt.Errorf("mark expiration alert: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark expiration alert rows: %w", err)
	}
	if affected == 0 {
		return false, nil
	}
	if err := insertAction(ctx, tx, action); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit alert tx: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func wrapWrite(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%s: %w", op, ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return *value
}

func timePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}
