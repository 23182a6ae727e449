package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"sort"
	"strings"
	"time"

	"govreview/api/internal/documents"
	"govreview/api/internal/export"
	"govreview/api/internal/gitrepo"
	"govreview/api/internal/rbac"
	"govreview/api/internal/search"
	"govreview/api/internal/store"
	"govreview/api/internal/util"
	"govreview/api/internal/workflow"
)

const downloadLinkTTL = 15 * time.Minute

// loadIntake returns the intake when session may see it. Requesters only see
// their own requests; anything else reads as not found.
func (s *Service) loadIntake(ctx context.Context, session Session, intakeID string) (store.SystemIntake, error) {
	if err := s.require(session, rbac.PermRead); err != nil {
		return store.SystemIntake{}, err
	}
	intake, err := s.store.GetSystemIntake(ctx, intakeID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.SystemIntake{}, notFound()
	}
	if err != nil {
		return store.SystemIntake{}, err
	}
	if !rbac.IsReviewer(session.Role) && intake.Requester.ID != session.UserID {
		return store.SystemIntake{}, notFound()
	}
	return intake, nil
}

// loadForReview loads an intake for a GRT-only operation.
func (s *Service) loadForReview(ctx context.Context, session Session, intakeID string) (store.SystemIntake, error) {
	if err := s.require(session, rbac.PermReview); err != nil {
		return store.SystemIntake{}, err
	}
	return s.loadIntake(ctx, session, intakeID)
}

func (s *Service) GetIntake(ctx context.Context, session Session, intakeID string) (map[string]any, error) {
	intake, err := s.loadIntake(ctx, session, intakeID)
	if err != nil {
		return nil, err
	}
	return s.intakeView(intake), nil
}

func (s *Service) ListIntakes(ctx context.Context, session Session, rawState string) ([]map[string]any, error) {
	if err := s.require(session, rbac.PermRead); err != nil {
		return nil, err
	}
	var state workflow.RequestState
	if strings.TrimSpace(rawState) != "" {
		parsed, err := workflow.ParseRequestState(rawState)
		if err != nil {
			return nil, validationError("state", "state must be OPEN or CLOSED")
		}
		state = parsed
	}
	requesterID := ""
	if !rbac.IsReviewer(session.Role) {
		requesterID = session.UserID
	}
	intakes, err := s.store.ListSystemIntakes(ctx, state, requesterID)
	if err != nil {
		return nil, err
	}
	views := make([]map[string]any, 0, len(intakes))
	for _, intake := range intakes {
		views = append(views, s.intakeView(intake))
	}
	return views, nil
}

type CreateIntakeInput struct {
	RequestName  string `json:"requestName"`
	RequestType  string `json:"requestType"`
	Component    string `json:"component"`
	BusinessNeed string `json:"businessNeed"`
}

func (s *Service) CreateIntake(ctx context.Context, session Session, input CreateIntakeInput) (map[string]any, error) {
	if err := s.require(session, rbac.PermSubmit); err != nil {
		return nil, err
	}
	problems := fieldErrors{}
	name := strings.TrimSpace(input.RequestName)
	if name == "" {
		problems.add("requestName", "requestName is required")
	}
	requestType := workflow.RequestNew
	if strings.TrimSpace(input.RequestType) != "" {
		parsed, err := workflow.ParseRequestType(input.RequestType)
		if err != nil {
			problems.add("requestType", "requestType must be NEW, RECOMPETE, MAJOR_CHANGES or SHUTDOWN")
		}
		requestType = parsed
	}
	if err := problems.err(); err != nil {
		return nil, err
	}

	intake := store.SystemIntake{
		ID:          util.NewID("intake"),
		RequestName: name,
		Requester: store.Requester{
			ID:        session.UserID,
			Name:      session.UserName,
			Email:     session.Email,
			Component: strings.TrimSpace(input.Component),
		},
		RequestType:   requestType,
		State:         workflow.StateOpen,
		DecisionState: workflow.DecisionNone,
		Step:          workflow.StepInitialRequestForm,
		BusinessNeed:  strings.TrimSpace(input.BusinessNeed),
	}
	if err := s.store.CreateSystemIntake(ctx, intake); err != nil {
		return nil, err
	}
	created, err := s.store.GetSystemIntake(ctx, intake.ID)
	if err != nil {
		return nil, err
	}
	s.indexIntake(created)
	return s.intakeView(created), nil
}

func (s *Service) SubmitIntake(ctx context.Context, session Session, intakeID string) (map[string]any, error) {
	if err := s.require(session, rbac.PermSubmit); err != nil {
		return nil, err
	}
	if _, err := s.loadIntake(ctx, session, intakeID); err != nil {
		return nil, err
	}
	submitted, err := s.store.SubmitSystemIntake(ctx, intakeID)
	if err != nil {
		return nil, err
	}
	if !submitted {
		return nil, domainError(http.StatusConflict, "ALREADY_SUBMITTED", "Request was already submitted", nil)
	}
	intake, err := s.store.GetSystemIntake(ctx, intakeID)
	if err != nil {
		return nil, err
	}
	return s.intakeView(intake), nil
}

func (s *Service) UpdateAdminLead(ctx context.Context, session Session, intakeID, adminLead string) (map[string]any, error) {
	if _, err := s.loadForReview(ctx, session, intakeID); err != nil {
		return nil, err
	}
	if err := s.store.UpdateAdminLead(ctx, intakeID, strings.TrimSpace(adminLead)); err != nil {
		return nil, err
	}
	intake, err := s.store.GetSystemIntake(ctx, intakeID)
	if err != nil {
		return nil, err
	}
	return s.intakeView(intake), nil
}

func (s *Service) ListNotes(ctx context.Context, session Session, intakeID string) ([]map[string]any, error) {
	if _, err := s.loadForReview(ctx, session, intakeID); err != nil {
		return nil, err
	}
	notes, err := s.store.ListAdminNotes(ctx, intakeID)
	if err != nil {
		return nil, err
	}
	views := make([]map[string]any, 0, len(notes))
	for _, note := range notes {
		views = append(views, noteView(note))
	}
	return views, nil
}

func (s *Service) AddNote(ctx context.Context, session Session, intakeID, content string) (map[string]any, error) {
	if _, err := s.loadForReview(ctx, session, intakeID); err != nil {
		return nil, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, validationError("content", "content is required")
	}
	note := store.AdminNote{
		ID:          util.NewID("note"),
		IntakeID:    intakeID,
		AuthorName:  session.UserName,
		AuthorEmail: session.Email,
		Content:     content,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.InsertAdminNote(ctx, note); err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexNote(search.NoteRecord{ID: note.ID, IntakeID: intakeID, Author: note.AuthorName, Content: content})
	}
	return noteView(note), nil
}

// NotesAndActions merges admin notes and the action log into one feed,
// newest first.
func (s *Service) NotesAndActions(ctx context.Context, session Session, intakeID string) ([]map[string]any, error) {
	if _, err := s.loadForReview(ctx, session, intakeID); err != nil {
		return nil, err
	}
	notes, err := s.store.ListAdminNotes(ctx, intakeID)
	if err != nil {
		return nil, err
	}
	actions, err := s.store.ListActions(ctx, intakeID)
	if err != nil {
		return nil, err
	}

	type entry struct {
		at   time.Time
		view map[string]any
	}
	entries := make([]entry, 0, len(notes)+len(actions))
	for _, note := range notes {
		view := noteView(note)
		view["kind"] = "note"
		entries = append(entries, entry{at: note.CreatedAt, view: view})
	}
	for _, action := range actions {
		view := actionView(action)
		view["kind"] = "action"
		entries = append(entries, entry{at: action.CreatedAt, view: view})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].at.After(entries[j].at)
	})

	feed := make([]map[string]any, 0, len(entries))
	for _, item := range entries {
		feed = append(feed, item.view)
	}
	return feed, nil
}

var votingRoles = map[string]bool{"VOTING": true, "NON_VOTING": true, "ALTERNATE": true}

type GRBReviewerInput struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	VotingRole string `json:"votingRole"`
	GRBRole    string `json:"grbRole"`
}

func (s *Service) ListGRBReviewers(ctx context.Context, session Session, intakeID string) ([]map[string]any, error) {
	if _, err := s.loadForReview(ctx, session, intakeID); err != nil {
		return nil, err
	}
	reviewers, err := s.store.ListGRBReviewers(ctx, intakeID)
	if err != nil {
		return nil, err
	}
	views := make([]map[string]any, 0, len(reviewers))
	for _, reviewer := range reviewers {
		views = append(views, reviewerView(reviewer))
	}
	return views, nil
}

func (s *Service) AddGRBReviewer(ctx context.Context, session Session, intakeID string, input GRBReviewerInput) (map[string]any, error) {
	if _, err := s.loadForReview(ctx, session, intakeID); err != nil {
		return nil, err
	}
	problems := fieldErrors{}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		problems.add("name", "name is required")
	}
	address, err := mail.ParseAddress(strings.TrimSpace(input.Email))
	if err != nil {
		problems.add("email", "email must be a valid address")
	}
	votingRole := strings.ToUpper(strings.TrimSpace(input.VotingRole))
	if !votingRoles[votingRole] {
		problems.add("votingRole", "votingRole must be VOTING, NON_VOTING or ALTERNATE")
	}
	grbRole := strings.ToUpper(strings.TrimSpace(input.GRBRole))
	if grbRole == "" {
		problems.add("grbRole", "grbRole is required")
	}
	if err := problems.err(); err != nil {
		return nil, err
	}

	reviewer := store.GRBReviewer{
		ID:         util.NewID("grb"),
		IntakeID:   intakeID,
		Name:       name,
		Email:      strings.ToLower(address.Address),
		VotingRole: votingRole,
		GRBRole:    grbRole,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.InsertGRBReviewer(ctx, reviewer); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, domainError(http.StatusConflict, "REVIEWER_EXISTS", "Reviewer already added to this request", nil)
		}
		return nil, err
	}
	return reviewerView(reviewer), nil
}

func (s *Service) RemoveGRBReviewer(ctx context.Context, session Session, intakeID, reviewerID string) error {
	if _, err := s.loadForReview(ctx, session, intakeID); err != nil {
		return err
	}
	removed, err := s.store.DeleteGRBReviewer(ctx, intakeID, reviewerID)
	if err != nil {
		return err
	}
	if !removed {
		return notFound()
	}
	return nil
}

type BusinessCaseInput struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Content gitrepo.Content `json:"content"`
}

func (s *Service) GetBusinessCase(ctx context.Context, session Session, intakeID string) (map[string]any, error) {
	if _, err := s.loadIntake(ctx, session, intakeID); err != nil {
		return nil, err
	}
	record, err := s.store.GetBusinessCase(ctx, intakeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound()
	}
	if err != nil {
		return nil, err
	}
	content, head, err := s.cases.Head(intakeID)
	if errors.Is(err, gitrepo.ErrNotFound) {
		return nil, notFound()
	}
	if err != nil {
		return nil, err
	}
	return businessCaseView(record, content, head), nil
}

func (s *Service) SaveBusinessCase(ctx context.Context, session Session, intakeID string, input BusinessCaseInput) (map[string]any, error) {
	if err := s.require(session, rbac.PermSubmit); err != nil {
		return nil, err
	}
	if _, err := s.loadIntake(ctx, session, intakeID); err != nil {
		return nil, err
	}
	status := strings.ToUpper(strings.TrimSpace(input.Status))
	if status == "" {
		status = "DRAFT"
	}
	if status != "DRAFT" && status != "SUBMITTED" {
		return nil, validationError("status", "status must be DRAFT or SUBMITTED")
	}
	if strings.TrimSpace(input.Content.Title) == "" {
		return nil, validationError("content.title", "title is required")
	}

	head, err := s.cases.Save(intakeID, input.Content, gitrepo.Author{Name: session.UserName, Email: session.Email}, input.Message)
	if err != nil {
		return nil, fmt.Errorf("save business case: %w", err)
	}
	record, err := s.store.UpsertBusinessCase(ctx, store.BusinessCase{
		ID:         util.NewID("bc"),
		IntakeID:   intakeID,
		Status:     status,
		HeadCommit: head.Hash,
		UpdatedBy:  session.UserName,
	})
	if err != nil {
		return nil, err
	}
	return businessCaseView(record, input.Content, head), nil
}

func (s *Service) BusinessCaseHistory(ctx context.Context, session Session, intakeID string, limit int) ([]gitrepo.CommitInfo, error) {
	if _, err := s.loadIntake(ctx, session, intakeID); err != nil {
		return nil, err
	}
	history, err := s.cases.History(intakeID, limit)
	if errors.Is(err, gitrepo.ErrNotFound) {
		return []gitrepo.CommitInfo{}, nil
	}
	return history, err
}

func (s *Service) documentsAvailable() error {
	if s.documents == nil {
		return domainError(http.StatusServiceUnavailable, "DOCUMENTS_UNAVAILABLE", "Document storage is not configured", nil)
	}
	return nil
}

type DocumentUpload struct {
	FileName     string
	DocumentType string
	ContentType  string
	Size         int64
	Body         io.Reader
}

func (s *Service) UploadDocument(ctx context.Context, session Session, intakeID string, upload DocumentUpload) (map[string]any, error) {
	if err := s.require(session, rbac.PermSubmit); err != nil {
		return nil, err
	}
	if _, err := s.loadIntake(ctx, session, intakeID); err != nil {
		return nil, err
	}
	if err := s.documentsAvailable(); err != nil {
		return nil, err
	}
	documentType := strings.TrimSpace(upload.DocumentType)
	if documentType == "" {
		return nil, validationError("documentType", "documentType is required")
	}

	doc := store.Document{
		ID:           util.NewID("doc"),
		IntakeID:     intakeID,
		FileName:     documents.SafeFileName(upload.FileName),
		DocumentType: documentType,
		ContentType:  documents.NormalizeContentType(upload.ContentType),
		Size:         upload.Size,
		UploadedBy:   session.UserName,
		CreatedAt:    s.now().UTC(),
	}
	key, err := s.documents.Put(ctx, documents.Upload{
		IntakeID:    intakeID,
		DocumentID:  doc.ID,
		FileName:    doc.FileName,
		ContentType: doc.ContentType,
		Size:        upload.Size,
		Body:        upload.Body,
	})
	switch {
	case errors.Is(err, documents.ErrTooLarge):
		return nil, domainError(http.StatusRequestEntityTooLarge, "DOCUMENT_TOO_LARGE", err.Error(), nil)
	case errors.Is(err, documents.ErrUnsupportedType), errors.Is(err, documents.ErrEmptyDocument):
		return nil, validationError("file", err.Error())
	case err != nil:
		return nil, err
	}
	doc.ObjectKey = key

	if err := s.store.InsertDocument(ctx, doc); err != nil {
		if removeErr := s.documents.Remove(context.WithoutCancel(ctx), key); removeErr != nil {
			s.logger.Warn("remove orphaned document", "key", key, "err", removeErr)
		}
		return nil, err
	}
	return documentView(doc), nil
}

func (s *Service) ListDocuments(ctx context.Context, session Session, intakeID string) ([]map[string]any, error) {
	if _, err := s.loadIntake(ctx, session, intakeID); err != nil {
		return nil, err
	}
	docs, err := s.store.ListDocuments(ctx, intakeID)
	if err != nil {
		return nil, err
	}
	views := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		views = append(views, documentView(doc))
	}
	return views, nil
}

func (s *Service) DocumentDownload(ctx context.Context, session Session, intakeID, documentID string) (map[string]any, error) {
	if _, err := s.loadIntake(ctx, session, intakeID); err != nil {
		return nil, err
	}
	if err := s.documentsAvailable(); err != nil {
		return nil, err
	}
	doc, err := s.store.GetDocument(ctx, intakeID, documentID)
	if err != nil {
		return nil, err
	}
	link, err := s.documents.PresignedURL(ctx, doc.ObjectKey, doc.FileName, downloadLinkTTL)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"url":       link,
		"expiresAt": s.now().Add(downloadLinkTTL).UTC(),
	}, nil
}

func (s *Service) DecisionLetter(ctx context.Context, session Session, intakeID, rawFormat string) (*export.Result, error) {
	intake, err := s.loadIntake(ctx, session, intakeID)
	if err != nil {
		return nil, err
	}
	format, err := export.ParseFormat(rawFormat)
	if err != nil {
		return nil, validationError("format", "format must be pdf or docx")
	}
	letter, err := export.LetterFromIntake(intake)
	if errors.Is(err, export.ErrNoDecision) {
		return nil, domainError(http.StatusConflict, "NO_DECISION", "No decision has been made on this request", nil)
	}
	if err != nil {
		return nil, err
	}
	result, err := s.letters.Render(ctx, letter, format)
	if errors.Is(err, export.ErrPDFDependencyMissing) || errors.Is(err, export.ErrDOCXDependencyMissing) {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", err.Error(), nil)
	}
	return result, err
}

type SearchInput struct {
	Text   string
	Type   string
	State  string
	Limit  int
	Offset int
}

// ReindexSearch rebuilds the Meilisearch indexes from Postgres. It is a
// no-op returning zero when Meilisearch is not in use.
func (s *Service) ReindexSearch(ctx context.Context, session Session) (map[string]any, error) {
	if err := s.require(session, rbac.PermAdmin); err != nil {
		return nil, err
	}
	if s.search == nil {
		return map[string]any{"reindexed": 0}, nil
	}
	count, err := s.search.ReindexAllFromPG(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Info("search reindexed", "by", session.UserID, "records", count)
	return map[string]any{"reindexed": count}, nil
}

func (s *Service) Search(ctx context.Context, session Session, input SearchInput) (search.Response, error) {
	if err := s.require(session, rbac.PermRead); err != nil {
		return search.Response{}, err
	}
	resultType, ok := search.ParseResultType(input.Type)
	if !ok {
		return search.Response{}, validationError("type", "type must be intake, note or action")
	}
	query := search.Query{
		Text:         strings.TrimSpace(input.Text),
		FilterType:   resultType,
		FilterState:  strings.ToUpper(strings.TrimSpace(input.State)),
		Limit:        input.Limit,
		Offset:       input.Offset,
		ReviewerView: rbac.IsReviewer(session.Role),
	}
	if !query.ReviewerView {
		query.RequesterID = session.UserID
		if query.RequesterID == "" {
			return search.Response{Results: []search.Result{}, Query: query.Text}, nil
		}
	}
	return s.search.Search(ctx, query), nil
}

func (s *Service) indexIntake(intake store.SystemIntake) {
	if s.search == nil {
		return
	}
	record := search.IntakeRecord{
		ID:            intake.ID,
		RequesterID:   intake.Requester.ID,
		RequestName:   intake.RequestName,
		RequesterName: intake.Requester.Name,
		Component:     intake.Requester.Component,
		BusinessNeed:  intake.BusinessNeed,
		State:         string(intake.State),
		DecisionState: string(intake.DecisionState),
	}
	if intake.Lifecycle != nil {
		record.LCID = intake.Lifecycle.LCID
	}
	s.search.IndexIntake(record)
}

func (s *Service) intakeView(intake store.SystemIntake) map[string]any {
	view := map[string]any{
		"id":          intake.ID,
		"requestName": intake.RequestName,
		"requester": map[string]any{
			"name":      intake.Requester.Name,
			"email":     intake.Requester.Email,
			"component": intake.Requester.Component,
		},
		"requestType":       intake.RequestType,
		"state":             intake.State,
		"decisionState":     intake.DecisionState,
		"step":              intake.Step,
		"adminLead":         intake.AdminLead,
		"businessNeed":      intake.BusinessNeed,
		"businessCaseId":    intake.BusinessCaseID,
		"rejectionReason":   intake.RejectionReason,
		"decisionNextSteps": intake.DecisionNextSteps,
		"trbFollowUp":       intake.TRBFollowUp,
		"submittedAt":       intake.SubmittedAt,
		"createdAt":         intake.CreatedAt,
		"updatedAt":         intake.UpdatedAt,
		"lifecycleId":       nil,
		"lcidStatus":        intake.LCIDStatus(s.now(), s.cfg.LCID.SoonWindow),
	}
	if lc := intake.Lifecycle; lc != nil {
		view["lifecycleId"] = map[string]any{
			"lcid":                  lc.LCID,
			"issuedAt":              lc.IssuedAt,
			"expiresAt":             lc.ExpiresAt,
			"retiresAt":             lc.RetiresAt,
			"scope":                 lc.Scope,
			"nextSteps":             lc.NextSteps,
			"costBaseline":          lc.CostBaseline,
			"expirationAlertSentAt": lc.ExpirationAlertSentAt,
		}
	}
	return view
}

func noteView(note store.AdminNote) map[string]any {
	return map[string]any{
		"id":          note.ID,
		"intakeId":    note.IntakeID,
		"authorName":  note.AuthorName,
		"authorEmail": note.AuthorEmail,
		"content":     note.Content,
		"createdAt":   note.CreatedAt,
	}
}

func actionView(action store.Action) map[string]any {
	return map[string]any{
		"id":         action.ID,
		"intakeId":   action.IntakeID,
		"type":       action.Type,
		"actorName":  action.ActorName,
		"actorEmail": action.ActorEmail,
		"feedback":   action.Feedback,
		"step":       action.Step,
		"details":    action.Details,
		"recipients": action.Recipients,
		"createdAt":  action.CreatedAt,
	}
}

func reviewerView(reviewer store.GRBReviewer) map[string]any {
	return map[string]any{
		"id":         reviewer.ID,
		"intakeId":   reviewer.IntakeID,
		"name":       reviewer.Name,
		"email":      reviewer.Email,
		"votingRole": reviewer.VotingRole,
		"grbRole":    reviewer.GRBRole,
		"createdAt":  reviewer.CreatedAt,
	}
}

func documentView(doc store.Document) map[string]any {
	return map[string]any{
		"id":           doc.ID,
		"intakeId":     doc.IntakeID,
		"fileName":     doc.FileName,
		"documentType": doc.DocumentType,
		"contentType":  doc.ContentType,
		"size":         doc.Size,
		"uploadedBy":   doc.UploadedBy,
		"createdAt":    doc.CreatedAt,
	}
}

func businessCaseView(record store.BusinessCase, content gitrepo.Content, head gitrepo.CommitInfo) map[string]any {
	return map[string]any{
		"id":        record.ID,
		"intakeId":  record.IntakeID,
		"status":    record.Status,
		"updatedBy": record.UpdatedBy,
		"updatedAt": record.UpdatedAt,
		"content":   content,
		"head":      head,
	}
}
