package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"govreview/api/internal/auth"
	"govreview/api/internal/authpw"
	"govreview/api/internal/documents"
	"govreview/api/internal/i18n"
	"govreview/api/internal/workflow"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *log.Logger
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: service.logger}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		report := s.service.Ready(ctx)
		status := http.StatusOK
		if !report.OK {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleAuthSignUp(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleAuthSignIn(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token, ok := auth.BearerToken(r.Header.Get("Authorization"))
		if !ok {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userName":      session.UserName,
			"userId":        session.UserID,
			"email":         session.Email,
			"role":          session.Role,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload(session))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		session := Session{}
		if token, ok := auth.BearerToken(r.Header.Get("Authorization")); ok {
			if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
				session = parsed
			}
		}
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), session, body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		s.handleSearch(w, r, session)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/admin/search/reindex" {
		result, err := s.service.ReindexSearch(r.Context(), session)
		s.respond(w, http.StatusOK, result, err)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "system-intakes" {
		s.handleSystemIntakes(w, r, session, parts[2:])
		return
	}
	if len(parts) >= 4 && parts[0] == "api" && parts[1] == "governance-review-team" {
		s.handleGovernanceReview(w, r, session, parts[2], parts[3:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// handleSystemIntakes serves /api/system-intakes and everything below it.
// rest is the path after "system-intakes".
func (s *HTTPServer) handleSystemIntakes(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	ctx := r.Context()

	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListIntakes(ctx, session, r.URL.Query().Get("state"))
			s.respond(w, http.StatusOK, map[string]any{"items": items}, err)
		case http.MethodPost:
			var body CreateIntakeInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			intake, err := s.service.CreateIntake(ctx, session, body)
			s.respond(w, http.StatusCreated, intake, err)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	intakeID := rest[0]
	rest = rest[1:]

	if len(rest) == 0 && r.Method == http.MethodGet {
		intake, err := s.service.GetIntake(ctx, session, intakeID)
		s.respond(w, http.StatusOK, intake, err)
		return
	}

	if len(rest) == 1 && rest[0] == "submit" && r.Method == http.MethodPost {
		intake, err := s.service.SubmitIntake(ctx, session, intakeID)
		s.respond(w, http.StatusOK, intake, err)
		return
	}

	if len(rest) == 1 && rest[0] == "admin-lead" && r.Method == http.MethodPut {
		var body struct {
			AdminLead string `json:"adminLead"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		intake, err := s.service.UpdateAdminLead(ctx, session, intakeID, body.AdminLead)
		s.respond(w, http.StatusOK, intake, err)
		return
	}

	if len(rest) == 1 && rest[0] == "notes" {
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListNotes(ctx, session, intakeID)
			s.respond(w, http.StatusOK, map[string]any{"items": items}, err)
			return
		case http.MethodPost:
			var body struct {
				Content string `json:"content"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			note, err := s.service.AddNote(ctx, session, intakeID, body.Content)
			s.respond(w, http.StatusCreated, note, err)
			return
		}
	}

	if len(rest) == 1 && rest[0] == "notes-and-actions" && r.Method == http.MethodGet {
		items, err := s.service.NotesAndActions(ctx, session, intakeID)
		s.respond(w, http.StatusOK, map[string]any{"items": items}, err)
		return
	}

	if len(rest) >= 1 && rest[0] == "grb-reviewers" {
		s.handleGRBReviewers(w, r, session, intakeID, rest[1:])
		return
	}

	if len(rest) >= 1 && rest[0] == "business-case" {
		s.handleBusinessCase(w, r, session, intakeID, rest[1:])
		return
	}

	if len(rest) >= 1 && rest[0] == "documents" {
		s.handleDocuments(w, r, session, intakeID, rest[1:])
		return
	}

	if len(rest) == 1 && rest[0] == "decision-letter" && r.Method == http.MethodGet {
		result, err := s.service.DecisionLetter(ctx, session, intakeID, r.URL.Query().Get("format"))
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", result.MimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
		w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleGRBReviewers(w http.ResponseWriter, r *http.Request, session Session, intakeID string, rest []string) {
	ctx := r.Context()
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		items, err := s.service.ListGRBReviewers(ctx, session, intakeID)
		s.respond(w, http.StatusOK, map[string]any{"items": items}, err)
	case len(rest) == 0 && r.Method == http.MethodPost:
		var body GRBReviewerInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		reviewer, err := s.service.AddGRBReviewer(ctx, session, intakeID, body)
		s.respond(w, http.StatusCreated, reviewer, err)
	case len(rest) == 1 && r.Method == http.MethodDelete:
		err := s.service.RemoveGRBReviewer(ctx, session, intakeID, rest[0])
		s.respond(w, http.StatusOK, map[string]any{"ok": true}, err)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleBusinessCase(w http.ResponseWriter, r *http.Request, session Session, intakeID string, rest []string) {
	ctx := r.Context()
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		item, err := s.service.GetBusinessCase(ctx, session, intakeID)
		s.respond(w, http.StatusOK, item, err)
	case len(rest) == 0 && r.Method == http.MethodPut:
		var body BusinessCaseInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		item, err := s.service.SaveBusinessCase(ctx, session, intakeID, body)
		s.respond(w, http.StatusOK, item, err)
	case len(rest) == 1 && rest[0] == "history" && r.Method == http.MethodGet:
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		items, err := s.service.BusinessCaseHistory(ctx, session, intakeID, limit)
		s.respond(w, http.StatusOK, map[string]any{"items": items}, err)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleDocuments(w http.ResponseWriter, r *http.Request, session Session, intakeID string, rest []string) {
	ctx := r.Context()
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		items, err := s.service.ListDocuments(ctx, session, intakeID)
		s.respond(w, http.StatusOK, map[string]any{"items": items}, err)
	case len(rest) == 0 && r.Method == http.MethodPost:
		// Leave room for the multipart envelope around the file itself.
		r.Body = http.MaxBytesReader(w, r.Body, documents.MaxUploadBytes+1<<20)
		if err := r.ParseMultipartForm(8 << 20); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "DOCUMENT_TOO_LARGE", documents.ErrTooLarge.Error(), nil)
				return
			}
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "Expected a multipart form upload", nil)
			return
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "file is required", map[string]string{"file": "file is required"})
			return
		}
		defer file.Close()
		doc, err := s.service.UploadDocument(ctx, session, intakeID, DocumentUpload{
			FileName:     header.Filename,
			DocumentType: r.FormValue("documentType"),
			ContentType:  header.Header.Get("Content-Type"),
			Size:         header.Size,
			Body:         file,
		})
		s.respond(w, http.StatusCreated, doc, err)
	case len(rest) == 2 && rest[1] == "download" && r.Method == http.MethodGet:
		link, err := s.service.DocumentDownload(ctx, session, intakeID, rest[0])
		s.respond(w, http.StatusOK, link, err)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// handleGovernanceReview serves the GRT action menus and submissions under
// /api/governance-review-team/{id}/.
func (s *HTTPServer) handleGovernanceReview(w http.ResponseWriter, r *http.Request, session Session, intakeID string, rest []string) {
	ctx := r.Context()
	menu := workflow.ActionSlug(rest[0])

	if len(rest) == 1 && r.Method == http.MethodGet {
		var (
			payload map[string]any
			err     error
		)
		switch rest[0] {
		case "actions":
			payload, err = s.service.Actions(ctx, session, intakeID)
		case string(workflow.ActionResolutions):
			payload, err = s.service.Resolutions(ctx, session, intakeID)
		case string(workflow.ActionManageLCID):
			payload, err = s.service.ManageLCID(ctx, session, intakeID)
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}
		s.respond(w, http.StatusOK, payload, err)
		return
	}

	if len(rest) == 2 && r.Method == http.MethodPost {
		target := ActionTarget{Menu: menu, Slug: rest[1]}
		switch rest[0] {
		case "actions":
			// Only the top-level actions without a sub-menu submit here.
			slug := workflow.ActionSlug(rest[1])
			if slug != workflow.ActionRequestEdits && slug != workflow.ActionProgressToNewStep {
				writeError(w, http.StatusNotFound, "NOT_FOUND", i18n.Lookup("actions.not-found"), nil)
				return
			}
			target.Menu = slug
		case string(workflow.ActionResolutions), string(workflow.ActionManageLCID):
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}

		var body ActionInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.SubmitAction(ctx, session, intakeID, target, body)
		s.respond(w, http.StatusOK, result, err)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, session Session) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))
	response, err := s.service.Search(r.Context(), session, SearchInput{
		Text:   query.Get("q"),
		Type:   query.Get("type"),
		State:  query.Get("state"),
		Limit:  limit,
		Offset: offset,
	})
	s.respond(w, http.StatusOK, response, err)
}

func (s *HTTPServer) handleAuthSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	user, err := s.service.SignUp(r.Context(), authpw.SignUpRequest{
		Email:       body.Email,
		Password:    body.Password,
		DisplayName: body.DisplayName,
	})
	s.respond(w, http.StatusCreated, map[string]any{
		"userId":      user.ID,
		"email":       user.Email,
		"displayName": user.DisplayName,
	}, err)
}

func (s *HTTPServer) handleAuthSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.SignIn(r.Context(), authpw.SignInRequest{Email: body.Email, Password: body.Password})
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token, ok := auth.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		s.logger.Error("session lookup failed", "request_id", requestID(r.Context()), "err", err)
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

// respond writes payload with status, or the mapped error when err is set.
func (s *HTTPServer) respond(w http.ResponseWriter, status int, payload any, err error) {
	if err != nil {
		s.writeMappedError(w, nil, err)
		return
	}
	writeJSON(w, status, payload)
}

func (s *HTTPServer) writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		fields := []any{"code", code, "err", err}
		if r != nil {
			fields = append(fields, "request_id", requestID(r.Context()), "path", r.URL.Path)
		}
		s.logger.Error("request failed", fields...)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", id)

		next.ServeHTTP(writer, r)

		s.logger.Info("request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", i18n.Lookup("errors.action-failed"), nil
}
