package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"govreview/api/internal/auth"
	"govreview/api/internal/authpw"
	"govreview/api/internal/config"
	"govreview/api/internal/documents"
	"govreview/api/internal/email"
	"govreview/api/internal/export"
	"govreview/api/internal/gitrepo"
	"govreview/api/internal/locks"
	"govreview/api/internal/rbac"
	"govreview/api/internal/search"
	"govreview/api/internal/store"
	"govreview/api/internal/telemetry"
	"govreview/api/internal/util"
	"govreview/api/internal/workflow"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	Role         rbac.Role
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	GetUserByID(context.Context, string) (store.User, error)
	CreateSystemIntake(context.Context, store.SystemIntake) error
	GetSystemIntake(context.Context, string) (store.SystemIntake, error)
	ListSystemIntakes(context.Context, workflow.RequestState, string) ([]store.SystemIntake, error)
	SubmitSystemIntake(context.Context, string) (bool, error)
	UpdateAdminLead(context.Context, string, string) error
	ApplyAction(context.Context, store.ActionChange) (store.SystemIntake, error)
	ListActions(context.Context, string) ([]store.Action, error)
	InsertAdminNote(context.Context, store.AdminNote) error
	ListAdminNotes(context.Context, string) ([]store.AdminNote, error)
	ListGRBReviewers(context.Context, string) ([]store.GRBReviewer, error)
	InsertGRBReviewer(context.Context, store.GRBReviewer) error
	DeleteGRBReviewer(context.Context, string, string) (bool, error)
	InsertDocument(context.Context, store.Document) error
	ListDocuments(context.Context, string) ([]store.Document, error)
	GetDocument(context.Context, string, string) (store.Document, error)
	GetBusinessCase(context.Context, string) (store.BusinessCase, error)
	UpsertBusinessCase(context.Context, store.BusinessCase) (store.BusinessCase, error)
}

// refreshStore holds refresh sessions and revoked access tokens. Redis backs
// it when configured; Postgres otherwise.
type refreshStore interface {
	SaveRefreshSession(context.Context, string, store.User, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
}

type passwordAuth interface {
	SignUp(context.Context, authpw.SignUpRequest) (store.User, error)
	SignIn(context.Context, authpw.SignInRequest) (store.User, error)
}

type businessCaseRepo interface {
	Save(string, gitrepo.Content, gitrepo.Author, string) (gitrepo.CommitInfo, error)
	Head(string) (gitrepo.Content, gitrepo.CommitInfo, error)
	History(string, int) ([]gitrepo.CommitInfo, error)
}

type searcher interface {
	Search(context.Context, search.Query) search.Response
	IndexIntake(search.IntakeRecord)
	IndexNote(search.NoteRecord)
	IndexAction(search.ActionRecord)
	ReindexAllFromPG(context.Context) (int, error)
}

type documentStore interface {
	Put(context.Context, documents.Upload) (string, error)
	PresignedURL(context.Context, string, string, time.Duration) (string, error)
	Remove(context.Context, string) error
}

type notifier interface {
	NotifyAction(context.Context, email.Notification, store.Recipients) (int, error)
	Mailboxes() email.Mailboxes
}

type locker interface {
	Acquire(context.Context, string, time.Duration) (locks.Release, error)
}

type letterRenderer interface {
	Render(context.Context, export.Letter, export.Format) (*export.Result, error)
}

// Deps are the collaborators a Service needs. Documents may be nil when no
// object store is configured.
type Deps struct {
	Store         dataStore
	Sessions      refreshStore
	Passwords     passwordAuth
	BusinessCases businessCaseRepo
	Search        searcher
	Documents     documentStore
	Notifier      notifier
	Locker        locker
	Letters       letterRenderer
	Metrics       *telemetry.ActionMetrics
	Logger        *log.Logger
	ReadyChecks   []ReadyCheck
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  refreshStore
	passwords passwordAuth
	cases     businessCaseRepo
	search    searcher
	documents documentStore
	notifier  notifier
	locker    locker
	letters   letterRenderer
	metrics   *telemetry.ActionMetrics
	logger    *log.Logger
	checks    []ReadyCheck

	now func() time.Time
	// async runs best-effort follow-up work after a response is decided.
	async func(func())
}

func New(cfg config.Config, deps Deps) *Service {
	if cfg.LCID.SoonWindow <= 0 {
		cfg.LCID.SoonWindow = workflow.DefaultSoonWindow
	}
	if cfg.ActionLockTTL <= 0 {
		cfg.ActionLockTTL = 30 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		cfg:       cfg,
		store:     deps.Store,
		sessions:  deps.Sessions,
		passwords: deps.Passwords,
		cases:     deps.BusinessCases,
		search:    deps.Search,
		documents: deps.Documents,
		notifier:  deps.Notifier,
		locker:    deps.Locker,
		letters:   deps.Letters,
		metrics:   deps.Metrics,
		logger:    logger,
		checks:    deps.ReadyChecks,
		now:       time.Now,
		async:     func(fn func()) { go fn() },
	}
}

func (s *Service) Can(role rbac.Role, perm rbac.Permission) bool {
	return rbac.Can(role, perm)
}

func (s *Service) require(session Session, perm rbac.Permission) error {
	if !s.Can(session.Role, perm) {
		return forbidden()
	}
	return nil
}

func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (store.User, error) {
	user, err := s.passwords.SignUp(ctx, req)
	var invalid *authpw.ValidationError
	switch {
	case errors.As(err, &invalid):
		return store.User{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", invalid.Message, nil)
	case errors.Is(err, authpw.ErrEmailTaken):
		return store.User{}, domainError(http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
	case err != nil:
		return store.User{}, err
	}
	return user, nil
}

func (s *Service) SignIn(ctx context.Context, req authpw.SignInRequest) (Session, error) {
	user, err := s.passwords.SignIn(ctx, req)
	var invalid *authpw.ValidationError
	switch {
	case errors.As(err, &invalid), errors.Is(err, authpw.ErrInvalidCredentials):
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	case err != nil:
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, auth.ErrInvalidToken
	}
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")
	role := rbac.Normalize(user.Role)

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Name:  user.DisplayName,
		Email: user.Email,
		Role:  string(role),
		JTI:   jti,
		Iat:   now.Unix(),
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Email:        user.Email,
		Role:         role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken validates an access token. The role is re-read from the
// user record so a role change applies without waiting for token expiry.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Email:     user.Email,
		Role:      rbac.Normalize(user.Role),
		JTI:       claims.JTI,
		ExpiresAt: claims.ExpiresAt(),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		if err := s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			s.logger.Warn("revoke access token", "err", err)
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			s.logger.Warn("revoke refresh session", "err", err)
		}
	}
	return nil
}

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"email":        session.Email,
		"role":         session.Role,
		"expiresAt":    session.ExpiresAt.Unix(),
	}
}
