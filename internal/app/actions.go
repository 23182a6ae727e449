package app

import (
	"context"
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"govreview/api/internal/email"
	"govreview/api/internal/i18n"
	"govreview/api/internal/locks"
	"govreview/api/internal/search"
	"govreview/api/internal/store"
	"govreview/api/internal/telemetry"
	"govreview/api/internal/util"
	"govreview/api/internal/workflow"
)

const notifyTimeout = 3 * time.Minute

// ActionInput carries every field an action form can submit. Each action
// reads the subset it needs.
type ActionInput struct {
	Feedback               string            `json:"feedback"`
	EditsRequestedForm     string            `json:"editsRequestedForm"`
	EmailFeedback          string            `json:"emailFeedback"`
	NewStep                string            `json:"newStep"`
	MeetingDate            string            `json:"meetingDate"`
	LCID                   string            `json:"lcid"`
	ExpiresAt              string            `json:"expiresAt"`
	RetiresAt              string            `json:"retiresAt"`
	Scope                  string            `json:"scope"`
	NextSteps              string            `json:"nextSteps"`
	CostBaseline           string            `json:"costBaseline"`
	Reason                 string            `json:"reason"`
	TRBFollowUp            string            `json:"trbFollowUp"`
	NotificationRecipients *store.Recipients `json:"notificationRecipients"`
}

// ActionTarget names a submitted action: the menu it came from and the slug
// picked within it. Top-level actions use the same slug for both.
type ActionTarget struct {
	Menu workflow.ActionSlug
	Slug string
}

// Actions returns the top-level GRT action menu for an intake.
func (s *Service) Actions(ctx context.Context, session Session, intakeID string) (map[string]any, error) {
	intake, err := s.loadForReview(ctx, session, intakeID)
	if err != nil {
		return nil, err
	}
	status := intake.LCIDStatus(s.now(), s.cfg.LCID.SoonWindow)
	return map[string]any{
		"intakeId":   intake.ID,
		"lcidStatus": status,
		"actions":    actionOptions(status),
	}, nil
}

func (s *Service) Resolutions(ctx context.Context, session Session, intakeID string) (map[string]any, error) {
	intake, err := s.loadForReview(ctx, session, intakeID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"intakeId":      intake.ID,
		"decisionState": intake.DecisionState,
		"state":         intake.State,
		"resolutions":   resolutionOptions(intake),
	}, nil
}

// ManageLCID returns the LCID actions. Requests without an LCID have no
// manage-LCID page.
func (s *Service) ManageLCID(ctx context.Context, session Session, intakeID string) (map[string]any, error) {
	intake, err := s.loadForReview(ctx, session, intakeID)
	if err != nil {
		return nil, err
	}
	status := intake.LCIDStatus(s.now(), s.cfg.LCID.SoonWindow)
	if status == nil {
		return nil, actionNotFound()
	}
	return map[string]any{
		"intakeId":    intake.ID,
		"lcid":        intake.Lifecycle.LCID,
		"lcidStatus":  status,
		"statusLabel": i18n.Lookup("lcid.status." + string(*status)),
		"lcidActions": lcidOptions(status),
	}, nil
}

// SubmitAction validates and applies one GRT action. The state change and the
// action log row commit together; search indexing and the notification email
// follow on a best-effort basis.
func (s *Service) SubmitAction(ctx context.Context, session Session, intakeID string, target ActionTarget, input ActionInput) (result map[string]any, err error) {
	started := s.now()
	ctx, span := telemetry.Tracer().Start(ctx, "app.SubmitAction", trace.WithAttributes(
		attribute.String("intake.id", intakeID),
		attribute.String("action.menu", string(target.Menu)),
		attribute.String("action.slug", target.Slug),
	))
	actionType := "unknown"
	defer func() {
		outcome := actionOutcome(err)
		if err != nil && outcome == "error" {
			span.RecordError(err)
			span.SetStatus(codes.Error, "action failed")
		}
		span.SetAttributes(attribute.String("action.outcome", outcome))
		span.End()
		s.metrics.Record(context.WithoutCancel(ctx), actionType, outcome, s.now().Sub(started))
	}()

	intake, err := s.loadForReview(ctx, session, intakeID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	plan, err := s.planAction(intake, target, input, now)
	if err != nil {
		return nil, err
	}
	actionType = string(plan.actionType)
	span.SetAttributes(attribute.String("action.type", actionType))

	recipients, err := validateRecipients(input.NotificationRecipients)
	if err != nil {
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, "intake:"+intake.ID, s.cfg.ActionLockTTL)
	if errors.Is(err, locks.ErrLocked) {
		return nil, domainError(http.StatusConflict, "ACTION_IN_PROGRESS", i18n.Lookup("errors.action-in-progress"), nil)
	}
	if err != nil {
		return nil, err
	}
	defer func() {
		if releaseErr := release(context.WithoutCancel(ctx)); releaseErr != nil {
			s.logger.Warn("release action lock", "intake_id", intake.ID, "err", releaseErr)
		}
	}()

	action := store.Action{
		ID:         util.NewID("act"),
		IntakeID:   intake.ID,
		Type:       plan.actionType,
		ActorName:  session.UserName,
		ActorEmail: session.Email,
		Feedback:   plan.feedback,
		Step:       string(plan.step),
		Details:    plan.details,
		Recipients: recipients,
		CreatedAt:  now,
	}
	updated, err := s.store.ApplyAction(ctx, store.ActionChange{
		Intake:               plan.intake,
		PreviousUpdatedAt:    intake.UpdatedAt,
		Action:               action,
		GenerateLCID:         plan.generateLCID,
		ResetExpirationAlert: plan.resetAlert,
	})
	switch {
	case errors.Is(err, store.ErrConflict):
		return nil, domainError(http.StatusConflict, "CONFLICT", "This request was changed by someone else. Reload and try again.", nil)
	case errors.Is(err, store.ErrDuplicate) && plan.actionType == workflow.TypeIssueLCID:
		return nil, validationError("lcid", "lcid is already assigned to another request")
	case err != nil:
		return nil, err
	}
	if plan.generateLCID && updated.Lifecycle != nil {
		action.Details["lcid"] = updated.Lifecycle.LCID
	}

	s.indexIntake(updated)
	if s.search != nil {
		s.search.IndexAction(search.ActionRecord{
			ID:       action.ID,
			IntakeID: action.IntakeID,
			Type:     string(action.Type),
			Actor:    action.ActorName,
			Feedback: action.Feedback,
		})
	}
	emailQueued := s.queueNotification(ctx, updated, action)

	s.logger.Info("action applied",
		"intake_id", updated.ID,
		"action_id", action.ID,
		"type", action.Type,
		"actor", action.ActorEmail,
		"email_queued", emailQueued,
	)

	status := updated.LCIDStatus(s.now(), s.cfg.LCID.SoonWindow)
	return map[string]any{
		"intake":      s.intakeView(updated),
		"action":      actionView(action),
		"actions":     actionOptions(status),
		"resolutions": resolutionOptions(updated),
		"lcidActions": lcidOptions(status),
		"emailQueued": emailQueued,
	}, nil
}

// queueNotification sends the action email in the background. It reports
// whether anything will be sent.
func (s *Service) queueNotification(ctx context.Context, intake store.SystemIntake, action store.Action) bool {
	if s.notifier == nil {
		return false
	}
	if len(email.ResolveRecipients(action.Recipients, s.notifier.Mailboxes())) == 0 {
		return false
	}
	notification := email.Notification{
		Type:        action.Type,
		IntakeID:    intake.ID,
		RequestName: intake.RequestName,
		Feedback:    action.Feedback,
		Details:     action.Details,
	}
	detached := context.WithoutCancel(ctx)
	s.async(func() {
		sendCtx, cancel := context.WithTimeout(detached, notifyTimeout)
		defer cancel()
		sent, err := s.notifier.NotifyAction(sendCtx, notification, action.Recipients)
		if err != nil {
			s.logger.Error("action email failed", "intake_id", intake.ID, "action_id", action.ID, "err", err)
			return
		}
		s.logger.Info("action email sent", "intake_id", intake.ID, "action_id", action.ID, "recipients", sent)
	})
	return true
}

type actionPlan struct {
	intake       store.SystemIntake
	actionType   workflow.ActionType
	feedback     string
	step         workflow.Step
	details      map[string]any
	generateLCID bool
	resetAlert   bool
}

func actionNotFound() *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", i18n.Lookup("actions.not-found"), nil)
}

// planAction checks the target against the menus computed for the intake and
// builds the resulting state change.
func (s *Service) planAction(intake store.SystemIntake, target ActionTarget, input ActionInput, now time.Time) (actionPlan, error) {
	status := intake.LCIDStatus(now, s.cfg.LCID.SoonWindow)
	if !workflow.HasAction(status, string(target.Menu)) {
		return actionPlan{}, actionNotFound()
	}

	switch target.Menu {
	case workflow.ActionRequestEdits, workflow.ActionProgressToNewStep:
		if target.Slug != string(target.Menu) {
			return actionPlan{}, actionNotFound()
		}
		if target.Menu == workflow.ActionRequestEdits {
			return planRequestEdits(intake, input)
		}
		return planProgress(intake, input)
	case workflow.ActionResolutions:
		option, ok := workflow.FindResolution(resolutionsFor(intake), target.Slug)
		if !ok {
			return actionPlan{}, actionNotFound()
		}
		return planResolution(intake, option.Key, input, now)
	case workflow.ActionManageLCID:
		lcidAction := workflow.LCIDAction(target.Slug)
		if !workflow.HasLCIDAction(status, lcidAction) {
			return actionPlan{}, actionNotFound()
		}
		return planLCIDAction(intake, lcidAction, input, now)
	}
	return actionPlan{}, actionNotFound()
}

func planRequestEdits(intake store.SystemIntake, input ActionInput) (actionPlan, error) {
	problems := fieldErrors{}
	form := workflow.EditsForm(strings.TrimSpace(input.EditsRequestedForm))
	step, ok := workflow.StepForEdits(form)
	if !ok {
		problems.add("editsRequestedForm", "editsRequestedForm must be intakeRequest, draftBusinessCase or finalBusinessCase")
	}
	feedback := strings.TrimSpace(input.EmailFeedback)
	if feedback == "" {
		problems.add("emailFeedback", "emailFeedback is required")
	}
	if err := problems.err(); err != nil {
		return actionPlan{}, err
	}

	next := intake
	next.State = workflow.StateOpen
	next.Step = step
	return actionPlan{
		intake:     next,
		actionType: workflow.TypeRequestEdits,
		feedback:   feedback,
		step:       step,
		details:    map[string]any{"editsRequestedForm": string(form)},
	}, nil
}

func planProgress(intake store.SystemIntake, input ActionInput) (actionPlan, error) {
	problems := fieldErrors{}
	step := workflow.Step(strings.ToUpper(strings.TrimSpace(input.NewStep)))
	if !workflow.IsProgressStep(step) {
		problems.add("newStep", "newStep must be DRAFT_BUSINESS_CASE, GRB_MEETING, FINAL_BUSINESS_CASE or GRT_MEETING")
	}
	details := map[string]any{"newStep": string(step)}
	if raw := strings.TrimSpace(input.MeetingDate); raw != "" {
		meeting, err := parseDate(raw)
		if err != nil {
			problems.add("meetingDate", "meetingDate must be a date")
		} else {
			details["meetingDate"] = meeting.Format(time.DateOnly)
		}
	}
	if err := problems.err(); err != nil {
		return actionPlan{}, err
	}

	next := intake
	next.State = workflow.StateOpen
	next.Step = step
	return actionPlan{
		intake:     next,
		actionType: workflow.TypeProgressToNewStep,
		feedback:   strings.TrimSpace(input.Feedback),
		step:       step,
		details:    details,
	}, nil
}

func planResolution(intake store.SystemIntake, resolution workflow.Resolution, input ActionInput, now time.Time) (actionPlan, error) {
	problems := fieldErrors{}
	reason := strings.TrimSpace(input.Reason)
	nextSteps := strings.TrimSpace(input.NextSteps)
	next := intake
	plan := actionPlan{
		actionType: workflow.ResolutionType(resolution),
		feedback:   strings.TrimSpace(input.Feedback),
		details:    map[string]any{},
	}
	if reason != "" {
		plan.details["reason"] = reason
	}

	switch resolution {
	case workflow.ResolutionIssueLCID:
		expiresAt, _ := requireFutureDate(problems, "expiresAt", input.ExpiresAt, now)
		scope := strings.TrimSpace(input.Scope)
		if scope == "" {
			problems.add("scope", "scope is required")
		}
		if nextSteps == "" {
			problems.add("nextSteps", "nextSteps is required")
		}
		lcid := strings.TrimSpace(input.LCID)
		if lcid != "" && !isLCID(lcid) {
			problems.add("lcid", "lcid must be eight digits")
		}
		if err := problems.err(); err != nil {
			return actionPlan{}, err
		}
		costBaseline := strings.TrimSpace(input.CostBaseline)
		next.DecisionState = workflow.DecisionLCIDIssued
		next.State = workflow.StateClosed
		next.Step = workflow.StepDecisionAndNextSteps
		next.RejectionReason = ""
		next.DecisionNextSteps = nextSteps
		next.TRBFollowUp = strings.TrimSpace(input.TRBFollowUp)
		lifecycle := &store.LifecycleID{
			LCID:         lcid,
			IssuedAt:     now,
			ExpiresAt:    expiresAt,
			Scope:        scope,
			NextSteps:    nextSteps,
			CostBaseline: costBaseline,
		}
		// Confirming an issued LCID keeps its id and issue date.
		if current := intake.Lifecycle; current != nil && current.LCID != "" && (lcid == "" || lcid == current.LCID) {
			lifecycle.LCID = current.LCID
			lifecycle.IssuedAt = current.IssuedAt
			lifecycle.RetiresAt = current.RetiresAt
			lifecycle.ExpirationAlertSentAt = current.ExpirationAlertSentAt
			if !expiresAt.Equal(current.ExpiresAt) {
				lifecycle.ExpirationAlertSentAt = nil
				plan.resetAlert = true
			}
			lcid = current.LCID
		} else {
			plan.resetAlert = true
		}
		next.Lifecycle = lifecycle
		plan.generateLCID = lcid == ""
		plan.details["lcid"] = lcid
		plan.details["expiresAt"] = expiresAt.Format(time.DateOnly)
		plan.details["scope"] = scope
		plan.details["nextSteps"] = nextSteps
		if costBaseline != "" {
			plan.details["costBaseline"] = costBaseline
		}

	case workflow.ResolutionNotApproved:
		if reason == "" {
			problems.add("reason", "reason is required")
		}
		if nextSteps == "" {
			problems.add("nextSteps", "nextSteps is required")
		}
		if err := problems.err(); err != nil {
			return actionPlan{}, err
		}
		next.DecisionState = workflow.DecisionNotApproved
		next.State = workflow.StateClosed
		next.Step = workflow.StepDecisionAndNextSteps
		next.RejectionReason = reason
		next.DecisionNextSteps = nextSteps
		next.TRBFollowUp = strings.TrimSpace(input.TRBFollowUp)
		next.Lifecycle = nil
		plan.details["nextSteps"] = nextSteps

	case workflow.ResolutionNotITRequest:
		next.DecisionState = workflow.DecisionNotGovernance
		next.State = workflow.StateClosed
		next.RejectionReason = reason
		next.Lifecycle = nil

	case workflow.ResolutionCloseRequest:
		next.State = workflow.StateClosed

	case workflow.ResolutionReopenRequest:
		next.State = workflow.StateOpen

	default:
		return actionPlan{}, actionNotFound()
	}

	if intake.Lifecycle != nil && next.Lifecycle != intake.Lifecycle {
		plan.details["previous"] = lifecycleSnapshot(intake.Lifecycle)
	}
	plan.intake = next
	return plan, nil
}

func planLCIDAction(intake store.SystemIntake, action workflow.LCIDAction, input ActionInput, now time.Time) (actionPlan, error) {
	problems := fieldErrors{}
	reason := strings.TrimSpace(input.Reason)
	lifecycle := *intake.Lifecycle
	plan := actionPlan{
		actionType: workflow.LCIDActionType(action),
		feedback:   strings.TrimSpace(input.Feedback),
		details: map[string]any{
			"lcid":     lifecycle.LCID,
			"previous": lifecycleSnapshot(intake.Lifecycle),
		},
	}
	if reason != "" {
		plan.details["reason"] = reason
	}

	switch action {
	case workflow.LCIDActionRetire:
		raw := strings.TrimSpace(input.RetiresAt)
		if raw == "" {
			problems.add("retiresAt", "retiresAt is required")
			return actionPlan{}, problems.err()
		}
		retiresAt, err := parseDate(raw)
		if err != nil {
			problems.add("retiresAt", "retiresAt must be a date")
			return actionPlan{}, problems.err()
		}
		lifecycle.RetiresAt = &retiresAt
		plan.details["retiresAt"] = retiresAt.Format(time.DateOnly)

	case workflow.LCIDActionUpdate:
		changed := false
		if raw := strings.TrimSpace(input.ExpiresAt); raw != "" {
			expiresAt, ok := requireFutureDate(problems, "expiresAt", raw, now)
			if ok && !expiresAt.Equal(lifecycle.ExpiresAt) {
				lifecycle.ExpiresAt = expiresAt
				// A new expiration date earns a fresh alert.
				lifecycle.ExpirationAlertSentAt = nil
				plan.resetAlert = true
				plan.details["expiresAt"] = expiresAt.Format(time.DateOnly)
			}
			changed = true
		}
		if scope := strings.TrimSpace(input.Scope); scope != "" {
			lifecycle.Scope = scope
			plan.details["scope"] = scope
			changed = true
		}
		if nextSteps := strings.TrimSpace(input.NextSteps); nextSteps != "" {
			lifecycle.NextSteps = nextSteps
			plan.details["nextSteps"] = nextSteps
			changed = true
		}
		if costBaseline := strings.TrimSpace(input.CostBaseline); costBaseline != "" {
			lifecycle.CostBaseline = costBaseline
			plan.details["costBaseline"] = costBaseline
			changed = true
		}
		if !changed {
			problems.add("expiresAt", "provide at least one of expiresAt, scope, nextSteps or costBaseline")
		}
		if err := problems.err(); err != nil {
			return actionPlan{}, err
		}

	case workflow.LCIDActionExpire:
		if reason == "" {
			problems.add("reason", "reason is required")
			return actionPlan{}, problems.err()
		}
		lifecycle.ExpiresAt = now
		if nextSteps := strings.TrimSpace(input.NextSteps); nextSteps != "" {
			lifecycle.NextSteps = nextSteps
			plan.details["nextSteps"] = nextSteps
		}
		plan.details["expiresAt"] = now.Format(time.DateOnly)

	default:
		return actionPlan{}, actionNotFound()
	}

	next := intake
	next.Lifecycle = &lifecycle
	plan.intake = next
	return plan, nil
}

// validateRecipients normalizes the notification set. A missing set means no
// email.
func validateRecipients(recipients *store.Recipients) (store.Recipients, error) {
	if recipients == nil {
		return store.Recipients{RegularRecipientEmails: []string{}}, nil
	}
	out := *recipients
	out.RegularRecipientEmails = make([]string, 0, len(recipients.RegularRecipientEmails))
	for _, raw := range recipients.RegularRecipientEmails {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		address, err := mail.ParseAddress(raw)
		if err != nil {
			return store.Recipients{}, validationError("notificationRecipients.regularRecipientEmails", raw+" is not a valid email address")
		}
		out.RegularRecipientEmails = append(out.RegularRecipientEmails, address.Address)
	}
	return out, nil
}

func requireFutureDate(problems fieldErrors, field, raw string, now time.Time) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		problems.add(field, field+" is required")
		return time.Time{}, false
	}
	value, err := parseDate(raw)
	if err != nil {
		problems.add(field, field+" must be a date")
		return time.Time{}, false
	}
	if !value.After(now) {
		problems.add(field, field+" must be in the future")
		return time.Time{}, false
	}
	return value, true
}

// parseDate accepts a calendar date or an RFC 3339 timestamp. Dates are
// midnight UTC.
func parseDate(raw string) (time.Time, error) {
	if value, err := time.Parse(time.DateOnly, raw); err == nil {
		return value.UTC(), nil
	}
	value, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return value.UTC(), nil
}

func isLCID(value string) bool {
	if len(value) != 8 {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func lifecycleSnapshot(lc *store.LifecycleID) map[string]any {
	snapshot := map[string]any{
		"lcid":         lc.LCID,
		"expiresAt":    lc.ExpiresAt.Format(time.DateOnly),
		"scope":        lc.Scope,
		"nextSteps":    lc.NextSteps,
		"costBaseline": lc.CostBaseline,
	}
	if lc.RetiresAt != nil {
		snapshot["retiresAt"] = lc.RetiresAt.Format(time.DateOnly)
	}
	return snapshot
}

func actionOutcome(err error) string {
	if err == nil {
		return "success"
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) && domainErr.Status < http.StatusInternalServerError {
		return "rejected"
	}
	return "error"
}

func resolutionsFor(intake store.SystemIntake) []workflow.ResolutionOption {
	return workflow.ResolutionOptions(intake.DecisionState, intake.State)
}

func actionOptions(status *workflow.LCIDStatus) []map[string]any {
	slugs := workflow.AvailableActions(status)
	options := make([]map[string]any, 0, len(slugs))
	for _, slug := range slugs {
		options = append(options, map[string]any{"key": slug, "label": i18n.Lookup("actions." + string(slug))})
	}
	return options
}

func resolutionOptions(intake store.SystemIntake) []map[string]any {
	resolutions := resolutionsFor(intake)
	options := make([]map[string]any, 0, len(resolutions))
	for _, option := range resolutions {
		options = append(options, map[string]any{
			"key":     option.Key,
			"current": option.Current,
			"label":   i18n.Lookup(option.LabelKey()),
		})
	}
	return options
}

func lcidOptions(status *workflow.LCIDStatus) []map[string]any {
	actions := workflow.LCIDActions(status)
	options := make([]map[string]any, 0, len(actions))
	for _, action := range actions {
		options = append(options, map[string]any{"key": action, "label": i18n.Lookup("lcid." + string(action))})
	}
	return options
}
