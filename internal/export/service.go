package export

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"govreview/api/internal/store"
	"govreview/api/internal/workflow"
)

type renderFunc func(ctx context.Context, html string) ([]byte, error)

const (
	mimePDF  = "application/pdf"
	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// Service renders decision letters.
type Service struct {
	pdf  renderFunc
	docx renderFunc
}

// NewService returns a Service backed by headless Chrome and pandoc.
func NewService() *Service {
	return &Service{pdf: renderPDF, docx: renderDOCX}
}

// LetterFromIntake builds the letter for an intake with a decision.
func LetterFromIntake(intake store.SystemIntake) (Letter, error) {
	if intake.DecisionState == "" || intake.DecisionState == workflow.DecisionNone {
		return Letter{}, ErrNoDecision
	}
	letter := Letter{
		IntakeID:        intake.ID,
		RequestName:     intake.RequestName,
		RequesterName:   intake.Requester.Name,
		RequesterEmail:  intake.Requester.Email,
		Component:       intake.Requester.Component,
		DecisionState:   string(intake.DecisionState),
		DecisionDate:    intake.UpdatedAt,
		NextSteps:       intake.DecisionNextSteps,
		RejectionReason: intake.RejectionReason,
		TRBFollowUp:     intake.TRBFollowUp,
	}
	if lc := intake.Lifecycle; lc != nil && intake.DecisionState == workflow.DecisionLCIDIssued {
		expires := lc.ExpiresAt
		letter.LCID = lc.LCID
		letter.ExpiresAt = &expires
		letter.RetiresAt = lc.RetiresAt
		letter.Scope = lc.Scope
		letter.CostBaseline = lc.CostBaseline
		if lc.NextSteps != "" {
			letter.NextSteps = lc.NextSteps
		}
	}
	return letter, nil
}

// Render produces the letter in the requested format.
func (s *Service) Render(ctx context.Context, letter Letter, format Format) (*Result, error) {
	html, err := RenderLetterHTML(letter)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	var (
		render renderFunc
		mime   string
	)
	switch format {
	case FormatPDF:
		render, mime = s.pdf, mimePDF
	case FormatDOCX:
		render, mime = s.docx, mimeDOCX
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	data, err := render(ctx, html)
	if err != nil {
		return nil, err
	}
	return &Result{
		Data:     data,
		Filename: letterFilename(letter.RequestName) + "." + string(format),
		MimeType: mime,
	}, nil
}

// letterFilename slugs the request name into "decision-letter-<name>",
// keeping ASCII letters and digits and capping the slug at 48 bytes.
func letterFilename(requestName string) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(requestName) {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			pendingDash = b.Len() > 0
			continue
		}
		if b.Len() >= 48 {
			break
		}
		if pendingDash {
			b.WriteByte('-')
			pendingDash = false
		}
		b.WriteRune(r)
	}
	if b.Len() == 0 {
		return "decision-letter"
	}
	return "decision-letter-" + strings.TrimRight(b.String(), "-")
}
