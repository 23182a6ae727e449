// Package export renders decision letters as PDF or DOCX.
package export

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// ParseFormat accepts "pdf" or "docx" in any case. Blank means PDF.
func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(FormatPDF):
		return FormatPDF, nil
	case string(FormatDOCX):
		return FormatDOCX, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, raw)
	}
}

// Letter is the data printed on a decision letter.
type Letter struct {
	IntakeID        string
	RequestName     string
	RequesterName   string
	RequesterEmail  string
	Component       string
	DecisionState   string
	DecisionDate    time.Time
	LCID            string
	ExpiresAt       *time.Time
	RetiresAt       *time.Time
	Scope           string
	CostBaseline    string
	NextSteps       string
	RejectionReason string
	TRBFollowUp     string
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrNoDecision indicates the intake has no decision to print.
	ErrNoDecision = errors.New("export no decision")
	// ErrUnsupportedFormat indicates an unknown format query value.
	ErrUnsupportedFormat = errors.New("export unsupported format")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
