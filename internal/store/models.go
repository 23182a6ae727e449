package store

import (
	"time"

	"govreview/api/internal/workflow"
)

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Requester struct {
	ID        string
	Name      string
	Email     string
	Component string
}

// LifecycleID is the LCID record embedded on an intake once one is issued.
type LifecycleID struct {
	LCID                  string
	IssuedAt              time.Time
	ExpiresAt             time.Time
	RetiresAt             *time.Time
	Scope                 string
	NextSteps             string
	CostBaseline          string
	ExpirationAlertSentAt *time.Time
}

type SystemIntake struct {
	ID                string
	RequestName       string
	Requester         Requester
	RequestType       workflow.RequestType
	State             workflow.RequestState
	DecisionState     workflow.DecisionState
	Step              workflow.Step
	AdminLead         string
	BusinessNeed      string
	BusinessCaseID    *string
	RejectionReason   string
	DecisionNextSteps string
	TRBFollowUp       string
	Lifecycle         *LifecycleID
	SubmittedAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// LCIDStatus derives the status of the intake's LCID at now.
func (i SystemIntake) LCIDStatus(now time.Time, soonWindow time.Duration) *workflow.LCIDStatus {
	if i.Lifecycle == nil {
		return nil
	}
	return workflow.LCIDStatusAt(&workflow.Lifecycle{
		LCID:      i.Lifecycle.LCID,
		ExpiresAt: i.Lifecycle.ExpiresAt,
		RetiresAt: i.Lifecycle.RetiresAt,
	}, now, soonWindow)
}

// Recipients is the notification set recorded with an action.
type Recipients struct {
	RegularRecipientEmails   []string `json:"regularRecipientEmails"`
	ShouldNotifyITGovernance bool     `json:"shouldNotifyITGovernance"`
	ShouldNotifyITInvestment bool     `json:"shouldNotifyITInvestment"`
}

// Action is an entry in the append-only intake action log.
type Action struct {
	ID         string
	IntakeID   string
	Type       workflow.ActionType
	ActorName  string
	ActorEmail string
	Feedback   string
	Step       string
	Details    map[string]any
	Recipients Recipients
	CreatedAt  time.Time
}

// ActionChange is an intake state change and the action that caused it,
// committed together.
type ActionChange struct {
	Intake            SystemIntake
	PreviousUpdatedAt time.Time
	Action            Action
	GenerateLCID      bool
	// ResetExpirationAlert clears lcid_expiration_alert_sent_at. Otherwise the
	// stored value is kept, so a sweep claim made after Intake was loaded
	// survives. Clearing the LCID always clears the alert.
	ResetExpirationAlert bool
}

type AdminNote struct {
	ID          string
	IntakeID    string
	AuthorName  string
	AuthorEmail string
	Content     string
	CreatedAt   time.Time
}

type GRBReviewer struct {
	ID         string
	IntakeID   string
	Name       string
	Email      string
	VotingRole string
	GRBRole    string
	CreatedAt  time.Time
}

type Document struct {
	ID           string
	IntakeID     string
	FileName     string
	DocumentType string
	ContentType  string
	Size         int64
	ObjectKey    string
	UploadedBy   string
	CreatedAt    time.Time
}

type BusinessCase struct {
	ID         string
	IntakeID   string
	Status     string
	HeadCommit string
	UpdatedBy  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ExpiringLCID is an intake due an expiration alert.
type ExpiringLCID struct {
	IntakeID       string
	RequestName    string
	RequesterName  string
	RequesterEmail string
	LCID           string
	ExpiresAt      time.Time
	RetiresAt      *time.Time
}
