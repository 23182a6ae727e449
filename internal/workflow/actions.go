package workflow

import "strings"

type ActionSlug string

const (
	ActionRequestEdits      ActionSlug = "request-edits"
	ActionProgressToNewStep ActionSlug = "progress-to-new-step"
	ActionResolutions       ActionSlug = "resolutions"
	ActionManageLCID        ActionSlug = "manage-lcid"
)

// AvailableActions is the top-level GRT action menu. manage-lcid only appears
// once an LCID has been issued for the request.
func AvailableActions(lcidStatus *LCIDStatus) []ActionSlug {
	actions := []ActionSlug{ActionRequestEdits, ActionProgressToNewStep, ActionResolutions}
	if lcidStatus != nil {
		actions = append(actions, ActionManageLCID)
	}
	return actions
}

func HasAction(lcidStatus *LCIDStatus, slug string) bool {
	for _, action := range AvailableActions(lcidStatus) {
		if string(action) == slug {
			return true
		}
	}
	return false
}

type Step string

const (
	StepInitialRequestForm   Step = "INITIAL_REQUEST_FORM"
	StepDraftBusinessCase    Step = "DRAFT_BUSINESS_CASE"
	StepGRTMeeting           Step = "GRT_MEETING"
	StepFinalBusinessCase    Step = "FINAL_BUSINESS_CASE"
	StepGRBMeeting           Step = "GRB_MEETING"
	StepDecisionAndNextSteps Step = "DECISION_AND_NEXT_STEPS"
)

// progressSteps are the steps an admin may move a request to directly.
var progressSteps = map[Step]struct{}{
	StepDraftBusinessCase: {},
	StepGRTMeeting:        {},
	StepFinalBusinessCase: {},
	StepGRBMeeting:        {},
}

func IsProgressStep(step Step) bool {
	_, ok := progressSteps[Step(strings.ToUpper(string(step)))]
	return ok
}

// EditsForm names the requester form an admin can send back for edits.
type EditsForm string

const (
	EditsIntakeRequest     EditsForm = "intakeRequest"
	EditsDraftBusinessCase EditsForm = "draftBusinessCase"
	EditsFinalBusinessCase EditsForm = "finalBusinessCase"
)

var editsFormSteps = map[EditsForm]Step{
	EditsIntakeRequest:     StepInitialRequestForm,
	EditsDraftBusinessCase: StepDraftBusinessCase,
	EditsFinalBusinessCase: StepFinalBusinessCase,
}

// StepForEdits returns the step a request returns to when form edits are requested.
func StepForEdits(form EditsForm) (Step, bool) {
	step, ok := editsFormSteps[form]
	return step, ok
}

// ActionType is the recorded name of an applied action. The values match the
// mutation names the review client submits.
type ActionType string

const (
	TypeRequestEdits      ActionType = "CreateSystemIntakeActionRequestEdits"
	TypeProgressToNewStep ActionType = "CreateSystemIntakeActionProgressToNewStep"
	TypeIssueLCID         ActionType = "IssueLifecycleId"
	TypeNotApproved       ActionType = "RejectIntake"
	TypeNotITRequest      ActionType = "CreateSystemIntakeActionNotITGovRequest"
	TypeCloseRequest      ActionType = "CreateSystemIntakeActionCloseRequest"
	TypeReopenRequest     ActionType = "CreateSystemIntakeActionReopenRequest"
	TypeRetireLCID        ActionType = "CreateSystemIntakeActionRetireLcid"
	TypeUpdateLCID        ActionType = "CreateSystemIntakeActionUpdateLcid"
	TypeExpireLCID        ActionType = "CreateSystemIntakeActionExpireLcid"
	TypeExpirationAlert   ActionType = "LcidExpirationAlert"
)

var resolutionTypes = map[Resolution]ActionType{
	ResolutionIssueLCID:     TypeIssueLCID,
	ResolutionNotApproved:   TypeNotApproved,
	ResolutionNotITRequest:  TypeNotITRequest,
	ResolutionCloseRequest:  TypeCloseRequest,
	ResolutionReopenRequest: TypeReopenRequest,
}

var lcidActionTypes = map[LCIDAction]ActionType{
	LCIDActionRetire: TypeRetireLCID,
	LCIDActionUpdate: TypeUpdateLCID,
	LCIDActionExpire: TypeExpireLCID,
}

func ResolutionType(resolution Resolution) ActionType {
	return resolutionTypes[resolution]
}

func LCIDActionType(action LCIDAction) ActionType {
	return lcidActionTypes[action]
}
