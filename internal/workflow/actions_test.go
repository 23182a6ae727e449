package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAvailableActions(t *testing.T) {
	assert.Equal(t,
		[]ActionSlug{ActionRequestEdits, ActionProgressToNewStep, ActionResolutions},
		AvailableActions(nil),
	)
	assert.Equal(t,
		[]ActionSlug{ActionRequestEdits, ActionProgressToNewStep, ActionResolutions, ActionManageLCID},
		AvailableActions(statusPtr(LCIDExpired)),
	)
	assert.False(t, HasAction(nil, "manage-lcid"))
	assert.True(t, HasAction(statusPtr(LCIDIssued), "manage-lcid"))
	assert.False(t, HasAction(nil, "not-an-action"))
}

func TestStepForEdits(t *testing.T) {
	step, ok := StepForEdits(EditsDraftBusinessCase)
	assert.True(t, ok)
	assert.Equal(t, StepDraftBusinessCase, step)

	_, ok = StepForEdits("techRefBoard")
	assert.False(t, ok)
}

func TestIsProgressStep(t *testing.T) {
	assert.True(t, IsProgressStep(StepGRBMeeting))
	assert.True(t, IsProgressStep("grt_meeting"))
	assert.False(t, IsProgressStep(StepDecisionAndNextSteps))
	assert.False(t, IsProgressStep(StepInitialRequestForm))
}

func TestActionTypes(t *testing.T) {
	assert.Equal(t, TypeNotApproved, ResolutionType(ResolutionNotApproved))
	assert.Equal(t, TypeExpireLCID, LCIDActionType(LCIDActionExpire))
	assert.Equal(t, ActionType(""), ResolutionType("bogus"))
}

func TestParseStates(t *testing.T) {
	state, err := ParseRequestState(" closed ")
	assert.NoError(t, err)
	assert.Equal(t, StateClosed, state)

	_, err = ParseRequestState("pending")
	assert.Error(t, err)

	decision, err := ParseDecisionState("")
	assert.NoError(t, err)
	assert.Equal(t, DecisionNone, decision)

	_, err = ParseRequestType("upgrade")
	assert.Error(t, err)
}
