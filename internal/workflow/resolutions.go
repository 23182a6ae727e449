package workflow

type Resolution string

const (
	ResolutionIssueLCID     Resolution = "issue-lcid"
	ResolutionNotITRequest  Resolution = "not-it-request"
	ResolutionNotApproved   Resolution = "not-approved"
	ResolutionCloseRequest  Resolution = "close-request"
	ResolutionReopenRequest Resolution = "re-open-request"
)

// ResolutionOption is one entry in the resolution picker. Current marks the
// option that confirms the decision already on record.
type ResolutionOption struct {
	Key     Resolution `json:"key"`
	Current bool       `json:"current"`
}

// LabelKey names the localized label for the option.
func (o ResolutionOption) LabelKey() string {
	if o.Current {
		return "resolutions.confirm." + string(o.Key)
	}
	return "resolutions." + string(o.Key)
}

// decisionResolutions is the default order of decision-bearing resolutions.
var decisionResolutions = []Resolution{
	ResolutionIssueLCID,
	ResolutionNotITRequest,
	ResolutionNotApproved,
}

var currentResolution = map[DecisionState]Resolution{
	DecisionLCIDIssued:    ResolutionIssueLCID,
	DecisionNotGovernance: ResolutionNotITRequest,
	DecisionNotApproved:   ResolutionNotApproved,
}

// CurrentResolution returns the resolution that matches the decision on
// record. NO_DECISION has none.
func CurrentResolution(decision DecisionState) (Resolution, bool) {
	key, ok := currentResolution[decision]
	return key, ok
}

// ResolutionOptions lists the resolutions an admin can pick for a request.
// The current decision, if any, is moved to the front and flagged. Exactly one
// of close-request or re-open-request is appended, chosen by state.
func ResolutionOptions(decision DecisionState, state RequestState) []ResolutionOption {
	keys := make([]Resolution, 0, len(decisionResolutions)+1)
	keys = append(keys, decisionResolutions...)
	if state == StateClosed {
		keys = append(keys, ResolutionReopenRequest)
	} else {
		keys = append(keys, ResolutionCloseRequest)
	}

	current, hasCurrent := CurrentResolution(decision)
	options := make([]ResolutionOption, 0, len(keys))
	if hasCurrent {
		options = append(options, ResolutionOption{Key: current, Current: true})
	}
	for _, key := range keys {
		if hasCurrent && key == current {
			continue
		}
		options = append(options, ResolutionOption{Key: key})
	}
	return options
}

// FindResolution returns the option for slug, or false when the slug is not
// offered for this request.
func FindResolution(options []ResolutionOption, slug string) (ResolutionOption, bool) {
	for _, option := range options {
		if string(option.Key) == slug {
			return option, true
		}
	}
	return ResolutionOption{}, false
}
