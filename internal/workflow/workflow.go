// Package workflow decides which governance review actions an admin may take
// on a system intake, given the intake's current state.
//
// Everything here is a pure function of its inputs. Callers pass the small
// slice of intake state each selector needs; nothing is read from a shared store.
package workflow

import (
	"fmt"
	"strings"
)

type RequestState string

const (
	StateOpen   RequestState = "OPEN"
	StateClosed RequestState = "CLOSED"
)

type DecisionState string

const (
	DecisionNone          DecisionState = "NO_DECISION"
	DecisionLCIDIssued    DecisionState = "LCID_ISSUED"
	DecisionNotApproved   DecisionState = "NOT_APPROVED"
	DecisionNotGovernance DecisionState = "NOT_GOVERNANCE"
)

type RequestType string

const (
	RequestNew          RequestType = "NEW"
	RequestRecompete    RequestType = "RECOMPETE"
	RequestMajorChanges RequestType = "MAJOR_CHANGES"
	RequestShutdown     RequestType = "SHUTDOWN"
)

func ParseRequestState(value string) (RequestState, error) {
	switch state := RequestState(strings.ToUpper(strings.TrimSpace(value))); state {
	case StateOpen, StateClosed:
		return state, nil
	default:
		return "", fmt.Errorf("unknown request state %q", value)
	}
}

func ParseDecisionState(value string) (DecisionState, error) {
	switch decision := DecisionState(strings.ToUpper(strings.TrimSpace(value))); decision {
	case DecisionNone, DecisionLCIDIssued, DecisionNotApproved, DecisionNotGovernance:
		return decision, nil
	case "":
		return DecisionNone, nil
	default:
		return "", fmt.Errorf("unknown decision state %q", value)
	}
}

func ParseRequestType(value string) (RequestType, error) {
	switch requestType := RequestType(strings.ToUpper(strings.TrimSpace(value))); requestType {
	case RequestNew, RequestRecompete, RequestMajorChanges, RequestShutdown:
		return requestType, nil
	default:
		return "", fmt.Errorf("unknown request type %q", value)
	}
}
