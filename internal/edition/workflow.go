package edition

import (
	"fmt"
	"strings"

	"servicemanual/api/internal/store"
)

// Action is a step an editor takes on an edition.
type Action string

const (
	ActionEdit          Action = "edit"
	ActionRequestReview Action = "request_review"
	ActionApprove       Action = "approve"
	ActionPublish       Action = "publish"
	ActionUnpublish     Action = "unpublish"
)

// ParseAction accepts both request_review and request-review spellings.
func ParseAction(value string) (Action, bool) {
	action := Action(strings.ReplaceAll(strings.TrimSpace(value), "-", "_"))
	_, ok := transitions[action]
	return action, ok
}

// GuardError reports a workflow transition that is not allowed.
type GuardError struct {
	Action Action
	Reason string
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("cannot %s: %s", strings.ReplaceAll(string(e.Action), "_", " "), e.Reason)
}

var transitions = map[Action]struct{ from, to string }{
	ActionRequestReview: {from: store.StateDraft, to: store.StateReviewRequested},
	ActionApprove:       {from: store.StateReviewRequested, to: store.StateReady},
	ActionPublish:       {from: store.StateReady, to: store.StatePublished},
	ActionUnpublish:     {from: store.StatePublished, to: store.StateUnpublished},
}

// Transition returns the state target moves to when actingUserID performs
// action on it. editions is the full history of target's guide, oldest first.
func Transition(editions []store.Edition, target store.Edition, action Action, actingUserID string) (string, error) {
	step, ok := transitions[action]
	if !ok {
		return "", &GuardError{Action: action, Reason: "unknown action"}
	}
	if target.State != step.from {
		return "", &GuardError{Action: action, Reason: fmt.Sprintf("edition is %s, expected %s", humanState(target.State), humanState(step.from))}
	}

	switch action {
	case ActionRequestReview:
		if latest, _ := Latest(editions); latest.ID != target.ID {
			return "", &GuardError{Action: action, Reason: "only the latest edition can be sent for review"}
		}
	case ActionApprove:
		if target.AuthorID != "" && target.AuthorID == actingUserID {
			return "", &GuardError{Action: action, Reason: "you can't approve your own edition"}
		}
	case ActionPublish:
		for _, e := range editions {
			if e.ID != target.ID && e.Version == target.Version && e.State == store.StatePublished {
				return "", &GuardError{Action: action, Reason: fmt.Sprintf("version %d is already published", target.Version)}
			}
		}
	case ActionUnpublish:
		if !CanBeUnpublished(editions) {
			return "", &GuardError{Action: action, Reason: "guide has already been unpublished"}
		}
	}
	return step.to, nil
}

// CheckEditable rejects edits that target anything but the latest edition.
func CheckEditable(editions []store.Edition, editionID string) error {
	if editionID == "" {
		return nil
	}
	latest, ok := Latest(editions)
	if !ok || latest.ID != editionID {
		return &GuardError{Action: ActionEdit, Reason: "only the latest edition can be edited"}
	}
	return nil
}

func humanState(state string) string {
	return strings.ReplaceAll(state, "_", " ")
}
