package edition

import (
	"errors"
	"strings"
	"testing"
	"time"

	"servicemanual/api/internal/store"
)

func TestTransition(t *testing.T) {
	draft := ed("e1", 1, store.StateDraft, 0)
	review := ed("e1", 1, store.StateReviewRequested, 0)
	ready := ed("e1", 1, store.StateReady, 0)
	published := ed("e1", 1, store.StatePublished, 0)

	cases := []struct {
		name     string
		editions []store.Edition
		target   store.Edition
		action   Action
		actor    string
		want     string
		reason   string
	}{
		{name: "request review", editions: []store.Edition{draft}, target: draft, action: ActionRequestReview, actor: "a", want: store.StateReviewRequested},
		{
			name:     "request review on stale edition",
			editions: []store.Edition{draft, ed("e2", 1, store.StateDraft, time.Minute)},
			target:   draft,
			action:   ActionRequestReview,
			reason:   "only the latest edition",
		},
		{name: "approve by reviewer", editions: []store.Edition{review}, target: review, action: ActionApprove, actor: "reviewer", want: store.StateReady},
		{name: "self approval", editions: []store.Edition{review}, target: review, action: ActionApprove, actor: "original-author", reason: "your own edition"},
		{name: "approve a draft", editions: []store.Edition{draft}, target: draft, action: ActionApprove, actor: "reviewer", reason: "edition is draft, expected review requested"},
		{name: "publish", editions: []store.Edition{ready}, target: ready, action: ActionPublish, want: store.StatePublished},
		{
			name:     "publish same version twice",
			editions: []store.Edition{ed("e0", 1, store.StatePublished, -time.Minute), ready},
			target:   ready,
			action:   ActionPublish,
			reason:   "version 1 is already published",
		},
		{
			name:     "publish next version",
			editions: []store.Edition{ed("e0", 1, store.StatePublished, -time.Minute), ed("e1", 2, store.StateReady, 0)},
			target:   ed("e1", 2, store.StateReady, 0),
			action:   ActionPublish,
			want:     store.StatePublished,
		},
		{name: "publish a draft", editions: []store.Edition{draft}, target: draft, action: ActionPublish, reason: "expected ready"},
		{name: "unpublish", editions: []store.Edition{published}, target: published, action: ActionUnpublish, want: store.StateUnpublished},
		{
			name:     "unpublish twice",
			editions: []store.Edition{ed("e0", 1, store.StateUnpublished, -time.Minute), ed("e1", 2, store.StatePublished, 0)},
			target:   ed("e1", 2, store.StatePublished, 0),
			action:   ActionUnpublish,
			reason:   "already been unpublished",
		},
		{name: "unknown action", editions: []store.Edition{draft}, target: draft, action: Action("archive"), reason: "unknown action"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Transition(tc.editions, tc.target, tc.action, tc.actor)
			if tc.reason != "" {
				var guard *GuardError
				if !errors.As(err, &guard) {
					t.Fatalf("Transition() error = %v, want GuardError", err)
				}
				if !strings.Contains(guard.Reason, tc.reason) {
					t.Fatalf("Reason = %q, want it to contain %q", guard.Reason, tc.reason)
				}
				return
			}
			if err != nil {
				t.Fatalf("Transition() error = %v", err)
			}
			if got != tc.want {
				t.Fatalf("Transition() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestCheckEditable(t *testing.T) {
	editions := []store.Edition{ed("e1", 1, store.StatePublished, 0), ed("e2", 2, store.StateDraft, time.Minute)}

	if err := CheckEditable(editions, "e2"); err != nil {
		t.Fatalf("CheckEditable(latest) error = %v", err)
	}
	if err := CheckEditable(editions, ""); err != nil {
		t.Fatalf("CheckEditable(unspecified) error = %v", err)
	}
	var guard *GuardError
	if err := CheckEditable(editions, "e1"); !errors.As(err, &guard) || guard.Action != ActionEdit {
		t.Fatalf("CheckEditable(old) error = %v, want edit GuardError", err)
	}
}

func TestParseAction(t *testing.T) {
	if action, ok := ParseAction("request-review"); !ok || action != ActionRequestReview {
		t.Fatalf("ParseAction(request-review) = %q, %v", action, ok)
	}
	if _, ok := ParseAction("edit"); ok {
		t.Fatal("ParseAction(edit) ok = true, edit is not a workflow transition")
	}
}

func TestGuardErrorMessage(t *testing.T) {
	err := &GuardError{Action: ActionRequestReview, Reason: "only the latest edition can be sent for review"}
	if got := err.Error(); got != "cannot request review: only the latest edition can be sent for review" {
		t.Fatalf("Error() = %q", got)
	}
}
