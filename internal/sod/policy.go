// Package sod decides whether a workflow actor may perform a transition
// under a segregation-of-duties policy. It is pure: no persistence, no
// side effects, and Authorize never returns an error.
package sod

import "strings"

// Transition names the workflow steps gated by the policy.
type Transition string

const (
	TransitionPrepare Transition = "prepare"
	TransitionReview  Transition = "review"
	TransitionCertify Transition = "certify"
)

// Role names the workflow roles an actor can hold.
type Role string

const (
	RolePreparer  Role = "preparer"
	RoleReviewer  Role = "reviewer"
	RoleCertifier Role = "certifier"
)

// ActorLog is the recorded set of actors on a workflow.
type ActorLog struct {
	PreparedBy  string
	ReviewedBy  string
	CertifiedBy string
}

// Policy configures the enforcement rules. The zero value is not usable;
// call DefaultPolicy or build one explicitly.
type Policy struct {
	// MinDistinctActors is the number of distinct identities required on
	// the terminal path. Default 3: preparer, reviewer, certifier.
	MinDistinctActors int

	// AllowedActors optionally restricts which identities may perform a
	// transition. An empty list means any identity.
	AllowedActors map[Transition][]string
}

// DefaultPolicy returns the standard three-actor policy.
func DefaultPolicy() Policy {
	return Policy{MinDistinctActors: 3}
}

// Decision explains an authorization outcome.
type Decision struct {
	Allowed bool
	// ConflictRole is set when the actor already holds a role the policy
	// forbids from reuse.
	ConflictRole Role
	// Reason is a stable snake_case code for API payloads.
	Reason string
}

// Authorize reports whether actor may perform transition given the recorded
// actor log.
func Authorize(log ActorLog, transition Transition, actor string, policy Policy) bool {
	return Explain(log, transition, actor, policy).Allowed
}

// Explain is Authorize with the conflicting role attached, so callers can
// build self-correcting error payloads.
func Explain(log ActorLog, transition Transition, actor string, policy Policy) Decision {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return Decision{Reason: "missing_actor"}
	}

	if allowed, ok := policy.AllowedActors[transition]; ok && len(allowed) > 0 {
		if !containsFold(allowed, actor) {
			return Decision{Reason: "actor_not_allowed"}
		}
	}

	minDistinct := policy.MinDistinctActors
	if minDistinct <= 0 {
		minDistinct = 3
	}

	// With fewer than three required actors the same identity may repeat
	// on the earlier steps, but certify still requires someone new once
	// the threshold demands it.
	switch transition {
	case TransitionPrepare:
		// First step: nothing recorded yet can conflict.
		return Decision{Allowed: true}
	case TransitionReview:
		if minDistinct >= 2 && sameActor(actor, log.PreparedBy) {
			return Decision{ConflictRole: RolePreparer, Reason: "actor_already_preparer"}
		}
		return Decision{Allowed: true}
	case TransitionCertify:
		if minDistinct >= 2 && sameActor(actor, log.PreparedBy) {
			return Decision{ConflictRole: RolePreparer, Reason: "actor_already_preparer"}
		}
		if minDistinct >= 3 && sameActor(actor, log.ReviewedBy) {
			return Decision{ConflictRole: RoleReviewer, Reason: "actor_already_reviewer"}
		}
		return Decision{Allowed: true}
	default:
		return Decision{Reason: "unknown_transition"}
	}
}

func sameActor(a, b string) bool {
	return b != "" && strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func containsFold(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), target) {
			return true
		}
	}
	return false
}
