// Package permission decides whether an actor's life state permits a tool
// call. It is a pure function of its inputs; life-state transitions happen in
// the tool executor, never here.
package permission

import (
	"github.com/MrWong99/arbiter/internal/campaign"
	"github.com/MrWong99/arbiter/pkg/types"
)

// Request describes one permission question.
type Request struct {
	State campaign.LifeState
	Tool  string

	// TargetIsSelf and HPDelta are only consulted for hp_delta calls.
	TargetIsSelf bool
	HPDelta      int
}

// Decision is the outcome of [Resolve]. Reason is empty when Allowed.
type Decision struct {
	Allowed bool
	Reason  string
}

var allow = Decision{Allowed: true}

// Resolve applies the permission table:
//
//	alive                                 every tool
//	dying                                 only self-targeted hp_delta with delta > 0
//	unconscious, restrained_permanent,
//	dead                                  nothing
//
// Any other state is rejected with invalid_actor_state.
func Resolve(r Request) Decision {
	switch r.State {
	case campaign.Alive:
		return allow
	case campaign.Dying:
		if r.Tool == campaign.ToolHPDelta && r.TargetIsSelf && r.HPDelta > 0 {
			return allow
		}
		return Decision{Reason: types.ReasonActorStateRestricted}
	case campaign.Unconscious, campaign.RestrainedPermanent, campaign.Dead:
		return Decision{Reason: types.ReasonActorStateRestricted}
	default:
		return Decision{Reason: types.ReasonInvalidActorState}
	}
}
