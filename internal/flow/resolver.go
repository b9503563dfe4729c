package flow

import (
	"context"
	"log/slog"

	"github.com/fridaysatfour/wingman/internal/progress"
)

// FlowState is computed fresh for every inbound message and never cached.
//
// Needs* report that a stage is not complete; CurrentFlow additionally
// accounts for cooldowns. A stage on cooldown is passed over for routing but
// still keeps AllFlowsComplete false.
type FlowState struct {
	NeedsIntro       bool  `json:"needs_intro"`
	NeedsAssessment  bool  `json:"needs_assessment"`
	NeedsPlanning    bool  `json:"needs_planning"`
	CurrentFlow      Stage `json:"current_flow"`
	AllFlowsComplete bool  `json:"all_flows_complete"`

	// Degraded is set when storage failed and the state is the intro fallback.
	Degraded bool `json:"degraded,omitempty"`

	// Snapshots read while resolving, handed to the stage handlers so they
	// do not read the same record again. Planning is nil when resolution
	// stopped before reaching it.
	Assessment progress.Snapshot  `json:"-"`
	Planning   *progress.Snapshot `json:"-"`
}

// Resolver computes FlowState with at most one read per progress family.
type Resolver struct {
	store  ProgressStore
	clock  Clock
	logger *slog.Logger
}

// NewResolver creates a Resolver. A nil clock uses wall time.
func NewResolver(store ProgressStore, clock Clock) *Resolver {
	if clock == nil {
		clock = realClock{}
	}
	return &Resolver{store: store, clock: clock, logger: slog.Default().With("component", "resolver")}
}

// Resolve never fails: any storage error yields the intro fallback state.
//
// Completion of a stage is decided by its result record. The progress
// record's is_completed flag is only a hint and is never trusted on its own,
// because older records can carry a flag without a matching result.
func (r *Resolver) Resolve(ctx context.Context, userID string) FlowState {
	now := r.clock.Now()

	a, err := r.store.GetFlowFamily(ctx, userID, progress.FamilyAssessment)
	if err != nil {
		r.logger.Warn("resolving flow state failed, falling back to intro", "user_id", userID, "error", err)
		return fallbackState()
	}

	st := FlowState{Assessment: a}
	if a.Progress == nil && !a.ResultExists {
		st.NeedsIntro, st.NeedsAssessment, st.NeedsPlanning = true, true, true
		st.CurrentFlow = StageIntro
		return st
	}

	var aCooldown bool
	introDone := a.ResultExists
	if a.Progress != nil {
		introDone = introDone || a.Progress.Intro.HasSeenIntro
		aCooldown = IsOnCooldown(a.Progress.SkippedUntil, now)
	}

	// The intro is never skippable; an assessment cooldown only applies
	// once it is done.
	st.NeedsIntro = !introDone
	if st.NeedsIntro {
		st.NeedsAssessment, st.NeedsPlanning = true, true
		st.CurrentFlow = StageIntro
		return st
	}

	st.NeedsAssessment = !a.ResultExists
	if st.NeedsAssessment && !aCooldown {
		st.NeedsPlanning = true
		st.CurrentFlow = StageAssessment
		return st
	}

	p, err := r.store.GetFlowFamily(ctx, userID, progress.FamilyPlanning)
	if err != nil {
		r.logger.Warn("resolving planning state failed, falling back to intro", "user_id", userID, "error", err)
		return fallbackState()
	}
	st.Planning = &p

	st.NeedsPlanning = !p.ResultExists
	pCooldown := p.Progress != nil && IsOnCooldown(p.Progress.SkippedUntil, now)
	if st.NeedsPlanning && !pCooldown {
		st.CurrentFlow = StagePlanning
		return st
	}

	st.CurrentFlow = StageMainChat
	st.AllFlowsComplete = !st.NeedsIntro && !st.NeedsAssessment && !st.NeedsPlanning
	return st
}

func fallbackState() FlowState {
	return FlowState{CurrentFlow: StageIntro, NeedsIntro: true, Degraded: true}
}
