package flow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fridaysatfour/wingman/internal/progress"
)

// DefaultCooldown is how long a skipped stage stays suppressed.
const DefaultCooldown = 24 * time.Hour

// skipPhrases are matched as case-insensitive substrings. The match is
// deliberately loose: "pass" inside "passion" counts.
var skipPhrases = []string{
	"skip",
	"later",
	"not now",
	"maybe later",
	"not right now",
	"another time",
	"pass",
	"not interested",
	"remind me later",
}

// DetectSkipIntent reports whether message asks to put the current stage off.
func DetectSkipIntent(message string) bool {
	m := strings.ToLower(message)
	for _, p := range skipPhrases {
		if strings.Contains(m, p) {
			return true
		}
	}
	return false
}

// IsOnCooldown reports whether now is before skippedUntil. A nil timestamp is
// never on cooldown.
func IsOnCooldown(skippedUntil *time.Time, now time.Time) bool {
	return skippedUntil != nil && now.Before(*skippedUntil)
}

// ParseCooldown reads a raw stored timestamp. Unparseable values yield nil so
// the stage is re-offered rather than suppressed forever.
func ParseCooldown(raw string) *time.Time {
	return progress.ParseTimestamp(raw)
}

// Policy writes skip cooldowns.
type Policy struct {
	store  ProgressStore
	clock  Clock
	window time.Duration
	totals map[progress.Family]int
}

// NewPolicy creates a Policy. totals gives the step count used when a skip
// has to create the family record. A non-positive window uses DefaultCooldown.
func NewPolicy(store ProgressStore, clock Clock, window time.Duration, totals map[progress.Family]int) *Policy {
	if clock == nil {
		clock = realClock{}
	}
	if window <= 0 {
		window = DefaultCooldown
	}
	return &Policy{store: store, clock: clock, window: window, totals: totals}
}

// SetSkipCooldown suppresses stage for the policy window starting now and
// returns the acknowledgement to show. Skipping again restarts the window.
func (p *Policy) SetSkipCooldown(ctx context.Context, userID string, stage Stage) (string, error) {
	family, ok := stage.Family()
	if !ok {
		return "", fmt.Errorf("stage %q cannot be skipped", stage)
	}
	until := p.clock.Now().Add(p.window)
	if err := p.store.SetSkippedUntil(ctx, userID, family, until, p.totals[family]); err != nil {
		return "", err
	}
	return skipAcknowledgement(stage), nil
}

func skipAcknowledgement(stage Stage) string {
	switch stage {
	case StageAssessment:
		return "No problem, we can do the assessment another time. I'll check back in tomorrow."
	case StagePlanning:
		return "Totally fine, we'll plan your project later. I'll bring it up again tomorrow."
	default:
		return "No problem, we'll come back to this tomorrow."
	}
}
