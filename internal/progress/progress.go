// Package progress models a user's position inside a multi-step onboarding flow.
//
// A Record belongs to exactly one user and one Family. Responses are keyed by a
// StepKey ("question_3", "topic_5") and hold a tagged Answer, so extraction and
// scoring code never deals with untyped maps.
package progress

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Family identifies a progress-record family. Each family has one record per user.
type Family string

const (
	// FamilyAssessment holds intro flags and assessment answers.
	FamilyAssessment Family = "assessment"
	// FamilyPlanning holds profile/project planning answers.
	FamilyPlanning Family = "planning"
)

// Valid reports whether f is a known family.
func (f Family) Valid() bool {
	return f == FamilyAssessment || f == FamilyPlanning
}

// ParseFamily maps loose user input ("creativity", "project", ...) onto a Family.
func ParseFamily(s string) (Family, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "assessment", "creativity", "confidence", "creativity_test", "confidence_test":
		return FamilyAssessment, nil
	case "planning", "project", "profile", "project_overview":
		return FamilyPlanning, nil
	}
	return "", fmt.Errorf("unknown flow family %q", s)
}

// StepKey names one step of a flow.
type StepKey string

const (
	questionPrefix = "question_"
	topicPrefix    = "topic_"
)

// QuestionKey returns the step key for assessment question n.
func QuestionKey(n int) StepKey { return StepKey(questionPrefix + strconv.Itoa(n)) }

// TopicKey returns the step key for planning topic n.
func TopicKey(n int) StepKey { return StepKey(topicPrefix + strconv.Itoa(n)) }

// Number returns the 1-based index encoded in the key. Unknown prefixes and
// non-positive numbers report false.
func (k StepKey) Number() (int, bool) {
	s := string(k)
	var rest string
	switch {
	case strings.HasPrefix(s, questionPrefix):
		rest = s[len(questionPrefix):]
	case strings.HasPrefix(s, topicPrefix):
		rest = s[len(topicPrefix):]
	default:
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// AnswerKind tags the Answer union.
type AnswerKind string

const (
	KindLetter   AnswerKind = "letter"
	KindFreeText AnswerKind = "free_text"
)

// Answer is one recorded response. It is either a LetterAnswer or a FreeTextAnswer.
type Answer interface {
	Kind() AnswerKind
	Value() string
	At() time.Time
	isAnswer()
}

// LetterAnswer is a multiple-choice answer such as "B".
type LetterAnswer struct {
	Letter     string
	AnsweredAt time.Time
}

func (a LetterAnswer) Kind() AnswerKind { return KindLetter }
func (a LetterAnswer) Value() string    { return a.Letter }
func (a LetterAnswer) At() time.Time    { return a.AnsweredAt }
func (LetterAnswer) isAnswer()          {}

// FreeTextAnswer is a block of user text recorded for a topic.
type FreeTextAnswer struct {
	Text       string
	AnsweredAt time.Time
}

func (a FreeTextAnswer) Kind() AnswerKind { return KindFreeText }
func (a FreeTextAnswer) Value() string    { return a.Text }
func (a FreeTextAnswer) At() time.Time    { return a.AnsweredAt }
func (FreeTextAnswer) isAnswer()          {}

// Responses maps step keys to recorded answers.
type Responses map[StepKey]Answer

type wireAnswer struct {
	Kind  AnswerKind `json:"kind"`
	Value string     `json:"value"`
	At    time.Time  `json:"at"`
}

// MarshalJSON encodes responses as {"question_1": {"kind":"letter","value":"A","at":...}}.
func (r Responses) MarshalJSON() ([]byte, error) {
	out := make(map[StepKey]wireAnswer, len(r))
	for k, a := range r {
		if a == nil {
			continue
		}
		out[k] = wireAnswer{Kind: a.Kind(), Value: a.Value(), At: a.At().UTC()}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the MarshalJSON shape. Legacy bare-string values
// ("question_1": "A") are accepted as letter answers.
func (r *Responses) UnmarshalJSON(data []byte) error {
	var raw map[StepKey]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Responses, len(raw))
	for k, v := range raw {
		var w wireAnswer
		if err := json.Unmarshal(v, &w); err != nil {
			var s string
			if err2 := json.Unmarshal(v, &s); err2 != nil {
				return fmt.Errorf("decoding response %s: %w", k, err)
			}
			out[k] = LetterAnswer{Letter: s}
			continue
		}
		switch w.Kind {
		case KindFreeText:
			out[k] = FreeTextAnswer{Text: w.Value, AnsweredAt: w.At}
		default:
			out[k] = LetterAnswer{Letter: w.Value, AnsweredAt: w.At}
		}
	}
	*r = out
	return nil
}

// Letters returns the letter answers as plain strings keyed by step key.
func (r Responses) Letters() map[string]string {
	out := make(map[string]string, len(r))
	for k, a := range r {
		if la, ok := a.(LetterAnswer); ok {
			out[string(k)] = la.Letter
		}
	}
	return out
}

// Clone returns a shallow copy; Answer values are immutable.
func (r Responses) Clone() Responses {
	out := make(Responses, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// IntroData is what the intro conversation has learned about the user.
type IntroData struct {
	Name                     string `json:"name,omitempty"`
	ProjectInfo              string `json:"project_info,omitempty"`
	AccountabilityExperience string `json:"accountability_experience,omitempty"`
}

// Filled counts the populated fields.
func (d IntroData) Filled() int {
	n := 0
	for _, s := range []string{d.Name, d.ProjectInfo, d.AccountabilityExperience} {
		if strings.TrimSpace(s) != "" {
			n++
		}
	}
	return n
}

// IntroFlags live on the assessment-family record only.
type IntroFlags struct {
	HasSeenIntro bool      `json:"has_seen_intro"`
	IntroStage   int       `json:"intro_stage"`
	IntroData    IntroData `json:"intro_data"`
}

// Record is the persisted progress of one user in one family.
type Record struct {
	UserID       string
	Family       Family
	CurrentStep  int
	TotalSteps   int
	Responses    Responses
	IsCompleted  bool
	SkippedUntil *time.Time
	Intro        IntroFlags
	UpdatedAt    time.Time
}

// New returns the implicit record of a user who has not started the family yet.
func New(userID string, family Family, totalSteps int) Record {
	return Record{
		UserID:      userID,
		Family:      family,
		CurrentStep: 1,
		TotalSteps:  totalSteps,
		Responses:   Responses{},
	}
}

// CompletionPercentage is always derived from Responses: round(100*len/total, 2).
func (r Record) CompletionPercentage() float64 {
	return CompletionPercentage(len(r.Responses), r.TotalSteps)
}

// CompletionPercentage computes round(100*answered/total, 2); total <= 0 yields 0.
func CompletionPercentage(answered, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(10000*float64(answered)/float64(total)) / 100
}

// Put records an answer for key. IsCompleted flips to true once the record
// holds TotalSteps responses and never flips back.
func (r *Record) Put(key StepKey, a Answer) {
	if r.Responses == nil {
		r.Responses = Responses{}
	}
	r.Responses[key] = a
	if r.TotalSteps > 0 && len(r.Responses) >= r.TotalSteps {
		r.IsCompleted = true
	}
}

// Snapshot is what one family read returns: the progress record (nil when the
// user never started) and whether the family's terminal result record exists.
type Snapshot struct {
	Progress     *Record
	ResultExists bool
}

var cooldownLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp reads a stored skipped_until value. Timestamps without a zone
// are UTC. Empty or unparseable input returns nil.
func ParseTimestamp(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range cooldownLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
