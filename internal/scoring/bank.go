package scoring

import (
	"embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed banks/*.yaml
var banksFS embed.FS

// Variants supported by Load.
const (
	VariantConfidence = "confidence"
	VariantCreativity = "creativity"
)

// Archetype is one of a bank's fixed behavioural categories.
type Archetype string

// Option is one lettered choice of a question.
type Option struct {
	Letter    string    `yaml:"letter"`
	Text      string    `yaml:"text"`
	Archetype Archetype `yaml:"archetype"`
}

// Question is one multiple-choice step. Number is 1-based and assigned at load.
type Question struct {
	Number  int      `yaml:"-"`
	Text    string   `yaml:"text"`
	Options []Option `yaml:"options"`
}

// Letters returns the valid option letters in order.
func (q Question) Letters() []string {
	out := make([]string, len(q.Options))
	for i, o := range q.Options {
		out[i] = o.Letter
	}
	return out
}

// Bank is the fixed ordered question list of one assessment variant together
// with its (question, letter) -> archetype scoring table.
type Bank struct {
	Variant    string      `yaml:"variant"`
	Title      string      `yaml:"title"`
	Archetypes []Archetype `yaml:"archetypes"`
	Questions  []Question  `yaml:"questions"`

	table map[int]map[string]Archetype
}

// Load parses and validates the embedded bank for variant.
func Load(variant string) (*Bank, error) {
	data, err := banksFS.ReadFile("banks/" + variant + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("unknown assessment variant %q", variant)
	}
	return Parse(data)
}

// MustLoad is Load for package-level wiring; it panics on an invalid bank.
func MustLoad(variant string) *Bank {
	b, err := Load(variant)
	if err != nil {
		panic(err)
	}
	return b
}

// Parse decodes a YAML bank and builds its scoring table.
func Parse(data []byte) (*Bank, error) {
	var b Bank
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parsing bank: %w", err)
	}
	if len(b.Questions) == 0 {
		return nil, fmt.Errorf("bank %q has no questions", b.Variant)
	}
	if len(b.Archetypes) == 0 {
		return nil, fmt.Errorf("bank %q has no archetypes", b.Variant)
	}

	known := make(map[Archetype]bool, len(b.Archetypes))
	for _, a := range b.Archetypes {
		known[a] = true
	}
	sort.Slice(b.Archetypes, func(i, j int) bool { return b.Archetypes[i] < b.Archetypes[j] })

	b.table = make(map[int]map[string]Archetype, len(b.Questions))
	for i := range b.Questions {
		q := &b.Questions[i]
		q.Number = i + 1
		if len(q.Options) < 2 {
			return nil, fmt.Errorf("question %d: needs at least two options", q.Number)
		}
		row := make(map[string]Archetype, len(q.Options))
		for j := range q.Options {
			o := &q.Options[j]
			o.Letter = strings.ToUpper(strings.TrimSpace(o.Letter))
			if len(o.Letter) != 1 || o.Letter[0] < 'A' || o.Letter[0] > 'Z' {
				return nil, fmt.Errorf("question %d: invalid letter %q", q.Number, o.Letter)
			}
			if _, dup := row[o.Letter]; dup {
				return nil, fmt.Errorf("question %d: duplicate letter %s", q.Number, o.Letter)
			}
			if !known[o.Archetype] {
				return nil, fmt.Errorf("question %d option %s: unknown archetype %q", q.Number, o.Letter, o.Archetype)
			}
			row[o.Letter] = o.Archetype
		}
		b.table[q.Number] = row
	}
	return &b, nil
}

// Total returns the number of questions N.
func (b *Bank) Total() int { return len(b.Questions) }

// Question returns question n (1-based).
func (b *Bank) Question(n int) (Question, bool) {
	if n < 1 || n > len(b.Questions) {
		return Question{}, false
	}
	return b.Questions[n-1], true
}

// DefaultArchetype is returned when no answer scored: the alphabetically first archetype.
func (b *Bank) DefaultArchetype() Archetype {
	return b.Archetypes[0]
}
