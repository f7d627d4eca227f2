package service

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/noah-isme/academic-requests-api/internal/models"
)

// PriorityDecision is the outcome of an automatic prioritization.
type PriorityDecision struct {
	Priority models.Priority
	Score    int
	Reason   string
}

// PriorityPolicy derives a priority for requests prioritized without an explicit value.
// Implementations must be deterministic for a given request and clock.
type PriorityPolicy interface {
	Decide(req *models.Request) PriorityDecision
}

// PriorityPolicyFunc adapts a function to PriorityPolicy.
type PriorityPolicyFunc func(req *models.Request) PriorityDecision

// Decide implements PriorityPolicy.
func (f PriorityPolicyFunc) Decide(req *models.Request) PriorityDecision {
	return f(req)
}

// DeadlineBand scores deadlines falling within WithinDays calendar days.
type DeadlineBand struct {
	WithinDays int `yaml:"withinDays"`
	Score      int `yaml:"score"`
}

// PriorityTier maps a minimum score to a priority.
type PriorityTier struct {
	MinScore int             `yaml:"minScore"`
	Priority models.Priority `yaml:"priority"`
}

// ScoringRules are the weights used by ScoringPolicy.
type ScoringRules struct {
	TypeScores    map[models.RequestType]int `yaml:"typeScores"`
	ChannelScores map[models.Channel]int     `yaml:"channelScores"`
	OverdueScore  int                        `yaml:"overdueScore"`
	DeadlineBands []DeadlineBand             `yaml:"deadlineBands"`
	LaterScore    int                        `yaml:"laterScore"`
	Tiers         []PriorityTier             `yaml:"tiers"`
}

// DefaultScoringRules returns the built-in weights.
func DefaultScoringRules() ScoringRules {
	return ScoringRules{
		TypeScores: map[models.RequestType]int{
			models.RequestTypeCourseRegistration: 4,
			models.RequestTypeCourseCancellation: 4,
			models.RequestTypeCreditTransfer:     3,
			models.RequestTypeSeatRequest:        2,
			models.RequestTypeAcademicInquiry:    1,
		},
		ChannelScores: map[models.Channel]int{
			models.ChannelTelephone: 1,
			models.ChannelInPerson:  1,
		},
		OverdueScore: 5,
		DeadlineBands: []DeadlineBand{
			{WithinDays: 2, Score: 4},
			{WithinDays: 5, Score: 3},
			{WithinDays: 10, Score: 2},
		},
		LaterScore: 1,
		Tiers: []PriorityTier{
			{MinScore: 7, Priority: models.PriorityCritical},
			{MinScore: 5, Priority: models.PriorityHigh},
			{MinScore: 3, Priority: models.PriorityMedium},
			{MinScore: 0, Priority: models.PriorityLow},
		},
	}
}

// LoadScoringRules reads a YAML rules file on top of the defaults. Maps are
// merged key by key; bands and tiers replace the defaults when present.
func LoadScoringRules(path string) (ScoringRules, error) {
	rules := DefaultScoringRules()
	if strings.TrimSpace(path) == "" {
		return rules, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return rules, fmt.Errorf("read priority rules: %w", err)
	}
	if err := yaml.Unmarshal(raw, &rules); err != nil {
		return rules, fmt.Errorf("parse priority rules %s: %w", path, err)
	}
	if err := rules.normalize(); err != nil {
		return rules, fmt.Errorf("priority rules %s: %w", path, err)
	}
	return rules, nil
}

func (r *ScoringRules) normalize() error {
	for t := range r.TypeScores {
		if !t.Valid() {
			return fmt.Errorf("unknown request type %q", t)
		}
	}
	for c := range r.ChannelScores {
		if !c.Valid() {
			return fmt.Errorf("unknown channel %q", c)
		}
	}
	if len(r.Tiers) == 0 {
		return fmt.Errorf("at least one tier is required")
	}
	for i, tier := range r.Tiers {
		p, ok := models.ParsePriority(string(tier.Priority))
		if !ok {
			return fmt.Errorf("unknown priority %q", tier.Priority)
		}
		r.Tiers[i].Priority = p
	}
	sort.SliceStable(r.Tiers, func(i, j int) bool { return r.Tiers[i].MinScore > r.Tiers[j].MinScore })
	sort.SliceStable(r.DeadlineBands, func(i, j int) bool { return r.DeadlineBands[i].WithinDays < r.DeadlineBands[j].WithinDays })
	return nil
}

// ScoringPolicy adds type, deadline and channel scores and maps the total onto tiers.
type ScoringPolicy struct {
	rules ScoringRules
	now   func() time.Time
}

// NewScoringPolicy builds a policy. A nil clock uses time.Now.
func NewScoringPolicy(rules ScoringRules, now func() time.Time) *ScoringPolicy {
	if now == nil {
		now = time.Now
	}
	if len(rules.Tiers) == 0 {
		rules.Tiers = DefaultScoringRules().Tiers
	}
	return &ScoringPolicy{rules: rules, now: now}
}

// Decide implements PriorityPolicy.
func (p *ScoringPolicy) Decide(req *models.Request) PriorityDecision {
	parts := make([]string, 0, 3)
	score := 0

	if req.Type != nil {
		if s := p.rules.TypeScores[*req.Type]; s != 0 {
			score += s
			parts = append(parts, fmt.Sprintf("type %s +%d", *req.Type, s))
		}
	}

	if req.Deadline != nil {
		days := calendarDaysBetween(p.now(), *req.Deadline)
		s, label := p.deadlineScore(days)
		score += s
		parts = append(parts, fmt.Sprintf("%s +%d", label, s))
	}

	if s := p.rules.ChannelScores[req.Channel]; s != 0 {
		score += s
		parts = append(parts, fmt.Sprintf("channel %s +%d", req.Channel, s))
	}

	priority := p.rules.Tiers[len(p.rules.Tiers)-1].Priority
	for _, tier := range p.rules.Tiers {
		if score >= tier.MinScore {
			priority = tier.Priority
			break
		}
	}

	if len(parts) == 0 {
		parts = append(parts, "no scoring factors")
	}
	reason := fmt.Sprintf("%s; score %d -> %s", strings.Join(parts, ", "), score, priority)
	return PriorityDecision{Priority: priority, Score: score, Reason: reason}
}

func (p *ScoringPolicy) deadlineScore(days int) (int, string) {
	if days < 0 {
		return p.rules.OverdueScore, "deadline passed"
	}
	for _, band := range p.rules.DeadlineBands {
		if days <= band.WithinDays {
			return band.Score, fmt.Sprintf("deadline in %d days", days)
		}
	}
	return p.rules.LaterScore, fmt.Sprintf("deadline in %d days", days)
}

// calendarDaysBetween counts UTC calendar days from now to deadline.
func calendarDaysBetween(now, deadline time.Time) int {
	from := now.UTC().Truncate(24 * time.Hour)
	to := deadline.UTC().Truncate(24 * time.Hour)
	return int(to.Sub(from) / (24 * time.Hour))
}
