// Package score assigns reading-priority points and tiers to articles.
package score

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"pocketrescue/internal/rescue"
)

// TimeBucket awards points for short reads; the first matching bucket wins.
type TimeBucket struct {
	MaxMinutes int
	Points     float64
}

// TierThresholds map summed points onto priority tiers, highest first.
type TierThresholds struct {
	Critical int
	High     int
	Medium   int
	Low      int
}

// RuleSet is the full additive scoring configuration. Rules are additive,
// not exclusive: an article can match several tag rules at once.
type RuleSet struct {
	BasePoints        float64
	TagPoints         map[string]float64
	TimeBuckets       []TimeBucket
	StatusMultipliers map[string]float64
	RecencyWindowDays float64
	RecencyMaxBonus   float64
	RecencyDecayDays  float64
	Tiers             TierThresholds
}

// DefaultRules returns the stock ruleset tuned for a reading backlog.
func DefaultRules() RuleSet {
	return RuleSet{
		BasePoints: 1,
		TagPoints: map[string]float64{
			"_reading":     50,
			"_practice":    40,
			"education":    30,
			"learning":     25,
			"programming":  20,
			"coding":       20,
			"python":       18,
			"development":  15,
			"tech":         15,
			"javascript":   15,
			"security":     12,
			"career":       12,
			"productivity": 10,
			"gamedev":      8,
		},
		TimeBuckets: []TimeBucket{
			{MaxMinutes: 2, Points: 15},
			{MaxMinutes: 5, Points: 10},
			{MaxMinutes: 10, Points: 8},
			{MaxMinutes: 15, Points: 6},
			{MaxMinutes: 30, Points: 4},
			{MaxMinutes: math.MaxInt32, Points: 2},
		},
		StatusMultipliers: map[string]float64{
			rescue.StatusUnread:   1.0,
			rescue.StatusArchived: 0.1,
		},
		RecencyWindowDays: 30,
		RecencyMaxBonus:   10,
		RecencyDecayDays:  3,
		Tiers:             TierThresholds{Critical: 100, High: 50, Medium: 10, Low: 5},
	}
}

// Scorer evaluates a validated RuleSet. It holds no mutable state, so one
// Scorer can serve every article in a run.
type Scorer struct {
	rules RuleSet
}

// New validates the ruleset and builds a Scorer. A malformed ruleset is a
// configuration error and fatal at startup.
func New(rules RuleSet) (*Scorer, error) {
	if err := validate(rules); err != nil {
		return nil, err
	}
	return &Scorer{rules: rules}, nil
}

func validate(rules RuleSet) error {
	t := rules.Tiers
	if !(t.Critical > t.High && t.High > t.Medium && t.Medium > t.Low) {
		return fmt.Errorf("tier thresholds must be strictly descending, got %+v", t)
	}
	for status, m := range rules.StatusMultipliers {
		if m < 0 {
			return fmt.Errorf("status multiplier for %q must be >= 0", status)
		}
	}
	for i := 1; i < len(rules.TimeBuckets); i++ {
		if rules.TimeBuckets[i].MaxMinutes <= rules.TimeBuckets[i-1].MaxMinutes {
			return fmt.Errorf("time buckets must have ascending max minutes")
		}
	}
	if rules.RecencyDecayDays < 0 || rules.RecencyWindowDays < 0 {
		return fmt.Errorf("recency window and decay must be >= 0")
	}
	return nil
}

// Score is a pure function of the article attributes and the ruleset. Age
// is computed against the caller-supplied now, never the wall clock, so
// identical inputs always yield identical output.
func (s *Scorer) Score(article rescue.Article, now time.Time) (int, rescue.Tier) {
	points := s.rules.BasePoints

	for _, tag := range article.Tags {
		if p, ok := s.rules.TagPoints[strings.ToLower(tag)]; ok {
			points += p
		}
	}

	if article.ReadingTime > 0 {
		for _, bucket := range s.rules.TimeBuckets {
			if article.ReadingTime <= bucket.MaxMinutes {
				points += bucket.Points
				break
			}
		}
	}

	if m, ok := s.rules.StatusMultipliers[strings.ToLower(article.Status)]; ok {
		points *= m
	}

	points += s.recencyBonus(article.Added, now)

	total := int(math.Round(points))
	return total, s.tier(total)
}

// recencyBonus gives newer articles a small boost that decays linearly.
func (s *Scorer) recencyBonus(added, now time.Time) float64 {
	if added.IsZero() || s.rules.RecencyMaxBonus <= 0 {
		return 0
	}
	days := now.Sub(added).Hours() / 24
	if days < 0 || days >= s.rules.RecencyWindowDays {
		return 0
	}
	decay := 0.0
	if s.rules.RecencyDecayDays > 0 {
		decay = days / s.rules.RecencyDecayDays
	}
	return math.Max(0, s.rules.RecencyMaxBonus-decay)
}

func (s *Scorer) tier(points int) rescue.Tier {
	t := s.rules.Tiers
	switch {
	case points >= t.Critical:
		return rescue.TierCritical
	case points >= t.High:
		return rescue.TierHigh
	case points >= t.Medium:
		return rescue.TierMedium
	case points >= t.Low:
		return rescue.TierLow
	default:
		return rescue.TierMinimal
	}
}

// Rank orders articles by score descending, breaking ties by newest added.
func Rank(articles []rescue.Article) {
	sort.SliceStable(articles, func(i, j int) bool {
		if articles[i].Score != articles[j].Score {
			return articles[i].Score > articles[j].Score
		}
		return articles[i].Added.After(articles[j].Added)
	})
}
