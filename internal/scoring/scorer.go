// Package scoring assigns each stored message a scalar importance in [0,1]
// from role, recency, length, and user-feedback signals. Scoring is pure
// given its inputs: the scorer never mutates the message or touches the
// store; the caller fetches the feedback signal and persists the result.
package scoring

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/engramdev/engram/internal/memory"
)

// Config holds the importance-scoring policy. All fields are explicit and
// validated; there is no free-form settings blob.
type Config struct {
	// HalfLife controls the exponential recency decay. A message this old
	// contributes half its recency signal.
	HalfLife time.Duration `yaml:"half_life"`

	// Role weights in [0,1]. System and user turns carrying instructions
	// outrank small-talk acknowledgements.
	SystemWeight    float64 `yaml:"system_weight"`
	UserWeight      float64 `yaml:"user_weight"`
	AssistantWeight float64 `yaml:"assistant_weight"`

	// LengthSaturation is the token count at which the length signal
	// reaches 1.0. Very short turns ("ok", "thanks") score near 0.
	LengthSaturation int `yaml:"length_saturation"`

	// FeedbackWeight blends explicit user feedback over the heuristic
	// score: final = feedback*w + heuristic*(1-w). Default 1.0, so feedback
	// fully dominates. Policy parameter, not a fixed formula.
	FeedbackWeight float64 `yaml:"feedback_weight"`
}

// withDefaults returns a copy of cfg with zero-valued fields replaced.
func (cfg Config) withDefaults() Config {
	if cfg.HalfLife == 0 {
		cfg.HalfLife = 7 * 24 * time.Hour
	}
	if cfg.SystemWeight == 0 {
		cfg.SystemWeight = 0.9
	}
	if cfg.UserWeight == 0 {
		cfg.UserWeight = 0.6
	}
	if cfg.AssistantWeight == 0 {
		cfg.AssistantWeight = 0.4
	}
	if cfg.LengthSaturation == 0 {
		cfg.LengthSaturation = 32
	}
	if cfg.FeedbackWeight == 0 {
		cfg.FeedbackWeight = 1.0
	}
	return cfg
}

// Validate checks that all weights are in range.
func (cfg Config) Validate() error {
	c := cfg.withDefaults()
	for name, w := range map[string]float64{
		"system_weight":    c.SystemWeight,
		"user_weight":      c.UserWeight,
		"assistant_weight": c.AssistantWeight,
		"feedback_weight":  c.FeedbackWeight,
	} {
		if w < 0 || w > 1 {
			return fmt.Errorf("scoring: %s %v out of range [0,1]", name, w)
		}
	}
	if c.HalfLife < 0 {
		return fmt.Errorf("scoring: half_life must be positive, got %v", c.HalfLife)
	}
	return nil
}

// Signals carries the caller-supplied inputs that are not part of the
// message itself.
type Signals struct {
	// Now anchors the recency decay. Zero means time.Now().
	Now time.Time

	// Feedback is the latest explicit user rating for this message in
	// [0,1], from the access log. Nil when no feedback exists.
	Feedback *float64
}

// Scorer computes importance scores.
type Scorer struct {
	cfg Config
}

// New creates a Scorer with cfg's zero fields defaulted.
func New(cfg Config) *Scorer {
	return &Scorer{cfg: cfg.withDefaults()}
}

// Score returns the importance of msg in [0,1]. It never fails: edge cases
// (empty content, unknown role) yield a value, not an error.
func (s *Scorer) Score(msg memory.Message, sig Signals) float64 {
	if strings.TrimSpace(msg.Content) == "" {
		return 0.0
	}

	heuristic := s.heuristic(msg, sig)

	if sig.Feedback != nil {
		fb := clamp01(*sig.Feedback)
		w := s.cfg.FeedbackWeight
		return clamp01(fb*w + heuristic*(1-w))
	}
	return heuristic
}

func (s *Scorer) heuristic(msg memory.Message, sig Signals) float64 {
	role := s.roleWeight(msg.Role)

	length := float64(msg.TokenCount) / float64(s.cfg.LengthSaturation)
	if length > 1 {
		length = 1
	}

	now := sig.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	age := now.Sub(msg.CreatedAt)
	if age < 0 {
		age = 0
	}
	decay := math.Exp2(-age.Seconds() / s.cfg.HalfLife.Seconds())

	// Role carries the most weight; recency and length modulate it.
	return clamp01(0.5*role + 0.3*role*decay + 0.2*length)
}

func (s *Scorer) roleWeight(r memory.Role) float64 {
	switch r {
	case memory.RoleSystem:
		return s.cfg.SystemWeight
	case memory.RoleUser:
		return s.cfg.UserWeight
	case memory.RoleAssistant:
		return s.cfg.AssistantWeight
	default:
		return s.cfg.AssistantWeight
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
