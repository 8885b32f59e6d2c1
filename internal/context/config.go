// Package ctxengine assembles token-bounded context for a chat turn:
// recent verbatim messages under an importance-aware budget, plus relevant
// history retrieved by similarity.
package ctxengine

import (
	"fmt"
	"time"
)

// Config holds the context-assembly policy. The budget shares are a fixed
// policy by default; the analytics engine may recommend different values,
// which an operator adopts through configuration, never automatically.
type Config struct {
	// RecentShare of the token budget reserved for recent verbatim
	// messages. Default 0.6.
	RecentShare float64 `yaml:"recent_share"`

	// RetrievalShare of the token budget reserved for retrieved relevant
	// history. Default 0.2. The remaining share is held back for the
	// system prompt and current turn; the assembler never spends it.
	RetrievalShare float64 `yaml:"retrieval_share"`

	// ImportanceFloor excludes recent messages scoring below it. Default 0:
	// importance never excludes recent items, it only prioritizes when
	// the budget is tight.
	ImportanceFloor float64 `yaml:"importance_floor"`

	// RecentFetchLimit caps how many recent messages are pulled from the
	// store before budget selection.
	RecentFetchLimit int `yaml:"recent_fetch_limit"`

	// RetrievalLimit caps the number of retrieved items.
	RetrievalLimit int `yaml:"retrieval_limit"`

	// RetrievalTimeout bounds the retrieval call; on timeout the turn
	// falls back to verbatim-only context.
	RetrievalTimeout time.Duration `yaml:"retrieval_timeout"`
}

// withDefaults returns a copy of cfg with zero-valued fields replaced.
func (cfg Config) withDefaults() Config {
	if cfg.RecentShare == 0 {
		cfg.RecentShare = 0.6
	}
	if cfg.RetrievalShare == 0 {
		cfg.RetrievalShare = 0.2
	}
	if cfg.RecentFetchLimit == 0 {
		cfg.RecentFetchLimit = 200
	}
	if cfg.RetrievalLimit == 0 {
		cfg.RetrievalLimit = 10
	}
	if cfg.RetrievalTimeout == 0 {
		cfg.RetrievalTimeout = 2 * time.Second
	}
	return cfg
}

// Validate checks share arithmetic: both shares must be positive and leave
// a reserve for the system prompt and current turn.
func (cfg Config) Validate() error {
	c := cfg.withDefaults()
	if c.RecentShare <= 0 || c.RetrievalShare <= 0 {
		return fmt.Errorf("ctxengine: budget shares must be positive (recent=%v retrieval=%v)", c.RecentShare, c.RetrievalShare)
	}
	if c.RecentShare+c.RetrievalShare >= 1 {
		return fmt.Errorf("ctxengine: recent+retrieval shares %v leave no reserve", c.RecentShare+c.RetrievalShare)
	}
	if c.ImportanceFloor < 0 || c.ImportanceFloor > 1 {
		return fmt.Errorf("ctxengine: importance_floor %v out of range [0,1]", c.ImportanceFloor)
	}
	return nil
}
