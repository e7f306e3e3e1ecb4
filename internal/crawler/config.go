package crawler

import (
	"fmt"
	"strings"
)

// Mode selects the traversal order.
type Mode string

// Supported traversal orders.
const (
	ModeBreadth Mode = "breadth"
	ModeDepth   Mode = "depth"
)

// ParseMode maps a config string onto a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeBreadth, "":
		return ModeBreadth, nil
	case ModeDepth:
		return ModeDepth, nil
	default:
		return "", fmt.Errorf("unknown traversal mode %q", s)
	}
}

// EngineConfig carries the traversal settings consumed by Engine.
type EngineConfig struct {
	// RunName labels every resource of the run and the run-level events.
	RunName string
	// LandingName is the display name of the landing resource.
	LandingName string
	Mode        Mode
	// Limit caps the number of yielded resources; <= 0 disables the cap.
	Limit int
	// Concurrency > 1 expands breadth-first frontiers in parallel.
	Concurrency int
}

const (
	defaultRunName     = "crawl"
	defaultLandingName = "landing"
)

func (c EngineConfig) withDefaults() EngineConfig {
	if c.RunName == "" {
		c.RunName = defaultRunName
	}
	if c.LandingName == "" {
		c.LandingName = defaultLandingName
	}
	if c.Mode == "" {
		c.Mode = ModeBreadth
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	return c
}

// Validate rejects settings the engine cannot honor.
func (c EngineConfig) Validate() error {
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return err
	}
	if c.Concurrency > 1 && c.Mode == ModeDepth {
		return fmt.Errorf("concurrency > 1 requires breadth mode")
	}
	return nil
}
