// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package policy holds the runtime filtering policy: manually blocked
// hostnames, per-category site lists with an active flag, and the anomaly
// thresholds. The policy is a snapshot type persisted as a JSON singleton;
// readers get copies and never observe a half-applied mutation.
package policy

import (
	"encoding/json"
	"sort"
	"sync"

	"grimm.is/campusgate/internal/classify"
	"grimm.is/campusgate/internal/errors"
	"grimm.is/campusgate/internal/store"
)

// Thresholds are the hard-rule trip points of the anomaly engine. They are
// part of the policy so admins can tune them without a restart.
type Thresholds struct {
	HighActivity  int     `json:"high_activity"`
	VideoRatio    float64 `json:"video_ratio"`
	SocialRatio   float64 `json:"social_ratio"`
	GamingCount   int     `json:"gaming_count"`
	CombinedRatio float64 `json:"combined_ratio"`
}

// CategoryRule is one category's blocking state.
type CategoryRule struct {
	Active bool     `json:"active"`
	Sites  []string `json:"sites"`
}

// Config is the full filtering policy. Instances handed out by Manager are
// deep copies; callers may mutate them freely before passing them back.
type Config struct {
	ManualBlocks []string                `json:"manual_blocks"`
	Categories   map[string]CategoryRule `json:"categories"`
	Thresholds   Thresholds              `json:"thresholds"`
}

// BlockedHostnames returns every hostname the rule engine must deny:
// the manual blocks plus the sites of every active category, deduplicated
// and sorted for stable rule generation.
func (c *Config) BlockedHostnames() []string {
	set := make(map[string]bool)
	for _, h := range c.ManualBlocks {
		if h != "" {
			set[h] = true
		}
	}
	for _, rule := range c.Categories {
		if !rule.Active {
			continue
		}
		for _, h := range rule.Sites {
			if h != "" {
				set[h] = true
			}
		}
	}
	out := make([]string, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

func (c *Config) clone() *Config {
	cp := &Config{
		ManualBlocks: append([]string(nil), c.ManualBlocks...),
		Categories:   make(map[string]CategoryRule, len(c.Categories)),
		Thresholds:   c.Thresholds,
	}
	for name, rule := range c.Categories {
		cp.Categories[name] = CategoryRule{
			Active: rule.Active,
			Sites:  append([]string(nil), rule.Sites...),
		}
	}
	return cp
}

// Default returns the policy seeded on first run. Social blocking starts
// active; video and gaming lists exist but start inactive so an admin can
// flip them without typing site lists.
func Default() *Config {
	return &Config{
		ManualBlocks: []string{},
		Categories: map[string]CategoryRule{
			string(classify.CategorySocial): {
				Active: true,
				Sites:  []string{"facebook.com", "twitter.com", "instagram.com"},
			},
			string(classify.CategoryVideo): {
				Active: false,
				Sites:  []string{"youtube.com", "netflix.com", "twitch.tv"},
			},
			string(classify.CategoryGaming): {
				Active: false,
				Sites:  []string{"steam.com", "epicgames.com"},
			},
		},
		Thresholds: Thresholds{
			HighActivity:  10,
			VideoRatio:    0.4,
			SocialRatio:   0.4,
			GamingCount:   1,
			CombinedRatio: 0.5,
		},
	}
}

// Manager serialises policy reads and writes over the store singleton.
type Manager struct {
	mu      sync.RWMutex
	store   *store.Store
	current *Config
}

// NewManager loads the persisted policy, seeding the default on first run.
func NewManager(st *store.Store) (*Manager, error) {
	m := &Manager{store: st}

	data, err := st.GetPolicyJSON()
	switch {
	case err == nil:
		var cfg Config
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Wrap(err, errors.KindInternal, "decode stored policy")
		}
		if cfg.Categories == nil {
			cfg.Categories = make(map[string]CategoryRule)
		}
		m.current = &cfg
	case errors.GetKind(err) == errors.KindNotFound:
		m.current = Default()
		if err := m.persist(m.current); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}
	return m, nil
}

// Snapshot returns a deep copy of the current policy.
func (m *Manager) Snapshot() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.clone()
}

// Update validates, persists, and publishes a new policy. The swap is
// atomic: concurrent Snapshot calls see either the old or the new config.
func (m *Manager) Update(cfg *Config) error {
	if err := validate(cfg); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	next := cfg.clone()
	if err := m.persist(next); err != nil {
		return err
	}
	m.current = next
	return nil
}

// AddManualBlock adds one hostname to the manual block list. Idempotent.
func (m *Manager) AddManualBlock(hostname string) error {
	if hostname == "" {
		return errors.New(errors.KindValidation, "empty hostname")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.current.ManualBlocks {
		if h == hostname {
			return nil
		}
	}
	next := m.current.clone()
	next.ManualBlocks = append(next.ManualBlocks, hostname)
	sort.Strings(next.ManualBlocks)
	if err := m.persist(next); err != nil {
		return err
	}
	m.current = next
	return nil
}

// RemoveManualBlock removes one hostname from the manual block list.
// Idempotent if the hostname is absent.
func (m *Manager) RemoveManualBlock(hostname string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.current.clone()
	kept := next.ManualBlocks[:0]
	for _, h := range next.ManualBlocks {
		if h != hostname {
			kept = append(kept, h)
		}
	}
	if len(kept) == len(next.ManualBlocks) {
		return nil
	}
	next.ManualBlocks = kept
	if err := m.persist(next); err != nil {
		return err
	}
	m.current = next
	return nil
}

// SetCategoryActive toggles a category's blocking state. The category must
// already exist in the policy.
func (m *Manager) SetCategoryActive(name string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule, ok := m.current.Categories[name]
	if !ok {
		return errors.Errorf(errors.KindNotFound, "unknown category %q", name)
	}
	if rule.Active == active {
		return nil
	}
	next := m.current.clone()
	rule = next.Categories[name]
	rule.Active = active
	next.Categories[name] = rule
	if err := m.persist(next); err != nil {
		return err
	}
	m.current = next
	return nil
}

func (m *Manager) persist(cfg *Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "encode policy")
	}
	return m.store.SavePolicyJSON(data)
}

func validate(cfg *Config) error {
	if cfg == nil {
		return errors.New(errors.KindValidation, "nil policy")
	}
	t := cfg.Thresholds
	if t.HighActivity <= 0 || t.GamingCount < 0 {
		return errors.New(errors.KindValidation, "activity thresholds must be positive")
	}
	if t.VideoRatio < 0 || t.VideoRatio > 1 ||
		t.SocialRatio < 0 || t.SocialRatio > 1 ||
		t.CombinedRatio < 0 || t.CombinedRatio > 1 {
		return errors.New(errors.KindValidation, "ratio thresholds must be within [0,1]")
	}
	return nil
}
