package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DomainTiers is the global domain to working-tier cache shared across
// profiles, persisted as domain_tiers.json under the profile root.
type DomainTiers struct {
	mu    sync.Mutex
	path  string
	tiers map[string]int
}

// OpenDomainTiers loads the cache file, tolerating a missing one.
func (s *Store) OpenDomainTiers() (*DomainTiers, error) {
	dt := &DomainTiers{
		path:  filepath.Join(s.root, "domain_tiers.json"),
		tiers: make(map[string]int),
	}
	data, err := os.ReadFile(dt.path)
	if os.IsNotExist(err) {
		return dt, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read domain tiers: %w", err)
	}
	if err := json.Unmarshal(data, &dt.tiers); err != nil {
		return nil, fmt.Errorf("parse domain tiers: %w", err)
	}
	return dt, nil
}

// Get returns the cached tier for a domain.
func (d *DomainTiers) Get(domain string) (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tiers[domain]
	return t, ok
}

// Set records the working tier for a domain and persists the cache.
// Last writer wins across concurrent sessions.
func (d *DomainTiers) Set(domain string, tier int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tiers[domain] = tier
	data, err := json.MarshalIndent(d.tiers, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal domain tiers: %w", err)
	}
	if err := os.WriteFile(d.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write domain tiers: %w", err)
	}
	return nil
}
