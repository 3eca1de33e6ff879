package servicetest

import (
	"sync"

	"cipherchat/internal/domain"
)

// Profiles is an in-memory domain.ProfileStore.
type Profiles struct {
	mu      sync.Mutex
	profile *domain.Profile
}

// SaveProfile replaces the stored profile.
func (p *Profiles) SaveProfile(profile domain.Profile) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.profile = &profile
	return nil
}

// LoadProfile returns the stored profile, if any.
func (p *Profiles) LoadProfile() (domain.Profile, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.profile == nil {
		return domain.Profile{}, false, nil
	}
	return *p.profile, true, nil
}

// ClearProfile forgets the stored profile.
func (p *Profiles) ClearProfile() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.profile = nil
	return nil
}

var _ domain.ProfileStore = (*Profiles)(nil)
