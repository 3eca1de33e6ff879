package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"cipherchat/internal/domain"
	"cipherchat/internal/util/memzero"
)

const (
	profileFilename = "profile.json.enc"
	profilePurpose  = "cipherchat/profile"
)

// ProfileFileStore persists the last login profile, sealed under the local
// passphrase because it carries the relay bearer token.
type ProfileFileStore struct {
	dir        string
	passphrase string
	mu         sync.Mutex
}

// NewProfileFileStore returns a ProfileFileStore rooted at dir.
func NewProfileFileStore(dir, passphrase string) *ProfileFileStore {
	return &ProfileFileStore{dir: dir, passphrase: passphrase}
}

// SaveProfile seals and writes profile, replacing the previous one.
func (s *ProfileFileStore) SaveProfile(profile domain.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(profile)
	if err != nil {
		return errors.Wrap(err, "encode profile")
	}
	sealed, err := seal(s.passphrase, profilePurpose, raw, defaultKDF)
	memzero.Zero(raw)
	if err != nil {
		return errors.WithMessage(err, "seal profile")
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return errors.Wrapf(domain.ErrStoreUnavailable, "create %s: %v", s.dir, err)
	}
	if err := writeFile(filepath.Join(s.dir, profileFilename), sealed, 0o600); err != nil {
		return errors.Wrapf(domain.ErrStoreUnavailable, "write profile: %v", err)
	}
	return nil
}

// LoadProfile reads the saved profile. ok is false when nobody is logged in.
func (s *ProfileFileStore) LoadProfile() (domain.Profile, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := readFile(filepath.Join(s.dir, profileFilename))
	if err != nil {
		return domain.Profile{}, false, errors.Wrapf(domain.ErrStoreUnavailable, "read profile: %v", err)
	}
	if b == nil {
		return domain.Profile{}, false, nil
	}
	pt, err := open(s.passphrase, profilePurpose, b)
	if err != nil {
		return domain.Profile{}, false, errors.WithMessage(err, "open profile")
	}
	defer memzero.Zero(pt)
	var profile domain.Profile
	if err := json.Unmarshal(pt, &profile); err != nil {
		return domain.Profile{}, false, errors.Wrap(err, "decode profile")
	}
	return profile, true, nil
}

// ClearProfile forgets the saved profile.
func (s *ProfileFileStore) ClearProfile() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(filepath.Join(s.dir, profileFilename))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(domain.ErrStoreUnavailable, "remove profile: %v", err)
	}
	return nil
}

// Compile-time assertion that ProfileFileStore implements domain.ProfileStore.
var _ domain.ProfileStore = (*ProfileFileStore)(nil)
