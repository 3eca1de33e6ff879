package interfaces

import (
	"cipherchat/internal/crypto"
	domaintypes "cipherchat/internal/domain/types"
)

// KeyStore persists device identity keypairs by caller-chosen identifier.
type KeyStore interface {
	PutKeyPair(id string, kp *crypto.KeyPair) error
	GetKeyPair(id string) (*crypto.KeyPair, bool, error)
	// Lookup tries canonical then each legacy id, migrating legacy hits to
	// canonical. A miss returns a nil keypair and a nil error.
	Lookup(canonical string, legacy ...string) (*crypto.KeyPair, string, error)
	DeleteKeyPair(id string) error
}

// ProfileStore persists the last login on this device.
type ProfileStore interface {
	SaveProfile(profile domaintypes.Profile) error
	LoadProfile() (domaintypes.Profile, bool, error)
	ClearProfile() error
}
