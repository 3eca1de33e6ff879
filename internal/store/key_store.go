package store

import (
	"sync"

	"github.com/pkg/errors"
	"gitlab.com/elixxir/ekv"

	"cipherchat/internal/crypto"
	"cipherchat/internal/domain"
)

const identityPrefix = "identity/"

// KeyStore persists device identity keypairs in an encrypted key-value store,
// one record per identifier.
type KeyStore struct {
	kv ekv.KeyValue
	mu sync.Mutex
}

// OpenKeyStore opens (or creates) the encrypted key store under dir.
func OpenKeyStore(dir, password string) (*KeyStore, error) {
	fs, err := ekv.NewFilestore(dir, password)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrStoreUnavailable, "open key store %s: %v", dir, err)
	}
	return NewKeyStore(fs), nil
}

// NewKeyStore wraps an existing key-value backend.
func NewKeyStore(kv ekv.KeyValue) *KeyStore {
	return &KeyStore{kv: kv}
}

// PutKeyPair stores kp under id, replacing any previous record.
func (s *KeyStore) PutKeyPair(id string, kp *crypto.KeyPair) error {
	raw, err := crypto.MarshalKeyPair(kp)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(id, raw)
}

// GetKeyPair returns the keypair stored under id. A missing record is
// reported as ok == false with a nil error.
func (s *KeyStore) GetKeyPair(id string) (*crypto.KeyPair, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok, err := s.get(id)
	if err != nil || !ok {
		return nil, false, err
	}
	kp, err := crypto.UnmarshalKeyPair(raw)
	if err != nil {
		return nil, false, errors.WithMessagef(err, "identity %q", id)
	}
	return kp, true, nil
}

// Lookup tries canonical first, then each legacy identifier in order. A hit
// under a legacy identifier is copied to canonical so later lookups find it
// directly. The returned string is the identifier the record was found under.
func (s *KeyStore) Lookup(canonical string, legacy ...string) (*crypto.KeyPair, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, id := range append([]string{canonical}, legacy...) {
		if id == "" {
			continue
		}
		raw, ok, err := s.get(id)
		if err != nil {
			return nil, "", err
		}
		if !ok {
			continue
		}
		kp, err := crypto.UnmarshalKeyPair(raw)
		if err != nil {
			return nil, "", errors.WithMessagef(err, "identity %q", id)
		}
		if i > 0 {
			if err := s.put(canonical, raw); err != nil {
				return nil, "", errors.WithMessagef(err, "migrate identity %q", id)
			}
		}
		return kp, id, nil
	}
	return nil, "", nil
}

// DeleteKeyPair removes the record for id. Deleting a missing record is not
// an error.
func (s *KeyStore) DeleteKeyPair(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.Delete(identityPrefix + id); err != nil && ekv.Exists(err) {
		return errors.Wrapf(domain.ErrStoreUnavailable, "delete identity %q: %v", id, err)
	}
	return nil
}

func (s *KeyStore) get(id string) ([]byte, bool, error) {
	var rec keyRecord
	if err := s.kv.Get(identityPrefix+id, &rec); err != nil {
		if !ekv.Exists(err) {
			return nil, false, nil
		}
		return nil, false, errors.Wrapf(domain.ErrStoreUnavailable, "read identity %q: %v", id, err)
	}
	return rec, true, nil
}

func (s *KeyStore) put(id string, raw []byte) error {
	if err := s.kv.Set(identityPrefix+id, keyRecord(raw)); err != nil {
		return errors.Wrapf(domain.ErrStoreUnavailable, "write identity %q: %v", id, err)
	}
	return nil
}

// keyRecord is a serialised keypair as stored in ekv.
type keyRecord []byte

func (r keyRecord) Marshal() []byte { return r }

func (r *keyRecord) Unmarshal(b []byte) error {
	*r = append((*r)[:0], b...)
	return nil
}

// Compile-time assertion that KeyStore implements domain.KeyStore.
var _ domain.KeyStore = (*KeyStore)(nil)
