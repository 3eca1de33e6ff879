package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"

	"github.com/pkg/errors"

	"cipherchat/internal/domain/types"
)

// IdentityKeyBits is the RSA modulus size of identity keypairs.
const IdentityKeyBits = 2048

// PublicKey is a wrap-only handle on an identity public key.
type PublicKey struct {
	key *rsa.PublicKey
}

// PrivateKey is an unwrap-only handle on an identity private key.
type PrivateKey struct {
	key *rsa.PrivateKey
}

// KeyPair is a device identity keypair.
type KeyPair struct {
	Public  PublicKey
	Private PrivateKey
}

// GenerateIdentityKeyPair returns a fresh RSA-2048 keypair for OAEP(SHA-256).
func GenerateIdentityKeyPair() (*KeyPair, error) {
	k, err := rsa.GenerateKey(rand.Reader, IdentityKeyBits)
	if err != nil {
		return nil, errors.Wrap(err, "generate identity keypair")
	}
	return &KeyPair{
		Public:  PublicKey{key: &k.PublicKey},
		Private: PrivateKey{key: k},
	}, nil
}

// Valid reports whether the handle holds key material.
func (p PublicKey) Valid() bool { return p.key != nil }

// Encrypt seals msg with RSA-OAEP(SHA-256).
func (p PublicKey) Encrypt(msg []byte) ([]byte, error) {
	if p.key == nil {
		return nil, errors.Wrap(types.ErrKeyFormat, "empty public key")
	}
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, p.key, msg, nil)
	if err != nil {
		return nil, errors.Wrapf(types.ErrCryptoOperation, "oaep encrypt: %v", err)
	}
	return ct, nil
}

// Equal reports whether both handles hold the same public key.
func (p PublicKey) Equal(o PublicKey) bool {
	if p.key == nil || o.key == nil {
		return p.key == o.key
	}
	return p.key.Equal(o.key)
}

// Valid reports whether the handle holds key material.
func (k PrivateKey) Valid() bool { return k.key != nil }

// Decrypt opens an RSA-OAEP(SHA-256) ciphertext.
func (k PrivateKey) Decrypt(ct []byte) ([]byte, error) {
	if k.key == nil {
		return nil, errors.Wrap(types.ErrKeyFormat, "empty private key")
	}
	pt, err := rsa.DecryptOAEP(sha256.New(), nil, k.key, ct, nil)
	if err != nil {
		return nil, errors.Wrapf(types.ErrCryptoOperation, "oaep decrypt: %v", err)
	}
	return pt, nil
}

// Public returns the matching wrap-only handle.
func (k PrivateKey) Public() PublicKey {
	if k.key == nil {
		return PublicKey{}
	}
	return PublicKey{key: &k.key.PublicKey}
}
