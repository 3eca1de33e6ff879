package crypto

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"

	"github.com/pkg/errors"

	"cipherchat/internal/domain/types"
)

// ExportPublicKey serialises p to its portable form.
func ExportPublicKey(p PublicKey) (types.PortableKey, error) {
	if p.key == nil {
		return "", errors.Wrap(types.ErrKeyFormat, "empty public key")
	}
	der, err := x509.MarshalPKIXPublicKey(p.key)
	if err != nil {
		return "", errors.Wrapf(types.ErrKeyFormat, "marshal public key: %v", err)
	}
	return types.PortableKey(B64(der)), nil
}

// ImportPublicKey parses a portable public key into a wrap-only handle.
func ImportPublicKey(portable types.PortableKey) (PublicKey, error) {
	der, err := FromB64(string(portable))
	if err != nil {
		return PublicKey{}, errors.Wrapf(types.ErrKeyFormat, "decode public key: %v", err)
	}
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return PublicKey{}, errors.Wrapf(types.ErrKeyFormat, "parse public key: %v", err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return PublicKey{}, errors.Wrapf(types.ErrKeyFormat, "unexpected public key type %T", parsed)
	}
	return PublicKey{key: pub}, nil
}

// ExportPrivateKey serialises k as base64 PKCS#8 DER. The result must only
// ever be written to the local key store.
func ExportPrivateKey(k PrivateKey) (string, error) {
	if k.key == nil {
		return "", errors.Wrap(types.ErrKeyFormat, "empty private key")
	}
	der, err := x509.MarshalPKCS8PrivateKey(k.key)
	if err != nil {
		return "", errors.Wrapf(types.ErrKeyFormat, "marshal private key: %v", err)
	}
	return B64(der), nil
}

// ImportPrivateKey parses base64 PKCS#8 DER into an unwrap-capable handle.
func ImportPrivateKey(encoded string) (PrivateKey, error) {
	der, err := FromB64(encoded)
	if err != nil {
		return PrivateKey{}, errors.Wrapf(types.ErrKeyFormat, "decode private key: %v", err)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return PrivateKey{}, errors.Wrapf(types.ErrKeyFormat, "parse private key: %v", err)
	}
	priv, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return PrivateKey{}, errors.Wrapf(types.ErrKeyFormat, "unexpected private key type %T", parsed)
	}
	return PrivateKey{key: priv}, nil
}

// storedKeyPair is the JSON layout of a keypair in the local key store.
type storedKeyPair struct {
	Public  types.PortableKey `json:"public"`
	Private string            `json:"private"`
}

// MarshalKeyPair encodes kp for the local key store.
func MarshalKeyPair(kp *KeyPair) ([]byte, error) {
	if kp == nil {
		return nil, errors.Wrap(types.ErrKeyFormat, "nil keypair")
	}
	pub, err := ExportPublicKey(kp.Public)
	if err != nil {
		return nil, err
	}
	priv, err := ExportPrivateKey(kp.Private)
	if err != nil {
		return nil, err
	}
	return json.Marshal(storedKeyPair{Public: pub, Private: priv})
}

// UnmarshalKeyPair decodes a keypair written by MarshalKeyPair.
func UnmarshalKeyPair(b []byte) (*KeyPair, error) {
	var s storedKeyPair
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, errors.Wrapf(types.ErrKeyFormat, "decode stored keypair: %v", err)
	}
	priv, err := ImportPrivateKey(s.Private)
	if err != nil {
		return nil, err
	}
	pub, err := ImportPublicKey(s.Public)
	if err != nil {
		return nil, err
	}
	if !pub.Equal(priv.Public()) {
		return nil, errors.Wrap(types.ErrKeyFormat, "stored public key does not match private key")
	}
	return &KeyPair{Public: pub, Private: priv}, nil
}
