package crypto

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/pkg/errors"

	"cipherchat/internal/domain/types"
)

// Fingerprint returns a short hex fingerprint of a public key.
//
// It hashes the PKIX DER with SHA-256 and truncates to 10 bytes (20 hex chars).
func Fingerprint(portable types.PortableKey) (types.Fingerprint, error) {
	der, err := FromB64(string(portable))
	if err != nil {
		return "", errors.Wrapf(types.ErrKeyFormat, "decode public key: %v", err)
	}
	sum := sha256.Sum256(der)
	return types.Fingerprint(hex.EncodeToString(sum[:10])), nil
}
