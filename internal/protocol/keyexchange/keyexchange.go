package keyexchange

import (
	"crypto/rand"

	"github.com/pkg/errors"

	"cipherchat/internal/crypto"
	"cipherchat/internal/domain/types"
	"cipherchat/internal/util/memzero"
)

// GenerateSessionSecret returns a fresh random 256-bit session secret.
func GenerateSessionSecret() (types.SessionSecret, error) {
	var s types.SessionSecret
	if _, err := rand.Read(s[:]); err != nil {
		return types.SessionSecret{}, errors.Wrap(err, "read session secret entropy")
	}
	return s, nil
}

// Wrap encrypts the raw secret bytes under the recipient's public key.
func Wrap(secret *types.SessionSecret, recipient crypto.PublicKey) (types.WrappedSecret, error) {
	ct, err := recipient.Encrypt(secret.Slice())
	if err != nil {
		return "", errors.WithMessage(err, "wrap session secret")
	}
	return types.WrappedSecret(crypto.B64(ct)), nil
}

// Unwrap recovers a session secret from a wrapped copy with the local private
// key.
func Unwrap(wrapped types.WrappedSecret, local crypto.PrivateKey) (types.SessionSecret, error) {
	ct, err := crypto.FromB64(string(wrapped))
	if err != nil {
		return types.SessionSecret{}, errors.Wrapf(types.ErrCryptoOperation, "decode wrapped secret: %v", err)
	}
	raw, err := local.Decrypt(ct)
	if err != nil {
		return types.SessionSecret{}, errors.WithMessage(err, "unwrap session secret")
	}
	defer memzero.Zero(raw)

	var s types.SessionSecret
	if len(raw) != len(s) {
		return types.SessionSecret{}, errors.Wrapf(types.ErrCryptoOperation,
			"unwrapped secret is %d bytes, want %d", len(raw), len(s))
	}
	copy(s[:], raw)
	return s, nil
}

// WrapForParticipants wraps one secret independently for every participant.
// The result has exactly one entry per participant; any failure aborts the
// whole fan-out so no conversation is created with a partial key map.
func WrapForParticipants(
	secret *types.SessionSecret,
	recipients map[types.UserID]crypto.PublicKey,
) (map[types.UserID]types.WrappedSecret, error) {
	out := make(map[types.UserID]types.WrappedSecret, len(recipients))
	for id, pub := range recipients {
		w, err := Wrap(secret, pub)
		if err != nil {
			return nil, errors.WithMessagef(err, "participant %s", id)
		}
		out[id] = w
	}
	return out, nil
}

// Wipe zeroes the secret in place.
func Wipe(secret *types.SessionSecret) {
	memzero.Zero(secret.Slice())
}
