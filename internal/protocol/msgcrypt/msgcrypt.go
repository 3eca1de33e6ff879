package msgcrypt

import (
	"crypto/rand"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"

	"cipherchat/internal/crypto"
	"cipherchat/internal/domain/types"
)

// NonceSize is the length of a message nonce in bytes.
const NonceSize = chacha20poly1305.NonceSize

// Sealed is an encrypted payload and the nonce it was sealed with.
type Sealed struct {
	Nonce      []byte
	Ciphertext []byte
}

// Encrypt seals plaintext under secret with a fresh random nonce.
func Encrypt(plaintext []byte, secret *types.SessionSecret) (Sealed, error) {
	aead, err := chacha20poly1305.New(secret.Slice())
	if err != nil {
		return Sealed{}, errors.Wrapf(types.ErrCryptoOperation, "init aead: %v", err)
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return Sealed{}, errors.Wrapf(types.ErrCryptoOperation, "read nonce: %v", err)
	}
	return Sealed{Nonce: nonce, Ciphertext: aead.Seal(nil, nonce, plaintext, nil)}, nil
}

// Decrypt opens a sealed payload. Any failure is ErrDecryptionFailed.
func Decrypt(sealed Sealed, secret *types.SessionSecret) ([]byte, error) {
	if len(sealed.Nonce) != NonceSize {
		return nil, errors.Wrapf(types.ErrDecryptionFailed, "nonce is %d bytes", len(sealed.Nonce))
	}
	aead, err := chacha20poly1305.New(secret.Slice())
	if err != nil {
		return nil, errors.Wrapf(types.ErrDecryptionFailed, "init aead: %v", err)
	}
	pt, err := aead.Open(nil, sealed.Nonce, sealed.Ciphertext, nil)
	if err != nil {
		return nil, errors.Wrap(types.ErrDecryptionFailed, "authentication failed")
	}
	return pt, nil
}

// EncryptText seals text and returns the base64 nonce and ciphertext carried
// on the wire.
func EncryptText(text string, secret *types.SessionSecret) (nonce, content string, err error) {
	sealed, err := Encrypt([]byte(text), secret)
	if err != nil {
		return "", "", err
	}
	return crypto.B64(sealed.Nonce), crypto.B64(sealed.Ciphertext), nil
}

// DecryptText opens the base64 wire form produced by EncryptText.
func DecryptText(nonce, content string, secret *types.SessionSecret) (string, error) {
	n, err := crypto.FromB64(nonce)
	if err != nil {
		return "", errors.Wrapf(types.ErrDecryptionFailed, "decode nonce: %v", err)
	}
	ct, err := crypto.FromB64(content)
	if err != nil {
		return "", errors.Wrapf(types.ErrDecryptionFailed, "decode content: %v", err)
	}
	pt, err := Decrypt(Sealed{Nonce: n, Ciphertext: ct}, secret)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// OpenMessage turns a wire message into a display message.
//
// Legacy messages without a nonce pass through unchanged. Encrypted messages
// are decrypted with secret; a nil secret yields the locked sentinel and a
// decryption failure the failed sentinel.
func OpenMessage(m types.Message, secret *types.SessionSecret) types.DisplayMessage {
	if !m.Encrypted() {
		return types.DisplayMessage{Message: m, Text: m.Content, Status: types.StatusPlain}
	}
	if secret == nil {
		return types.DisplayMessage{Message: m, Text: types.LockedText, Status: types.StatusLocked}
	}
	text, err := DecryptText(m.Nonce, m.Content, secret)
	if err != nil {
		return types.DisplayMessage{Message: m, Text: types.DecryptionFailedText, Status: types.StatusFailed}
	}
	return types.DisplayMessage{Message: m, Text: text, Status: types.StatusDecrypted}
}
