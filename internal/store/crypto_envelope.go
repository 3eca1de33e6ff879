package store

import (
	"crypto/rand"
	"encoding/json"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"

	"cipherchat/internal/util/memzero"
)

// envelopeVersion is the newest sealed-file format this package reads.
const envelopeVersion = 2

// errWrongPassphrase is returned when the passphrase is incorrect or the
// envelope has been modified.
var errWrongPassphrase = errors.New("wrong passphrase or corrupted file")

// kdfParams are the scrypt cost parameters recorded in each envelope.
type kdfParams struct {
	N int `json:"n"`
	R int `json:"r"`
	P int `json:"p"`
}

var (
	defaultKDF = kdfParams{N: 1 << 15, R: 8, P: 1}
	// maxKDF bounds the cost an envelope may ask for; parameters are read
	// before the envelope is authenticated.
	maxKDF = kdfParams{N: 1 << 20, R: 16, P: 4}
)

func (k kdfParams) validate() error {
	if k.N < 2 || k.N&(k.N-1) != 0 || k.N > maxKDF.N ||
		k.R < 1 || k.R > maxKDF.R ||
		k.P < 1 || k.P > maxKDF.P {
		return errors.Errorf("envelope kdf parameters out of range (n=%d r=%d p=%d)", k.N, k.R, k.P)
	}
	return nil
}

// envelope is the on-disk JSON form of a passphrase-sealed file. Purpose
// names what the file holds and is authenticated, so one sealed file cannot
// be substituted for another.
type envelope struct {
	V       int       `json:"v"`
	Purpose string    `json:"purpose"`
	KDF     kdfParams `json:"kdf"`
	Salt    []byte    `json:"salt"`
	Nonce   []byte    `json:"nonce"`
	Cipher  []byte    `json:"cipher"`
}

func (e envelope) additionalData() []byte {
	return append([]byte(e.Purpose+"\x00"), e.Salt...)
}

// seal derives a key from passphrase with a fresh salt and seals raw with
// XChaCha20-Poly1305.
func seal(passphrase, purpose string, raw []byte, kdf kdfParams) ([]byte, error) {
	env := envelope{
		V:       envelopeVersion,
		Purpose: purpose,
		KDF:     kdf,
		Salt:    make([]byte, 16),
		Nonce:   make([]byte, chacha20poly1305.NonceSizeX),
	}
	if _, err := rand.Read(env.Salt); err != nil {
		return nil, errors.Wrap(err, "read salt")
	}
	if _, err := rand.Read(env.Nonce); err != nil {
		return nil, errors.Wrap(err, "read nonce")
	}

	key, err := scrypt.Key([]byte(passphrase), env.Salt, kdf.N, kdf.R, kdf.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, errors.Wrap(err, "derive key")
	}
	defer memzero.Zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, errors.Wrap(err, "init aead")
	}
	env.Cipher = aead.Seal(nil, env.Nonce, raw, env.additionalData())
	return json.Marshal(env)
}

// open reverses seal. A purpose mismatch is reported as errWrongPassphrase.
func open(passphrase, purpose string, b []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, errors.Wrap(err, "decode envelope")
	}
	if env.V != envelopeVersion {
		return nil, errors.Errorf("unsupported envelope version %d", env.V)
	}
	if len(env.Nonce) != chacha20poly1305.NonceSizeX {
		return nil, errors.Errorf("envelope nonce is %d bytes", len(env.Nonce))
	}
	if env.Purpose != purpose {
		return nil, errWrongPassphrase
	}
	if err := env.KDF.validate(); err != nil {
		return nil, err
	}

	key, err := scrypt.Key([]byte(passphrase), env.Salt, env.KDF.N, env.KDF.R, env.KDF.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, errors.Wrap(err, "derive key")
	}
	defer memzero.Zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, errors.Wrap(err, "init aead")
	}
	pt, err := aead.Open(nil, env.Nonce, env.Cipher, env.additionalData())
	if err != nil {
		return nil, errWrongPassphrase
	}
	return pt, nil
}
