package types

import "github.com/pkg/errors"

// Error kinds shared by the key store, the crypto engines and the services.
// Callers classify with errors.Is; producers wrap them with context.
var (
	// ErrStoreUnavailable is an I/O failure in the local key store.
	ErrStoreUnavailable = errors.New("key store unavailable")
	// ErrKeyFormat is malformed portable or stored key material.
	ErrKeyFormat = errors.New("malformed key material")
	// ErrCryptoOperation is a wrap, unwrap or encrypt failure.
	ErrCryptoOperation = errors.New("crypto operation failed")
	// ErrDecryptionFailed is a per-message authenticated decryption failure.
	ErrDecryptionFailed = errors.New("decryption failed")
	// ErrNoSessionSecret means the conversation has no usable session secret
	// for the local participant.
	ErrNoSessionSecret = errors.New("no session secret for this conversation")
	// ErrNoLocalKey means no identity keypair exists on this device for any
	// candidate identifier.
	ErrNoLocalKey = errors.New("no local identity keys on this device")
	// ErrNoPublicKey means a user has not published a public key.
	ErrNoPublicKey = errors.New("user has no public key")
	// ErrNoConversation means no conversation is selected.
	ErrNoConversation = errors.New("no conversation selected")
	// ErrSuperseded means a newer selection replaced an in-flight one.
	ErrSuperseded = errors.New("selection superseded")
)

// DecryptionFailedText is shown in place of content that could not be
// decrypted.
const DecryptionFailedText = "[decryption failed]"

// LockedText is shown in place of encrypted content when the conversation has
// no usable session secret.
const LockedText = "[encrypted: no key on this device]"
