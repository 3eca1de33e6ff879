package types

// PortableKey is the publishable form of an identity public key: standard
// base64 of its PKIX DER encoding.
type PortableKey string

// String returns the encoded key.
func (k PortableKey) String() string { return string(k) }

// WrappedSecret is a session secret encrypted under one participant's public
// key, as standard base64. The relay stores it as an opaque string.
type WrappedSecret string

// String returns the encoded ciphertext.
func (w WrappedSecret) String() string { return string(w) }

// SessionSecret is the 256-bit symmetric key shared by a conversation's
// participants. It lives only in memory.
type SessionSecret [32]byte

// Slice returns the key as a []byte.
func (s *SessionSecret) Slice() []byte { return s[:] }
