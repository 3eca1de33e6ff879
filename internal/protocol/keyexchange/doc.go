// Package keyexchange establishes a conversation's session secret using only
// the participants' published public keys.
//
// # Overview
//
// The creator of a conversation draws a fresh 256-bit session secret and wraps
// it once per participant (itself included) with RSA-OAEP(SHA-256). The relay
// stores the resulting participant → wrapped-secret map as opaque base64 and
// never sees the secret itself. Each participant later recovers the secret
// from its own entry with its local private key.
//
// # Errors
//
// Wrap and Unwrap fail with domain ErrCryptoOperation (or ErrKeyFormat for
// empty handles). An unwrap failure means "no usable session secret"; callers
// degrade the conversation rather than abort.
package keyexchange
