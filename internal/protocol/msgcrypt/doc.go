// Package msgcrypt seals individual chat messages under a conversation's
// session secret.
//
// Each call to Encrypt draws a fresh random 96-bit nonce and seals with
// ChaCha20-Poly1305. Nonces are never derived from content or counters.
// Decrypt fails closed: a flipped bit, a truncated ciphertext, a nonce of the
// wrong length or the wrong key all yield ErrDecryptionFailed and no
// plaintext.
//
// OpenMessage is the pipeline form used by the conversation controller. It
// never returns an error; a failure is reported as the DecryptionFailedText
// sentinel so one bad message cannot block the rest of a conversation.
package msgcrypt
