// Package main runs the cipherchat relay: an in-memory account directory,
// conversation store and live message stream.
//
// The relay authenticates users and routes ciphertext. It never sees private
// keys, session secrets or the plaintext of encrypted messages; it stores the
// public keys users register and the wrapped session secrets chosen by the
// creator of each conversation.
//
// See package internal/relayserver for the HTTP and websocket API.
//
// Configuration
//
//	--listen     (CIPHERCHAT_RELAY_LISTEN, default :8080)
//	--log-level  (CIPHERCHAT_RELAY_LOG_LEVEL, default info)
//
// All state is held in memory and lost on process exit. Logs are JSON on
// stderr.
package main
