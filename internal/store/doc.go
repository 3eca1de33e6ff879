// Package store provides local persistence for cipherchat clients.
//
// KeyStore keeps device identity keypairs in an encrypted ekv store, keyed by
// the identifier the caller chooses (user id, or email before the relay has
// assigned one). ProfileFileStore keeps the last login profile on disk,
// sealed under the local passphrase. All methods are concurrency-safe via
// internal locking.
package store
