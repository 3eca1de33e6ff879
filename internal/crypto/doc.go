// Package crypto exposes the asymmetric primitives used by cipherchat.
//
// Contents
//
//   - RSA-OAEP identity keypairs: generation, role-restricted handles and
//     OAEP(SHA-256) encrypt/decrypt (GenerateIdentityKeyPair, PublicKey,
//     PrivateKey)
//   - Portable public-key form (base64 PKIX DER) and the local storage form
//     of a keypair (ExportPublicKey, ImportPublicKey, ImportPrivateKey,
//     MarshalKeyPair, UnmarshalKeyPair)
//   - Short public-key fingerprints for display (Fingerprint)
//   - Base64 helpers used by the wire formats (B64, FromB64)
//
// # Roles
//
// A PublicKey can only encrypt and a PrivateKey can only decrypt. Importing a
// portable key with the public role therefore yields a handle that cannot be
// used to unwrap anything.
package crypto
