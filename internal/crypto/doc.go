// Package crypto exposes the primitives used by a nyx session.
//
// Contents
//
//   - X25519 ephemeral key pairs and key agreement (GenerateKeyPair, Agree)
//   - ChaCha20-Poly1305 sealing under the derived session key (SharedSecret.Seal/Open)
//   - A two-word short authentication string for out-of-band comparison (SharedSecret.SAS)
//   - Best-effort memory wiping for key material (Wipe)
//
// # Notes
//
// Key material lives only in process memory. Callers must call Wipe on
// KeyPair and SharedSecret when a session ends.
package crypto
