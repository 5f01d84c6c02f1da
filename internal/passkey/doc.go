// Package passkey drives WebAuthn registration and authentication ceremonies.
//
// Each ceremony's state lives in a durable single-use challenge record, not
// in memory, so any service instance can finish a ceremony another instance
// began. Challenges are consumed before cryptographic verification: a failed
// verification is final for that ceremony and the caller must begin a new
// one, which rules out online guessing against a fixed nonce.
package passkey
