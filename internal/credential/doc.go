// Package credential defines the domain model for second-factor credentials.
//
// A credential is either a WebAuthn passkey (public-key material plus a
// clone-detection sign counter) or a TOTP secret. The two payload shapes are
// mutually exclusive per type; verification logic for each kind lives in the
// passkey and totp packages.
package credential
