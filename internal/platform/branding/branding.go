// Package branding centralizes product naming shared across surfaces.
package branding

// AppName is the product name used as the default WebAuthn relying-party
// display name and the TOTP provisioning issuer.
const AppName = "Quantauth"
