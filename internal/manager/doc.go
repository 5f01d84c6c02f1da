// Package manager fronts the credential engines with lifecycle policy.
//
// It is the only surface transports talk to: it merges both factor types
// into one credential list, enforces the minimum-credential floor on
// removal, keeps the single-primary invariant, and throttles TOTP traffic
// per owner before any code is ever derived.
package manager
