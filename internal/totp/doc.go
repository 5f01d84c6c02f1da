// Package totp enrolls and verifies time-based one-time password seeds.
//
// A seed is never active straight out of setup: it sits in a pending
// enrollment until the owner proves possession by echoing a valid code.
// Seeds are sealed with an AEAD before they touch storage, and every
// accepted code records its time step so the same code cannot be replayed
// within its validity window.
package totp
