// Package sqlite implements credential persistence over SQLite.
//
// The single-use guarantees the engines rely on (ceremony consumption, sign
// counter advancement, TOTP step advancement, primary designation) are all
// implemented as single guarded statements or one transaction, so concurrent
// service instances sharing the file race safely.
package sqlite
