// Package storage defines the persistence contracts for credential state.
//
// Two classes of records exist: durable credentials and short-lived,
// single-use ceremony challenges (plus the pending TOTP enrollment holding
// area). All ceremony state lives in these records rather than in process
// memory, so the engines stay stateless between calls.
package storage
