// Package api groups transport-facing service implementations.
//
// The httpapi subpackage carries the JSON HTTP surface; transports stay
// thin and delegate every decision to the credential manager.
package api
