// Package httpapi exposes the credential manager over JSON HTTP.
//
// The transport is deliberately thin: decode, delegate, encode. Denied
// ceremonies and failed verifications all collapse to one undifferentiated
// 403 body so the API cannot be used to enumerate credentials.
package httpapi
