// Package validation provides centralized input validation logic.
// This includes bucket name and object key validation, checks on the room and
// participant names that are interpolated into session keys, and chunk limits.
//
// All inputs are validated before a multipart transfer is opened so that a
// malformed key never reaches the store.
package validation
