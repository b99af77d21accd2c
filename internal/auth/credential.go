// Package auth holds the connection credential and its on-disk persistence.
//
// The store mirrors the browser's local storage: a flat string key/value map in a
// single JSON file, with the bearer token under the fixed key "token".
package auth

import (
	"errors"
	"strings"
)

// Storage keys.
const (
	KeyToken  = "token"
	KeyUserID = "user_id"
)

// ErrNoCredential is returned when the store holds no token.
var ErrNoCredential = errors.New("no credential stored")

// Credential is the bearer token identifying an authenticated session, plus the
// user id used to address the per-user room.
type Credential struct {
	Token  string
	UserID string
}

// Valid reports whether the credential may be used to open a connection.
func (c Credential) Valid() bool {
	return c.Token != ""
}

// Room returns the per-user broadcast room, or "" when the user is unknown.
func (c Credential) Room() string {
	if c.UserID == "" {
		return ""
	}
	return "user_" + c.UserID
}

// String redacts the token so credentials are safe to log.
func (c Credential) String() string {
	if c.Token == "" {
		return "<none>"
	}
	tail := c.Token
	if len(tail) > 4 {
		tail = tail[len(tail)-4:]
	}
	return "user=" + c.UserID + " token=" + strings.Repeat("*", 4) + tail
}
