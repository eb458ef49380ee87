// Package ident generates the identifiers used across the app: user IDs
// stamped at signup and stable per-device IDs for the radio bridge.
package ident

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"
)

// RandomHex generates a random hexadecimal string of n bytes
func RandomHex(n int) (string, error) {
	bytes := make([]byte, n)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// NewUserID mints a user ID from the current millisecond timestamp,
// e.g. "user_1748292837465".
func NewUserID() string {
	return "user_" + strconv.FormatInt(time.Now().UnixMilli(), 10)
}

// NewDeviceID mints a random device identifier for the radio layer.
func NewDeviceID() string {
	id, err := RandomHex(6)
	if err != nil {
		// crypto/rand only fails when the OS entropy source is broken;
		// fall back to a timestamp so startup still succeeds.
		return "dev-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return "dev-" + id
}
