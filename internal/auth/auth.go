// Copyright 2026 The ZTeraDB Go Client Authors.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package auth computes the nonce and request tokens exchanged during the
// connection handshake. A request token is the hex SHA-256 digest of the
// secret key followed by the nonce, so the secret itself never crosses the
// wire.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// NewNonce returns a fresh random nonce.
func NewNonce() (string, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("cannot generate nonce: %w", err)
	}
	sum := sha256.Sum256(u[:])
	return hex.EncodeToString(sum[:]), nil
}

// Token returns the request token for secret and nonce.
func Token(secret, nonce string) string {
	sum := sha256.Sum256([]byte(secret + nonce))
	return hex.EncodeToString(sum[:])
}

// Verify reports whether token was computed from secret and nonce.
func Verify(secret, nonce, token string) bool {
	want := Token(secret, nonce)
	return subtle.ConstantTimeCompare([]byte(want), []byte(token)) == 1
}
