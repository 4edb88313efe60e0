package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"strings"
)

const (
	// APIKeyPrefix starts every API key secret.
	APIKeyPrefix = "key-"
	apiKeyBytes  = 32

	// BackupCodeAlphabet leaves out characters that are easy to misread.
	BackupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	BackupCodeLength   = 12
)

// NewAPIKey returns "key-" followed by 64 hex characters.
func NewAPIKey() (string, error) {
	var raw [apiKeyBytes]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return APIKeyPrefix + hex.EncodeToString(raw[:]), nil
}

// ValidAPIKey reports whether key has the API key shape.
func ValidAPIKey(key string) bool {
	if !strings.HasPrefix(key, APIKeyPrefix) || len(key) != len(APIKeyPrefix)+2*apiKeyBytes {
		return false
	}
	_, err := hex.DecodeString(key[len(APIKeyPrefix):])
	return err == nil
}

// NewBackupCode draws a BackupCodeLength code from BackupCodeAlphabet.
func NewBackupCode() (string, error) {
	var b strings.Builder
	b.Grow(BackupCodeLength)
	max := big.NewInt(int64(len(BackupCodeAlphabet)))
	for i := 0; i < BackupCodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(BackupCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// FormatBackupCode splits a code in two halves for display.
func FormatBackupCode(code string) string {
	mid := len(code) / 2
	return code[:mid] + "-" + code[mid:]
}

// CanonicalizeBackupCode uppercases and drops separators and whitespace.
func CanonicalizeBackupCode(code string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '-', r == ' ', r == '\t', r == '\n', r == '\r':
			return -1
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		}
		return r
	}, code)
}

// BackupCodeHash salts the canonical code with the user id.
func BackupCodeHash(userID, canonicalCode string) string {
	data := make([]byte, 0, len(userID)+1+len(canonicalCode))
	data = append(data, userID...)
	data = append(data, 0)
	data = append(data, canonicalCode...)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
