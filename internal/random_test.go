package internal

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAPIKeyShape(t *testing.T) {
	a, err := NewAPIKey()
	require.NoError(t, err)
	b, err := NewAPIKey()
	require.NoError(t, err)

	assert.True(t, ValidAPIKey(a))
	assert.Len(t, a, len(APIKeyPrefix)+64)
	assert.NotEqual(t, a, b)
}

func TestValidAPIKeyRejects(t *testing.T) {
	good, err := NewAPIKey()
	require.NoError(t, err)

	for _, k := range []string{
		"",
		"key-",
		strings.TrimPrefix(good, APIKeyPrefix),
		good[:len(good)-1],
		good + "0",
		APIKeyPrefix + strings.Repeat("z", 64),
	} {
		assert.False(t, ValidAPIKey(k), k)
	}
}

func TestBackupCodeAlphabetAndFormat(t *testing.T) {
	code, err := NewBackupCode()
	require.NoError(t, err)
	require.Len(t, code, BackupCodeLength)
	for _, r := range code {
		assert.Contains(t, BackupCodeAlphabet, string(r))
	}

	display := FormatBackupCode(code)
	assert.Equal(t, code[:6]+"-"+code[6:], display)
	assert.Equal(t, code, CanonicalizeBackupCode(strings.ToLower(display)))
	assert.Equal(t, code, CanonicalizeBackupCode(" "+code[:3]+" "+code[3:]+"\n"))
}

func TestBackupCodeHashIsSaltedByUser(t *testing.T) {
	h1 := BackupCodeHash("u1", "ABCDEFGHJKLM")
	h2 := BackupCodeHash("u2", "ABCDEFGHJKLM")
	assert.NotEqual(t, h1, h2)
	assert.Equal(t, h1, BackupCodeHash("u1", "ABCDEFGHJKLM"))
	assert.Len(t, h1, 64)
}
