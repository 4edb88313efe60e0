package goTenant

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const totpSecretBytes = 20

var totpEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

type totpManager struct {
	config TwoFactorConfig
}

func newTOTPManager(cfg TwoFactorConfig) *totpManager {
	if cfg.Algorithm == "" {
		cfg.Algorithm = "SHA1"
	}
	return &totpManager{config: cfg}
}

// GenerateSecret returns a fresh base32 secret.
func (m *totpManager) GenerateSecret() (string, error) {
	raw := make([]byte, totpSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return totpEncoding.EncodeToString(raw), nil
}

func (m *totpManager) ProvisionURI(secret, account string) string {
	issuer := m.config.Issuer
	label := url.PathEscape(issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", issuer)
	v.Set("period", strconv.Itoa(m.config.Period))
	v.Set("digits", strconv.Itoa(m.config.Digits))
	v.Set("algorithm", strings.ToUpper(m.config.Algorithm))

	return "otpauth://totp/" + label + "?" + v.Encode()
}

// VerifyCode checks code against the steps within Skew of now and returns
// the matching counter.
func (m *totpManager) VerifyCode(secret, code string, now time.Time) (bool, int64, error) {
	if len(code) != m.config.Digits || !allDigits(code) {
		return false, 0, nil
	}
	key, err := decodeTOTPSecret(secret)
	if err != nil {
		return false, 0, err
	}

	current := now.Unix() / int64(m.config.Period)
	first := max(current-int64(m.config.Skew), 0)
	for counter := first; counter <= current+int64(m.config.Skew); counter++ {
		want, err := hotpCode(key, counter, m.config.Digits, m.config.Algorithm)
		if err != nil {
			return false, 0, err
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 {
			return true, counter, nil
		}
	}
	return false, 0, nil
}

// replayWindow is how long an accepted counter must be remembered.
func (m *totpManager) replayWindow() time.Duration {
	return time.Duration((2*m.config.Skew+1)*m.config.Period) * time.Second
}

// codeAt returns the code for the step containing t.
func (m *totpManager) codeAt(secret string, t time.Time) (string, error) {
	key, err := decodeTOTPSecret(secret)
	if err != nil {
		return "", err
	}
	return hotpCode(key, t.Unix()/int64(m.config.Period), m.config.Digits, m.config.Algorithm)
}

func decodeTOTPSecret(secret string) ([]byte, error) {
	key, err := totpEncoding.DecodeString(strings.ToUpper(strings.TrimRight(secret, "=")))
	if err != nil || len(key) == 0 {
		return nil, errors.New("invalid totp secret")
	}
	return key, nil
}

var digitsModulus = map[int]uint32{6: 1_000_000, 8: 100_000_000}

// hotpCode is RFC 4226 dynamic truncation over HMAC(key, counter).
func hotpCode(key []byte, counter int64, digits int, algorithm string) (string, error) {
	newHash, err := hmacFunc(algorithm)
	if err != nil {
		return "", err
	}
	mod, ok := digitsModulus[digits]
	if !ok {
		return "", fmt.Errorf("unsupported totp length %d", digits)
	}

	mac := hmac.New(newHash, key)
	_ = binary.Write(mac, binary.BigEndian, uint64(counter))
	sum := mac.Sum(nil)

	offset := int(sum[len(sum)-1] & 0x0f)
	value := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff
	return fmt.Sprintf("%0*d", digits, value%mod), nil
}

func hmacFunc(algorithm string) (func() hash.Hash, error) {
	switch strings.ToUpper(algorithm) {
	case "", "SHA1":
		return sha1.New, nil
	case "SHA256":
		return sha256.New, nil
	case "SHA512":
		return sha512.New, nil
	default:
		return nil, errors.New("unsupported totp algorithm")
	}
}

func allDigits(s string) bool {
	return s != "" && strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' }) < 0
}
