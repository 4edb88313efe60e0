package password

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func fastConfig() Config {
	return Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func newHasher(t *testing.T) *Hasher {
	t.Helper()
	h, err := New(fastConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

func TestHashAndVerify(t *testing.T) {
	h := newHasher(t)
	encoded, err := h.Hash("correct horse")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", encoded)
	}

	ok, err := h.Verify("correct horse", encoded)
	if err != nil || !ok {
		t.Fatalf("expected match, got ok=%v err=%v", ok, err)
	}
	ok, err = h.Verify("wrong horse", encoded)
	if err != nil || ok {
		t.Fatalf("expected mismatch, got ok=%v err=%v", ok, err)
	}
}

func TestHashRejectsShortPassword(t *testing.T) {
	h := newHasher(t)
	if _, err := h.Hash("short"); !errors.Is(err, ErrTooShort) {
		t.Fatalf("expected ErrTooShort, got %v", err)
	}
}

func TestSaltIsRandom(t *testing.T) {
	h := newHasher(t)
	a, _ := h.Hash("same password")
	b, _ := h.Hash("same password")
	if a == b {
		t.Fatal("two hashes of one password must differ")
	}
}

func TestVerifyBcryptAndRequestRehash(t *testing.T) {
	h := newHasher(t)
	legacy, err := bcrypt.GenerateFromPassword([]byte("legacy password"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	ok, err := h.Verify("legacy password", string(legacy))
	if err != nil || !ok {
		t.Fatalf("expected bcrypt match, got ok=%v err=%v", ok, err)
	}
	ok, err = h.Verify("nope", string(legacy))
	if err != nil || ok {
		t.Fatalf("expected bcrypt mismatch, got ok=%v err=%v", ok, err)
	}
	if !h.NeedsRehash(string(legacy)) {
		t.Fatal("bcrypt hashes must be rehashed")
	}
}

func TestNeedsRehashOnWeakerParams(t *testing.T) {
	weak := newHasher(t)
	encoded, err := weak.Hash("upgrade me please")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	cfg := fastConfig()
	cfg.Time = 2
	strong, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !strong.NeedsRehash(encoded) {
		t.Fatal("expected weaker hash to need rehash")
	}
	if weak.NeedsRehash(encoded) {
		t.Fatal("hash made with current params must not need rehash")
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	h := newHasher(t)
	for _, enc := range []string{"", "plain", "$argon2i$v=19$m=8192,t=1,p=1$AAAA$BBBB", "$argon2id$v=19$m=1,t=1,p=1$AAAAAAAAAAAAAAAAAAAAAA$AAAA"} {
		if _, err := h.Verify("x", enc); !errors.Is(err, ErrUnknownFormat) {
			t.Fatalf("%q: expected ErrUnknownFormat, got %v", enc, err)
		}
	}
}

func TestNewValidatesConfig(t *testing.T) {
	cfg := fastConfig()
	cfg.Memory = 1024
	if _, err := New(cfg); err == nil {
		t.Fatal("expected low memory to be rejected")
	}
}
