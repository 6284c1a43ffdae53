package crypto

import (
	"bytes"
	"errors"
	"testing"
)

// cheap parameters keep the tests fast
var testParams = Params{Time: 1, Memory: 1024, Threads: 1}

func TestEncryptDecrypt(t *testing.T) {
	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt: %v", err)
	}
	key, err := DeriveKey("correct horse", salt, testParams)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}

	plaintext := []byte(`{"version":1,"events":[]}`)
	ct, err := Encrypt(key, plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Contains(ct, []byte("version")) {
		t.Fatal("ciphertext leaks plaintext")
	}

	got, err := Decrypt(key, ct)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round-trip mismatch: got %q, want %q", got, plaintext)
	}
}

func TestDecryptWrongPassphrase(t *testing.T) {
	salt, _ := NewSalt()
	key1, _ := DeriveKey("one", salt, testParams)
	key2, _ := DeriveKey("two", salt, testParams)

	ct, err := Encrypt(key1, []byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := Decrypt(key2, ct); !errors.Is(err, ErrWrongPassphrase) {
		t.Fatalf("Decrypt with wrong key: got %v, want ErrWrongPassphrase", err)
	}

	ct[len(ct)-1] ^= 0xff
	if _, err := Decrypt(key1, ct); !errors.Is(err, ErrWrongPassphrase) {
		t.Fatalf("Decrypt tampered: got %v, want ErrWrongPassphrase", err)
	}
}

func TestDeriveKeyDeterministic(t *testing.T) {
	salt := bytes.Repeat([]byte{7}, SaltLen)
	a, err := DeriveKey("pass", salt, testParams)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	b, _ := DeriveKey("pass", salt, testParams)
	if !bytes.Equal(a, b) {
		t.Fatal("same inputs produced different keys")
	}
	c, _ := DeriveKey("pass", bytes.Repeat([]byte{8}, SaltLen), testParams)
	if bytes.Equal(a, c) {
		t.Fatal("different salts produced the same key")
	}
}

func TestDeriveKeyRejects(t *testing.T) {
	salt := bytes.Repeat([]byte{1}, SaltLen)
	if _, err := DeriveKey("", salt, testParams); err == nil {
		t.Error("empty passphrase accepted")
	}
	if _, err := DeriveKey("x", salt[:4], testParams); err == nil {
		t.Error("short salt accepted")
	}
	if _, err := DeriveKey("x", salt, Params{}); err == nil {
		t.Error("zero params accepted")
	}
}

func TestParamsValidate(t *testing.T) {
	for _, p := range []Params{DefaultParams(), testParams, {Time: MaxTime, Memory: MaxMemory, Threads: MaxThreads}} {
		if err := p.Validate(); err != nil {
			t.Errorf("%+v rejected: %v", p, err)
		}
	}

	bad := []Params{
		{Time: 1 << 24, Memory: 8, Threads: 1},
		{Time: 1, Memory: MaxMemory + 1, Threads: 1},
		{Time: 1, Memory: 1024, Threads: MaxThreads + 1},
		{Time: 1, Memory: 16, Threads: 4},
		{Time: 0, Memory: 1024, Threads: 1},
	}
	salt := bytes.Repeat([]byte{1}, SaltLen)
	for _, p := range bad {
		if err := p.Validate(); !errors.Is(err, ErrParams) {
			t.Errorf("%+v: got %v, want ErrParams", p, err)
		}
		if _, err := DeriveKey("x", salt, p); !errors.Is(err, ErrParams) {
			t.Errorf("DeriveKey %+v: got %v, want ErrParams", p, err)
		}
	}
}

func TestDecryptShortCiphertext(t *testing.T) {
	key := bytes.Repeat([]byte{1}, keyLen)
	if _, err := Decrypt(key, []byte("short")); err == nil {
		t.Fatal("expected error for short ciphertext")
	}
	if _, err := Encrypt(key[:5], nil); err == nil {
		t.Fatal("expected error for short key")
	}
}
