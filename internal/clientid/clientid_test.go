package clientid

import (
	"strings"
	"testing"
	"time"
)

func TestGenerate_Format(t *testing.T) {
	key := Generate()
	if !strings.HasPrefix(key, GeneratedPrefix) {
		t.Errorf("expected %q prefix, got %s", GeneratedPrefix, key)
	}
	if !IsGenerated(key) {
		t.Errorf("generated key %q should match generated format", key)
	}
	if err := Validate(key); err != nil {
		t.Errorf("generated key should validate: %v", err)
	}
}

func TestGenerate_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		key := Generate()
		if seen[key] {
			t.Fatalf("duplicate generated key: %s", key)
		}
		seen[key] = true
	}
}

func TestIsGenerated_UserKeys(t *testing.T) {
	tests := []string{
		"",
		"my-order-1",
		"AT_",
		"AT_notanumber_9f8a6c2e",
		"AT_1724630400123_ZZZZZZZZ", // non-hex random part
		"strategy:btc:42",
	}
	for _, key := range tests {
		if IsGenerated(key) {
			t.Errorf("key %q should not be treated as generated", key)
		}
	}
}

func TestValidate(t *testing.T) {
	valid := []string{"a", "my-order-1", "strategy:btc:42", "AT_1724630400123_9f8a6c2e"}
	for _, key := range valid {
		if err := Validate(key); err != nil {
			t.Errorf("key %q should be valid: %v", key, err)
		}
	}

	invalid := []string{"", "has space", "has/slash", strings.Repeat("x", 65)}
	for _, key := range invalid {
		if err := Validate(key); err == nil {
			t.Errorf("expected error for key %q", key)
		}
	}
}

func TestGeneratedAt(t *testing.T) {
	before := time.Now().Add(-time.Second)
	key := Generate()
	after := time.Now().Add(time.Second)

	ts, err := GeneratedAt(key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.Before(before) || ts.After(after) {
		t.Errorf("embedded timestamp %v outside [%v, %v]", ts, before, after)
	}

	if _, err := GeneratedAt("my-order-1"); err == nil {
		t.Error("expected error for user-supplied key")
	}
}
