// Package clientid handles client order id (idempotency key) generation,
// parsing, and validation. A client order id identifies one logical order
// across retries: the caller may supply its own, or the engine generates
// one with a recognizable AT_ prefix so auto-generated keys are always
// distinguishable from user-supplied keys.
package clientid

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// GeneratedPrefix marks engine-generated client order ids.
const GeneratedPrefix = "AT_"

// generatedRegex matches: AT_{unix-millis}_{8-hex-random}
// Example: AT_1724630400123_9f8a6c2e
var generatedRegex = regexp.MustCompile(`^AT_(\d{10,16})_([0-9a-f]{8})$`)

// validKeyRegex bounds user-supplied keys to a safe charset and length.
var validKeyRegex = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,64}$`)

var (
	ErrInvalidKey = errors.New("clientid: invalid client order id")
)

// Generate produces a collision-resistant generated key: a millisecond
// timestamp plus a random component.
func Generate() string {
	buf := make([]byte, 4)
	rand.Read(buf)
	return fmt.Sprintf("%s%d_%s", GeneratedPrefix, time.Now().UnixMilli(), hex.EncodeToString(buf))
}

// IsGenerated reports whether key carries the engine's generated format.
func IsGenerated(key string) bool {
	return generatedRegex.MatchString(key)
}

// Validate checks that a key (user-supplied or generated) is usable as an
// idempotency key. Empty keys are invalid — callers generate instead.
func Validate(key string) error {
	if !validKeyRegex.MatchString(key) {
		return fmt.Errorf("%w: %q (want 1-64 chars of [A-Za-z0-9_.:-])", ErrInvalidKey, key)
	}
	return nil
}

// GeneratedAt extracts the embedded timestamp from a generated key.
func GeneratedAt(key string) (time.Time, error) {
	matches := generatedRegex.FindStringSubmatch(key)
	if matches == nil {
		return time.Time{}, fmt.Errorf("%w: %q is not a generated key", ErrInvalidKey, key)
	}
	millis, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return time.UnixMilli(millis), nil
}
