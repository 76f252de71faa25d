package ratelimit

import (
	"strconv"
	"strings"
	"unicode/utf16"
)

// FingerprintHeader carries a client's advisory fingerprint to the relay.
const FingerprintHeader = "X-Client-Fingerprint"

// Fingerprint is the tuple a client hashes into its rate-limit key. It is
// stable per installation but trivially spoofable, so it only ever backs an
// advisory limit. Anything security-relevant keys on the network identity.
type Fingerprint struct {
	UserAgent      string
	Language       string
	ScreenWidth    int
	ScreenHeight   int
	TimezoneOffset int // minutes behind UTC, positive west of Greenwich
}

// Key hashes the fingerprint fields joined by "|".
func (f Fingerprint) Key() string {
	return Hash(strings.Join([]string{
		f.UserAgent,
		f.Language,
		strconv.Itoa(f.ScreenWidth),
		strconv.Itoa(f.ScreenHeight),
		strconv.Itoa(f.TimezoneOffset),
	}, "|"))
}

// Hash is a 32-bit rolling hash (h = h*31 + c) over the UTF-16 code units
// of s, returned as the decimal absolute value.
func Hash(s string) string {
	var h int32
	for _, c := range utf16.Encode([]rune(s)) {
		h = (h << 5) - h + int32(c)
	}
	abs := int64(h)
	if abs < 0 {
		abs = -abs
	}
	return strconv.FormatInt(abs, 10)
}
