package service

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const maxKeyNameBytes = 128

// BuildStorageKey derives the blob key for an upload:
// {ownerId}/{unixMillis}-{nonce}-{name}. The nonce makes two uploads of the
// same name in the same millisecond land on different keys.
func BuildStorageKey(ownerID, name string, at time.Time, nonce string) string {
	return fmt.Sprintf("%s/%d-%s-%s",
		keySegment(ownerID, "owner"),
		at.UnixMilli(),
		nonce,
		keySegment(name, "file"),
	)
}

// keySegment strips path separators and control characters so a segment
// can never escape its prefix, and caps its length.
func keySegment(s, fallback string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\':
			return '_'
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, strings.TrimSpace(s))
	clean = strings.Trim(clean, ".")
	if len(clean) > maxKeyNameBytes {
		cut := maxKeyNameBytes
		for cut > 0 && !utf8.RuneStart(clean[cut]) {
			cut--
		}
		clean = clean[:cut]
	}
	if clean == "" {
		return fallback
	}
	return clean
}
