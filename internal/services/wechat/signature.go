package wechat

import (
	"crypto/sha1"
	"crypto/subtle"
	"fmt"
	"sort"
	"strings"
)

// Signature computes the callback signature: sha1 over the dictionary-sorted
// concatenation of token, timestamp and nonce.
func Signature(token, timestamp, nonce string) string {
	parts := []string{token, timestamp, nonce}
	sort.Strings(parts)

	h := sha1.New()
	h.Write([]byte(strings.Join(parts, "")))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// VerifySignature checks a callback signature in constant time.
func VerifySignature(token, signature, timestamp, nonce string) bool {
	expected := Signature(token, timestamp, nonce)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
