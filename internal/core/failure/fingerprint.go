package failure

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var (
	uuidPattern   = regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	hexPattern    = regexp.MustCompile(`0x[0-9a-f]+|\b[0-9a-f]{16,}\b`)
	digitsPattern = regexp.MustCompile(`\d+`)
	spacePattern  = regexp.MustCompile(`\s+`)
)

// NormalizeMessage masks volatile parts of an error message (ids, numbers,
// whitespace) so that repeated occurrences of one error compare equal.
func NormalizeMessage(msg string) string {
	s := strings.ToLower(msg)
	s = uuidPattern.ReplaceAllString(s, "<id>")
	s = hexPattern.ReplaceAllString(s, "<hex>")
	s = digitsPattern.ReplaceAllString(s, "<n>")
	s = spacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Fingerprint is a stable hash of code and normalized message.
func Fingerprint(code, msg string) string {
	h := sha256.Sum256([]byte(code + "|" + NormalizeMessage(msg)))
	return hex.EncodeToString(h[:16])
}
