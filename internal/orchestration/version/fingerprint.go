package version

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// ComputeFingerprint hashes the translatable field set. Keys are sorted,
// values trimmed, empty values dropped and JSON values re-encoded in
// canonical key order, so reordering never changes the result.
func ComputeFingerprint(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	normalized := make(map[string]string, len(fields))
	for k, v := range fields {
		v = normalizeValue(v)
		if v == "" {
			continue
		}
		keys = append(keys, k)
		normalized[k] = v
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		// Length prefixes keep "ab"+"c" distinct from "a"+"bc".
		writeField(h, k)
		writeField(h, normalized[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h interface{ Write([]byte) (int, error) }, s string) {
	var lenBuf [8]byte
	n := uint64(len(s))
	for i := 0; i < 8; i++ {
		lenBuf[i] = byte(n >> (8 * i))
	}
	_, _ = h.Write(lenBuf[:])
	_, _ = h.Write([]byte(s))
}

func normalizeValue(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if v[0] != '{' && v[0] != '[' {
		return v
	}
	var parsed any
	if err := json.Unmarshal([]byte(v), &parsed); err != nil {
		return v
	}
	// encoding/json writes map keys in sorted order.
	canonical, err := json.Marshal(parsed)
	if err != nil {
		return v
	}
	return string(canonical)
}
