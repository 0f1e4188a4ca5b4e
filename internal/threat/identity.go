package threat

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
)

// salientDetailKeys are the detail fields that contribute to a threat's
// identity. Timestamps and volatile metrics (scores, resource usage) are
// deliberately excluded so that re-detecting the same ongoing condition in a
// later pass produces the same identity.
var salientDetailKeys = []string{
	DetailRemoteAddress,
	DetailPID,
	DetailProcessName,
	DetailUsername,
	DetailFilePath,
	DetailRule,
}

// Identity returns a stable key for deduplication and cooldown tracking:
// a hash over type, source, and the salient detail fields.
func (t Threat) Identity() string {
	h := sha256.New()
	io.WriteString(h, string(t.Type))
	io.WriteString(h, "\x00")
	io.WriteString(h, t.Source)
	for _, k := range salientDetailKeys {
		v, ok := t.Details[k]
		if !ok {
			continue
		}
		io.WriteString(h, "\x00")
		io.WriteString(h, k)
		io.WriteString(h, "=")
		io.WriteString(h, canonicalValue(v))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// StableID derives a readable threat ID from the identity. Probes may leave
// Threat.ID empty and let the detection registry assign it.
func (t Threat) StableID() string {
	id := t.Identity()
	typ := strings.ReplaceAll(string(t.Type), "_", "-")
	return typ + "-" + id[:12]
}

func canonicalValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []string:
		c := append([]string(nil), x...)
		sort.Strings(c)
		return strings.Join(c, ",")
	case float64:
		// JSON round-trips integers as float64; keep pids readable.
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%g", x)
	default:
		return fmt.Sprintf("%v", x)
	}
}
