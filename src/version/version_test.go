package version

import (
	"strings"
	"testing"
)

func TestFullMentionsVersion(t *testing.T) {
	full := Full()

	if !strings.HasPrefix(full, "factsync "+Version) {
		t.Fatalf("unexpected version line: %s", full)
	}
	if !strings.Contains(full, "protocol 1") {
		t.Fatalf("protocol version missing: %s", full)
	}
}
