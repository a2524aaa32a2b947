package version

import (
	"strconv"
	"strings"
	"testing"
)

func TestCurrent(t *testing.T) {
	parts := strings.Split(Current, ".")
	if len(parts) != 3 {
		t.Fatalf("Current=%q: want <major>.<minor>.<patch> with no v prefix", Current)
	}
	for _, p := range parts {
		if _, err := strconv.ParseUint(p, 10, 32); err != nil {
			t.Fatalf("Current=%q: segment %q is not a number", Current, p)
		}
	}
}
