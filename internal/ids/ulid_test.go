package ids

import (
	"testing"

	"github.com/oklog/ulid/v2"
)

func TestNewSessionIDIsSortableAndUnique(t *testing.T) {
	prev := ""
	for i := 0; i < 64; i++ {
		id := NewSessionID()
		if _, err := ulid.Parse(id); err != nil {
			t.Fatalf("invalid ulid %q: %v", id, err)
		}
		if id <= prev {
			t.Fatalf("ids not monotonic: %q after %q", id, prev)
		}
		prev = id
	}
}
