// ABOUTME: Tests for the backend output ring buffer
// ABOUTME: Verifies ordering, capacity bound and oldest-first eviction

package backend

import (
	"fmt"
	"testing"
)

func TestLogBuffer_OrderAndEviction(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		appends  int
		want     []string
	}{
		{"empty", 3, 0, []string{}},
		{"under capacity", 3, 2, []string{"line 0", "line 1"}},
		{"at capacity", 3, 3, []string{"line 0", "line 1", "line 2"}},
		{"overflow evicts oldest", 3, 5, []string{"line 2", "line 3", "line 4"}},
		{"zero capacity clamps to one", 0, 2, []string{"line 1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewLogBuffer(tt.capacity)
			for i := range tt.appends {
				b.Append(fmt.Sprintf("line %d", i))
			}
			got := b.Lines()
			if len(got) != len(tt.want) {
				t.Fatalf("Lines() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Lines()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
			if b.Len() > b.Cap() {
				t.Errorf("Len() = %d exceeds Cap() = %d", b.Len(), b.Cap())
			}
		})
	}
}

func TestLogBuffer_NeverExceedsCapacity(t *testing.T) {
	b := NewLogBuffer(1000)
	for i := range 2500 {
		b.Append(fmt.Sprintf("%d", i))
		if b.Len() > 1000 {
			t.Fatalf("Len() = %d after %d appends", b.Len(), i+1)
		}
	}
	lines := b.Lines()
	if lines[0] != "1500" || lines[len(lines)-1] != "2499" {
		t.Errorf("window = [%s, %s], want [1500, 2499]", lines[0], lines[len(lines)-1])
	}
}
