package dedup

import "testing"

func TestInOrderDeliverable(t *testing.T) {
	var w Window
	for seq := uint16(1); seq <= 10; seq++ {
		if !w.ShouldDeliver(seq) {
			t.Fatalf("seq %d should be deliverable", seq)
		}
		w.MarkDelivered(seq)
	}
}

func TestExactDuplicateRejected(t *testing.T) {
	var w Window
	w.MarkDelivered(5)
	if w.ShouldDeliver(5) {
		t.Fatalf("exact duplicate of head must be rejected")
	}
}

func TestOutOfOrderWithinWindowDeliverable(t *testing.T) {
	var w Window
	w.MarkDelivered(10)
	if !w.ShouldDeliver(7) {
		t.Fatalf("seq 7 behind head 10 but within window should be deliverable")
	}
	w.MarkDelivered(7)
	if w.ShouldDeliver(7) {
		t.Fatalf("seq 7 already delivered must be rejected on replay")
	}
}

func TestCheckDoesNotConsume(t *testing.T) {
	var w Window
	w.MarkDelivered(1)
	if !w.ShouldDeliver(2) {
		t.Fatalf("seq 2 should be deliverable")
	}
	// Checking again without marking must still report deliverable — this is
	// what allows a failed tap write to be retried from another link.
	if !w.ShouldDeliver(2) {
		t.Fatalf("ShouldDeliver must not mutate state")
	}
}

func TestOutOfWindowRejected(t *testing.T) {
	var w Window
	// A seq exactly windowBits away from head is equidistant in both
	// directions — neither "ahead" nor "behind" is the shorter path — and
	// must be rejected rather than guessed at.
	if w.ShouldDeliver(windowBits) {
		t.Fatalf("seq exactly windowBits away from head should be rejected as out of window")
	}
}

func TestReset(t *testing.T) {
	var w Window
	w.MarkDelivered(100)
	w.Reset()
	if !w.ShouldDeliver(1) {
		t.Fatalf("after reset, seq 1 should be deliverable again")
	}
	if !w.ShouldDeliver(100) {
		t.Fatalf("after reset, previously delivered seq should be deliverable again")
	}
}

func TestNoDuplicateAcrossManySends(t *testing.T) {
	var w Window
	delivered := make(map[uint16]int)
	// Simulate the same stream arriving twice, as if over two links.
	for pass := 0; pass < 2; pass++ {
		for seq := uint16(1); seq <= 1000; seq++ {
			if w.ShouldDeliver(seq) {
				w.MarkDelivered(seq)
				delivered[seq]++
			}
		}
	}
	for seq, n := range delivered {
		if n != 1 {
			t.Fatalf("seq %d delivered %d times, want 1", seq, n)
		}
	}
	if len(delivered) != 1000 {
		t.Fatalf("delivered %d distinct sequences, want 1000", len(delivered))
	}
}
