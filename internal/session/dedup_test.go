package session

import "testing"

func TestDedupTakeOwn(t *testing.T) {
	d := newDedupSet()
	d.add("m1")

	if !d.takeOwn("m1") {
		t.Fatal("first echo of own ID must be recognized")
	}
	if !d.takeOwn("m1") {
		t.Fatal("repeat echo of own ID must still be dropped")
	}
	if d.takeOwn("other") {
		t.Fatal("foreign ID must not be claimed")
	}
}

func TestDedupUnechoedIDsAreHarmless(t *testing.T) {
	d := newDedupSet()
	d.add("never-echoed")

	// No echo ever arrives; the entry just sits there. Other IDs are
	// unaffected.
	if d.takeOwn("some-inbound") {
		t.Fatal("unrelated inbound ID claimed")
	}
}
