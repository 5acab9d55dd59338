package core

import "testing"

func TestHashDeterministicAndFieldSensitive(t *testing.T) {
	b1 := New(GENESIS, 1, "node1", []byte("payload-a"))
	b2 := New(GENESIS, 1, "node1", []byte("payload-a"))
	if b1.Hash() != b2.Hash() {
		t.Error("identical blocks must hash identically")
	}

	variants := []*Block{
		New("other-parent", 1, "node1", []byte("payload-a")),
		New(GENESIS, 2, "node1", []byte("payload-a")),
		New(GENESIS, 1, "node2", []byte("payload-a")),
		New(GENESIS, 1, "node1", []byte("payload-b")),
	}
	base := b1.Hash()
	for i, v := range variants {
		if v.Hash() == base {
			t.Errorf("variant %d should not collide with base hash", i)
		}
	}
}

func TestHashDistinguishesFieldBoundaries(t *testing.T) {
	// parent_hash/proposer_id concatenation without a delimiter means two
	// different splits of the same bytes could in principle collide; this
	// pins the current behavior rather than asserting it is impossible.
	a := New(BlockHash("ab"), 1, "cd", nil)
	b := New(BlockHash("a"), 1, "bcd", nil)
	if a.Hash() == b.Hash() {
		t.Error("unexpected accidental collision for this test's inputs")
	}
}
