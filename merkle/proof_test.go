package merkle

import (
	"reflect"
	"testing"
)

func TestProofEmpty(t *testing.T) {
	proof := &Proof[int32]{LeavesCount: 0}

	if _, ok := proof.Root(dummyMerge{}); ok {
		t.Error("proof over zero leaves should have no root")
	}
}

func TestProofOne(t *testing.T) {
	proof := &Proof[int32]{
		Leaves:      []ProofLeaf[int32]{{Index: 0, Item: 1}},
		LeavesCount: 1,
	}

	root, ok := proof.Root(dummyMerge{})
	if !ok || root != 1 {
		t.Errorf("Root() = %d, %v, want 1, true", root, ok)
	}
}

func TestProofExtraLemma(t *testing.T) {
	proof := &Proof[int32]{
		Leaves:      []ProofLeaf[int32]{{Index: 0, Item: 1}},
		Lemmas:      []int32{1},
		LeavesCount: 1,
	}

	if _, ok := proof.Root(dummyMerge{}); ok {
		t.Error("an unconsumed lemma should invalidate the proof")
	}
}

func TestProofMissingLemma(t *testing.T) {
	// proving leaf 1 of 2 requires its sibling as a lemma
	proof := &Proof[int32]{
		Leaves:      []ProofLeaf[int32]{{Index: 1, Item: 1}},
		LeavesCount: 2,
	}

	if _, ok := proof.Root(dummyMerge{}); ok {
		t.Error("a missing lemma should invalidate the proof")
	}
}

func TestProofLeafIndexOutOfRange(t *testing.T) {
	proof := &Proof[int32]{
		Leaves:      []ProofLeaf[int32]{{Index: 2, Item: 1}},
		Lemmas:      []int32{5},
		LeavesCount: 2,
	}

	if _, ok := proof.Root(dummyMerge{}); ok {
		t.Error("a leaf index beyond the leaf count should invalidate the proof")
	}
}

// Hand-checkable six-leaf case:
//
//	nodes:  [ 1,  0,  1,  2,  2,  2,  3,  5,  7, 11, 13]
//	        [B0, B1, B2, B3, B4, T0, T1, T2, T3, T4, T5]
//
// proving [T0, T5] needs exactly [T4, T1, B3].
func TestProofTwoOfSix(t *testing.T) {
	proof := &Proof[int32]{
		Leaves:      []ProofLeaf[int32]{{Index: 0, Item: 2}, {Index: 5, Item: 13}},
		Lemmas:      []int32{11, 3, 2},
		LeavesCount: 6,
	}

	root, ok := proof.Root(dummyMerge{})
	if !ok || root != 1 {
		t.Errorf("Root() = %d, %v, want 1, true", root, ok)
	}
}

func TestGetProofTwoOfSix(t *testing.T) {
	tree := NewTree[int32](dummyMerge{}, []int32{2, 3, 5, 7, 11, 13})

	proof, err := tree.GetProof([]int{0, 5})
	if err != nil {
		t.Fatalf("GetProof failed: %v", err)
	}

	wantLeaves := []ProofLeaf[int32]{{Index: 0, Item: 2}, {Index: 5, Item: 13}}
	if !reflect.DeepEqual(proof.Leaves, wantLeaves) {
		t.Errorf("Leaves = %v, want %v", proof.Leaves, wantLeaves)
	}
	if !reflect.DeepEqual(proof.Lemmas, []int32{11, 3, 2}) {
		t.Errorf("Lemmas = %v, want [11 3 2]", proof.Lemmas)
	}
	if proof.LeavesCount != 6 {
		t.Errorf("LeavesCount = %d, want 6", proof.LeavesCount)
	}

	root, ok := proof.Root(dummyMerge{})
	if !ok || root != 1 {
		t.Errorf("Root() = %d, %v, want 1, true", root, ok)
	}
}

func TestGetProofAllLeaves(t *testing.T) {
	tree := NewTree[int32](dummyMerge{}, []int32{2, 3, 5, 7})

	proof, err := tree.GetProof([]int{0, 1, 2, 3})
	if err != nil {
		t.Fatalf("GetProof failed: %v", err)
	}
	if len(proof.Lemmas) != 0 {
		t.Errorf("proving every leaf should need no lemmas, got %d", len(proof.Lemmas))
	}

	root, ok := proof.Root(dummyMerge{})
	treeRoot, _ := tree.Root()
	if !ok || root != treeRoot {
		t.Errorf("Root() = %d, %v, want %d, true", root, ok, treeRoot)
	}
}

func TestGetProofRejectsBadSelection(t *testing.T) {
	tree := NewTree[int32](dummyMerge{}, []int32{2, 3, 5})

	if _, err := tree.GetProof(nil); err == nil {
		t.Error("an empty selection should fail")
	}
	if _, err := tree.GetProof([]int{3}); err == nil {
		t.Error("a leaf index beyond the leaf count should fail")
	}
}

func TestProofRejectsTamperedLeaf(t *testing.T) {
	tree := NewTree[int32](dummyMerge{}, []int32{2, 3, 5, 7, 11, 13})

	proof, err := tree.GetProof([]int{2})
	if err != nil {
		t.Fatalf("GetProof failed: %v", err)
	}

	proof.Leaves[0].Item++
	root, ok := proof.Root(dummyMerge{})
	treeRoot, _ := tree.Root()
	if ok && root == treeRoot {
		t.Error("a tampered leaf should not reproduce the tree root")
	}
}
