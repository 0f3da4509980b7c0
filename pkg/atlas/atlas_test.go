package atlas

import (
	"testing"

	"cardiacatlas/pkg/volume"
)

func record(id string) *Record {
	return &Record{
		ID: id,
		Original: StageData{
			Image:      volume.New(2, 2, 2),
			Structures: map[string]*volume.Volume{"WHOLEHEART": volume.New(2, 2, 2)},
		},
	}
}

func TestSetPreservesInsertionOrder(t *testing.T) {
	set := NewSet()
	order := []string{"14", "08", "11"}
	for _, id := range order {
		if err := set.Add(record(id)); err != nil {
			t.Fatalf("adding %s: %v", id, err)
		}
	}

	ids := set.IDs()
	if len(ids) != len(order) {
		t.Fatalf("got %d ids, want %d", len(ids), len(order))
	}
	for i, id := range order {
		if ids[i] != id {
			t.Fatalf("position %d: got %s, want %s", i, ids[i], id)
		}
	}
}

func TestSetRejectsDuplicatesAndEmptyIDs(t *testing.T) {
	set := NewSet()
	if err := set.Add(record("08")); err != nil {
		t.Fatalf("first add failed: %v", err)
	}
	if err := set.Add(record("08")); err == nil {
		t.Fatal("duplicate identifier should fail")
	}
	if err := set.Add(&Record{}); err == nil {
		t.Fatal("empty identifier should fail")
	}
	if set.Len() != 1 {
		t.Fatalf("failed adds changed the set: len %d", set.Len())
	}
}

func TestRemoveDeletesWholeRecord(t *testing.T) {
	set := NewSet()
	for _, id := range []string{"08", "11", "12"} {
		if err := set.Add(record(id)); err != nil {
			t.Fatalf("adding %s: %v", id, err)
		}
	}

	if !set.Remove("11") {
		t.Fatal("removing a present id should report true")
	}
	if set.Remove("11") {
		t.Fatal("removing an absent id should report false")
	}
	if set.Get("11") != nil {
		t.Fatal("removed record still retrievable")
	}

	ids := set.IDs()
	if len(ids) != 2 || ids[0] != "08" || ids[1] != "12" {
		t.Fatalf("order broken after removal: %v", ids)
	}
}

func TestIDsReturnsACopy(t *testing.T) {
	set := NewSet()
	if err := set.Add(record("08")); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	ids := set.IDs()
	ids[0] = "mutated"
	if set.IDs()[0] != "08" {
		t.Fatal("mutating the returned slice changed the set")
	}
}
