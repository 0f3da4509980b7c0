// Package atlas holds the per-run atlas store: one fixed-shape record per
// atlas identifier, populated stage by stage during registration and pruned
// wholesale during outlier rejection.
//
// The record shape makes the stage lifecycle explicit in the type system:
// the Original stage is always present, the registered stages are nil until
// their registration completes. Stage data is append-only; the only mutation
// after a stage is written is deletion of an entire record from the set.
package atlas

import (
	"fmt"

	"cardiacatlas/pkg/registration"
	"cardiacatlas/pkg/volume"
)

// StageData is the image and structure labels belonging to one stage of one
// atlas. Structures is keyed by structure name and carries binary labels.
type StageData struct {
	Image      *volume.Volume
	Structures map[string]*volume.Volume
}

// RegisteredStage extends StageData with the transform that produced it.
// WeightMap is populated on the deformable stage only.
type RegisteredStage struct {
	StageData
	Transform registration.Transform
	WeightMap *volume.Volume
}

// Record is the fixed-shape per-atlas entry. Rigid and Deformable are nil
// until the corresponding registration stage has run; fusion reads only from
// records whose Deformable stage is present.
type Record struct {
	ID         string
	Original   StageData
	Rigid      *RegisteredStage
	Deformable *RegisteredStage
}

// Set is an ordered mapping from atlas identifier to record. Iteration order
// is insertion order, which the pipeline fixes to the configured atlas list
// so every run is deterministic. The identifier set only ever shrinks.
type Set struct {
	ids     []string
	records map[string]*Record
}

// NewSet returns an empty atlas set.
func NewSet() *Set {
	return &Set{records: make(map[string]*Record)}
}

// Add appends a record. Re-adding an existing identifier is an error: stage
// data is only ever appended through the record, never replaced via Add.
func (s *Set) Add(rec *Record) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("atlas set: record must carry an identifier")
	}
	if _, ok := s.records[rec.ID]; ok {
		return fmt.Errorf("atlas set: duplicate identifier %q", rec.ID)
	}
	s.ids = append(s.ids, rec.ID)
	s.records[rec.ID] = rec
	return nil
}

// Get returns the record for an identifier, or nil.
func (s *Set) Get(id string) *Record {
	return s.records[id]
}

// IDs returns the identifiers in insertion order. The slice is a copy.
func (s *Set) IDs() []string {
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

// Len returns the number of atlases currently in the set.
func (s *Set) Len() int {
	return len(s.ids)
}

// Remove deletes an atlas's entire record across all stages as a single
// atomic map-key removal. It reports whether the identifier was present.
func (s *Set) Remove(id string) bool {
	if _, ok := s.records[id]; !ok {
		return false
	}
	delete(s.records, id)
	for i, existing := range s.ids {
		if existing == id {
			s.ids = append(s.ids[:i], s.ids[i+1:]...)
			break
		}
	}
	return true
}
