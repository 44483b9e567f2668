package pii

import "sort"

// Merge combines pattern detector output with model-supplied entities into
// one ascending, non-overlapping list.
//
// Pattern entities are always admitted: they are exact regex hits with
// maximal confidence. A model entity is admitted only when its span
// intersects no already-admitted span, so pattern spans win every conflict
// regardless of the model's confidence.
func Merge(patternEntities, modelEntities []Entity) []Entity {
	merged := make([]Entity, 0, len(patternEntities)+len(modelEntities))
	merged = append(merged, patternEntities...)

	for _, candidate := range modelEntities {
		conflict := false
		for _, admitted := range merged {
			if candidate.Overlaps(admitted) {
				conflict = true
				break
			}
		}
		if !conflict {
			merged = append(merged, candidate)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Start < merged[j].Start
	})

	return merged
}
