package store

import "github.com/emberdb/ember/lib/engine"

// --------------------------------------------------------------------------
// ChangeSet Type
// --------------------------------------------------------------------------

// ChangeSet describes what changed in a live view between the two versions a
// notification spans. Keys appear in ascending order. For an object view,
// Deleted is set when the backing row itself was removed; that callback is
// the final one, the object is invalid afterwards.
type ChangeSet struct {
	Insertions    []string
	Deletions     []string
	Modifications []string
	Deleted       bool
}

// IsEmpty reports whether the change set carries no changes at all.
func (cs ChangeSet) IsEmpty() bool {
	return !cs.Deleted &&
		len(cs.Insertions) == 0 &&
		len(cs.Deletions) == 0 &&
		len(cs.Modifications) == 0
}

// diffRows computes the change set between two query results. Both row sets
// are ordered by key, so a single merge walk suffices. A row counts as
// modified when its last-touched version differs between the two snapshots.
func diffRows(old, now engine.RowSet) ChangeSet {
	var cs ChangeSet
	i, j := 0, 0
	for i < len(old) && j < len(now) {
		switch {
		case old[i].Key == now[j].Key:
			if old[i].Version != now[j].Version {
				cs.Modifications = append(cs.Modifications, now[j].Key)
			}
			i++
			j++
		case old[i].Key < now[j].Key:
			cs.Deletions = append(cs.Deletions, old[i].Key)
			i++
		default:
			cs.Insertions = append(cs.Insertions, now[j].Key)
			j++
		}
	}
	for ; i < len(old); i++ {
		cs.Deletions = append(cs.Deletions, old[i].Key)
	}
	for ; j < len(now); j++ {
		cs.Insertions = append(cs.Insertions, now[j].Key)
	}
	return cs
}
