// Package journal provides an undo log for call-atomic state changes.
//
// Every mutation appends the closure that reverses it. A caller takes a
// Snapshot before a unit of work and either Commits (drops the undo
// entries) or RevertToSnapshot (replays them newest first).
package journal

import "fmt"

// Journal is not safe for concurrent use; owners serialize access.
type Journal struct {
	entries []func()
}

// New creates an empty journal.
func New() *Journal {
	return &Journal{}
}

// Append records the undo action for a mutation that has just been applied.
func (j *Journal) Append(undo func()) {
	j.entries = append(j.entries, undo)
}

// Snapshot returns an id that RevertToSnapshot can roll back to.
func (j *Journal) Snapshot() int {
	return len(j.entries)
}

// RevertToSnapshot undoes every mutation recorded after the snapshot.
func (j *Journal) RevertToSnapshot(id int) {
	if id < 0 || id > len(j.entries) {
		panic(fmt.Sprintf("JOURNAL_INVALID_SNAPSHOT: %d (len %d)", id, len(j.entries)))
	}
	for i := len(j.entries) - 1; i >= id; i-- {
		j.entries[i]()
		j.entries[i] = nil
	}
	j.entries = j.entries[:id]
}

// Commit discards all undo entries.
func (j *Journal) Commit() {
	clear(j.entries)
	j.entries = j.entries[:0]
}

// Len returns the number of pending undo entries.
func (j *Journal) Len() int {
	return len(j.entries)
}

// Set assigns v to *ptr and journals the previous value.
func Set[T any](j *Journal, ptr *T, v T) {
	prev := *ptr
	*ptr = v
	j.Append(func() { *ptr = prev })
}

// SetKey assigns m[k] = v and journals the previous entry (or its absence).
func SetKey[K comparable, V any](j *Journal, m map[K]V, k K, v V) {
	prev, existed := m[k]
	m[k] = v
	j.Append(func() {
		if existed {
			m[k] = prev
		} else {
			delete(m, k)
		}
	})
}

// DeleteKey removes m[k] and journals its restoration.
func DeleteKey[K comparable, V any](j *Journal, m map[K]V, k K) {
	prev, existed := m[k]
	if !existed {
		return
	}
	delete(m, k)
	j.Append(func() { m[k] = prev })
}
