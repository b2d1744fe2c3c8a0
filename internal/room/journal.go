package room

// journalCapacity bounds the undo/redo stack; older entries are discarded.
const journalCapacity = 50

// Journal is a bounded stack of whole-state snapshots. There is no operation
// merging here: undo/redo simply restores a prior snapshot, which is the
// design this system settled on instead of chasing a true OT/CRDT merge.
type Journal struct {
	history []*RoomState
	future  []*RoomState
}

// NewJournal returns an empty journal.
func NewJournal() *Journal {
	return &Journal{}
}

// Push records state as the point to return to on the next Undo, and clears
// any pending redo history (a new edit invalidates the old future).
func (j *Journal) Push(state *RoomState) {
	j.history = append(j.history, state.Clone())
	if len(j.history) > journalCapacity {
		j.history = j.history[len(j.history)-journalCapacity:]
	}
	j.future = nil
}

// Undo pops the most recent snapshot off history and pushes current onto
// future, returning the snapshot to restore. ok is false if history is
// empty.
func (j *Journal) Undo(current *RoomState) (*RoomState, bool) {
	if len(j.history) == 0 {
		return nil, false
	}
	prev := j.history[len(j.history)-1]
	j.history = j.history[:len(j.history)-1]
	j.future = append(j.future, current.Clone())
	if len(j.future) > journalCapacity {
		j.future = j.future[len(j.future)-journalCapacity:]
	}
	return prev, true
}

// Redo pops the most recent snapshot off future and pushes current onto
// history, returning the snapshot to restore. ok is false if future is
// empty.
func (j *Journal) Redo(current *RoomState) (*RoomState, bool) {
	if len(j.future) == 0 {
		return nil, false
	}
	next := j.future[len(j.future)-1]
	j.future = j.future[:len(j.future)-1]
	j.history = append(j.history, current.Clone())
	if len(j.history) > journalCapacity {
		j.history = j.history[len(j.history)-journalCapacity:]
	}
	return next, true
}
