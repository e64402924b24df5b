// Package recording persists per-call decision records of a control
// session. A CSV backend writes one row per call for plain append-only
// logs; a SQLite backend batches the same records into a database for
// later analysis.
package recording

// Entry is one decision record. The controller appends one entry per
// control call, whether or not a state change happened on that call.
type Entry struct {
	Tag        uint64
	Rate       float64
	Power      float64
	StateIndex uint32
}

// Recorder is a backend that can record and store decision entries.
type Recorder interface {
	// Record appends one entry.
	Record(entry Entry)

	// Flush pushes all buffered entries to the underlying store.
	Flush()

	// Close flushes and releases the underlying store. The recorder is
	// unusable afterwards.
	Close()
}
