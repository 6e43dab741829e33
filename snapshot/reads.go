package snapshot

import (
	"github.com/holisticode/exec-tracer/stateread"
)

// FromReads builds the persisted form of a drained read recorder.
func FromReads(rec *stateread.Recorder) *File {
	reads := rec.Entries()
	f := &File{
		Version:    Version,
		BlockIndex: rec.Header().Index,
		Entries:    make([]Entry, 0, len(reads)),
	}
	for _, r := range reads {
		f.Entries = append(f.Entries, Entry{
			ContractHash: r.ContractHash,
			Key:          nilIfEmpty(r.Key),
			Value:        nilIfEmpty(r.Value),
			ReadOrder:    r.ReadOrder,
		})
	}
	return f
}
