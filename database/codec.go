package database

import (
	"encoding/json"

	"github.com/holisticode/exec-tracer/blocktrace"
	"github.com/holisticode/exec-tracer/snapshot"
)

// encodeTrace turns a trace into the stored column value: JSON, compressed the
// same way as snapshot payloads.
func encodeTrace(trace *blocktrace.TransactionTrace) ([]byte, error) {
	data, err := json.Marshal(trace)
	if err != nil {
		return nil, err
	}
	return snapshot.Compress(data), nil
}

func decodeTrace(data []byte) (*blocktrace.TransactionTrace, error) {
	raw, err := snapshot.Decompress(data)
	if err != nil {
		return nil, err
	}
	var trace blocktrace.TransactionTrace
	if err := json.Unmarshal(raw, &trace); err != nil {
		return nil, err
	}
	return &trace, nil
}
