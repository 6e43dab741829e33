package blocktrace

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/atomic"
)

// CallHandle identifies a recorded contract call so it can be completed later.
type CallHandle int

// InvalidCallHandle is returned while recording is disabled.
const InvalidCallHandle CallHandle = -1

// TransactionStats summarizes one transaction's trace.
type TransactionStats struct {
	TotalGasConsumed  int64 `json:"totalGasConsumed"`  //nolint:tagliatelle
	OpCodeCount       int   `json:"opcodeCount"`       //nolint:tagliatelle
	SyscallCount      int   `json:"syscallCount"`      //nolint:tagliatelle
	ContractCallCount int   `json:"contractCallCount"` //nolint:tagliatelle
	StorageWriteCount int   `json:"storageWriteCount"` //nolint:tagliatelle
	NotificationCount int   `json:"notificationCount"` //nolint:tagliatelle
	FailedCallCount   int   `json:"failedCallCount"`   //nolint:tagliatelle
	MaxCallDepth      int   `json:"maxCallDepth"`      //nolint:tagliatelle
}

// TransactionRecorder collects the trace of a single transaction. It is owned
// by the goroutine executing the transaction and is not safe for concurrent
// recording; only the enabled flag may be flipped from elsewhere.
type TransactionRecorder struct {
	BlockIndex uint32
	TxHash     common.Hash

	position uint64
	enabled  *atomic.Bool
	// shared is the tracer wide switch, nil for a standalone recorder
	shared    *atomic.Bool
	nextOrder uint64
	totalGas  int64

	opcodes       []OpCodeEntry
	syscalls      []SyscallEntry
	calls         []ContractCallEntry
	writes        []StorageWriteEntry
	notifications []NotificationEntry
}

func NewTransactionRecorder(blockIndex uint32, txHash common.Hash, enabled bool) *TransactionRecorder {
	return &TransactionRecorder{
		BlockIndex: blockIndex,
		TxHash:     txHash,
		enabled:    atomic.NewBool(enabled),
	}
}

// newSharedTransactionRecorder returns a recorder that also stops recording
// whenever shared is false.
func newSharedTransactionRecorder(blockIndex uint32, txHash common.Hash, shared *atomic.Bool) *TransactionRecorder {
	rec := NewTransactionRecorder(blockIndex, txHash, true)
	rec.shared = shared
	return rec
}

func (r *TransactionRecorder) SetEnabled(enabled bool) {
	r.enabled.Store(enabled)
}

// IsEnabled is read on every recording call, so a toggle takes effect between
// two callbacks of a running transaction.
func (r *TransactionRecorder) IsEnabled() bool {
	return r.enabled.Load() && (r.shared == nil || r.shared.Load())
}

func (r *TransactionRecorder) TotalGasConsumed() int64 {
	return r.totalGas
}

func (r *TransactionRecorder) next() uint64 {
	o := r.nextOrder
	r.nextOrder++
	return o
}

func (r *TransactionRecorder) RecordOpCode(contract common.Address, ip int, opcode byte, name string, operand []byte, gas int64, stackDepth int) {
	if !r.IsEnabled() {
		return
	}
	r.opcodes = append(r.opcodes, OpCodeEntry{
		Order:              r.next(),
		ContractHash:       contract,
		InstructionPointer: ip,
		OpCode:             opcode,
		OpCodeName:         name,
		Operand:            bytes.Clone(operand),
		GasConsumed:        gas,
		StackDepth:         stackDepth,
	})
	r.totalGas += gas
}

func (r *TransactionRecorder) RecordSyscall(contract common.Address, id uint32, name string, gas int64) {
	if !r.IsEnabled() {
		return
	}
	r.syscalls = append(r.syscalls, SyscallEntry{
		Order:        r.next(),
		ContractHash: contract,
		SyscallID:    id,
		SyscallName:  name,
		GasConsumed:  gas,
	})
}

// RecordContractCall records the start of a call. The returned handle must be
// passed to CompleteContractCall once the call returns.
func (r *TransactionRecorder) RecordContractCall(caller *common.Address, callee common.Address, method string, depth int) CallHandle {
	if !r.IsEnabled() {
		return InvalidCallHandle
	}
	var c *common.Address
	if caller != nil {
		cp := *caller
		c = &cp
	}
	r.calls = append(r.calls, ContractCallEntry{
		Order:      r.next(),
		CallerHash: c,
		CalleeHash: callee,
		MethodName: method,
		CallDepth:  depth,
	})
	return CallHandle(len(r.calls) - 1)
}

// CompleteContractCall fills gas and outcome of a recorded call. Invalid or
// already completed handles are ignored.
func (r *TransactionRecorder) CompleteContractCall(h CallHandle, gas int64, success bool) {
	if h < 0 || int(h) >= len(r.calls) {
		return
	}
	c := &r.calls[h]
	if c.Completed {
		return
	}
	c.GasConsumed = gas
	c.Success = success
	c.Completed = true
}

func (r *TransactionRecorder) RecordStorageWrite(contractID int32, contract common.Address, key, oldValue, newValue []byte, isDelete bool) {
	if !r.IsEnabled() {
		return
	}
	r.writes = append(r.writes, StorageWriteEntry{
		Order:        r.next(),
		ContractID:   contractID,
		ContractHash: contract,
		Key:          bytes.Clone(key),
		OldValue:     bytes.Clone(oldValue),
		NewValue:     bytes.Clone(newValue),
		IsDelete:     isDelete,
	})
}

func (r *TransactionRecorder) RecordNotification(contract common.Address, eventName string, state json.RawMessage) {
	if !r.IsEnabled() {
		return
	}
	r.notifications = append(r.notifications, NotificationEntry{
		Order:        r.next(),
		ContractHash: contract,
		EventName:    eventName,
		State:        state,
	})
}

func (r *TransactionRecorder) OpCodes() []OpCodeEntry             { return r.opcodes }
func (r *TransactionRecorder) Syscalls() []SyscallEntry           { return r.syscalls }
func (r *TransactionRecorder) ContractCalls() []ContractCallEntry { return r.calls }
func (r *TransactionRecorder) StorageWrites() []StorageWriteEntry { return r.writes }
func (r *TransactionRecorder) Notifications() []NotificationEntry { return r.notifications }

// Entries returns every entry of every category in capture order.
func (r *TransactionRecorder) Entries() []Entry {
	out := make([]Entry, 0, len(r.opcodes)+len(r.syscalls)+len(r.calls)+len(r.writes)+len(r.notifications))
	for _, e := range r.opcodes {
		out = append(out, e)
	}
	for _, e := range r.syscalls {
		out = append(out, e)
	}
	for _, e := range r.calls {
		out = append(out, e)
	}
	for _, e := range r.writes {
		out = append(out, e)
	}
	for _, e := range r.notifications {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq() < out[j].Seq() })
	return out
}

func (r *TransactionRecorder) Stats() TransactionStats {
	s := TransactionStats{
		TotalGasConsumed:  r.totalGas,
		OpCodeCount:       len(r.opcodes),
		SyscallCount:      len(r.syscalls),
		ContractCallCount: len(r.calls),
		StorageWriteCount: len(r.writes),
		NotificationCount: len(r.notifications),
	}
	for _, c := range r.calls {
		if c.Completed && !c.Success {
			s.FailedCallCount++
		}
		if c.CallDepth > s.MaxCallDepth {
			s.MaxCallDepth = c.CallDepth
		}
	}
	return s
}

// Trace builds the record handed to the sink for this transaction.
func (r *TransactionRecorder) Trace() *TransactionTrace {
	return &TransactionTrace{
		BlockIndex:    r.BlockIndex,
		TxHash:        r.TxHash,
		OpCodes:       r.opcodes,
		Syscalls:      r.syscalls,
		ContractCalls: r.calls,
		StorageWrites: r.writes,
		Notifications: r.notifications,
		Stats:         r.Stats(),
	}
}
