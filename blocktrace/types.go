package blocktrace

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// EntryKind is the category a trace entry belongs to.
type EntryKind uint8

const (
	KindOpCode EntryKind = iota
	KindSyscall
	KindContractCall
	KindStorageWrite
	KindNotification
)

func (k EntryKind) String() string {
	switch k {
	case KindOpCode:
		return "opcode"
	case KindSyscall:
		return "syscall"
	case KindContractCall:
		return "call"
	case KindStorageWrite:
		return "storage_write"
	case KindNotification:
		return "notification"
	default:
		return "unknown"
	}
}

// Entry is one observed execution event. Seq is the per transaction order the
// event was captured in.
type Entry interface {
	Seq() uint64
	Kind() EntryKind
}

type OpCodeEntry struct {
	Order              uint64         `json:"order"`
	ContractHash       common.Address `json:"contractHash"`       //nolint:tagliatelle
	InstructionPointer int            `json:"instructionPointer"` //nolint:tagliatelle
	OpCode             byte           `json:"opcode"`
	OpCodeName         string         `json:"opcodeName,omitempty"` //nolint:tagliatelle
	Operand            hexutil.Bytes  `json:"operand,omitempty"`
	GasConsumed        int64          `json:"gasConsumed"` //nolint:tagliatelle
	StackDepth         int            `json:"stackDepth"`  //nolint:tagliatelle
}

type SyscallEntry struct {
	Order        uint64         `json:"order"`
	ContractHash common.Address `json:"contractHash"` //nolint:tagliatelle
	SyscallID    uint32         `json:"syscallId"`    //nolint:tagliatelle
	SyscallName  string         `json:"syscallName"`  //nolint:tagliatelle
	GasConsumed  int64          `json:"gasConsumed"`  //nolint:tagliatelle
}

// ContractCallEntry is recorded when a call starts. GasConsumed and Success
// are only meaningful once Completed is set.
type ContractCallEntry struct {
	Order       uint64          `json:"order"`
	CallerHash  *common.Address `json:"callerHash,omitempty"` //nolint:tagliatelle
	CalleeHash  common.Address  `json:"calleeHash"`           //nolint:tagliatelle
	MethodName  string          `json:"methodName,omitempty"` //nolint:tagliatelle
	CallDepth   int             `json:"callDepth"`            //nolint:tagliatelle
	GasConsumed int64           `json:"gasConsumed"`          //nolint:tagliatelle
	Success     bool            `json:"success"`
	Completed   bool            `json:"completed"`
}

// StorageWriteEntry describes one storage mutation. OldValue is nil when the
// key did not exist before the write, NewValue is nil for deletes.
type StorageWriteEntry struct {
	Order        uint64         `json:"order"`
	ContractID   int32          `json:"contractId"`   //nolint:tagliatelle
	ContractHash common.Address `json:"contractHash"` //nolint:tagliatelle
	Key          hexutil.Bytes  `json:"key"`
	OldValue     hexutil.Bytes  `json:"oldValue,omitempty"` //nolint:tagliatelle
	NewValue     hexutil.Bytes  `json:"newValue,omitempty"` //nolint:tagliatelle
	IsDelete     bool           `json:"isDelete"`           //nolint:tagliatelle
}

// NotificationEntry carries the JSON form of the notification state, or nil
// when the state could not be serialized.
type NotificationEntry struct {
	Order        uint64          `json:"order"`
	ContractHash common.Address  `json:"contractHash"` //nolint:tagliatelle
	EventName    string          `json:"eventName"`    //nolint:tagliatelle
	State        json.RawMessage `json:"state"`
}

func (e OpCodeEntry) Seq() uint64       { return e.Order }
func (e SyscallEntry) Seq() uint64      { return e.Order }
func (e ContractCallEntry) Seq() uint64 { return e.Order }
func (e StorageWriteEntry) Seq() uint64 { return e.Order }
func (e NotificationEntry) Seq() uint64 { return e.Order }

func (OpCodeEntry) Kind() EntryKind       { return KindOpCode }
func (SyscallEntry) Kind() EntryKind      { return KindSyscall }
func (ContractCallEntry) Kind() EntryKind { return KindContractCall }
func (StorageWriteEntry) Kind() EntryKind { return KindStorageWrite }
func (NotificationEntry) Kind() EntryKind { return KindNotification }
