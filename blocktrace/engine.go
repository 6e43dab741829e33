package blocktrace

import (
	"github.com/ethereum/go-ethereum/common"
)

// VMState is the execution state reported by the engine.
type VMState uint8

const (
	VMStateNone VMState = iota
	VMStateHalt
	VMStateFault
	VMStateBreak
)

func (s VMState) String() string {
	switch s {
	case VMStateNone:
		return "NONE"
	case VMStateHalt:
		return "HALT"
	case VMStateFault:
		return "FAULT"
	case VMStateBreak:
		return "BREAK"
	default:
		return "UNKNOWN"
	}
}

// Instruction is the instruction about to run, or that just ran.
type Instruction struct {
	Pointer int
	OpCode  byte
	Name    string
	Operand []byte
}

// Frame is one execution context on the engine's invocation stack.
type Frame struct {
	ScriptHash         common.Address
	InstructionPointer int
	// StackDepth is the size of the frame's evaluation stack.
	StackDepth int
}

// Notification is an event emitted by a contract.
type Notification struct {
	ScriptHash common.Address
	EventName  string
	State      any
}

// Method is an entry of a contract's exposed-method table.
type Method struct {
	Name       string
	Offset     int
	ParamCount int
}

// ContractInfo is the deployed contract metadata the adapter needs.
// UpdateCounter changes every time the contract is updated.
type ContractInfo struct {
	ID            int32
	Hash          common.Address
	UpdateCounter uint16
	Methods       []Method
}

const (
	SyscallStoragePut         = "System.Storage.Put"
	SyscallStorageDelete      = "System.Storage.Delete"
	SyscallStorageLocalPut    = "System.Storage.Local.Put"
	SyscallStorageLocalDelete = "System.Storage.Local.Delete"
)

// Syscall describes an interop service. FixedPrice is charged on invocation.
type Syscall struct {
	ID         uint32
	Name       string
	FixedPrice int64
}

func (s Syscall) IsStoragePut() bool {
	return s.Name == SyscallStoragePut || s.Name == SyscallStorageLocalPut
}

func (s Syscall) IsStorageDelete() bool {
	return s.Name == SyscallStorageDelete || s.Name == SyscallStorageLocalDelete
}

// StorageArgs identifies the storage item a put/delete syscall targets.
type StorageArgs struct {
	ContractID int32
	Key        []byte
}

// Engine is the read access the adapter needs to the host execution engine.
type Engine interface {
	// GasConsumed is the gas consumed so far by the current execution.
	GasConsumed() int64
	InvocationDepth() int
	CurrentScriptHash() common.Address
	// CallingScriptHash returns the script hash of the frame below the current one.
	CallingScriptHash() (common.Address, bool)
	State() VMState
	// Notifications returns every notification emitted so far, in order.
	Notifications() []Notification
	// StorageGet looks a key up in the engine's storage snapshot.
	StorageGet(contractID int32, key []byte) ([]byte, bool)
	Contract(hash common.Address) (*ContractInfo, bool)
}

// Hooks are the lifecycle callbacks the engine drives.
type Hooks interface {
	PreExecuteInstruction(e Engine, frame *Frame, instr Instruction)
	PostExecuteInstruction(e Engine, frame *Frame, instr Instruction)
	ContextLoaded(e Engine, frame *Frame)
	ContextUnloaded(e Engine, frame *Frame)
}

// SyscallInterceptor wraps the engine's syscall dispatch. invoke runs the real
// handler and its error is returned unchanged. storage is set for storage syscalls.
type SyscallInterceptor interface {
	OnSyscall(e Engine, call Syscall, storage *StorageArgs, invoke func() error) error
}
