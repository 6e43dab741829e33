package blocktrace

import (
	"bytes"
	"encoding/json"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holisticode/exec-tracer/stateread"
)

type pendingInstruction struct {
	contract   common.Address
	ip         int
	opcode     byte
	name       string
	operand    []byte
	stackDepth int
	gasBefore  int64
}

type openCall struct {
	handle     CallHandle
	gasAtStart int64
}

// Adapter turns engine callbacks into recorder entries for one transaction.
// Nothing it does can fail the execution it observes: engine lookups that
// error or panic degrade to missing fields.
type Adapter struct {
	rec     *TransactionRecorder
	reads   *stateread.Scope
	methods *MethodCache
	log     *slog.Logger

	pending *pendingInstruction
	calls   []openCall
}

var (
	_ Hooks              = (*Adapter)(nil)
	_ SyscallInterceptor = (*Adapter)(nil)
)

// NewAdapter binds rec to an engine. reads is the scope the engine's storage
// reads are recorded on; the adapter's own lookups are suppressed on it.
// methods may be nil, in which case method names are left empty.
func NewAdapter(rec *TransactionRecorder, reads *stateread.Scope, methods *MethodCache, log *slog.Logger) *Adapter {
	return &Adapter{
		rec:     rec,
		reads:   reads,
		methods: methods,
		log:     log,
	}
}

func (a *Adapter) Recorder() *TransactionRecorder {
	return a.rec
}

// CallDepth is the number of calls currently open.
func (a *Adapter) CallDepth() int {
	return len(a.calls)
}

func clampGas(delta int64) int64 {
	if delta < 0 {
		return 0
	}
	return delta
}

func (a *Adapter) PreExecuteInstruction(e Engine, frame *Frame, instr Instruction) {
	// an instruction that raised inside a try block gets no post callback
	if a.pending != nil {
		a.flushPending(e)
	}
	p := &pendingInstruction{
		ip:        instr.Pointer,
		opcode:    instr.OpCode,
		name:      instr.Name,
		operand:   bytes.Clone(instr.Operand),
		gasBefore: e.GasConsumed(),
	}
	if frame != nil {
		p.contract = frame.ScriptHash
		p.stackDepth = frame.StackDepth
	} else {
		p.contract = e.CurrentScriptHash()
	}
	a.pending = p
}

func (a *Adapter) PostExecuteInstruction(e Engine, _ *Frame, _ Instruction) {
	if a.pending == nil {
		return
	}
	a.flushPending(e)
}

func (a *Adapter) flushPending(e Engine) {
	p := a.pending
	a.pending = nil
	a.rec.RecordOpCode(p.contract, p.ip, p.opcode, p.name, p.operand, clampGas(e.GasConsumed()-p.gasBefore), p.stackDepth)
}

func (a *Adapter) ContextLoaded(e Engine, frame *Frame) {
	if frame == nil {
		return
	}
	var caller *common.Address
	if h, ok := e.CallingScriptHash(); ok {
		caller = &h
	}
	method := a.resolveMethod(e, frame.ScriptHash, frame.InstructionPointer)
	h := a.rec.RecordContractCall(caller, frame.ScriptHash, method, len(a.calls))
	// the stack is kept balanced even while disabled
	a.calls = append(a.calls, openCall{handle: h, gasAtStart: e.GasConsumed()})
}

func (a *Adapter) ContextUnloaded(e Engine, _ *Frame) {
	if len(a.calls) == 0 {
		return
	}
	top := a.calls[len(a.calls)-1]
	a.calls = a.calls[:len(a.calls)-1]
	a.rec.CompleteContractCall(top.handle, clampGas(e.GasConsumed()-top.gasAtStart), e.State() != VMStateFault)
}

func (a *Adapter) resolveMethod(e Engine, hash common.Address, offset int) (name string) {
	if a.methods == nil {
		return ""
	}
	defer func() {
		if r := recover(); r != nil {
			a.log.Debug("method lookup panicked", "contract", hash, "panic", r)
			name = ""
		}
	}()
	defer a.reads.Suppress().Release()
	info, ok := e.Contract(hash)
	if !ok {
		return ""
	}
	name, _ = a.methods.Resolve(info, offset)
	return name
}

// storageGet reads a storage item without it being recorded as a state read.
func (a *Adapter) storageGet(e Engine, args *StorageArgs) (value []byte, found bool) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Debug("storage lookup panicked", "contract", args.ContractID, "panic", r)
			value, found = nil, false
		}
	}()
	defer a.reads.Suppress().Release()
	value, found = e.StorageGet(args.ContractID, args.Key)
	return bytes.Clone(value), found
}

func (a *Adapter) notificationCount(e Engine) (n int) {
	defer func() {
		if r := recover(); r != nil {
			n = 0
		}
	}()
	return len(e.Notifications())
}

func (a *Adapter) OnSyscall(e Engine, call Syscall, storage *StorageArgs, invoke func() error) error {
	contract := e.CurrentScriptHash()
	mutation := storage != nil && (call.IsStoragePut() || call.IsStorageDelete())

	var (
		oldValue []byte
		oldFound bool
	)
	if mutation && a.rec.IsEnabled() {
		oldValue, oldFound = a.storageGet(e, storage)
	}
	a.rec.RecordSyscall(contract, call.ID, call.Name, call.FixedPrice)

	before := a.notificationCount(e)
	err := invoke()

	if err == nil && mutation && a.rec.IsEnabled() {
		isDelete := call.IsStorageDelete()
		switch {
		case isDelete && !oldFound:
			// deleting an absent key changes nothing
		case isDelete:
			a.rec.RecordStorageWrite(storage.ContractID, contract, storage.Key, oldValue, nil, true)
		default:
			newValue, _ := a.storageGet(e, storage)
			if !oldFound {
				oldValue = nil
			}
			a.rec.RecordStorageWrite(storage.ContractID, contract, storage.Key, oldValue, newValue, false)
		}
	}
	a.emitNotifications(e, before)
	return err
}

func (a *Adapter) emitNotifications(e Engine, from int) {
	if !a.rec.IsEnabled() {
		return
	}
	var all []Notification
	func() {
		defer func() {
			if r := recover(); r != nil {
				all = nil
			}
		}()
		all = e.Notifications()
	}()
	if from >= len(all) {
		return
	}
	for _, n := range all[from:] {
		a.rec.RecordNotification(n.ScriptHash, n.EventName, a.stateJSON(n))
	}
}

func (a *Adapter) stateJSON(n Notification) (raw json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Debug("notification state marshaller panicked", "event", n.EventName, "panic", r)
			raw = nil
		}
	}()
	b, err := json.Marshal(n.State)
	if err != nil {
		a.log.Debug("notification state is not serializable", "event", n.EventName, "err", err)
		return nil
	}
	return b
}

// Finish closes the trace once the engine stopped. A pending instruction is
// flushed and every call still open is completed as failed.
func (a *Adapter) Finish(e Engine) {
	if a.pending != nil {
		a.flushPending(e)
	}
	gas := e.GasConsumed()
	for i := len(a.calls) - 1; i >= 0; i-- {
		c := a.calls[i]
		a.rec.CompleteContractCall(c.handle, clampGas(gas-c.gasAtStart), false)
	}
	a.calls = a.calls[:0]
}
