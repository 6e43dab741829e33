package blocktrace

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ourcommon "github.com/holisticode/exec-tracer/common"
	"github.com/holisticode/exec-tracer/snapshot"
	"github.com/holisticode/exec-tracer/stateread"
	"github.com/holisticode/exec-tracer/uploader"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

type memStore map[string][]byte

func storeKey(contractID int32, key []byte) string {
	return fmt.Sprintf("%d/%x", contractID, key)
}

func (m memStore) Get(contractID int32, key []byte) ([]byte, bool) {
	v, ok := m[storeKey(contractID, key)]
	return v, ok
}

// fakeEngine is a minimal engine whose storage reads go through a TrackedStore,
// like a real engine wired to the read recorder.
type fakeEngine struct {
	gas       int64
	state     VMState
	frames    []common.Address
	notes     []Notification
	mem       memStore
	store     *stateread.TrackedStore
	contracts map[common.Address]*ContractInfo
	lookups   int
}

func newFakeEngine(scope *stateread.Scope) *fakeEngine {
	mem := memStore{}
	return &fakeEngine{
		mem: mem,
		store: stateread.NewTrackedStore(mem, scope, func(id int32) (common.Address, bool) {
			return common.Address{byte(id)}, true
		}, stateread.SourceStorageGet),
		contracts: map[common.Address]*ContractInfo{},
	}
}

func (e *fakeEngine) GasConsumed() int64   { return e.gas }
func (e *fakeEngine) InvocationDepth() int { return len(e.frames) }
func (e *fakeEngine) State() VMState       { return e.state }

func (e *fakeEngine) CurrentScriptHash() common.Address {
	if len(e.frames) == 0 {
		return common.Address{}
	}
	return e.frames[len(e.frames)-1]
}

func (e *fakeEngine) CallingScriptHash() (common.Address, bool) {
	if len(e.frames) < 2 {
		return common.Address{}, false
	}
	return e.frames[len(e.frames)-2], true
}

func (e *fakeEngine) Notifications() []Notification { return e.notes }

func (e *fakeEngine) StorageGet(contractID int32, key []byte) ([]byte, bool) {
	return e.store.Get(contractID, key)
}

func (e *fakeEngine) Contract(hash common.Address) (*ContractInfo, bool) {
	e.lookups++
	c, ok := e.contracts[hash]
	return c, ok
}

func (e *fakeEngine) load(a *Adapter, hash common.Address, ip int) {
	e.frames = append(e.frames, hash)
	a.ContextLoaded(e, &Frame{ScriptHash: hash, InstructionPointer: ip})
}

func (e *fakeEngine) unload(a *Adapter) {
	hash := e.frames[len(e.frames)-1]
	e.frames = e.frames[:len(e.frames)-1]
	a.ContextUnloaded(e, &Frame{ScriptHash: hash})
}

func (e *fakeEngine) put(contractID int32, key, value []byte) func() error {
	return func() error {
		e.mem[storeKey(contractID, key)] = value
		return nil
	}
}

func (e *fakeEngine) del(contractID int32, key []byte) func() error {
	return func() error {
		delete(e.mem, storeKey(contractID, key))
		return nil
	}
}

type badState struct{}

func (badState) MarshalJSON() ([]byte, error) {
	panic("boom")
}

func getTestLogger() *slog.Logger {
	return ourcommon.SetupLogger(&ourcommon.LoggingOpts{
		Debug:   true,
		JSON:    false,
		Service: "test",
		Version: ourcommon.Version,
	})
}

func newTestAdapter(t *testing.T) (*Adapter, *TransactionRecorder) {
	t.Helper()
	methods, err := NewMethodCache(16)
	require.NoError(t, err)
	rec := NewTransactionRecorder(1, common.HexToHash("0x01"), true)
	return NewAdapter(rec, nil, methods, getTestLogger()), rec
}

func TestRecorderOrderFollowsEmission(t *testing.T) {
	rec := NewTransactionRecorder(1, common.Hash{}, true)
	r := rand.New(rand.NewSource(7))

	var kinds []EntryKind
	for i := 0; i < 500; i++ {
		switch r.Intn(5) {
		case 0:
			rec.RecordOpCode(common.Address{}, i, 0x10, "PUSH0", nil, 1, 0)
			kinds = append(kinds, KindOpCode)
		case 1:
			rec.RecordSyscall(common.Address{}, 7, "System.Runtime.Log", 10)
			kinds = append(kinds, KindSyscall)
		case 2:
			h := rec.RecordContractCall(nil, common.Address{0x01}, "", 0)
			rec.CompleteContractCall(h, 5, true)
			kinds = append(kinds, KindContractCall)
		case 3:
			rec.RecordStorageWrite(1, common.Address{}, []byte{0x01}, nil, []byte{0x02}, false)
			kinds = append(kinds, KindStorageWrite)
		case 4:
			rec.RecordNotification(common.Address{}, "Transfer", nil)
			kinds = append(kinds, KindNotification)
		}
	}

	entries := rec.Entries()
	require.Len(t, entries, len(kinds))
	for i, e := range entries {
		require.Equal(t, uint64(i), e.Seq())
		require.Equal(t, kinds[i], e.Kind())
	}
}

func TestRecorderDisabled(t *testing.T) {
	rec := NewTransactionRecorder(1, common.Hash{}, false)
	rec.RecordOpCode(common.Address{}, 0, 0x10, "", nil, 1, 0)
	h := rec.RecordContractCall(nil, common.Address{}, "", 0)
	require.Equal(t, InvalidCallHandle, h)
	rec.CompleteContractCall(h, 1, true)
	require.Empty(t, rec.Entries())

	// the flag is read per call
	rec.SetEnabled(true)
	rec.RecordSyscall(common.Address{}, 1, "System.Runtime.Notify", 1)
	rec.SetEnabled(false)
	rec.RecordSyscall(common.Address{}, 1, "System.Runtime.Notify", 1)
	require.Len(t, rec.Syscalls(), 1)
	require.Equal(t, uint64(0), rec.Syscalls()[0].Order)
}

func TestCompleteCallOnce(t *testing.T) {
	rec := NewTransactionRecorder(1, common.Hash{}, true)
	h := rec.RecordContractCall(nil, common.Address{0x01}, "main", 0)
	rec.CompleteContractCall(h, 10, true)
	rec.CompleteContractCall(h, 99, false)
	rec.CompleteContractCall(CallHandle(42), 1, false)

	calls := rec.ContractCalls()
	require.Len(t, calls, 1)
	require.Equal(t, int64(10), calls[0].GasConsumed)
	require.True(t, calls[0].Success)
}

func TestAdapterInstructionGas(t *testing.T) {
	a, rec := newTestAdapter(t)
	e := newFakeEngine(nil)
	frame := &Frame{ScriptHash: common.Address{0x0c}, StackDepth: 3}

	e.gas = 100
	a.PreExecuteInstruction(e, frame, Instruction{Pointer: 4, OpCode: 0x11, Name: "PUSH1", Operand: []byte{0x01}})
	require.Empty(t, rec.OpCodes())
	e.gas = 130
	a.PostExecuteInstruction(e, frame, Instruction{})

	// gas going backwards is reported as zero
	a.PreExecuteInstruction(e, frame, Instruction{Pointer: 5, OpCode: 0x40, Name: "RET"})
	e.gas = 120
	a.PostExecuteInstruction(e, frame, Instruction{})

	// a second pre without post flushes the first instruction
	a.PreExecuteInstruction(e, frame, Instruction{Pointer: 6, OpCode: 0x3a, Name: "THROW"})
	e.gas = 125
	a.PreExecuteInstruction(e, frame, Instruction{Pointer: 9, OpCode: 0x21, Name: "NOP"})
	e.gas = 126
	a.Finish(e)

	ops := rec.OpCodes()
	require.Len(t, ops, 4)
	require.Equal(t, int64(30), ops[0].GasConsumed)
	require.Equal(t, hexutil.Bytes{0x01}, ops[0].Operand)
	require.Equal(t, 3, ops[0].StackDepth)
	require.Equal(t, 4, ops[0].InstructionPointer)
	require.Zero(t, ops[1].GasConsumed)
	require.Equal(t, int64(5), ops[2].GasConsumed)
	require.Equal(t, "NOP", ops[3].OpCodeName)
	require.Equal(t, int64(1), ops[3].GasConsumed)
	require.Equal(t, int64(36), rec.TotalGasConsumed())
}

func TestAdapterCallStack(t *testing.T) {
	a, rec := newTestAdapter(t)
	e := newFakeEngine(nil)
	outer, inner := common.Address{0x01}, common.Address{0x02}
	e.contracts[inner] = &ContractInfo{Hash: inner, Methods: []Method{{Name: "transfer", Offset: 12}}}

	e.load(a, outer, 0)
	e.gas = 10
	e.load(a, inner, 12)
	require.Equal(t, 2, a.CallDepth())
	e.gas = 50
	e.unload(a)
	e.gas = 60
	e.unload(a)
	a.Finish(e)

	calls := rec.ContractCalls()
	require.Len(t, calls, 2)
	require.Nil(t, calls[0].CallerHash)
	require.Equal(t, 0, calls[0].CallDepth)
	require.Equal(t, int64(60), calls[0].GasConsumed)
	require.Empty(t, calls[0].MethodName)

	require.Equal(t, outer, *calls[1].CallerHash)
	require.Equal(t, 1, calls[1].CallDepth)
	require.Equal(t, "transfer", calls[1].MethodName)
	require.Equal(t, int64(40), calls[1].GasConsumed)
	require.True(t, calls[1].Success)
	require.Equal(t, 1, rec.Stats().MaxCallDepth)
}

// TestAdapterFaultClosesOpenCalls opens three nested calls, faults the engine
// with the innermost one still open and checks Finish completes them all.
func TestAdapterFaultClosesOpenCalls(t *testing.T) {
	a, rec := newTestAdapter(t)
	e := newFakeEngine(nil)

	e.gas = 100
	e.load(a, common.Address{0x01}, 0)
	e.load(a, common.Address{0x02}, 0)
	e.gas = 500
	e.load(a, common.Address{0x03}, 0)
	e.state = VMStateFault
	// refunds can make the counter go below the value seen at call start
	e.gas = 300
	a.Finish(e)

	calls := rec.ContractCalls()
	require.Len(t, calls, 3)
	require.Equal(t, 2, calls[2].CallDepth)
	for _, c := range calls {
		require.True(t, c.Completed)
		require.False(t, c.Success)
		require.GreaterOrEqual(t, c.GasConsumed, int64(0))
	}
	require.Zero(t, calls[2].GasConsumed)
	require.Equal(t, int64(200), calls[0].GasConsumed)
	require.Equal(t, 3, rec.Stats().FailedCallCount)
	require.Zero(t, a.CallDepth())
}

func TestAdapterStorageWrites(t *testing.T) {
	tracer, err := NewBlockTracer(Config{Enabled: true}, uploader.NewQueue(8, 8), getTestLogger())
	require.NoError(t, err)
	tracer.OnPersist(stateread.Header{Index: 5, Hash: common.HexToHash("0x05")})

	a, scope := tracer.BeginTransaction(5, common.HexToHash("0xaa"))
	require.NotNil(t, scope)
	e := newFakeEngine(scope)
	contract := common.Address{0x07}
	e.frames = []common.Address{contract}
	put := Syscall{ID: 1, Name: SyscallStoragePut, FixedPrice: 1 << 15}
	del := Syscall{ID: 2, Name: SyscallStorageDelete, FixedPrice: 1 << 15}
	key := []byte("k")
	args := &StorageArgs{ContractID: 7, Key: key}

	require.NoError(t, a.OnSyscall(e, put, args, e.put(7, key, []byte("v1"))))
	require.NoError(t, a.OnSyscall(e, put, args, e.put(7, key, []byte("v2"))))
	require.NoError(t, a.OnSyscall(e, del, args, e.del(7, key)))
	// deleting an absent key writes nothing
	require.NoError(t, a.OnSyscall(e, del, args, e.del(7, key)))

	failed := errors.New("out of gas")
	require.ErrorIs(t, a.OnSyscall(e, put, args, func() error { return failed }), failed)

	// a read performed by the contract itself is recorded
	e.mem[storeKey(7, []byte("other"))] = []byte("x")
	_, ok := e.StorageGet(7, []byte("other"))
	require.True(t, ok)

	rec := a.Recorder()
	writes := rec.StorageWrites()
	require.Len(t, writes, 3)
	require.Nil(t, writes[0].OldValue)
	require.Equal(t, hexutil.Bytes("v1"), writes[0].NewValue)
	require.Equal(t, hexutil.Bytes("v1"), writes[1].OldValue)
	require.Equal(t, hexutil.Bytes("v2"), writes[1].NewValue)
	require.True(t, writes[2].IsDelete)
	require.Equal(t, hexutil.Bytes("v2"), writes[2].OldValue)
	require.Nil(t, writes[2].NewValue)
	require.Equal(t, contract, writes[2].ContractHash)
	require.Len(t, rec.Syscalls(), 5)
	require.Equal(t, int64(1<<15), rec.Syscalls()[0].GasConsumed)

	summary := tracer.OnCommit(t.Context(), 5)
	require.Equal(t, 1, summary.ReadEntries)
	require.Equal(t, 1, summary.Transactions)
	require.Equal(t, 3, summary.Enqueued)
}

func TestAdapterNotifications(t *testing.T) {
	a, rec := newTestAdapter(t)
	e := newFakeEngine(nil)
	contract := common.Address{0x09}
	e.frames = []common.Address{contract}
	notify := Syscall{ID: 3, Name: "System.Runtime.Notify"}

	require.NoError(t, a.OnSyscall(e, notify, nil, func() error {
		e.notes = append(e.notes,
			Notification{ScriptHash: contract, EventName: "Transfer", State: []any{"a", 1}},
			Notification{ScriptHash: contract, EventName: "Chan", State: make(chan int)},
		)
		return nil
	}))
	require.NoError(t, a.OnSyscall(e, notify, nil, func() error {
		e.notes = append(e.notes, Notification{ScriptHash: contract, EventName: "Panic", State: badState{}})
		return nil
	}))
	require.NoError(t, a.OnSyscall(e, notify, nil, func() error { return nil }))

	notes := rec.Notifications()
	require.Len(t, notes, 3)
	require.JSONEq(t, `["a",1]`, string(notes[0].State))
	require.Nil(t, notes[1].State)
	require.Equal(t, "Panic", notes[2].EventName)
	require.Nil(t, notes[2].State)

	// syscall entries precede the notifications they produced
	require.Less(t, rec.Syscalls()[0].Order, notes[0].Order)
}

func TestAdapterMethodLookupIsNotARead(t *testing.T) {
	tracer, err := NewBlockTracer(Config{Enabled: true}, uploader.NewQueue(8, 8), getTestLogger())
	require.NoError(t, err)
	tracer.OnPersist(stateread.Header{Index: 9})
	a, scope := tracer.BeginTransaction(9, common.HexToHash("0x09"))

	e := newFakeEngine(scope)
	hash := common.Address{0x05}
	e.mem[storeKey(5, []byte("manifest"))] = []byte("{}")
	e.contracts[hash] = &ContractInfo{Hash: hash, Methods: []Method{{Name: "main", Offset: 0}}}
	lookup := &lookupEngine{fakeEngine: e}

	lookup.load(a, hash, 0)
	require.Equal(t, "main", a.Recorder().ContractCalls()[0].MethodName)
	require.Equal(t, 1, lookup.lookups)

	summary := tracer.OnCommit(t.Context(), 9)
	require.Zero(t, summary.ReadEntries)
}

// lookupEngine reads contract metadata through storage, which the adapter must
// keep out of the read recorder.
type lookupEngine struct {
	*fakeEngine
}

func (e *lookupEngine) Contract(hash common.Address) (*ContractInfo, bool) {
	e.StorageGet(5, []byte("manifest"))
	return e.fakeEngine.Contract(hash)
}

func (e *lookupEngine) load(a *Adapter, hash common.Address, ip int) {
	e.frames = append(e.frames, hash)
	a.ContextLoaded(e, &Frame{ScriptHash: hash, InstructionPointer: ip})
}

func TestMethodCacheInvalidation(t *testing.T) {
	c, err := NewMethodCache(4)
	require.NoError(t, err)
	hash := common.Address{0x01}

	info := &ContractInfo{Hash: hash, UpdateCounter: 0, Methods: []Method{{Name: "a", Offset: 0}, {Name: "b", Offset: 10}}}
	name, ok := c.Resolve(info, 10)
	require.True(t, ok)
	require.Equal(t, "b", name)
	_, ok = c.Resolve(info, 5)
	require.False(t, ok)

	updated := &ContractInfo{Hash: hash, UpdateCounter: 1, Methods: []Method{{Name: "c", Offset: 10}}}
	name, _ = c.Resolve(updated, 10)
	require.Equal(t, "c", name)
	require.Equal(t, 1, c.Len())

	_, ok = c.Resolve(nil, 0)
	require.False(t, ok)
}

func TestRegistryDrainOnce(t *testing.T) {
	r := NewRegistry()
	set, started := r.Begin(stateread.Header{Index: 3}, atomic.NewBool(true))
	require.True(t, started)
	again, started := r.Begin(stateread.Header{Index: 3}, atomic.NewBool(true))
	require.False(t, started)
	require.Same(t, set, again)

	tx1, tx2 := common.HexToHash("0x02"), common.HexToHash("0x01")
	rec := set.GetOrCreate(tx1)
	require.Same(t, rec, set.GetOrCreate(tx1))
	set.GetOrCreate(tx2)
	recs := set.Recorders()
	require.Len(t, recs, 2)
	require.Equal(t, tx1, recs[0].TxHash)
	require.Equal(t, tx2, recs[1].TxHash)

	drained, ok := r.Drain(3)
	require.True(t, ok)
	require.Same(t, set, drained)
	_, ok = r.Drain(3)
	require.False(t, ok)
	require.Zero(t, r.Len())
}

func TestTracerCommit(t *testing.T) {
	q := uploader.NewQueue(8, 8)
	tracer, err := NewBlockTracer(Config{Enabled: true, SnapshotFormat: snapshot.FormatText}, q, getTestLogger())
	require.NoError(t, err)

	header := stateread.Header{Index: 11, Hash: common.HexToHash("0xbb"), Timestamp: 1700000000}
	tracer.OnPersist(header)
	tracer.BlockScope(11).Record(-1, common.Address{0x01}, []byte{0x01}, []byte{0x02}, stateread.SourceOnPersist)
	for i := 0; i < 2; i++ {
		a, _ := tracer.BeginTransaction(11, common.BytesToHash([]byte{byte(i + 1)}))
		e := newFakeEngine(nil)
		e.load(a, common.Address{0x0f}, 0)
		e.gas = 7
		e.unload(a)
		a.Finish(e)
	}
	require.Equal(t, 1, tracer.Status().ActiveBlocks)

	summary := tracer.OnCommit(t.Context(), 11)
	require.Equal(t, 2, summary.Transactions)
	require.Equal(t, 4, summary.Enqueued)
	high, low := q.Pending()
	require.Equal(t, 2, high)
	require.Equal(t, 2, low)

	// second commit of the same block finds nothing
	require.Zero(t, tracer.OnCommit(t.Context(), 11).Enqueued)

	status := tracer.Status()
	require.True(t, status.Enabled)
	require.Equal(t, "json", status.SnapshotFormat)
	require.Zero(t, status.ActiveBlocks)
	require.Equal(t, 2, status.Queue.High.Pending)
}

func TestTracerDisabled(t *testing.T) {
	q := uploader.NewQueue(8, 8)
	tracer, err := NewBlockTracer(Config{Enabled: true}, q, getTestLogger())
	require.NoError(t, err)
	tracer.SetEnabled(false)

	tracer.OnPersist(stateread.Header{Index: 1})
	a, scope := tracer.BeginTransaction(1, common.Hash{})
	require.Nil(t, scope)
	e := newFakeEngine(scope)
	e.load(a, common.Address{0x01}, 0)
	e.unload(a)
	require.Empty(t, a.Recorder().Entries())
	require.Zero(t, tracer.OnCommit(t.Context(), 1).Enqueued)

	_, err = NewBlockTracer(Config{SnapshotFormat: "xml"}, q, getTestLogger())
	require.Error(t, err)
}

func TestTracerToggleReachesRunningTransaction(t *testing.T) {
	q := uploader.NewQueue(8, 8)
	tracer, err := NewBlockTracer(Config{Enabled: true}, q, getTestLogger())
	require.NoError(t, err)

	tracer.OnPersist(stateread.Header{Index: 4})
	a, scope := tracer.BeginTransaction(4, common.HexToHash("0x04"))
	require.NotNil(t, scope)
	e := newFakeEngine(scope)
	e.mem[storeKey(1, []byte("k"))] = []byte("v")
	reads, ok := tracer.reads.Get(4)
	require.True(t, ok)

	step := func() {
		a.PreExecuteInstruction(e, &Frame{ScriptHash: common.Address{0x01}}, Instruction{OpCode: 0x10, Name: "PUSH0"})
		_, found := e.StorageGet(1, []byte("k"))
		require.True(t, found)
		a.PostExecuteInstruction(e, nil, Instruction{})
	}

	tracer.SetEnabled(false)
	step()
	require.False(t, a.Recorder().IsEnabled())
	require.False(t, scope.IsRecording())
	require.Empty(t, a.Recorder().OpCodes())
	require.Zero(t, reads.Len())

	tracer.SetEnabled(true)
	step()
	require.Len(t, a.Recorder().OpCodes(), 1)
	require.Equal(t, 1, reads.Len())
}
