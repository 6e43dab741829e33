package stateread

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holisticode/exec-tracer/common"
	"github.com/stretchr/testify/require"
)

type mapStore map[string][]byte

func (m mapStore) Get(contractID int32, key []byte) ([]byte, bool) {
	v, ok := m[storeKey(contractID, key)]
	return v, ok
}

func storeKey(contractID int32, key []byte) string {
	return string(rune(contractID)) + ":" + string(key)
}

func newTestProvider(maxEntries int) *Provider {
	return NewProvider(Config{Enabled: true, MaxEntries: maxEntries}, getTestLogger())
}

func TestSuppressionNesting(t *testing.T) {
	p := newTestProvider(0)
	rec, started := p.TryBegin(Header{Index: 1})
	require.True(t, started)

	for n := 0; n <= 8; n++ {
		scope := rec.NewScope(nil)
		before := scope.IsRecording()
		guards := make([]*Guard, 0, n)
		for i := 0; i < n; i++ {
			guards = append(guards, scope.Suppress())
			require.False(t, scope.IsRecording())
		}
		for i := len(guards) - 1; i >= 0; i-- {
			guards[i].Release()
		}
		require.Equal(t, before, scope.IsRecording(), "n=%d", n)
	}
}

func TestSuppressedReadsAreSkipped(t *testing.T) {
	p := newTestProvider(0)
	rec, _ := p.TryBegin(Header{Index: 7})
	scope := rec.NewScope(nil)

	scope.Record(1, ethcommon.Address{0x01}, []byte{0x01}, []byte{0xaa}, SourceStorageGet)
	func() {
		defer scope.Suppress().Release()
		scope.Record(1, ethcommon.Address{0x01}, []byte{0x02}, []byte{0xbb}, SourceStorageGet)
		func() {
			defer scope.Suppress().Release()
			scope.Record(1, ethcommon.Address{0x01}, []byte{0x03}, []byte{0xcc}, SourceStorageGet)
		}()
		require.False(t, scope.IsRecording())
	}()
	scope.Record(1, ethcommon.Address{0x01}, []byte{0x04}, []byte{0xdd}, SourceStorageGet)

	entries := rec.Entries()
	require.Len(t, entries, 2)
	require.Equal(t, []byte{0x01}, entries[0].Key)
	require.Equal(t, []byte{0x04}, entries[1].Key)
	require.Equal(t, int32(0), entries[0].ReadOrder)
	require.Equal(t, int32(1), entries[1].ReadOrder)
}

func TestDoubleReleaseIsNoop(t *testing.T) {
	p := newTestProvider(0)
	rec, _ := p.TryBegin(Header{Index: 1})
	scope := rec.NewScope(nil)

	outer := scope.Suppress()
	inner := scope.Suppress()
	inner.Release()
	inner.Release()
	require.True(t, scope.Suppressed())
	outer.Release()
	require.False(t, scope.Suppressed())
}

func TestNilScope(t *testing.T) {
	var scope *Scope
	require.False(t, scope.IsRecording())
	scope.Record(1, ethcommon.Address{}, []byte{1}, []byte{2}, SourceStorageGet)
	scope.Suppress().Release()
	require.Nil(t, ScopeFrom(context.Background()))
}

func TestScopeContext(t *testing.T) {
	p := newTestProvider(0)
	rec, _ := p.TryBegin(Header{Index: 1})
	scope := rec.NewScope(nil)
	ctx := WithScope(context.Background(), scope)
	require.Same(t, scope, ScopeFrom(ctx))
}

func TestMaxEntries(t *testing.T) {
	p := newTestProvider(3)
	rec, _ := p.TryBegin(Header{Index: 2})
	scope := rec.NewScope(nil)
	for i := 0; i < 10; i++ {
		scope.Record(1, ethcommon.Address{}, []byte{byte(i)}, []byte{byte(i)}, SourceStorageGet)
	}
	require.Equal(t, 3, rec.Len())
	require.Equal(t, uint64(7), rec.Dropped())
}

func TestTryBeginDisabled(t *testing.T) {
	p := NewProvider(Config{Enabled: false}, getTestLogger())
	rec, started := p.TryBegin(Header{Index: 1})
	require.Nil(t, rec)
	require.False(t, started)
}

func TestDrainOnce(t *testing.T) {
	p := newTestProvider(0)
	rec, started := p.TryBegin(Header{Index: 5})
	require.True(t, started)
	again, started := p.TryBegin(Header{Index: 5})
	require.False(t, started)
	require.Same(t, rec, again)

	scope := rec.NewScope(nil)
	scope.Record(1, ethcommon.Address{}, []byte{1}, []byte{1}, SourceStorageGet)

	drained, ok := p.Drain(5)
	require.True(t, ok)
	require.Same(t, rec, drained)
	_, ok = p.Drain(5)
	require.False(t, ok)
	require.Equal(t, 0, p.Active())

	// a sealed recorder ignores late reads
	scope.Record(1, ethcommon.Address{}, []byte{2}, []byte{2}, SourceStorageGet)
	require.Equal(t, 1, drained.Len())
	require.False(t, scope.IsRecording())
}

func TestConcurrentScopes(t *testing.T) {
	p := newTestProvider(0)
	rec, _ := p.TryBegin(Header{Index: 9})

	const workers, reads = 8, 200
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			txHash := ethcommon.Hash{byte(w)}
			scope := rec.NewScope(&txHash)
			for i := 0; i < reads; i++ {
				if i%2 == 0 {
					g := scope.Suppress()
					scope.Record(int32(w), ethcommon.Address{}, []byte{byte(i)}, []byte{1}, SourceStorageGet)
					g.Release()
					continue
				}
				scope.Record(int32(w), ethcommon.Address{}, []byte{byte(i)}, []byte{1}, SourceStorageGet)
			}
		}(w)
	}
	wg.Wait()

	entries := rec.Entries()
	require.Len(t, entries, workers*reads/2)
	for i, e := range entries {
		require.Equal(t, int32(i), e.ReadOrder)
	}
}

func TestTrackedStoreSuppressesResolver(t *testing.T) {
	p := newTestProvider(0)
	rec, _ := p.TryBegin(Header{Index: 3})
	scope := rec.NewScope(nil)

	const managementID = -1
	contract := ethcommon.HexToAddress("0x0102030405060708090a0b0c0d0e0f1011121314")
	inner := mapStore{
		storeKey(managementID, []byte{0x0c, 0x05}): contract.Bytes(),
		storeKey(5, []byte("balance")):             []byte{0x2a},
	}

	var store *TrackedStore
	resolver := func(contractID int32) (ethcommon.Address, bool) {
		b, ok := store.Get(managementID, []byte{0x0c, byte(contractID)})
		if !ok {
			return ethcommon.Address{}, false
		}
		return ethcommon.BytesToAddress(b), true
	}
	store = NewTrackedStore(inner, scope, resolver, SourceStorageGet)

	v, ok := store.Get(5, []byte("balance"))
	require.True(t, ok)
	require.Equal(t, []byte{0x2a}, v)
	_, ok = store.Get(5, []byte("missing"))
	require.False(t, ok)

	entries := rec.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, int32(5), entries[0].ContractID)
	require.Equal(t, contract, entries[0].ContractHash)
	require.Equal(t, SourceStorageGet, entries[0].Source)
	require.False(t, scope.Suppressed())
}

func getTestLogger() *slog.Logger {
	return common.SetupLogger(&common.LoggingOpts{
		Debug:   true,
		JSON:    false,
		Service: "test",
		Version: "test",
	})
}

func TestProviderToggleReachesOpenScopes(t *testing.T) {
	p := newTestProvider(0)
	rec, _ := p.TryBegin(Header{Index: 2})
	scope := rec.NewScope(nil)

	p.SetEnabled(false)
	require.False(t, scope.IsRecording())
	scope.Record(1, ethcommon.Address{0x01}, []byte{0x01}, []byte{0x02}, SourceStorageGet)
	require.Zero(t, rec.Len())

	p.SetEnabled(true)
	require.True(t, scope.IsRecording())
	scope.Record(1, ethcommon.Address{0x01}, []byte{0x01}, []byte{0x02}, SourceStorageGet)
	require.Equal(t, 1, rec.Len())
}
