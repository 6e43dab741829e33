package stateread

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Scope records reads on behalf of one logical call chain. Suppression is kept
// on the scope rather than globally so that concurrent transactions never see
// each other's guards. A Scope must not be shared between goroutines.
//
// All methods are safe on a nil *Scope, which never records.
type Scope struct {
	recorder *Recorder
	txHash   *common.Hash
	depth    int
}

// Guard undoes one Suppress call.
type Guard struct {
	scope    *Scope
	prev     int
	released bool
}

// Suppress disables recording until the returned guard is released. Guards nest.
//
//	defer scope.Suppress().Release()
func (s *Scope) Suppress() *Guard {
	if s == nil {
		return &Guard{}
	}
	g := &Guard{scope: s, prev: s.depth}
	s.depth++
	return g
}

// Release restores the suppression state seen when the guard was taken.
// Releasing twice is a no-op.
func (g *Guard) Release() {
	if g == nil || g.released || g.scope == nil {
		return
	}
	g.released = true
	g.scope.depth = g.prev
}

// Suppressed reports whether a guard is active.
func (s *Scope) Suppressed() bool {
	return s != nil && s.depth > 0
}

// IsRecording reports whether a Record call would currently be stored.
func (s *Scope) IsRecording() bool {
	return s != nil && s.recorder != nil && s.depth == 0 && s.recorder.isEnabled() && !s.recorder.Sealed()
}

// Record captures one read. It is skipped while suppressed or while the
// provider is disabled.
func (s *Scope) Record(contractID int32, contractHash common.Address, key, value []byte, source Source) {
	if s == nil || s.recorder == nil || s.depth > 0 || !s.recorder.isEnabled() {
		return
	}
	s.recorder.append(ReadEntry{
		ContractID:   contractID,
		ContractHash: contractHash,
		Key:          clone(key),
		Value:        clone(value),
		TxHash:       s.txHash,
		Source:       source,
	})
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

type scopeKey struct{}

// WithScope attaches s to ctx for engines that thread a context through their call path.
func WithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFrom returns the scope attached to ctx, or nil.
func ScopeFrom(ctx context.Context) *Scope {
	s, _ := ctx.Value(scopeKey{}).(*Scope)
	return s
}
