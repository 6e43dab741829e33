package stateread

import (
	"log/slog"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/atomic"
)

type Config struct {
	Enabled bool
	// MaxEntries caps the reads kept per block, 0 means unbounded.
	MaxEntries int
}

// Provider owns the read recorders of the blocks currently being processed.
type Provider struct {
	cfg       Config
	enabled   *atomic.Bool
	recorders *xsync.MapOf[uint32, *Recorder]
	log       *slog.Logger
}

func NewProvider(cfg Config, log *slog.Logger) *Provider {
	return &Provider{
		cfg:       cfg,
		enabled:   atomic.NewBool(cfg.Enabled),
		recorders: xsync.NewMapOf[uint32, *Recorder](),
		log:       log,
	}
}

func (p *Provider) SetEnabled(enabled bool) {
	p.enabled.Store(enabled)
}

func (p *Provider) Enabled() bool {
	return p.enabled.Load()
}

func (p *Provider) MaxEntries() int {
	return p.cfg.MaxEntries
}

// TryBegin returns the recorder for the block, creating it if needed. started is
// false when recording is disabled (rec is nil) or the block was already begun.
func (p *Provider) TryBegin(header Header) (rec *Recorder, started bool) {
	if !p.enabled.Load() {
		return nil, false
	}
	rec, loaded := p.recorders.LoadOrStore(header.Index, newRecorder(header, p.cfg.MaxEntries, p.enabled))
	if loaded {
		p.log.Debug("read recorder already active", "block", header.Index)
	}
	return rec, !loaded
}

// Get returns the active recorder of a block.
func (p *Provider) Get(index uint32) (*Recorder, bool) {
	return p.recorders.Load(index)
}

// Drain removes the block's recorder and seals it. Only the first caller gets it.
func (p *Provider) Drain(index uint32) (*Recorder, bool) {
	rec, ok := p.recorders.LoadAndDelete(index)
	if !ok {
		return nil, false
	}
	rec.seal()
	if dropped := rec.Dropped(); dropped > 0 {
		p.log.Warn("read recorder reached its cap", "block", index, "kept", rec.Len(), "dropped", dropped)
	}
	return rec, true
}

// Active returns the number of blocks with an undrained recorder.
func (p *Provider) Active() int {
	return p.recorders.Size()
}
