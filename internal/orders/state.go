package orders

import (
	"fmt"
	"sync"
	"time"
)

// Phase is the lifecycle phase of one traded symbol.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseBuyPending
	PhasePosition
	PhaseTakeProfitPending
	PhaseTakeProfitPlaced
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseBuyPending:
		return "BUY_PENDING"
	case PhasePosition:
		return "POSITION"
	case PhaseTakeProfitPending:
		return "TAKE_PROFIT_PENDING"
	case PhaseTakeProfitPlaced:
		return "TAKE_PROFIT_PLACED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(p))
	}
}

// SymbolState is the single source of truth for one symbol's trading cycle.
// Both the scheduler-driven controller path and the fill listener mutate it,
// always through the owning StateTable so writes are serialized.
type SymbolState struct {
	Symbol string
	Phase  Phase

	// Order ids are zero when no order of that kind is outstanding.
	BuyOrderID        int64
	TakeProfitOrderID int64

	EntryPrice      float64
	FilledQty       float64
	SellQty         float64 // fee-adjusted, balance-clamped
	TakeProfitPrice float64

	// Latest bands seen by the controller; used to place the take-profit
	// promptly when a fill arrives between evaluations.
	LastLowerBand float64
	LastUpperBand float64

	UpdatedAt time.Time
}

type symbolEntry struct {
	mu    sync.Mutex
	state SymbolState
}

// StateTable owns all SymbolState instances. Access happens under a
// per-symbol lock that callers hold for the whole read-decide-act sequence,
// so a fill arriving mid-transition waits instead of racing.
type StateTable struct {
	mu      sync.RWMutex
	entries map[string]*symbolEntry
}

func NewStateTable() *StateTable {
	return &StateTable{entries: make(map[string]*symbolEntry)}
}

// Register creates the IDLE state for a symbol. Called once at startup.
func (t *StateTable) Register(symbol string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[symbol]; exists {
		return
	}
	t.entries[symbol] = &symbolEntry{
		state: SymbolState{Symbol: symbol, Phase: PhaseIdle, UpdatedAt: time.Now()},
	}
}

// With runs fn with exclusive access to the symbol's state. Mutations made by
// fn are kept; the symbol lock is held for the duration, including any
// exchange calls fn makes.
func (t *StateTable) With(symbol string, fn func(*SymbolState) error) error {
	t.mu.RLock()
	entry, ok := t.entries[symbol]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("symbol %s is not registered", symbol)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	err := fn(&entry.state)
	entry.state.UpdatedAt = time.Now()
	return err
}

// Snapshot returns a copy of the symbol's state.
func (t *StateTable) Snapshot(symbol string) (SymbolState, bool) {
	t.mu.RLock()
	entry, ok := t.entries[symbol]
	t.mu.RUnlock()
	if !ok {
		return SymbolState{}, false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.state, true
}

// Symbols returns all registered symbols.
func (t *StateTable) Symbols() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	symbols := make([]string, 0, len(t.entries))
	for s := range t.entries {
		symbols = append(symbols, s)
	}
	return symbols
}

// All returns a copy of every symbol's state.
func (t *StateTable) All() []SymbolState {
	states := make([]SymbolState, 0)
	for _, s := range t.Symbols() {
		if st, ok := t.Snapshot(s); ok {
			states = append(states, st)
		}
	}
	return states
}
