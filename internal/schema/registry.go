package schema

import "fmt"

// Scale is the number of decimal places used by a scaled integer.
// Example: Scale=8 means the integer value is scaled by 1e8.
type Scale int32

// ScaleSpec defines scaling for common numeric fields.
type ScaleSpec struct {
	PriceScale    Scale `json:"priceScale"`
	QuantityScale Scale `json:"quantityScale"`
	NotionalScale Scale `json:"notionalScale"`
	FeeScale      Scale `json:"feeScale"`
}

// SymbolID is the numeric identifier for a tradable instrument.
type SymbolID uint32

// Symbol describes a tradable instrument on a venue.
type Symbol struct {
	ID    SymbolID
	Name  string
	Venue string
	Scale ScaleSpec
}

// Registry stores instrument mappings in a compact form. IDs are dense and
// assigned in registration order so they stay stable across a session.
type Registry struct {
	symbols      []Symbol
	symbolByName map[string]SymbolID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{symbolByName: make(map[string]SymbolID)}
}

// AddSymbol registers a new instrument and returns its ID.
func (r *Registry) AddSymbol(name, venue string, scale ScaleSpec) (SymbolID, error) {
	if name == "" {
		return 0, fmt.Errorf("symbol name is empty")
	}
	if venue == "" {
		return 0, fmt.Errorf("venue is empty for symbol: %s", name)
	}
	if id, ok := r.symbolByName[name]; ok {
		return id, fmt.Errorf("symbol already exists: %s", name)
	}
	id := SymbolID(len(r.symbols) + 1)
	r.symbols = append(r.symbols, Symbol{
		ID:    id,
		Name:  name,
		Venue: venue,
		Scale: scale,
	})
	r.symbolByName[name] = id
	return id, nil
}

// Symbol returns the instrument by ID.
func (r *Registry) Symbol(id SymbolID) (Symbol, bool) {
	if id == 0 || int(id) > len(r.symbols) {
		return Symbol{}, false
	}
	return r.symbols[id-1], true
}

// SymbolIDByName returns the instrument ID for a name.
func (r *Registry) SymbolIDByName(name string) (SymbolID, bool) {
	id, ok := r.symbolByName[name]
	return id, ok
}

// SymbolCount returns the number of registered instruments.
func (r *Registry) SymbolCount() int {
	return len(r.symbols)
}

// SymbolAt returns the instrument by zero-based index.
func (r *Registry) SymbolAt(index int) (Symbol, bool) {
	if index < 0 || index >= len(r.symbols) {
		return Symbol{}, false
	}
	return r.symbols[index], true
}
