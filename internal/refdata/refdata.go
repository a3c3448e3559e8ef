// Package refdata exposes the read-only reference data the order pipeline
// consumes: instrument metadata, trading rules, per-user margin settings and
// the current mark price. Production providers sit in front of the
// instrument-configuration service; this package only defines the contract
// and an in-memory provider for wiring and tests.
package refdata

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/helioex/orderdesk/pkg/errors"
)

// Instrument is static contract metadata for a symbol.
type Instrument struct {
	Symbol        string          `json:"symbol" yaml:"symbol"`
	ContractType  string          `json:"contract_type" yaml:"contract_type"`
	Multiplier    decimal.Decimal `json:"multiplier" yaml:"multiplier"`
	TakerFeeRate  decimal.Decimal `json:"taker_fee_rate" yaml:"taker_fee_rate"`
	PriceDecimals int32           `json:"price_decimals" yaml:"price_decimals"`
	QtyDecimals   int32           `json:"qty_decimals" yaml:"qty_decimals"`
}

// TradingRule bounds order quantity and price for a symbol.
type TradingRule struct {
	MinQuantity decimal.Decimal `json:"min_quantity" yaml:"min_quantity"`
	MaxQuantity decimal.Decimal `json:"max_quantity" yaml:"max_quantity"`
	MinPrice    decimal.Decimal `json:"min_price" yaml:"min_price"`
	MaxPrice    decimal.Decimal `json:"max_price" yaml:"max_price"`
}

// MarginSetting is the user's leverage and margin mode for a symbol.
type MarginSetting struct {
	Leverage   decimal.Decimal `json:"leverage"`
	MarginMode string          `json:"margin_mode"`
}

// Provider is the cached read-only lookup surface.
type Provider interface {
	Instrument(ctx context.Context, symbol string) (*Instrument, error)
	TradingRule(ctx context.Context, symbol string) (*TradingRule, error)
	MarginSetting(ctx context.Context, userID uuid.UUID, symbol string) (*MarginSetting, error)
	MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// StaticProvider serves reference data from memory. Mark prices are mutable
// so feeds (and tests) can push updates.
type StaticProvider struct {
	mu          sync.RWMutex
	instruments map[string]*Instrument
	rules       map[string]*TradingRule
	margins     map[string]*MarginSetting // keyed userID|symbol
	markPrices  map[string]decimal.Decimal
	defaultMgn  MarginSetting
}

// NewStaticProvider builds a provider over the given instruments and rules.
func NewStaticProvider(instruments []Instrument, rules map[string]TradingRule) *StaticProvider {
	p := &StaticProvider{
		instruments: make(map[string]*Instrument, len(instruments)),
		rules:       make(map[string]*TradingRule, len(rules)),
		margins:     make(map[string]*MarginSetting),
		markPrices:  make(map[string]decimal.Decimal),
		defaultMgn:  MarginSetting{Leverage: decimal.NewFromInt(1), MarginMode: "CROSS"},
	}
	for i := range instruments {
		inst := instruments[i]
		p.instruments[inst.Symbol] = &inst
	}
	for sym, rule := range rules {
		r := rule
		p.rules[sym] = &r
	}
	return p
}

func (p *StaticProvider) Instrument(_ context.Context, symbol string) (*Instrument, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	inst, ok := p.instruments[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", pkgerrors.ErrInstrumentNotFound, symbol)
	}
	return inst, nil
}

func (p *StaticProvider) TradingRule(_ context.Context, symbol string) (*TradingRule, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rule, ok := p.rules[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: no trading rule for %s", pkgerrors.ErrInstrumentNotFound, symbol)
	}
	return rule, nil
}

func (p *StaticProvider) MarginSetting(_ context.Context, userID uuid.UUID, symbol string) (*MarginSetting, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if m, ok := p.margins[userID.String()+"|"+symbol]; ok {
		return m, nil
	}
	m := p.defaultMgn
	return &m, nil
}

func (p *StaticProvider) MarkPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	px, ok := p.markPrices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no mark price for %s", pkgerrors.ErrInstrumentNotFound, symbol)
	}
	return px, nil
}

// SetMarkPrice updates the cached mark price for a symbol.
func (p *StaticProvider) SetMarkPrice(symbol string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.markPrices[symbol] = price
}

// SetMarginSetting overrides the leverage and margin mode for a user+symbol.
func (p *StaticProvider) SetMarginSetting(userID uuid.UUID, symbol string, setting MarginSetting) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.margins[userID.String()+"|"+symbol] = &setting
}
