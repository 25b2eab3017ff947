package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Portfolio holds the unallocated trading symbol balance for one
// (market, trading symbol) configuration.
type Portfolio struct {
	ID            string
	Identifier    string
	Market        string
	TradingSymbol string
	Unallocated   decimal.Decimal
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Position is the amount of one symbol held inside a portfolio. It is created
// the first time the symbol is traded and never deleted.
type Position struct {
	ID          string
	PortfolioID string
	Symbol      string
	Amount      decimal.Decimal
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PortfolioScope selects portfolios by market and/or identifier. An empty
// scope matches every portfolio.
type PortfolioScope struct {
	Market     string
	Identifier string
}

// Matches reports whether p falls inside the scope. Comparison is case
// insensitive.
func (s PortfolioScope) Matches(p Portfolio) bool {
	if s.Market != "" && !strings.EqualFold(s.Market, p.Market) {
		return false
	}
	if s.Identifier != "" && !strings.EqualFold(s.Identifier, p.Identifier) {
		return false
	}
	return true
}

// PositionQuery filters positions. Zero fields do not filter.
type PositionQuery struct {
	PortfolioID string
	Symbol      string
}

// Matches reports whether p satisfies the query.
func (q PositionQuery) Matches(p Position) bool {
	if q.PortfolioID != "" && q.PortfolioID != p.PortfolioID {
		return false
	}
	if q.Symbol != "" && !strings.EqualFold(q.Symbol, p.Symbol) {
		return false
	}
	return true
}

// PositionSnapshot is a point-in-time valuation of one position.
type PositionSnapshot struct {
	Symbol string
	Amount decimal.Decimal
	Price  decimal.Decimal
	Value  decimal.Decimal
}

// PortfolioSnapshot is a point-in-time valuation of a portfolio.
type PortfolioSnapshot struct {
	PortfolioID   string
	Identifier    string
	Market        string
	TradingSymbol string
	Unallocated   decimal.Decimal
	Allocated     decimal.Decimal
	TotalValue    decimal.Decimal
	Positions     []PositionSnapshot
	CreatedAt     time.Time
}
