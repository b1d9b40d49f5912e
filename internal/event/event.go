// Package event defines the RawEvent contract that any Feed must
// produce. It is the only exchange-facing type in the pipeline; a
// feed's job ends the moment it has filled one of these in.
package event

// Kind discriminates the RawEvent variants.
type Kind uint8

const (
	KindL1 Kind = iota
	KindL2
	KindTrade
)

// Side identifies which side of the book an L2 update applies to.
type Side uint8

const (
	SideBid Side = iota
	SideAsk
)

// Action identifies the kind of L2 depth change.
type Action uint8

const (
	ActionInsert Action = iota
	ActionUpdate
	ActionDelete
)

// Aggressor identifies which side initiated a trade.
type Aggressor uint8

const (
	AggressorBuy Aggressor = iota
	AggressorSell
	AggressorUnknown = 255
)

// RawEvent is a discriminated tick-level record produced by a Feed.
// Only the fields relevant to Kind are meaningful; the normalizer
// reads them by Kind and ignores the rest.
type RawEvent struct {
	Kind        Kind
	Symbol      string
	TimestampNs uint64
	Sequence    uint64

	// L1
	BidPrice float64
	BidSize  float64
	AskPrice float64
	AskSize  float64

	// L2
	Side   Side
	Action Action
	Level  uint16
	Price  float64
	Size   float64

	// Trade
	TradePrice   float64
	TradeSize    float64
	AggressorSid Aggressor
}
