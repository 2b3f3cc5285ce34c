package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"
)

// ========== Event Kinds ==========

// Kind 事件类型
type Kind string

const (
	KindTrade     Kind = "Trade"
	KindHeartbeat Kind = "Heartbeat"
	KindTicker    Kind = "Ticker"
)

// ParseKind 解析事件类型（大小写不敏感）
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trade":
		return KindTrade, nil
	case "heartbeat":
		return KindHeartbeat, nil
	case "ticker":
		return KindTicker, nil
	default:
		return "", fmt.Errorf("unknown event kind %q", s)
	}
}

// Side 成交方向（taker 方向）
type Side string

const (
	SideBuy     Side = "buy"
	SideSell    Side = "sell"
	SideUnknown Side = "unknown"
)

// ========== Payloads ==========

// Payload is implemented by the kind-specific data carried by an Event.
type Payload interface {
	Kind() Kind
}

// Trade 单笔成交
type Trade struct {
	ID     string
	Price  decimal.Decimal
	Volume decimal.Decimal // absolute size
	Side   Side
}

func (Trade) Kind() Kind { return KindTrade }

// Ticker 盘口快照
type Ticker struct {
	Bid    decimal.Decimal
	Ask    decimal.Decimal
	Last   decimal.Decimal
	Volume decimal.Decimal
}

func (Ticker) Kind() Kind { return KindTicker }

// Heartbeat 交易所心跳
type Heartbeat struct{}

func (Heartbeat) Kind() Kind { return KindHeartbeat }

// ========== Event ==========

// Event is one market occurrence received from a venue. Fields are set once by
// NewEvent and only exposed through accessors; payloads are value types, so a
// copied Event can never alter the original.
type Event struct {
	venue   string
	pair    string
	ts      time.Time
	payload Payload
}

// NewEvent 创建事件，kind 由 payload 决定
func NewEvent(venue, pair string, ts time.Time, payload Payload) Event {
	if payload == nil {
		payload = Heartbeat{}
	}
	return Event{
		venue:   strings.ToLower(strings.TrimSpace(venue)),
		pair:    strings.ToUpper(strings.TrimSpace(pair)),
		ts:      ts.UTC(),
		payload: payload,
	}
}

func (e Event) Kind() Kind {
	if e.payload == nil {
		return ""
	}
	return e.payload.Kind()
}

func (e Event) Venue() string { return e.venue }
func (e Event) Pair() string { return e.pair }
func (e Event) Time() time.Time { return e.ts }
func (e Event) Payload() Payload { return e.payload }
func (e Event) IsZero() bool { return e.payload == nil }
func (e Event) TimestampMs() int64 { return e.ts.UnixMilli() }

// Trade returns the trade payload if the event is a trade.
func (e Event) Trade() (Trade, bool) {
	t, ok := e.payload.(Trade)
	return t, ok
}

// Ticker returns the ticker payload if the event is a ticker.
func (e Event) Ticker() (Ticker, bool) {
	t, ok := e.payload.(Ticker)
	return t, ok
}

// String 单行文本表示，用于 events 输出格式
func (e Event) String() string {
	var sb strings.Builder
	sb.WriteString(string(e.Kind()))
	sb.WriteString("(venue=")
	sb.WriteString(e.venue)
	sb.WriteString(", pair=")
	sb.WriteString(e.pair)
	sb.WriteString(", timestamp=")
	sb.WriteString(e.ts.Format(time.RFC3339Nano))

	switch p := e.payload.(type) {
	case Trade:
		fmt.Fprintf(&sb, ", id=%s, price=%s, volume=%s, side=%s", p.ID, p.Price, p.Volume, p.Side)
	case Ticker:
		fmt.Fprintf(&sb, ", bid=%s, ask=%s, last=%s, volume=%s", p.Bid, p.Ask, p.Last, p.Volume)
	}
	sb.WriteString(")")
	return sb.String()
}

type eventJSON struct {
	Kind      Kind             `json:"kind"`
	Venue     string           `json:"venue"`
	Pair      string           `json:"pair"`
	Timestamp int64            `json:"ts_ms"`
	ID        string           `json:"id,omitempty"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	Volume    *decimal.Decimal `json:"volume,omitempty"`
	Side      Side             `json:"side,omitempty"`
	Bid       *decimal.Decimal `json:"bid,omitempty"`
	Ask       *decimal.Decimal `json:"ask,omitempty"`
	Last      *decimal.Decimal `json:"last,omitempty"`
}

// MarshalJSON 扁平化输出，json 输出格式使用
func (e Event) MarshalJSON() ([]byte, error) {
	out := eventJSON{
		Kind:      e.Kind(),
		Venue:     e.venue,
		Pair:      e.pair,
		Timestamp: e.ts.UnixMilli(),
	}
	switch p := e.payload.(type) {
	case Trade:
		out.ID = p.ID
		out.Price = &p.Price
		out.Volume = &p.Volume
		out.Side = p.Side
	case Ticker:
		out.Bid = &p.Bid
		out.Ask = &p.Ask
		out.Last = &p.Last
		out.Volume = &p.Volume
	}
	return json.Marshal(out)
}
