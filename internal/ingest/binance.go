package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"github.com/yanun0323/pkg/ws"

	"main/internal/mdg"
	"main/internal/schema"
)

const _binanceBaseWsUrl = "wss://stream.binance.com:9443/ws"

// Config describes a live Binance feed.
type Config struct {
	URL    string
	Source uint16
}

// Feed streams Binance trades and book tickers, converting them to raw
// ticks in each symbol's scale. Each subscribed symbol gets its own source
// ID so gap detection tracks streams independently.
type Feed struct {
	cfg     Config
	wss     *ws.WebSocket
	reg     *schema.Registry
	sources map[string]uint16
}

// NewFeed creates a feed bound to a symbol registry.
func NewFeed(ctx context.Context, cfg Config, reg *schema.Registry) *Feed {
	if cfg.URL == "" {
		cfg.URL = _binanceBaseWsUrl
	}
	return &Feed{
		cfg:     cfg,
		wss:     ws.New(ctx, cfg.URL),
		reg:     reg,
		sources: make(map[string]uint16),
	}
}

func (f *Feed) Len() int {
	return f.wss.Len()
}

func (f *Feed) Close() {
	f.wss.Close()
}

// Start opens the websocket connection.
func (f *Feed) Start(ctx context.Context) error {
	if err := f.wss.Start(ctx); err != nil {
		return errors.Wrap(err, "start wss")
	}
	return nil
}

type binanceSubscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

type binanceSubscribeResponse struct {
	ID     int64 `json:"id"`
	Result any   `json:"result"`
}

func subscribeResponseParser(m ws.Message) (binanceSubscribeResponse, bool) {
	var resp binanceSubscribeResponse
	err := m.Unmarshal(&resp)
	return resp, err == nil
}

// SubscribeTrades subscribes the trade stream for a symbol.
func (f *Feed) SubscribeTrades(ctx context.Context, symbol string) error {
	if _, ok := f.reg.SymbolIDByName(symbol); !ok {
		return errors.Errorf("symbol not registered: %s", symbol)
	}
	f.sources[strings.ToUpper(symbol)] = f.cfg.Source + uint16(len(f.sources))

	appendIntoRegister := true
	if err := f.wss.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, ws *ws.WebSocket) error {
			payload := binanceSubscribeRequest{
				Method: "SUBSCRIBE",
				Params: []string{
					fmt.Sprintf("%s@trade", strings.ToLower(symbol)),
				},
				ID: 1,
			}

			if err := ws.WriteJSON(payload); err != nil {
				return errors.Wrap(err, "write subscribe payload").With("payload", payload)
			}

			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			resp, ok := subscribeResponseParser(m)
			if !ok || resp.ID != 1 {
				return false, nil
			}

			if resp.Result != nil {
				return false, errors.Errorf("subscribe and wait, err: %+v", resp.Result)
			}
			return true, nil
		},
	}, appendIntoRegister); err != nil {
		return errors.Wrap(err, "send and wait")
	}

	return nil
}

type binanceTrade struct {
	EventType string          `json:"e"`
	EventTime int64           `json:"E"`
	Symbol    string          `json:"s"`
	TradeID   uint64          `json:"t"`
	Price     decimal.Decimal `json:"p"`
	Quantity  decimal.Decimal `json:"q"`
	TradeTime int64           `json:"T"`
}

// ObserveTrades attaches a handler that receives each trade as a raw tick.
func (f *Feed) ObserveTrades(ctx context.Context, handler func(tick mdg.RawTick)) (unsubscribe func()) {
	ch, cancel := f.wss.Subscribe()

	go func() {
		defer cancel()
		for {
			select {
			case <-sys.Shutdown():
				return
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}

				trade, ok := ws.ReadMessage[binanceTrade](m)
				if !ok || trade.EventType != "trade" {
					continue
				}

				tick, err := f.tradeTick(trade)
				if err != nil {
					logs.Errorf("convert trade %s: %+v", trade.Symbol, err)
					continue
				}
				handler(tick)
			}
		}
	}()

	return cancel
}

func (f *Feed) tradeTick(trade binanceTrade) (mdg.RawTick, error) {
	symbolID, ok := f.reg.SymbolIDByName(trade.Symbol)
	if !ok {
		return mdg.RawTick{}, errors.Errorf("symbol not registered: %s", trade.Symbol)
	}
	sym, _ := f.reg.Symbol(symbolID)

	price, err := scaledInt(trade.Price.String(), sym.Scale.PriceScale)
	if err != nil {
		return mdg.RawTick{}, errors.Wrap(err, "parse price")
	}
	size, err := scaledInt(trade.Quantity.String(), sym.Scale.QuantityScale)
	if err != nil {
		return mdg.RawTick{}, errors.Wrap(err, "parse quantity")
	}

	return mdg.RawTick{
		Symbol:  trade.Symbol,
		Kind:    schema.MarketDataTrade,
		Price:   price,
		Size:    size,
		Source:  f.sources[strings.ToUpper(trade.Symbol)],
		FeedSeq: trade.TradeID,
		TsEvent: trade.TradeTime * int64(time.Millisecond),
		TsRecv:  time.Now().UTC().UnixNano(),
	}, nil
}

// scaledInt converts a decimal string to an integer scaled by 10^scale.
// Excess fractional digits are an error, not a silent truncation.
func scaledInt(s string, scale schema.Scale) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty decimal")
	}
	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	whole, frac := s, ""
	if idx := strings.IndexByte(s, '.'); idx >= 0 {
		whole, frac = s[:idx], s[idx+1:]
	}
	frac = strings.TrimRight(frac, "0")
	if len(frac) > int(scale) {
		return 0, errors.Errorf("too many fractional digits: %s (scale %d)", s, scale)
	}
	for len(frac) < int(scale) {
		frac += "0"
	}

	var v int64
	for _, c := range whole + frac {
		if c < '0' || c > '9' {
			return 0, errors.Errorf("invalid decimal: %s", s)
		}
		digit := int64(c - '0')
		if v > (int64(^uint64(0)>>1)-digit)/10 {
			return 0, errors.Errorf("decimal overflow: %s", s)
		}
		v = v*10 + digit
	}
	if neg {
		v = -v
	}
	return v, nil
}
