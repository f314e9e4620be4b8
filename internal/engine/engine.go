package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/clock"
	"main/internal/codec"
	"main/internal/journal"
	"main/internal/ledger"
	"main/internal/obs"
	"main/internal/om"
	"main/internal/risk"
	"main/internal/schema"
	"main/internal/state"
	"main/internal/strategy"
)

// ErrHalted marks a session stopped by a fatal consistency error.
var ErrHalted = errors.New("engine halted")

// Archiver receives orders that reached a terminal state.
type Archiver interface {
	OrderClosed(order om.Order)
}

// Config controls the event loop.
type Config struct {
	SessionID      string
	Source         uint16
	QueueSize      int
	ClockTolerance time.Duration
	StaleAfter     time.Duration
	StaleInterval  time.Duration

	// Replay disables strategy evaluation and admission so journaled
	// intents and decisions drive the session instead.
	Replay bool
}

// Engine drains the single ordered event queue and owns every state
// transition: strategy evaluation, risk admission, order lifecycle, and
// ledger updates. All handling happens on one goroutine equivalent, so no
// event ever observes a half-applied transition.
type Engine struct {
	cfg     Config
	queue   *bus.Queue
	seq     *clock.Sequencer
	trace   *obs.TraceGenerator
	metrics *obs.Metrics

	registry   *schema.Registry
	ledger     *ledger.Ledger
	gate       *risk.Gate
	manager    *om.Manager
	strategies []strategy.Strategy
	journal    *journal.Writer
	archive    Archiver

	mu             sync.Mutex
	lastPrice      map[uint32]schema.Price
	pendingIntents map[uint64]schema.OrderIntent
	nextIntentID   uint64
	lastEventTs    int64
	fatalErr       error
}

// Deps wires the engine's collaborators. Journal and Archive may be nil.
type Deps struct {
	Registry   *schema.Registry
	Ledger     *ledger.Ledger
	Gate       *risk.Gate
	Strategies []strategy.Strategy
	Journal    *journal.Writer
	Archive    Archiver
	Metrics    *obs.Metrics
	TraceSeed  uint64
}

// New assembles an engine. The order manager's transport is attached
// afterwards via SetTransport because simulated transports publish back
// through the engine itself.
func New(cfg Config, deps Deps) *Engine {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1 << 16
	}
	if cfg.ClockTolerance <= 0 {
		cfg.ClockTolerance = 5 * time.Millisecond
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = obs.NewMetrics()
	}
	e := &Engine{
		cfg:            cfg,
		queue:          bus.NewQueue(cfg.QueueSize),
		seq:            clock.NewSequencer(cfg.ClockTolerance),
		trace:          obs.NewTraceGenerator(deps.TraceSeed),
		metrics:        metrics,
		registry:       deps.Registry,
		ledger:         deps.Ledger,
		gate:           deps.Gate,
		strategies:     deps.Strategies,
		journal:        deps.Journal,
		archive:        deps.Archive,
		lastPrice:      make(map[uint32]schema.Price),
		pendingIntents: make(map[uint64]schema.OrderIntent),
	}
	return e
}

// SetTransport binds the broker transport and creates the order manager.
// Must be called before Run.
func (e *Engine) SetTransport(transport om.Transport) {
	e.manager = om.NewManager(om.Config{
		Session:    e.cfg.SessionID,
		StaleAfter: e.cfg.StaleAfter,
	}, e.ledger, transport)
}

// Metrics returns the engine's metrics container.
func (e *Engine) Metrics() *obs.Metrics {
	return e.metrics
}

// Ledger returns the position and reservation book.
func (e *Engine) Ledger() *ledger.Ledger {
	return e.ledger
}

// RestoreCursor seeds the sequencer after recovery so new events continue
// the journal's numbering.
func (e *Engine) RestoreCursor(lastSeq uint64, lastEventTs int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq.Restore(lastSeq, lastEventTs)
	e.lastEventTs = lastEventTs
}

// Run drains the queue until the context is canceled or the queue closes.
// Returns ErrHalted if a fatal consistency error stopped the session.
func (e *Engine) Run(ctx context.Context) error {
	if e.manager == nil {
		return errors.New("engine transport not set")
	}
	if e.cfg.StaleInterval > 0 {
		go e.staleLoop(ctx)
	}
	if err := e.queue.Run(ctx, e.handleEvent); err != nil {
		logs.Infof("event loop aborted before drain: %v", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fatalErr != nil {
		return errors.Join(ErrHalted, e.fatalErr)
	}
	return nil
}

// Stop closes the queue. Queued events are still drained by Run before it
// returns.
func (e *Engine) Stop() {
	e.queue.Close()
}

// PublishMarketData enqueues a normalized tick.
func (e *Engine) PublishMarketData(md schema.MarketData, tsEvent int64) {
	payload := codec.EncodeMarketData(nil, md)
	e.publish(schema.EventMarketData, payload, tsEvent)
}

// PublishFeedGap enqueues a feed discontinuity marker.
func (e *Engine) PublishFeedGap(gap schema.FeedGap, tsEvent int64) {
	payload := codec.EncodeFeedGap(nil, gap)
	e.publish(schema.EventFeedGap, payload, tsEvent)
}

// PublishAck enqueues a transport acknowledgment.
func (e *Engine) PublishAck(ack schema.OrderAck) {
	payload := codec.EncodeOrderAck(nil, ack)
	e.publish(schema.EventOrderAck, payload, time.Now().UTC().UnixNano())
}

// PublishFill enqueues a transport fill.
func (e *Engine) PublishFill(fill schema.Fill) {
	payload := codec.EncodeFill(nil, fill)
	e.publish(schema.EventFill, payload, time.Now().UTC().UnixNano())
}

// Apply processes one event synchronously, bypassing the queue. Replay and
// recovery tooling drive the engine through here.
func (e *Engine) Apply(header schema.EventHeader, payload []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fatalErr != nil {
		return e.fatalErr
	}
	e.applyLocked(header, payload)
	return nil
}

// Snapshot captures the ledger's confirmed positions with the current
// journal cursor.
func (e *Engine) Snapshot() state.Snapshot {
	e.mu.Lock()
	lastSeq := e.seq.LastSeq()
	lastTs := e.lastEventTs
	e.mu.Unlock()
	return state.Capture(e.ledger, e.cfg.SessionID, lastSeq, lastTs)
}

// Status is the operator-facing view of a running session.
type Status struct {
	SessionID        string
	Replay           bool
	Halted           bool
	FatalErr         string
	LastSeq          uint64
	LastEventTs      int64
	QueueLen         int
	OpenOrders       int
	OpenReservations int
	Positions        []ledger.Position
}

// Status reports the session state for the operator surface.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := Status{
		SessionID:        e.cfg.SessionID,
		Replay:           e.cfg.Replay,
		LastSeq:          e.seq.LastSeq(),
		LastEventTs:      e.lastEventTs,
		QueueLen:         e.queue.Len(),
		OpenReservations: e.ledger.OpenReservations(),
		Positions:        e.ledger.Positions(),
	}
	if e.manager != nil {
		st.OpenOrders = len(e.manager.Open())
	}
	if e.fatalErr != nil {
		st.Halted = true
		st.FatalErr = e.fatalErr.Error()
	}
	return st
}

// UpdateRiskConfig hot-swaps the risk gate's limits. Returns false when the
// version did not advance.
func (e *Engine) UpdateRiskConfig(cfg risk.Config) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gate.SetConfig(cfg)
}

// StaleOrders returns open orders without a transport response within the
// configured window.
func (e *Engine) StaleOrders(now int64) []om.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	stale := e.manager.Stale(now)
	out := make([]om.Order, 0, len(stale))
	for _, o := range stale {
		out = append(out, *o)
	}
	return out
}

func (e *Engine) publish(eventType schema.EventType, payload []byte, tsEvent int64) {
	now := time.Now().UTC().UnixNano()
	header := schema.NewHeader(eventType, e.cfg.Source, 0, tsEvent, now)
	header.TraceID = e.trace.Next()
	if err := e.queue.TryPublish(bus.Event{Header: header, Payload: payload}); err != nil {
		switch {
		case errors.Is(err, bus.ErrQueueFull):
			e.metrics.IncQueueDrop()
			logs.Errorf("queue full, dropping %d event", eventType)
		case errors.Is(err, bus.ErrQueueClosed):
			e.metrics.IncQueueClosed()
		}
	}
}

func (e *Engine) handleEvent(ev bus.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fatalErr != nil {
		return
	}
	e.applyLocked(ev.Header, ev.Payload)
}

// applyLocked is the single point every state transition passes through.
// Events carrying Seq zero are live and get stamped here, in strict
// processing order; events with a Seq came from a journal and keep it.
func (e *Engine) applyLocked(header schema.EventHeader, payload []byte) {
	if header.Seq == 0 {
		seq, ts, err := e.seq.Next(header.TsEvent)
		if err != nil {
			logs.Errorf("clock rejected event type=%d ts=%d: %+v", header.Type, header.TsEvent, err)
			return
		}
		header.Seq = seq
		header.TsEvent = ts
	}
	if header.TsEvent > e.lastEventTs {
		e.lastEventTs = header.TsEvent
	}
	e.metrics.ObserveEvent(header)

	// Acks and fills are journaled by their handlers, only once the order
	// manager accepts them. A recovery pass replays every journaled fill
	// into the ledger without order state, so a discarded duplicate must
	// never reach the journal.
	switch header.Type {
	case schema.EventMarketData:
		e.journalAppend(header, payload)
		e.onMarketData(header, payload)
	case schema.EventOrderIntent:
		e.journalAppend(header, payload)
		e.onOrderIntent(payload)
	case schema.EventRiskDecision:
		e.journalAppend(header, payload)
		e.onRiskDecision(header, payload)
	case schema.EventOrderAck:
		e.onOrderAck(header, payload)
	case schema.EventFill:
		e.onFill(header, payload)
	case schema.EventFeedGap:
		e.journalAppend(header, payload)
		e.onFeedGap(payload)
	default:
		logs.Errorf("unknown event type %d, seq=%d", header.Type, header.Seq)
	}
}

func (e *Engine) onMarketData(header schema.EventHeader, payload []byte) {
	md, ok := codec.DecodeMarketData(payload)
	if !ok {
		logs.Errorf("short market data payload, seq=%d", header.Seq)
		return
	}
	if price := referencePrice(md); price > 0 {
		e.lastPrice[md.SymbolID] = price
	}
	if e.cfg.Replay {
		return
	}

	start := time.Now()
	for _, s := range e.strategies {
		for _, intent := range s.Evaluate(md, e.ledger) {
			e.nextIntentID++
			intent.IntentID = e.nextIntentID
			e.admitLocked(intent, header.TsEvent)
		}
	}
	e.metrics.ObserveOrderFlow(time.Since(start))
}

// admitLocked journals the intent, runs admission, journals the decision,
// and submits on allow. Everything happens before the next event so replay
// reproduces the exact interleaving.
func (e *Engine) admitLocked(intent schema.OrderIntent, tsEvent int64) {
	e.journalDerived(schema.EventOrderIntent, codec.EncodeOrderIntent(nil, intent), tsEvent)

	start := time.Now()
	decision, _ := e.gate.Admit(intent, e.lastPrice[intent.SymbolID], tsEvent)
	e.metrics.ObserveRiskEval(time.Since(start))
	e.journalDerived(schema.EventRiskDecision, codec.EncodeRiskDecision(nil, decision), tsEvent)

	if decision.Action != schema.RiskActionAllow {
		e.metrics.IncRiskReason(decision.Reason)
		logs.Infof("intent %d denied, reason=%d symbol=%d", intent.IntentID, decision.Reason, intent.SymbolID)
		return
	}
	e.submitLocked(intent, tsEvent)
}

func (e *Engine) submitLocked(intent schema.OrderIntent, now int64) {
	_, _, err := e.manager.Submit(context.Background(), intent, now)
	if err != nil {
		if errors.Is(err, om.ErrOrderIDCollision) {
			e.haltLocked(err)
			return
		}
		e.ledger.Release(intent.IntentID)
		logs.Errorf("submit intent %d: %+v", intent.IntentID, err)
	}
}

func (e *Engine) onOrderIntent(payload []byte) {
	intent, ok := codec.DecodeOrderIntent(payload)
	if !ok {
		logs.Errorf("short order intent payload")
		return
	}
	if !e.cfg.Replay {
		return
	}
	e.pendingIntents[intent.IntentID] = intent
	if intent.IntentID > e.nextIntentID {
		e.nextIntentID = intent.IntentID
	}
}

func (e *Engine) onRiskDecision(header schema.EventHeader, payload []byte) {
	decision, ok := codec.DecodeRiskDecision(payload)
	if !ok {
		logs.Errorf("short risk decision payload, seq=%d", header.Seq)
		return
	}
	if !e.cfg.Replay {
		return
	}
	intent, ok := e.pendingIntents[decision.IntentID]
	delete(e.pendingIntents, decision.IntentID)
	if decision.Action != schema.RiskActionAllow {
		e.metrics.IncRiskReason(decision.Reason)
		return
	}
	if !ok {
		logs.Errorf("decision %d has no recorded intent", decision.IntentID)
		return
	}
	if _, err := e.ledger.Reserve(intent); err != nil {
		logs.Errorf("replay reserve intent %d: %+v", intent.IntentID, err)
		return
	}
	e.submitLocked(intent, header.TsEvent)
}

func (e *Engine) onOrderAck(header schema.EventHeader, payload []byte) {
	ack, ok := codec.DecodeOrderAck(payload)
	if !ok {
		logs.Errorf("short order ack payload, seq=%d", header.Seq)
		return
	}
	o, err := e.manager.HandleAck(ack, header.TsEvent)
	if err != nil {
		if errors.Is(err, om.ErrStaleFill) || errors.Is(err, om.ErrUnknownOrder) {
			e.metrics.IncStaleFill()
			return
		}
		logs.Errorf("ack order %d: %+v", ack.OrderID, err)
		return
	}
	e.journalAppend(header, payload)
	if o.State.Terminal() {
		e.archiveLocked(*o)
	}
}

func (e *Engine) onFill(header schema.EventHeader, payload []byte) {
	fill, ok := codec.DecodeFill(payload)
	if !ok {
		logs.Errorf("short fill payload, seq=%d", header.Seq)
		return
	}
	o, err := e.manager.HandleFill(fill, header.TsEvent)
	if err != nil {
		switch {
		case errors.Is(err, om.ErrStaleFill):
			e.metrics.IncStaleFill()
			logs.Infof("stale fill dropped, order=%d qty=%d", fill.OrderID, fill.Qty)
		case errors.Is(err, om.ErrOverfill), errors.Is(err, ledger.ErrReservationUnderflow):
			e.haltLocked(err)
		default:
			logs.Errorf("fill order %d: %+v", fill.OrderID, err)
		}
		return
	}
	e.journalAppend(header, payload)
	if o.State.Terminal() {
		e.archiveLocked(*o)
	}
	if err := e.ledger.CheckInvariants(); err != nil {
		e.haltLocked(err)
	}
}

func (e *Engine) onFeedGap(payload []byte) {
	gap, ok := codec.DecodeFeedGap(payload)
	if !ok {
		logs.Errorf("short feed gap payload")
		return
	}
	e.metrics.IncFeedGap()
	logs.Infof("feed gap source=%d last=%d next=%d", gap.Source, gap.LastSeq, gap.NextSeq)
	for _, s := range e.strategies {
		if gap.SymbolID != 0 {
			s.Reset(gap.SymbolID)
			continue
		}
		for i := 0; i < e.registry.SymbolCount(); i++ {
			if sym, ok := e.registry.SymbolAt(i); ok {
				s.Reset(uint32(sym.ID))
			}
		}
	}
}

func (e *Engine) archiveLocked(o om.Order) {
	if e.archive == nil {
		return
	}
	e.archive.OrderClosed(o)
}

func (e *Engine) journalAppend(header schema.EventHeader, payload []byte) {
	if e.journal == nil {
		return
	}
	if err := e.journal.TryAppend(header, payload); err != nil {
		e.metrics.IncJournalDrop()
		logs.Errorf("journal append seq=%d: %+v", header.Seq, err)
	}
}

// journalDerived stamps and journals an event the engine itself produced.
// Derived events consume sequence numbers so the journal's record order
// matches processing order exactly.
func (e *Engine) journalDerived(eventType schema.EventType, payload []byte, tsEvent int64) {
	seq, ts, err := e.seq.Next(tsEvent)
	if err != nil {
		logs.Errorf("clock rejected derived event type=%d: %+v", eventType, err)
		return
	}
	header := schema.NewHeader(eventType, e.cfg.Source, seq, ts, time.Now().UTC().UnixNano())
	header.TraceID = e.trace.Next()
	e.metrics.ObserveEvent(header)
	e.journalAppend(header, payload)
}

func (e *Engine) haltLocked(err error) {
	if e.fatalErr != nil {
		return
	}
	e.fatalErr = err
	logs.Errorf("fatal, halting session %s: %+v", e.cfg.SessionID, err)
	e.queue.Close()
}

func (e *Engine) staleLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.StaleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UTC().UnixNano()
			for _, o := range e.StaleOrders(now) {
				logs.Errorf("order %d stale, state=%s age=%s", o.ID, o.State, time.Duration(now-o.UpdatedTs))
			}
		}
	}
}

func referencePrice(md schema.MarketData) schema.Price {
	switch md.Kind {
	case schema.MarketDataTrade:
		return md.Price
	case schema.MarketDataQuote:
		if md.BidPrice > 0 && md.AskPrice > 0 {
			return (md.BidPrice + md.AskPrice) / 2
		}
	}
	return 0
}
