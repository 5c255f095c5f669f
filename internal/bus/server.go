package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"exchange/internal/common"
	"exchange/internal/engine"
	"exchange/internal/priceservice"
	"exchange/internal/workerpool"
)

const (
	intakeListKey  = "messages"
	tradeTopicFmt  = "trade@%s"
	depthTopicFmt  = "depth@%s"
	tickerTopicFmt = "ticker@%s"
	dbProcessorKey = "db_processor"
	tradeAddedType = "TRADE_ADDED"

	defaultReadWorkers = 8
)

// Adapter is the Redis-backed transport for the engine coordinator: it
// pops requests off the shared intake list, dispatches them to the
// engine, and implements engine.Publisher to reply and broadcast.
//
// Mutating requests (CreateOrder, CancelOrder) are funneled onto
// writePool, a single-worker pool, so books/balances/positions only ever
// have one in-flight writer at a time, per spec.md §5's single-writer
// scheduling model: a fill's ledger update and position update must land
// as one serializable transaction before the next request can observe
// engine state. Read-only snapshot requests run concurrently on readPool.
type Adapter struct {
	client        *redis.Client
	eng           *engine.Engine
	intakeTimeout time.Duration
	writePool     *workerpool.Pool
	readPool      *workerpool.Pool
}

// New constructs a bus adapter wired to an engine and a Redis client.
func New(client *redis.Client, eng *engine.Engine, intakeTimeout time.Duration) *Adapter {
	return &Adapter{
		client:        client,
		eng:           eng,
		intakeTimeout: intakeTimeout,
		writePool:     workerpool.New(1),
		readPool:      workerpool.New(defaultReadWorkers),
	}
}

// Run starts both worker pools and the supervised intake loop under t and
// returns immediately; the loop exits once t starts dying (context
// cancellation).
func (a *Adapter) Run(t *tomb.Tomb, ctx context.Context) {
	a.writePool.Run(t, a.handleTask)
	a.readPool.Run(t, a.handleTask)
	t.Go(func() error {
		return a.intakeLoop(t, ctx)
	})
}

func (a *Adapter) intakeLoop(t *tomb.Tomb, ctx context.Context) error {
	log.Info().Msg("bus intake loop starting")
	for {
		select {
		case <-t.Dying():
			return nil
		default:
		}

		result, err := a.client.BLPop(ctx, a.intakeTimeout, intakeListKey).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Msg("intake BLPOP failed")
			continue
		}

		// result[0] is the key name, result[1] the popped value.
		var env Envelope
		if err := json.Unmarshal([]byte(result[1]), &env); err != nil {
			log.Error().Err(err).Msg("malformed envelope")
			continue
		}

		if isWriteRequest(env.Type) {
			a.writePool.AddTask(env)
		} else {
			a.readPool.AddTask(env)
		}
	}
}

// isWriteRequest reports whether a request kind mutates books, balances,
// or positions and must therefore run single-writer (spec.md §5).
func isWriteRequest(t RequestType) bool {
	return t == CreateOrder || t == CancelOrder
}

// sweepPricesTask and sweepLiquidationsTask are the C6/C7 interval-timer
// ticks, enqueued onto writePool rather than mutating engine state from
// their own goroutine, preserving the single-writer discipline spec.md §9
// requires of "sleep-then-poll background loops".
type sweepPricesTask struct{}
type sweepLiquidationsTask struct{}

func (a *Adapter) handleTask(_ *tomb.Tomb, task any) error {
	switch t := task.(type) {
	case Envelope:
		if err := a.dispatch(t); err != nil {
			log.Error().Err(err).Str("client_id", t.ClientID).Str("type", string(t.Type)).Msg("request handling failed")
			a.Reply(t.ClientID, Reply{Type: ErrorResponse, Payload: err.Error()})
		}
		return nil
	case sweepPricesTask:
		for _, info := range a.eng.SweepPrices() {
			a.BroadcastTicker(info.Market, info)
		}
		return nil
	case sweepLiquidationsTask:
		events := a.eng.SweepLiquidations()
		if len(events) > 0 {
			log.Info().Int("count", len(events)).Msg("liquidations triggered this sweep")
		}
		return nil
	default:
		return fmt.Errorf("bus: %w", ErrInvalidMessageType)
	}
}

func (a *Adapter) dispatch(env Envelope) error {
	switch env.Type {
	case CreateOrder:
		return a.handleCreateOrder(env)
	case CancelOrder:
		return a.handleCancelOrder(env)
	case GetDepth:
		return a.handleGetDepth(env)
	case GetOpenOrders:
		return a.handleGetOpenOrders(env)
	case GetQuote:
		return a.handleGetQuote(env)
	case GetUserBalances:
		return a.handleGetUserBalances(env)
	case GetMarginPositions:
		return a.handleGetMarginPositions(env)
	case GetTicker:
		return a.handleGetTicker(env)
	default:
		return ErrInvalidMessageType
	}
}

func (a *Adapter) handleCreateOrder(env Envelope) error {
	var payload CreateOrderPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return err
	}
	req, err := payload.ToRequest()
	if err != nil {
		return err
	}

	outcome, err := a.eng.CreateOrder(req)
	if err != nil {
		return err
	}

	// State change is already committed inside CreateOrder; reply before
	// broadcasting, per the coordinator's ordering rule.
	a.Reply(env.ClientID, Reply{Type: OrderPlaced, Payload: outcome})
	if !outcome.Accepted {
		return nil
	}
	for _, trade := range outcome.Trades {
		a.BroadcastTrade(req.Market, trade)
		a.recordPrice(req.Market, trade)
	}
	a.BroadcastDepth(req.Market, outcome.Depth)
	a.BroadcastTicker(req.Market, outcome.Ticker)
	return nil
}

func (a *Adapter) handleCancelOrder(env Envelope) error {
	var payload CancelOrderPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return err
	}
	kind := common.Spot
	if payload.Kind == "MARGIN_LONG" || payload.Kind == "MARGIN_SHORT" {
		kind = common.MarginLong
	}

	outcome, err := a.eng.CancelOrder(payload.UserID, payload.Market, payload.OrderID, kind)
	if err != nil {
		return err
	}
	a.Reply(env.ClientID, Reply{Type: OrderCancelled, Payload: outcome})
	if outcome.Found {
		a.BroadcastDepth(payload.Market, outcome.Depth)
	}
	return nil
}

func (a *Adapter) handleGetDepth(env Envelope) error {
	var payload GetDepthPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return err
	}
	depth, err := a.eng.GetDepth(payload.Market)
	if err != nil {
		return err
	}
	a.Reply(env.ClientID, Reply{Type: Depth, Payload: depth})
	return nil
}

func (a *Adapter) handleGetOpenOrders(env Envelope) error {
	var payload GetOpenOrdersPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return err
	}
	orders := a.eng.GetOpenOrders(payload.UserID)
	a.Reply(env.ClientID, Reply{Type: OpenOrders, Payload: orders})
	return nil
}

func (a *Adapter) handleGetQuote(env Envelope) error {
	var payload GetQuotePayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return err
	}
	side := common.Buy
	if payload.Side == "SELL" {
		side = common.Sell
	}
	quote, err := a.eng.GetQuote(payload.Market, payload.Quantity, side)
	if err != nil {
		return err
	}
	a.Reply(env.ClientID, Reply{Type: SendQuote, Payload: quote})
	return nil
}

func (a *Adapter) handleGetUserBalances(env Envelope) error {
	var payload GetUserBalancesPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return err
	}
	balances := a.eng.GetUserBalances(payload.UserID)
	a.Reply(env.ClientID, Reply{Type: UserBalances, Payload: balances})
	return nil
}

func (a *Adapter) handleGetMarginPositions(env Envelope) error {
	var payload GetMarginPositionsPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return err
	}
	positions := a.eng.GetMarginPositions(payload.UserID)
	a.Reply(env.ClientID, Reply{Type: MarginPositions, Payload: positions})
	return nil
}

func (a *Adapter) handleGetTicker(env Envelope) error {
	var payload GetTickerPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return err
	}
	ticker, err := a.eng.GetTicker(payload.Market)
	if err != nil {
		return err
	}
	a.Reply(env.ClientID, Reply{Type: TickerPrice, Payload: ticker})
	return nil
}

// Reply implements engine.Publisher: it publishes the payload on the
// channel named exactly after the request's client_id (spec.md §6 "Per-
// request reply channel name = client_id").
func (a *Adapter) Reply(clientID string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("client_id", clientID).Msg("failed marshaling reply")
		return
	}
	ctx := context.Background()
	if err := a.client.Publish(ctx, clientID, data).Err(); err != nil {
		log.Error().Err(err).Str("client_id", clientID).Msg("failed publishing reply")
	}
}

// BroadcastTrade implements engine.Publisher.
func (a *Adapter) BroadcastTrade(market string, trade common.TradeEvent) {
	a.publishJSON(fmt.Sprintf(tradeTopicFmt, market), TradeBroadcast{Market: market, Trade: trade})
}

// BroadcastDepth implements engine.Publisher.
func (a *Adapter) BroadcastDepth(market string, depth engine.DepthSnapshot) {
	a.publishJSON(fmt.Sprintf(depthTopicFmt, market), DepthBroadcast{Market: market, Depth: depth})
}

// BroadcastTicker implements engine.Publisher.
func (a *Adapter) BroadcastTicker(market string, info priceservice.Info) {
	a.publishJSON(fmt.Sprintf(tickerTopicFmt, market), TickerBroadcast{Market: market, Ticker: info})
}

// recordPrice feeds every trade to the db_processor list for the sibling
// long-term price-history process, in the TRADE_ADDED envelope spec.md §6
// and the original db-processor/src/models/message_from_engine.rs
// AddTradePayload require: {"type":"TRADE_ADDED","data":{"ticker",
// "time","price"}}.
func (a *Adapter) recordPrice(market string, trade common.TradeEvent) {
	data, err := json.Marshal(TradeAddedEnvelope{
		Type: tradeAddedType,
		Data: TradeAddedData{
			Ticker: market,
			Time:   trade.Timestamp.UTC().Format(time.RFC3339),
			Price:  trade.Price.String(),
		},
	})
	if err != nil {
		return
	}
	ctx := context.Background()
	if err := a.client.RPush(ctx, dbProcessorKey, data).Err(); err != nil {
		log.Error().Err(err).Msg("failed pushing to db_processor")
	}
}

func (a *Adapter) publishJSON(topic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("failed marshaling broadcast")
		return
	}
	ctx := context.Background()
	if err := a.client.Publish(ctx, topic, data).Err(); err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("failed publishing broadcast")
	}
}

// PriceSweepLoop runs the C6 periodic mark-price sweep until t dies. Each
// tick enqueues onto writePool instead of sweeping engine state directly,
// so it serializes against CreateOrder/CancelOrder like any other
// mutating task.
func (a *Adapter) PriceSweepLoop(t *tomb.Tomb, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.Dying():
			return nil
		case <-ticker.C:
			a.writePool.AddTask(sweepPricesTask{})
		}
	}
}

// LiquidationSweepLoop runs the C7 periodic PnL/liquidation sweep until t
// dies, enqueuing onto writePool for the same reason as PriceSweepLoop.
func (a *Adapter) LiquidationSweepLoop(t *tomb.Tomb, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.Dying():
			return nil
		case <-ticker.C:
			a.writePool.AddTask(sweepLiquidationsTask{})
		}
	}
}
