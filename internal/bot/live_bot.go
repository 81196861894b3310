package bot

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/minwoocho/stock-auto-trader/internal/broker"
	"github.com/minwoocho/stock-auto-trader/internal/config"
	"github.com/minwoocho/stock-auto-trader/internal/filter"
	"github.com/minwoocho/stock-auto-trader/internal/monitoring"
	"github.com/minwoocho/stock-auto-trader/internal/notifications"
	"github.com/minwoocho/stock-auto-trader/internal/recorder"
	"github.com/minwoocho/stock-auto-trader/internal/reporting"
	"github.com/minwoocho/stock-auto-trader/internal/scoring"
	"github.com/minwoocho/stock-auto-trader/internal/stoploss"
	"github.com/minwoocho/stock-auto-trader/internal/timing"
	"github.com/minwoocho/stock-auto-trader/pkg/types"
)

// historyBars is how many daily candles feed the indicator normalizer.
const historyBars = 120

// MarketBroker is the full collaborator surface the bot needs: quotes and
// orders plus candle history and index levels.
type MarketBroker interface {
	broker.Broker
	broker.HistorySource
	broker.IndexSource
}

// LiveBot wires the entry-decision pipeline and the stop-loss monitor.
// The two run as independent activity streams: scans fire on the cron
// schedule, the monitor loop ticks on its own fixed interval, and they
// share only the position set owned by the stop-loss manager.
type LiveBot struct {
	cfg    *config.Config
	broker MarketBroker
	log    zerolog.Logger

	surge      *filter.SurgeFilter
	valuation  *filter.ValuationFilter
	engine     *scoring.Engine
	normalizer scoring.Normalizer
	timing     *timing.Manager
	stops      *stoploss.Manager

	rec      recorder.Recorder
	reporter *reporting.DailyReporter
	notifier notifications.Notifier
	health   *monitoring.HealthChecker

	scanMu sync.Mutex
	cron   *cron.Cron
}

func NewLiveBot(cfg *config.Config, mb MarketBroker, rec recorder.Recorder,
	notifier notifications.Notifier, health *monitoring.HealthChecker, log zerolog.Logger) *LiveBot {

	if rec == nil {
		rec = recorder.Noop{}
	}
	if notifier == nil {
		notifier = notifications.Noop{}
	}

	staleBound := cfg.Scan.SnapshotStaleBound()
	b := &LiveBot{
		cfg:       cfg,
		broker:    mb,
		log:       log.With().Str("component", "bot").Logger(),
		surge:     filter.NewSurgeFilter(cfg.Surge, staleBound, log),
		valuation: filter.NewValuationFilter(cfg.Valuation, staleBound, log),
		engine:    scoring.NewEngine(scoring.ParamsFromConfig(cfg.Scoring), log),
		timing:    timing.NewManager(cfg.Timing, log),
		rec:       rec,
		reporter:  reporting.NewDailyReporter(rec, cfg.Recorder.ReportDir, log),
		notifier:  notifier,
		health:    health,
	}
	b.stops = stoploss.NewManager(cfg.StopLoss, mb, notifier, health, log)
	b.stops.SetOnClosed(b.recordClose)
	return b
}

// Engine exposes the scoring engine for live retuning.
func (b *LiveBot) Engine() *scoring.Engine { return b.engine }

// StopLoss exposes the stop-loss manager for operational queries.
func (b *LiveBot) StopLoss() *stoploss.Manager { return b.stops }

// Timing exposes the timing manager.
func (b *LiveBot) Timing() *timing.Manager { return b.timing }

// Run starts the scan schedule and the stop-loss monitor, then blocks
// until ctx is cancelled. In-flight exits are drained before returning.
func (b *LiveBot) Run(ctx context.Context) error {
	b.cron = cron.New(cron.WithSeconds())

	if _, err := b.cron.AddFunc(b.cfg.Scan.CronSpec, func() { b.Scan(ctx) }); err != nil {
		return fmt.Errorf("schedule scan: %w", err)
	}
	// Daily report shortly after the session close.
	if _, err := b.cron.AddFunc("0 40 15 * * 1-5", func() { b.writeDailyReport(ctx) }); err != nil {
		return fmt.Errorf("schedule daily report: %w", err)
	}
	b.cron.Start()

	b.log.Info().
		Str("scan_cron", b.cfg.Scan.CronSpec).
		Int("universe", len(b.cfg.Scan.Universe)).
		Msg("live bot running")

	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		b.stops.Run(ctx)
	}()

	<-ctx.Done()

	stopCtx := b.cron.Stop()
	<-stopCtx.Done()
	<-monitorDone

	b.log.Info().Msg("live bot stopped")
	return nil
}

// scanRow is one security's journey through the pipeline, for the console
// summary table.
type scanRow struct {
	securityID string
	name       string
	price      float64
	stage      string
	score      float64
	outcome    string
}

// Scan runs one pass of the entry pipeline over the candidate universe:
// surge filter, valuation filter, scoring, timing advisory, then order
// placement for survivors while capacity remains. Cycles never overlap:
// cron fires each run in its own goroutine, and two concurrent passes
// could both clear the capacity check and double-order one security.
func (b *LiveBot) Scan(ctx context.Context) {
	if !b.scanMu.TryLock() {
		b.log.Warn().Msg("previous scan still running, skipping cycle")
		return
	}
	defer b.scanMu.Unlock()

	start := time.Now()
	market := b.marketContext(ctx)
	rows := make([]scanRow, 0, len(b.cfg.Scan.Universe))

	type candidate struct {
		securityID string
		name       string
		price      float64
		score      float64
		rank       float64
	}
	var candidates []candidate

	for _, securityID := range b.cfg.Scan.Universe {
		row := scanRow{securityID: securityID}

		snap, err := b.fetchSnapshot(ctx, securityID)
		if err != nil {
			monitoring.RecordError("snapshot")
			row.stage, row.outcome = "snapshot", "unavailable"
			rows = append(rows, row)
			continue
		}
		row.name, row.price = snap.Name, snap.Price
		monitoring.UpdatePrice(securityID, snap.Price)

		if res := b.surge.Evaluate(snap, time.Now()); res.Verdict == filter.Reject {
			monitoring.RecordFilterRejection("surge")
			b.log.Info().Str("security", securityID).Str("reason", res.Reason).Msg("surge filter rejected")
			row.stage, row.outcome = "surge", res.Reason
			rows = append(rows, row)
			continue
		}

		res := b.valuation.Resolve(b.valuation.Evaluate(snap, time.Now()))
		if res.Verdict == filter.Reject {
			monitoring.RecordFilterRejection("valuation")
			b.log.Info().Str("security", securityID).Str("reason", res.Reason).Msg("valuation filter rejected")
			row.stage, row.outcome = "valuation", res.Reason
			rows = append(rows, row)
			continue
		}

		score, decision, _ := b.scoreSecurity(ctx, securityID, snap.Price)
		row.score = score
		if decision != scoring.Buy {
			row.stage, row.outcome = "scoring", fmt.Sprintf("below threshold (%.1f)", score)
			rows = append(rows, row)
			continue
		}

		rec := b.timing.Recommend(market, snap)
		if rec.Advice == timing.Wait {
			b.log.Info().Str("security", securityID).Str("reason", rec.Reason).Msg("timing advisory waits")
			row.stage, row.outcome = "timing", rec.Reason
			rows = append(rows, row)
			continue
		}

		row.stage, row.outcome = "entry", "candidate"
		if rec.Advice == timing.Caution {
			row.outcome = "candidate (caution)"
		}
		rows = append(rows, row)

		candidates = append(candidates, candidate{
			securityID: securityID,
			name:       snap.Name,
			price:      snap.Price,
			score:      score,
			rank:       b.valuation.Score(snap),
		})
	}

	// Cheapest-by-valuation first when capacity is tight.
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].rank > candidates[j].rank })

	cautious := b.timing.Recommend(market, nil).Advice == timing.Caution
	for _, c := range candidates {
		if b.stops.OpenCount() >= b.cfg.Scan.MaxPositions {
			b.log.Info().Int("max", b.cfg.Scan.MaxPositions).Msg("position capacity reached")
			break
		}
		// A security already under protection is never re-ordered; the
		// order must not go out before the Track dup check would fire.
		if b.stops.Tracked(c.securityID) {
			continue
		}
		b.enter(ctx, c.securityID, c.name, c.price, cautious)
	}

	if b.health != nil {
		b.health.RecordScan()
	}
	b.renderScanTable(rows, time.Since(start))
}

func (b *LiveBot) fetchSnapshot(ctx context.Context, securityID string) (snap *types.MarketSnapshot, err error) {
	retryCfg := broker.DefaultRetryConfig()
	err = broker.Retry(ctx, retryCfg, func() error {
		callCtx, cancel := context.WithTimeout(ctx, b.cfg.StopLoss.CallTimeout())
		defer cancel()
		s, callErr := b.broker.GetSnapshot(callCtx, securityID)
		if callErr != nil {
			return callErr
		}
		snap = s
		return nil
	})
	return snap, err
}

// scoreSecurity loads history, normalizes sub-scores and evaluates the
// composite. Every decision is persisted for tuning analysis.
func (b *LiveBot) scoreSecurity(ctx context.Context, securityID string, price float64) (float64, scoring.Decision, []string) {
	callCtx, cancel := context.WithTimeout(ctx, b.cfg.StopLoss.CallTimeout())
	candles, err := b.broker.GetDailyCandles(callCtx, securityID, historyBars)
	cancel()
	if err != nil {
		monitoring.RecordError("history")
		b.log.Warn().Err(err).Str("security", securityID).Msg("history unavailable, scoring zero")
		return 0, scoring.NoBuy, []string{"history unavailable"}
	}

	prices := make([]float64, 0, len(candles)+1)
	volumes := make([]float64, 0, len(candles))
	for _, c := range candles {
		prices = append(prices, c.Close)
		volumes = append(volumes, c.Volume)
	}
	// The live price is the latest bar.
	prices = append(prices, price)

	sub, reasons := b.normalizer.Normalize(prices, volumes)
	score, decision := b.engine.Evaluate(securityID, sub)
	monitoring.UpdateCompositeScore(securityID, score)

	if err := b.rec.RecordDecision(ctx, recorder.DecisionRecord{
		SecurityID: securityID,
		Score:      score,
		Threshold:  b.engine.Params().Threshold,
		Decision:   decision.String(),
		Reasons:    strings.Join(reasons, ", "),
		DecidedAt:  time.Now(),
	}); err != nil {
		b.log.Warn().Err(err).Msg("decision recording failed")
	}
	return score, decision, reasons
}

// enter sizes and places the entry order, then registers the fill for
// stop-loss protection. A Caution advisory halves the order budget.
func (b *LiveBot) enter(ctx context.Context, securityID, name string, price float64, cautious bool) {
	budget := b.cfg.Scan.OrderBudgetKRW
	if cautious {
		budget /= 2
	}
	qty := int64(math.Floor(budget / price))
	if qty < 1 {
		b.log.Warn().Str("security", securityID).Float64("price", price).Msg("budget below one share, skipping entry")
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.StopLoss.CallTimeout())
	fill, err := b.broker.SubmitEntryOrder(callCtx, securityID, qty)
	cancel()
	if err != nil {
		monitoring.RecordError("entry_order")
		b.log.Error().Err(err).Str("security", securityID).Msg("entry order failed")
		return
	}

	entryPrice := fill.Price
	if entryPrice <= 0 {
		entryPrice = price
	}
	monitoring.RecordOrder(securityID, "buy")

	if err := b.stops.Track(securityID, name, entryPrice, qty); err != nil {
		b.log.Error().Err(err).Str("security", securityID).Msg("position registration failed")
	}

	if err := b.rec.RecordTrade(ctx, recorder.TradeRecord{
		SecurityID: securityID,
		Name:       name,
		Side:       "buy",
		Quantity:   qty,
		Price:      entryPrice,
		ExecutedAt: time.Now(),
	}); err != nil {
		b.log.Warn().Err(err).Msg("trade recording failed")
	}

	msg := fmt.Sprintf("Entered %s (%s): %d shares @ %.0f KRW", name, securityID, qty, entryPrice)
	if err := b.notifier.SendAlert(notifications.LevelInfo, msg); err != nil {
		b.log.Warn().Err(err).Msg("entry notification delivery failed")
	}
}

// recordClose persists terminal stop-loss outcomes.
func (b *LiveBot) recordClose(pos stoploss.Position, ev stoploss.Event) {
	if ev.Outcome != stoploss.Executed {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.rec.RecordTrade(ctx, recorder.TradeRecord{
		SecurityID: pos.SecurityID,
		Name:       pos.Name,
		Side:       "sell",
		Quantity:   pos.Quantity,
		Price:      pos.CurrentPrice,
		Trigger:    string(ev.Trigger),
		PnLPct:     pos.ProfitLossPct(),
		ExecutedAt: time.Now(),
	}); err != nil {
		b.log.Warn().Err(err).Msg("exit trade recording failed")
	}
}

// marketContext assembles the index view for the timing manager. A failed
// index fetch degrades to zero change rather than blocking the scan.
func (b *LiveBot) marketContext(ctx context.Context) timing.MarketContext {
	var mc timing.MarketContext

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.StopLoss.CallTimeout())
	defer cancel()

	if change, err := b.broker.GetIndexChangePct(callCtx, broker.IndexKOSPI); err == nil {
		mc.KOSPIChangePct = change
	} else {
		monitoring.RecordError("index")
	}
	if change, err := b.broker.GetIndexChangePct(callCtx, broker.IndexKOSDAQ); err == nil {
		mc.KOSDAQChangePct = change
	} else {
		monitoring.RecordError("index")
	}

	// Short-horizon market volatility proxy: magnitude of the index
	// moves, scaled to the volatility bands.
	mc.Volatility = (math.Abs(mc.KOSPIChangePct) + math.Abs(mc.KOSDAQChangePct)) * 5
	return mc
}

func (b *LiveBot) writeDailyReport(ctx context.Context) {
	path, err := b.reporter.Write(ctx, time.Now())
	if err != nil {
		b.log.Error().Err(err).Msg("daily report failed")
		return
	}
	if err := b.notifier.SendAlert(notifications.LevelInfo, "Daily report written: "+path); err != nil {
		b.log.Warn().Err(err).Msg("report notification delivery failed")
	}
}

func (b *LiveBot) renderScanTable(rows []scanRow, elapsed time.Duration) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Security", "Name", "Price", "Score", "Stage", "Outcome"})
	for _, r := range rows {
		t.AppendRow(table.Row{r.securityID, r.name, r.price, r.score, r.stage, r.outcome})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
	})
	t.AppendFooter(table.Row{"", "", "", "", "scan", elapsed.Round(time.Millisecond)})
	t.Render()
}
