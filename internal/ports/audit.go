package ports

import (
	"context"

	"github.com/alejandrodnm/traderd/internal/domain"
)

// AuditStore persiste el registro append-only del daemon. Las tablas
// corresponden 1:1 a las listadas en §6 de la especificación. La
// implementación concreta (internal/audit) usa modernc.org/sqlite.
type AuditStore interface {
	Migrate(ctx context.Context) error

	InsertRun(ctx context.Context, run domain.Run) error
	CloseRun(ctx context.Context, runID string, closedAt int64) error

	// InsertRawEvent registra un evento crudo del venue; es la única tabla
	// que el audit writer puede descartar bajo backpressure.
	InsertRawEvent(ctx context.Context, runID, source, topic, payloadJSON string) error

	InsertSnapshot(ctx context.Context, snap domain.Snapshot) error
	InsertIntent(ctx context.Context, intent domain.Intent) error
	InsertApproval(ctx context.Context, approval domain.Approval) error
	InsertOrder(ctx context.Context, order domain.Order) error
	UpdateOrderStatus(ctx context.Context, order domain.Order) error
	InsertFill(ctx context.Context, fill domain.Fill) error
	InsertLedgerEntry(ctx context.Context, entry domain.PnLLedgerEntry) error
	InsertIncident(ctx context.Context, incident domain.Incident) error

	InsertPortfolioSnapshot(ctx context.Context, runID string, ts int64, totalEquityUSD, openExposureUSD float64) error
	InsertPluginSignal(ctx context.Context, runID, strategy, kind, payloadJSON string, ts int64) error
	InsertFeatureSchema(ctx context.Context, version int, description string) error

	Close() error
}

// AuditSink es la vista del audit writer que el resto del kernel puede
// usar para escribir: encola y nunca bloquea ni devuelve error (§5 "the
// audit store is mutated only by the audit writer" — todo lo demás, como
// el execution manager, pasa por esta interfaz en vez de por AuditStore
// directamente). internal/audit.Writer la implementa.
type AuditSink interface {
	LogOrder(order domain.Order)
	LogOrderStatus(order domain.Order)
	LogFill(fill domain.Fill)
	LogLedgerEntry(entry domain.PnLLedgerEntry)
	LogIncident(incident domain.Incident)
}
