package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/checkin/models"
)

// ObjectStore receives exported files. utils.S3Store is the production implementation.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string) error
}

// LedgerExporter writes the codes distributed on one reporting day as CSV.
type LedgerExporter struct {
	db     *gorm.DB
	store  ObjectStore
	loc    *time.Location
	prefix string
	log    *zap.Logger
}

func NewLedgerExporter(db *gorm.DB, store ObjectStore, loc *time.Location, prefix string, log *zap.Logger) *LedgerExporter {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &LedgerExporter{db: db, store: store, loc: loc, prefix: prefix, log: log}
}

// LedgerExport describes a written ledger file.
type LedgerExport struct {
	Key  string      `json:"key"`
	Day  models.Date `json:"day"`
	Rows int         `json:"rows"`
}

var ledgerHeader = []string{"code", "amount", "user_id", "distribution_type", "distributed_at", "is_used", "batch_id"}

// Export writes <prefix>ledger/YYYY/MM/YYYY-MM-DD.csv for day.
func (l *LedgerExporter) Export(ctx context.Context, day models.Date) (*LedgerExport, error) {
	if l == nil || l.store == nil {
		return nil, ErrStorageNotConfigured
	}
	start := day.StartIn(l.loc).UTC()
	end := day.AddDays(1).StartIn(l.loc).UTC()

	var rows []models.RedemptionCode
	if err := l.db.WithContext(ctx).
		Where("is_distributed = ? AND distributed_at >= ? AND distributed_at < ?", true, start, end).
		Order("distributed_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load ledger rows: %w", err)
	}

	body, err := encodeLedger(rows, l.loc)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("%sledger/%04d/%02d/%s.csv", l.prefix, day.Year, int(day.Month), day.String())
	if err := l.store.PutObject(ctx, key, body, "text/csv"); err != nil {
		return nil, fmt.Errorf("upload ledger %s: %w", key, err)
	}
	l.log.Info("ledger exported", zap.String("key", key), zap.Int("rows", len(rows)))
	return &LedgerExport{Key: key, Day: day, Rows: len(rows)}, nil
}

func encodeLedger(rows []models.RedemptionCode, loc *time.Location) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(ledgerHeader); err != nil {
		return nil, err
	}
	for _, r := range rows {
		var user, at string
		if r.DistributedTo != nil {
			user = strconv.FormatUint(uint64(*r.DistributedTo), 10)
		}
		if r.DistributedAt != nil {
			at = r.DistributedAt.In(loc).Format(time.RFC3339)
		}
		if err := w.Write([]string{
			r.Code,
			r.Amount.StringFixed(2),
			user,
			string(r.DistributionType),
			at,
			strconv.FormatBool(r.IsUsed),
			r.BatchID,
		}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("encode ledger: %w", err)
	}
	return buf.Bytes(), nil
}
