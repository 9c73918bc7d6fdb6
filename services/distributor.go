package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/ksuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/checkin/models"
)

const importBatchSize = 200

// Distributor implements the admin side of the inventory: uploads, gifts,
// batch sends and fulfilment of pending check-ins.
type Distributor struct {
	db        *gorm.DB
	inventory *Inventory
	log       *zap.Logger
}

// NewDistributor wires a Distributor; inventory and logger may be nil.
func NewDistributor(db *gorm.DB, inventory *Inventory, log *zap.Logger) *Distributor {
	if inventory == nil {
		inventory = &Inventory{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Distributor{db: db, inventory: inventory, log: log}
}

// CodeInput is one code submitted for import.
type CodeInput struct {
	Code   string          `json:"code"`
	Amount decimal.Decimal `json:"amount"`
}

// ImportResult summarises an upload.
type ImportResult struct {
	BatchID   string         `json:"batch_id"`
	Submitted int            `json:"submitted"`
	Inserted  int64          `json:"inserted"`
	Skipped   int64          `json:"skipped"`
	Invalid   []string       `json:"invalid,omitempty"`
	Resolved  *ResolveResult `json:"resolved,omitempty"`
}

// ResolveResult summarises a pending fulfilment run.
type ResolveResult struct {
	Resolved  int   `json:"resolved"`
	Conflicts int   `json:"conflicts"`
	Remaining int64 `json:"remaining"`
}

// Page is a generic paginated listing.
type Page[T any] struct {
	Items      []T   `json:"items"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

func newPage[T any](items []T, page, size int, total int64) Page[T] {
	if items == nil {
		items = []T{}
	}
	return Page[T]{
		Items:      items,
		Page:       page,
		PageSize:   size,
		Total:      total,
		TotalPages: int((total + int64(size) - 1) / int64(size)),
	}
}

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 10
	}
	return page, size
}

// '!' escapes LIKE wildcards; a backslash would need different quoting on MySQL.
var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// codeContains filters to codes containing kw literally.
func codeContains(db *gorm.DB, kw string) *gorm.DB {
	return db.Where("code LIKE ? ESCAPE '!'", "%"+likeEscaper.Replace(kw)+"%")
}

// ImportCodes stores new codes under a fresh batch id and then settles as many
// pending distributions as the new stock allows. Codes already present are skipped.
func (d *Distributor) ImportCodes(ctx context.Context, inputs []CodeInput, remark string, now time.Time) (*ImportResult, error) {
	res := &ImportResult{BatchID: ksuid.New().String(), Submitted: len(inputs)}

	seen := make(map[string]struct{}, len(inputs))
	rows := make([]models.RedemptionCode, 0, len(inputs))
	for _, in := range inputs {
		code := strings.TrimSpace(in.Code)
		if !ValidImportCode(code) || !in.Amount.IsPositive() {
			res.Invalid = append(res.Invalid, in.Code)
			continue
		}
		if _, dup := seen[code]; dup {
			res.Skipped++
			continue
		}
		seen[code] = struct{}{}
		rows = append(rows, models.RedemptionCode{
			Code:      code,
			Amount:    in.Amount.Round(2),
			BatchID:   res.BatchID,
			Remark:    remark,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	if len(rows) > 0 {
		tx := d.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&rows, importBatchSize)
		if tx.Error != nil {
			return nil, fmt.Errorf("import codes: %w", tx.Error)
		}
		res.Inserted = tx.RowsAffected
		res.Skipped += int64(len(rows)) - tx.RowsAffected
	}

	d.log.Info("redemption codes imported",
		zap.String("batch_id", res.BatchID),
		zap.Int("submitted", res.Submitted),
		zap.Int64("inserted", res.Inserted),
		zap.Int64("skipped", res.Skipped),
		zap.Int("invalid", len(res.Invalid)),
	)

	if res.Inserted > 0 {
		resolved, err := d.ResolvePending(ctx, 0, now)
		if err != nil {
			return res, fmt.Errorf("resolve pending after import: %w", err)
		}
		res.Resolved = resolved
	}
	return res, nil
}

// GenerateCodes creates count random codes of the given amount.
func (d *Distributor) GenerateCodes(ctx context.Context, count int, amount decimal.Decimal, remark string, now time.Time) (*ImportResult, []string, error) {
	if count < 1 || count > 10000 {
		return nil, nil, fmt.Errorf("count must be between 1 and 10000")
	}
	if !amount.IsPositive() {
		return nil, nil, ErrInvalidAmount
	}
	inputs := make([]CodeInput, 0, count)
	codes := make([]string, 0, count)
	for i := 0; i < count; i++ {
		c, err := GenerateRedemptionCode()
		if err != nil {
			return nil, nil, err
		}
		inputs = append(inputs, CodeInput{Code: c, Amount: amount})
		codes = append(codes, c)
	}
	res, err := d.ImportCodes(ctx, inputs, remark, now)
	return res, codes, err
}

// ResolvePending assigns available codes to unresolved pending entries, oldest
// first, one transaction per entry. It stops when the pool runs dry, after
// limit entries (limit <= 0 means no limit), or when claims keep losing races.
func (d *Distributor) ResolvePending(ctx context.Context, limit int, now time.Time) (*ResolveResult, error) {
	db := d.db.WithContext(ctx)
	res := &ResolveResult{}
	conflicts := 0
loop:
	for limit <= 0 || res.Resolved < limit {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		step, err := d.resolveOne(ctx, now)
		if err != nil {
			return res, err
		}
		switch step {
		case resolveDone:
			res.Resolved++
			conflicts = 0
		case resolveConflict:
			res.Conflicts++
			conflicts++
			if conflicts > d.inventory.attempts() {
				d.log.Warn("pending resolution kept conflicting, giving up until next run",
					zap.Int("conflicts", conflicts))
				break loop
			}
		default:
			break loop
		}
	}
	if err := db.Model(&models.PendingDistribution{}).Where("resolved = ?", false).Count(&res.Remaining).Error; err != nil {
		return res, err
	}
	if res.Resolved > 0 {
		d.log.Info("pending distributions resolved", zap.Int("resolved", res.Resolved), zap.Int64("remaining", res.Remaining))
	}
	return res, nil
}

type resolveStep int

// resolveIdle means nothing is left to do: no pending entry or no code to
// give. resolveConflict means a claim lost a race and the transaction rolled back.
const (
	resolveIdle resolveStep = iota
	resolveDone
	resolveConflict
)

func (d *Distributor) resolveOne(ctx context.Context, now time.Time) (resolveStep, error) {
	step := resolveIdle
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p models.PendingDistribution
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("resolved = ?", false).
			Order("created_at ASC, id ASC").
			Take(&p).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("select pending: %w", err)
		}

		code, err := d.inventory.TryClaim(ctx, tx, ClaimRequest{
			UserID:    p.UserID,
			MinAmount: p.Amount,
			Type:      models.DistributionCheckin,
			At:        now,
		})
		if err != nil {
			return err
		}
		if code == nil {
			return nil
		}

		upd := tx.Model(&models.PendingDistribution{}).
			Where("id = ? AND resolved = ?", p.ID, false).
			Updates(map[string]interface{}{
				"resolved":         true,
				"resolved_code_id": code.ID,
				"resolved_at":      now,
			})
		if upd.Error != nil {
			return fmt.Errorf("mark pending %d resolved: %w", p.ID, upd.Error)
		}
		if upd.RowsAffected != 1 {
			return ErrClaimConflict
		}
		step = resolveDone
		return nil
	})
	if errors.Is(err, ErrClaimConflict) {
		return resolveConflict, nil
	}
	if err != nil {
		return resolveIdle, err
	}
	return step, nil
}

// ListPending pages through pending entries in FIFO order.
func (d *Distributor) ListPending(ctx context.Context, resolved *bool, page, size int) (Page[models.PendingDistribution], error) {
	page, size = normalizePage(page, size)
	q := d.db.WithContext(ctx).Model(&models.PendingDistribution{})
	if resolved != nil {
		q = q.Where("resolved = ?", *resolved)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return Page[models.PendingDistribution]{}, err
	}
	var items []models.PendingDistribution
	if err := q.Order("created_at ASC, id ASC").Offset((page - 1) * size).Limit(size).Find(&items).Error; err != nil {
		return Page[models.PendingDistribution]{}, err
	}
	return newPage(items, page, size, total), nil
}

func (d *Distributor) ensureUser(tx *gorm.DB, userID uint) error {
	var u models.User
	if err := tx.Select("id").Take(&u, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	return nil
}

// GiftCode hands one available code to userID outside the daily check-in.
func (d *Distributor) GiftCode(ctx context.Context, userID uint, now time.Time) (*models.RedemptionCode, error) {
	var code *models.RedemptionCode
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := d.ensureUser(tx, userID); err != nil {
			return err
		}
		c, err := d.inventory.TryClaim(ctx, tx, ClaimRequest{UserID: userID, Type: models.DistributionGift, At: now})
		if err != nil {
			return err
		}
		if c == nil {
			return ErrInventoryEmpty
		}
		code = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	d.log.Info("code gifted", zap.Uint("user_id", userID), zap.String("code", code.Code))
	return code, nil
}

// BatchItem is the per-user outcome of BatchDistribute.
type BatchItem struct {
	UserID uint   `json:"user_id"`
	Code   string `json:"code,omitempty"`
	Error  string `json:"error,omitempty"`
}

// BatchDistribute gives one code to each listed user. Repeated ids are served
// once. When the pool runs dry the remaining users are reported as not served.
func (d *Distributor) BatchDistribute(ctx context.Context, userIDs []uint, now time.Time) ([]BatchItem, error) {
	items := make([]BatchItem, 0, len(userIDs))
	served := make(map[uint]struct{}, len(userIDs))
	exhausted := false
	for _, id := range userIDs {
		if _, ok := served[id]; ok {
			continue
		}
		served[id] = struct{}{}
		item := BatchItem{UserID: id}
		if exhausted {
			item.Error = ErrInventoryEmpty.Error()
			items = append(items, item)
			continue
		}
		err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := d.ensureUser(tx, id); err != nil {
				return err
			}
			c, err := d.inventory.TryClaim(ctx, tx, ClaimRequest{UserID: id, Type: models.DistributionBatch, At: now})
			if err != nil {
				return err
			}
			if c == nil {
				return ErrInventoryEmpty
			}
			item.Code = c.Code
			return nil
		})
		switch {
		case err == nil:
		case errors.Is(err, ErrInventoryEmpty):
			exhausted = true
			item.Error = err.Error()
		case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrClaimConflict):
			item.Error = err.Error()
		default:
			return items, err
		}
		items = append(items, item)
	}
	d.log.Info("batch distribution finished", zap.Int("users", len(items)), zap.Bool("exhausted", exhausted))
	return items, nil
}

// MarkUsed records that the owner redeemed code. Marking an already-used code
// again by the same owner is a no-op.
func (d *Distributor) MarkUsed(ctx context.Context, codeStr string, userID uint, now time.Time) (*models.RedemptionCode, error) {
	var code models.RedemptionCode
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("code = ?", strings.TrimSpace(codeStr)).Take(&code).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCodeNotFound
			}
			return err
		}
		if !code.IsDistributed || code.DistributedTo == nil {
			return ErrCodeNotDistributed
		}
		if *code.DistributedTo != userID {
			return ErrCodeOwnedByOther
		}
		if code.IsUsed {
			return nil
		}
		if err := tx.Model(&models.RedemptionCode{}).Where("id = ? AND is_used = ?", code.ID, false).Updates(map[string]interface{}{
			"is_used":    true,
			"used_by":    userID,
			"used_at":    now,
			"updated_at": now,
		}).Error; err != nil {
			return err
		}
		code.IsUsed = true
		code.UsedBy = &userID
		code.UsedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &code, nil
}

// AdminCodeQuery filters the admin code listing.
type AdminCodeQuery struct {
	Keyword  string
	Status   string // available | distributed | used
	BatchID  string
	UserID   uint
	Page     int
	PageSize int
}

// ListCodes is the admin inventory listing, newest first.
func (d *Distributor) ListCodes(ctx context.Context, q AdminCodeQuery) (Page[models.RedemptionCode], error) {
	page, size := normalizePage(q.Page, q.PageSize)
	db := d.db.WithContext(ctx).Model(&models.RedemptionCode{})
	if kw := strings.TrimSpace(q.Keyword); kw != "" {
		db = codeContains(db, kw)
	}
	switch q.Status {
	case "available":
		db = db.Where("is_distributed = ? AND is_used = ?", false, false)
	case "distributed":
		db = db.Where("is_distributed = ? AND is_used = ?", true, false)
	case "used":
		db = db.Where("is_used = ?", true)
	}
	if q.BatchID != "" {
		db = db.Where("batch_id = ?", q.BatchID)
	}
	if q.UserID != 0 {
		db = db.Where("distributed_to = ?", q.UserID)
	}
	var total int64
	if err := db.Count(&total).Error; err != nil {
		return Page[models.RedemptionCode]{}, err
	}
	var items []models.RedemptionCode
	if err := db.Order("id DESC").Offset((page - 1) * size).Limit(size).Find(&items).Error; err != nil {
		return Page[models.RedemptionCode]{}, err
	}
	return newPage(items, page, size, total), nil
}

// Stats exposes inventory counters for the admin dashboard.
func (d *Distributor) Stats(ctx context.Context) (InventoryStats, error) {
	return d.inventory.Stats(ctx, d.db)
}
