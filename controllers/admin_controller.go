package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/cppla/checkin/models"
	"github.com/cppla/checkin/services"
	"github.com/cppla/checkin/utils"
)

const maxImportCodes = 5000

// AdminController manages the code inventory and pending distributions.
type AdminController struct {
	distributor *services.Distributor
	exporter    *services.LedgerExporter
	engine      *services.CheckInEngine
}

func NewAdminController(distributor *services.Distributor, exporter *services.LedgerExporter, engine *services.CheckInEngine) *AdminController {
	return &AdminController{distributor: distributor, exporter: exporter, engine: engine}
}

// Inventory returns pool and pending counters.
func (a *AdminController) Inventory(ctx *gin.Context) {
	st, err := a.distributor.Stats(ctx.Request.Context())
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50070, "failed to load inventory")
		return
	}
	utils.Success(ctx, st)
}

// ListCodes pages through the inventory with filters.
func (a *AdminController) ListCodes(ctx *gin.Context) {
	page, size := pageParams(ctx)
	q := services.AdminCodeQuery{
		Keyword:  ctx.Query("keyword"),
		Status:   ctx.Query("status"),
		BatchID:  strings.TrimSpace(ctx.Query("batch_id")),
		Page:     page,
		PageSize: size,
	}
	if v := ctx.Query("user_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			utils.Error(ctx, http.StatusBadRequest, 40070, "invalid user_id")
			return
		}
		q.UserID = uint(id)
	}
	res, err := a.distributor.ListCodes(ctx.Request.Context(), q)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50071, "failed to list codes")
		return
	}
	utils.Success(ctx, res)
}

// ImportCodes uploads vendor codes.
func (a *AdminController) ImportCodes(ctx *gin.Context) {
	var req struct {
		Codes  []services.CodeInput `json:"codes" binding:"required"`
		Remark string               `json:"remark"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40071, "invalid request payload")
		return
	}
	if len(req.Codes) == 0 || len(req.Codes) > maxImportCodes {
		utils.Error(ctx, http.StatusBadRequest, 40072, "codes must contain 1-5000 entries")
		return
	}
	res, err := a.distributor.ImportCodes(ctx.Request.Context(), req.Codes, utils.SanitizeRemark(req.Remark), nowFunc())
	if err != nil {
		utils.Sugar.Errorf("import codes failed: %v", err)
		if res != nil {
			// codes are stored; only the pending fulfilment failed
			utils.Respond(ctx, http.StatusOK, 0, "codes imported, pending resolution failed", res)
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50072, "failed to import codes")
		return
	}
	utils.Success(ctx, res)
}

// GenerateCodes creates random codes of one amount.
func (a *AdminController) GenerateCodes(ctx *gin.Context) {
	var req struct {
		Count  int             `json:"count" binding:"required,min=1,max=10000"`
		Amount decimal.Decimal `json:"amount"`
		Remark string          `json:"remark"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40073, "invalid request payload")
		return
	}
	res, codes, err := a.distributor.GenerateCodes(ctx.Request.Context(), req.Count, req.Amount, utils.SanitizeRemark(req.Remark), nowFunc())
	if err != nil {
		if errors.Is(err, services.ErrInvalidAmount) {
			utils.Error(ctx, http.StatusBadRequest, 40074, "amount must be positive")
			return
		}
		if res == nil {
			utils.Error(ctx, http.StatusInternalServerError, 50073, "failed to generate codes")
			return
		}
	}
	utils.Success(ctx, gin.H{"result": res, "codes": codes})
}

type userTarget struct {
	UserID uint `json:"user_id" binding:"required"`
}

// GiftCode hands one code to a user.
func (a *AdminController) GiftCode(ctx *gin.Context) {
	var req userTarget
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40075, "invalid request payload")
		return
	}
	code, err := a.distributor.GiftCode(ctx.Request.Context(), req.UserID, nowFunc())
	if err != nil {
		a.distributionError(ctx, err)
		return
	}
	utils.Success(ctx, code)
}

// BatchDistribute hands one code to each listed user.
func (a *AdminController) BatchDistribute(ctx *gin.Context) {
	var req struct {
		UserIDs []uint `json:"user_ids" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil || len(req.UserIDs) == 0 {
		utils.Error(ctx, http.StatusBadRequest, 40076, "user_ids is required")
		return
	}
	items, err := a.distributor.BatchDistribute(ctx.Request.Context(), utils.Unique(req.UserIDs), nowFunc())
	if err != nil {
		utils.Sugar.Errorf("batch distribute failed: %v", err)
		utils.Respond(ctx, http.StatusInternalServerError, 50074, "batch distribution interrupted", items)
		return
	}
	served := 0
	for _, it := range items {
		if it.Code != "" {
			served++
		}
	}
	utils.Success(ctx, gin.H{"items": items, "served": served, "requested": len(items)})
}

// MarkUsed records a redemption by the code owner.
func (a *AdminController) MarkUsed(ctx *gin.Context) {
	var req userTarget
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40077, "invalid request payload")
		return
	}
	code, err := a.distributor.MarkUsed(ctx.Request.Context(), ctx.Param("code"), req.UserID, nowFunc())
	if err != nil {
		a.distributionError(ctx, err)
		return
	}
	utils.Success(ctx, code)
}

// ListPending shows pending distributions, oldest first; ?resolved=true|false.
func (a *AdminController) ListPending(ctx *gin.Context) {
	page, size := pageParams(ctx)
	res, err := a.distributor.ListPending(ctx.Request.Context(), optionalBool(ctx.Query("resolved")), page, size)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50075, "failed to list pending distributions")
		return
	}
	utils.Success(ctx, res)
}

// ResolvePending settles pending entries against available stock.
func (a *AdminController) ResolvePending(ctx *gin.Context) {
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "0"))
	res, err := a.distributor.ResolvePending(ctx.Request.Context(), limit, nowFunc())
	if err != nil {
		utils.Sugar.Errorf("resolve pending failed: %v", err)
		utils.Respond(ctx, http.StatusInternalServerError, 50076, "failed to resolve pending distributions", res)
		return
	}
	utils.Success(ctx, res)
}

// ExportLedger writes the ledger for ?date=YYYY-MM-DD (default yesterday).
func (a *AdminController) ExportLedger(ctx *gin.Context) {
	day := a.engine.Today(nowFunc()).AddDays(-1)
	if raw := strings.TrimSpace(ctx.Query("date")); raw != "" {
		d, err := models.ParseDate(raw)
		if err != nil {
			utils.Error(ctx, http.StatusBadRequest, 40078, "date must be YYYY-MM-DD")
			return
		}
		day = d
	}
	res, err := a.exporter.Export(ctx.Request.Context(), day)
	if err != nil {
		if errors.Is(err, services.ErrStorageNotConfigured) {
			utils.Error(ctx, http.StatusNotImplemented, 50177, "object storage not configured")
			return
		}
		utils.Sugar.Errorf("ledger export failed day=%s: %v", day, err)
		utils.Error(ctx, http.StatusInternalServerError, 50077, "failed to export ledger")
		return
	}
	utils.Success(ctx, res)
}

func (a *AdminController) distributionError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrUserNotFound):
		utils.Error(ctx, http.StatusNotFound, 40470, "user not found")
	case errors.Is(err, services.ErrCodeNotFound):
		utils.Error(ctx, http.StatusNotFound, 40471, "code not found")
	case errors.Is(err, services.ErrInventoryEmpty):
		utils.Error(ctx, http.StatusConflict, 40970, "no redemption code available")
	case errors.Is(err, services.ErrCodeNotDistributed):
		utils.Error(ctx, http.StatusConflict, 40971, "code has not been distributed")
	case errors.Is(err, services.ErrCodeOwnedByOther):
		utils.Error(ctx, http.StatusConflict, 40972, "code belongs to another user")
	case errors.Is(err, services.ErrClaimConflict):
		utils.Error(ctx, http.StatusServiceUnavailable, 50370, "inventory busy, please retry")
	default:
		utils.Sugar.Errorf("distribution failed: %v", err)
		utils.Error(ctx, http.StatusInternalServerError, 50078, "distribution failed")
	}
}
