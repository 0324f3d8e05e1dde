package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"billdesk/internal/billing"
	"billdesk/internal/database"
)

// TaxHandler 维护用户税率表；每个用户至多一个默认税率。
type TaxHandler struct {
	db *gorm.DB
}

// NewTaxHandler 构造 TaxHandler。
func NewTaxHandler(db *gorm.DB) *TaxHandler {
	return &TaxHandler{db: db}
}

type taxRateRequest struct {
	Name      string  `json:"name" binding:"required,max=64"`
	Percent   float64 `json:"percent"`
	IsDefault bool    `json:"is_default"`
}

type taxRateResponse struct {
	ID        uint      `json:"id"`
	Name      string    `json:"name"`
	Percent   float64   `json:"percent"`
	IsDefault bool      `json:"is_default"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newTaxRateResponse(m database.TaxRate) taxRateResponse {
	return taxRateResponse{
		ID:        m.ID,
		Name:      m.Name,
		Percent:   m.Percent,
		IsDefault: m.IsDefault,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// CreateTaxRate 新建税率；设为默认时取消其他默认项。
func (h *TaxHandler) CreateTaxRate(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var req taxRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	rate := database.TaxRate{
		UserID:    userID,
		Name:      req.Name,
		Percent:   billing.Sanitize(req.Percent),
		IsDefault: req.IsDefault,
	}
	err := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if req.IsDefault {
			if err := clearDefaultTaxRate(tx, userID, 0); err != nil {
				return err
			}
		}
		return tx.Create(&rate).Error
	})
	if err != nil {
		Internal(c, "failed to create tax rate")
		return
	}
	c.JSON(http.StatusCreated, newTaxRateResponse(rate))
}

// ListTaxRates 列出当前用户的税率。
func (h *TaxHandler) ListTaxRates(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var rates []database.TaxRate
	if err := h.db.WithContext(c.Request.Context()).
		Where("user_id = ?", userID).
		Order("is_default DESC, name ASC").
		Find(&rates).Error; err != nil {
		Internal(c, "failed to list tax rates")
		return
	}

	items := make([]taxRateResponse, 0, len(rates))
	for _, m := range rates {
		items = append(items, newTaxRateResponse(m))
	}
	c.JSON(http.StatusOK, items)
}

// UpdateTaxRate 覆盖税率；设为默认时取消其他默认项。
func (h *TaxHandler) UpdateTaxRate(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var req taxRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	rate, err := h.getTaxRateForUser(ctx, c.Param("id"), userID)
	if err != nil {
		respondLookupError(c, err, "tax rate")
		return
	}

	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if req.IsDefault {
			if err := clearDefaultTaxRate(tx, userID, rate.ID); err != nil {
				return err
			}
		}
		return tx.Model(rate).Updates(map[string]any{
			"name":       req.Name,
			"percent":    billing.Sanitize(req.Percent),
			"is_default": req.IsDefault,
		}).Error
	})
	if err != nil {
		Internal(c, "failed to update tax rate")
		return
	}
	if err := h.db.WithContext(ctx).First(rate, rate.ID).Error; err != nil {
		Internal(c, "failed to reload tax rate")
		return
	}
	c.JSON(http.StatusOK, newTaxRateResponse(*rate))
}

// DeleteTaxRate 删除税率；历史单据上的快照不受影响。
func (h *TaxHandler) DeleteTaxRate(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	ctx := c.Request.Context()
	rate, err := h.getTaxRateForUser(ctx, c.Param("id"), userID)
	if err != nil {
		respondLookupError(c, err, "tax rate")
		return
	}
	if err := h.db.WithContext(ctx).Delete(&database.TaxRate{}, rate.ID).Error; err != nil {
		Internal(c, "failed to delete tax rate")
		return
	}
	c.Status(http.StatusNoContent)
}

// clearDefaultTaxRate 取消用户其他税率的默认标记，保证默认唯一。
func clearDefaultTaxRate(tx *gorm.DB, userID uint, exceptID uint) error {
	query := tx.Model(&database.TaxRate{}).
		Where("user_id = ? AND is_default = ?", userID, true)
	if exceptID != 0 {
		query = query.Where("id <> ?", exceptID)
	}
	return query.Update("is_default", false).Error
}

func (h *TaxHandler) getTaxRateForUser(ctx context.Context, idParam string, userID uint) (*database.TaxRate, error) {
	id, err := strconv.ParseUint(idParam, 10, 64)
	if err != nil {
		return nil, errInvalidID
	}
	var rate database.TaxRate
	if err := h.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", uint(id), userID).
		First(&rate).Error; err != nil {
		return nil, err
	}
	return &rate, nil
}
