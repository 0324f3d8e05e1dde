package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"billdesk/internal/billing"
	"billdesk/internal/database"
)

// InventoryHandler 负责库存商品的维护与库存调整。
type InventoryHandler struct {
	db *gorm.DB
}

// NewInventoryHandler 构造 InventoryHandler。
func NewInventoryHandler(db *gorm.DB) *InventoryHandler {
	return &InventoryHandler{db: db}
}

type productRequest struct {
	Name        string  `json:"name" binding:"required,max=255"`
	SKU         string  `json:"sku" binding:"required,max=64"`
	Description string  `json:"description" binding:"max=512"`
	UnitPrice   float64 `json:"unit_price"`
	Stock       *int    `json:"stock"`
}

type productResponse struct {
	ID          uint      `json:"id"`
	Name        string    `json:"name"`
	SKU         string    `json:"sku"`
	Description string    `json:"description,omitempty"`
	UnitPrice   float64   `json:"unit_price"`
	Stock       int       `json:"stock"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func newProductResponse(m database.Product) productResponse {
	return productResponse{
		ID:          m.ID,
		Name:        m.Name,
		SKU:         m.SKU,
		Description: m.Description,
		UnitPrice:   m.UnitPrice,
		Stock:       m.Stock,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

// CreateProduct 新建商品；SKU 在用户内唯一。
func (h *InventoryHandler) CreateProduct(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var req productRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	sku := strings.TrimSpace(req.SKU)
	var existing database.Product
	if err := h.db.WithContext(ctx).
		Where("user_id = ? AND sku = ?", userID, sku).
		First(&existing).Error; err == nil {
		Conflict(c, "sku already in use")
		return
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		Internal(c, "failed to check sku")
		return
	}

	stock := 0
	if req.Stock != nil && *req.Stock > 0 {
		stock = *req.Stock
	}
	product := database.Product{
		UserID:      userID,
		Name:        req.Name,
		SKU:         sku,
		Description: req.Description,
		UnitPrice:   billing.Round2(billing.Sanitize(req.UnitPrice)),
		Stock:       stock,
	}
	if err := h.db.WithContext(ctx).Create(&product).Error; err != nil {
		Internal(c, "failed to create product")
		return
	}
	c.JSON(http.StatusCreated, newProductResponse(product))
}

// ListProducts 列出商品，可按名称或 SKU 模糊过滤。
func (h *InventoryHandler) ListProducts(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	query := h.db.WithContext(c.Request.Context()).Where("user_id = ?", userID)
	if q := strings.TrimSpace(c.Query("q")); q != "" {
		like := "%" + q + "%"
		query = query.Where("name LIKE ? OR sku LIKE ?", like, like)
	}

	var products []database.Product
	if err := query.Order("name ASC").Find(&products).Error; err != nil {
		Internal(c, "failed to list products")
		return
	}

	items := make([]productResponse, 0, len(products))
	for _, m := range products {
		items = append(items, newProductResponse(m))
	}
	c.JSON(http.StatusOK, items)
}

// GetProduct 返回指定商品。
func (h *InventoryHandler) GetProduct(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	product, err := h.getProductForUser(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		respondLookupError(c, err, "product")
		return
	}
	c.JSON(http.StatusOK, newProductResponse(*product))
}

// UpdateProduct 覆盖商品信息；未提供 stock 时保留现值。
func (h *InventoryHandler) UpdateProduct(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var req productRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	product, err := h.getProductForUser(ctx, c.Param("id"), userID)
	if err != nil {
		respondLookupError(c, err, "product")
		return
	}

	sku := strings.TrimSpace(req.SKU)
	if sku != product.SKU {
		var existing database.Product
		if err := h.db.WithContext(ctx).
			Where("user_id = ? AND sku = ? AND id <> ?", userID, sku, product.ID).
			First(&existing).Error; err == nil {
			Conflict(c, "sku already in use")
			return
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			Internal(c, "failed to check sku")
			return
		}
	}

	updates := map[string]any{
		"name":        req.Name,
		"sku":         sku,
		"description": req.Description,
		"unit_price":  billing.Round2(billing.Sanitize(req.UnitPrice)),
	}
	if req.Stock != nil {
		stock := *req.Stock
		if stock < 0 {
			stock = 0
		}
		updates["stock"] = stock
	}
	if err := h.db.WithContext(ctx).Model(product).Updates(updates).Error; err != nil {
		Internal(c, "failed to update product")
		return
	}
	if err := h.db.WithContext(ctx).First(product, product.ID).Error; err != nil {
		Internal(c, "failed to reload product")
		return
	}
	c.JSON(http.StatusOK, newProductResponse(*product))
}

// DeleteProduct 删除商品；历史单据中的快照行不受影响。
func (h *InventoryHandler) DeleteProduct(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	ctx := c.Request.Context()
	product, err := h.getProductForUser(ctx, c.Param("id"), userID)
	if err != nil {
		respondLookupError(c, err, "product")
		return
	}
	if err := h.db.WithContext(ctx).Delete(&database.Product{}, product.ID).Error; err != nil {
		Internal(c, "failed to delete product")
		return
	}
	c.Status(http.StatusNoContent)
}

type adjustStockRequest struct {
	Delta int `json:"delta" binding:"required"`
}

// AdjustStock 按增量调整库存，下限为 0。
func (h *InventoryHandler) AdjustStock(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var req adjustStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	product, err := h.getProductForUser(ctx, c.Param("id"), userID)
	if err != nil {
		respondLookupError(c, err, "product")
		return
	}

	newStock := product.Stock + req.Delta
	if newStock < 0 {
		newStock = 0
	}
	if err := h.db.WithContext(ctx).Model(product).
		Update("stock", newStock).Error; err != nil {
		Internal(c, "failed to adjust stock")
		return
	}
	product.Stock = newStock
	c.JSON(http.StatusOK, newProductResponse(*product))
}

func (h *InventoryHandler) getProductForUser(ctx context.Context, idParam string, userID uint) (*database.Product, error) {
	id, err := strconv.ParseUint(idParam, 10, 64)
	if err != nil {
		return nil, errInvalidID
	}
	var product database.Product
	if err := h.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", uint(id), userID).
		First(&product).Error; err != nil {
		return nil, err
	}
	return &product, nil
}
