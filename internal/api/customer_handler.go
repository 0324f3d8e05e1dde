package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"billdesk/internal/database"
)

// CustomerHandler 负责客户资料的增删改查。
type CustomerHandler struct {
	db *gorm.DB
}

// NewCustomerHandler 构造 CustomerHandler。
func NewCustomerHandler(db *gorm.DB) *CustomerHandler {
	return &CustomerHandler{db: db}
}

var errInvalidID = errors.New("invalid id")

type customerRequest struct {
	Name    string `json:"name" binding:"required,max=255"`
	Company string `json:"company" binding:"max=255"`
	Phone   string `json:"phone" binding:"max=64"`
	Email   string `json:"email" binding:"omitempty,email,max=255"`
	Address string `json:"address" binding:"max=512"`
	Notes   string `json:"notes"`
}

type customerResponse struct {
	ID        uint      `json:"id"`
	Name      string    `json:"name"`
	Company   string    `json:"company,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	Address   string    `json:"address,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newCustomerResponse(m database.Customer) customerResponse {
	return customerResponse{
		ID:        m.ID,
		Name:      m.Name,
		Company:   m.Company,
		Phone:     m.Phone,
		Email:     m.Email,
		Address:   m.Address,
		Notes:     m.Notes,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// CreateCustomer 新建客户。
func (h *CustomerHandler) CreateCustomer(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var req customerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	customer := database.Customer{
		UserID:  userID,
		Name:    req.Name,
		Company: req.Company,
		Phone:   req.Phone,
		Email:   req.Email,
		Address: req.Address,
		Notes:   req.Notes,
	}
	if err := h.db.WithContext(c.Request.Context()).Create(&customer).Error; err != nil {
		Internal(c, "failed to create customer")
		return
	}

	c.JSON(http.StatusCreated, newCustomerResponse(customer))
}

// ListCustomers 列出当前用户的全部客户。
func (h *CustomerHandler) ListCustomers(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var customers []database.Customer
	if err := h.db.WithContext(c.Request.Context()).
		Where("user_id = ?", userID).
		Order("name ASC").
		Find(&customers).Error; err != nil {
		Internal(c, "failed to list customers")
		return
	}

	items := make([]customerResponse, 0, len(customers))
	for _, m := range customers {
		items = append(items, newCustomerResponse(m))
	}
	c.JSON(http.StatusOK, items)
}

// GetCustomer 返回指定客户。
func (h *CustomerHandler) GetCustomer(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	customer, err := h.getCustomerForUser(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		respondLookupError(c, err, "customer")
		return
	}

	c.JSON(http.StatusOK, newCustomerResponse(*customer))
}

// UpdateCustomer 覆盖指定客户资料。
func (h *CustomerHandler) UpdateCustomer(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var req customerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	customer, err := h.getCustomerForUser(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		respondLookupError(c, err, "customer")
		return
	}

	updates := map[string]any{
		"name":    req.Name,
		"company": req.Company,
		"phone":   req.Phone,
		"email":   req.Email,
		"address": req.Address,
		"notes":   req.Notes,
	}
	ctx := c.Request.Context()
	if err := h.db.WithContext(ctx).Model(customer).Updates(updates).Error; err != nil {
		Internal(c, "failed to update customer")
		return
	}
	if err := h.db.WithContext(ctx).First(customer, customer.ID).Error; err != nil {
		Internal(c, "failed to reload customer")
		return
	}

	c.JSON(http.StatusOK, newCustomerResponse(*customer))
}

// DeleteCustomer 删除客户；仍被未作废发票引用时拒绝。
func (h *CustomerHandler) DeleteCustomer(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	customer, err := h.getCustomerForUser(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		respondLookupError(c, err, "customer")
		return
	}

	ctx := c.Request.Context()
	var open int64
	if err := h.db.WithContext(ctx).
		Model(&database.Invoice{}).
		Where("user_id = ? AND customer_id = ? AND status NOT IN ?", userID, customer.ID, []string{"void", "declined"}).
		Count(&open).Error; err != nil {
		Internal(c, "failed to check customer references")
		return
	}
	if open > 0 {
		Conflict(c, "customer has open documents")
		return
	}

	if err := h.db.WithContext(ctx).Delete(&database.Customer{}, customer.ID).Error; err != nil {
		Internal(c, "failed to delete customer")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *CustomerHandler) getCustomerForUser(ctx context.Context, idParam string, userID uint) (*database.Customer, error) {
	id, err := strconv.ParseUint(idParam, 10, 64)
	if err != nil {
		return nil, errInvalidID
	}

	var customer database.Customer
	if err := h.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", uint(id), userID).
		First(&customer).Error; err != nil {
		return nil, err
	}
	return &customer, nil
}

func respondLookupError(c *gin.Context, err error, what string) {
	switch {
	case errors.Is(err, errInvalidID):
		BadRequest(c, "invalid "+what+" id")
	case errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, what+" not found")
	default:
		Internal(c, "failed to query "+what)
	}
}
