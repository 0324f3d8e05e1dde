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

// ExpenseHandler 负责支出记录的增删改查。
type ExpenseHandler struct {
	db *gorm.DB
}

// NewExpenseHandler 构造 ExpenseHandler。
func NewExpenseHandler(db *gorm.DB) *ExpenseHandler {
	return &ExpenseHandler{db: db}
}

type expenseRequest struct {
	Category    string    `json:"category" binding:"required,max=64"`
	Description string    `json:"description" binding:"max=512"`
	Amount      float64   `json:"amount"`
	IncurredOn  time.Time `json:"incurred_on" binding:"required"`
	ReceiptKey  string    `json:"receipt_key" binding:"max=512"`
}

type expenseResponse struct {
	ID          uint      `json:"id"`
	Category    string    `json:"category"`
	Description string    `json:"description,omitempty"`
	Amount      float64   `json:"amount"`
	IncurredOn  time.Time `json:"incurred_on"`
	ReceiptKey  string    `json:"receipt_key,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func newExpenseResponse(m database.Expense) expenseResponse {
	return expenseResponse{
		ID:          m.ID,
		Category:    m.Category,
		Description: m.Description,
		Amount:      m.Amount,
		IncurredOn:  m.IncurredOn,
		ReceiptKey:  m.ReceiptKey,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

// CreateExpense 记录一笔支出。
func (h *ExpenseHandler) CreateExpense(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var req expenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	if req.ReceiptKey != "" && !isValidUserAssetObjectKey(userID, req.ReceiptKey) {
		BadRequest(c, "invalid receipt key")
		return
	}

	expense := database.Expense{
		UserID:      userID,
		Category:    req.Category,
		Description: req.Description,
		Amount:      billing.Round2(billing.Sanitize(req.Amount)),
		IncurredOn:  req.IncurredOn,
		ReceiptKey:  req.ReceiptKey,
	}
	if err := h.db.WithContext(c.Request.Context()).Create(&expense).Error; err != nil {
		Internal(c, "failed to create expense")
		return
	}
	c.JSON(http.StatusCreated, newExpenseResponse(expense))
}

// ListExpenses 按日期倒序列出支出，可按类目过滤。
func (h *ExpenseHandler) ListExpenses(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	query := h.db.WithContext(c.Request.Context()).Where("user_id = ?", userID)
	if category := c.Query("category"); category != "" {
		query = query.Where("category = ?", category)
	}

	var expenses []database.Expense
	if err := query.Order("incurred_on DESC").Find(&expenses).Error; err != nil {
		Internal(c, "failed to list expenses")
		return
	}

	items := make([]expenseResponse, 0, len(expenses))
	for _, m := range expenses {
		items = append(items, newExpenseResponse(m))
	}
	c.JSON(http.StatusOK, items)
}

// GetExpense 返回指定支出。
func (h *ExpenseHandler) GetExpense(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	expense, err := h.getExpenseForUser(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		respondLookupError(c, err, "expense")
		return
	}
	c.JSON(http.StatusOK, newExpenseResponse(*expense))
}

// UpdateExpense 覆盖支出记录。
func (h *ExpenseHandler) UpdateExpense(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var req expenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	if req.ReceiptKey != "" && !isValidUserAssetObjectKey(userID, req.ReceiptKey) {
		BadRequest(c, "invalid receipt key")
		return
	}

	ctx := c.Request.Context()
	expense, err := h.getExpenseForUser(ctx, c.Param("id"), userID)
	if err != nil {
		respondLookupError(c, err, "expense")
		return
	}

	updates := map[string]any{
		"category":    req.Category,
		"description": req.Description,
		"amount":      billing.Round2(billing.Sanitize(req.Amount)),
		"incurred_on": req.IncurredOn,
		"receipt_key": req.ReceiptKey,
	}
	if err := h.db.WithContext(ctx).Model(expense).Updates(updates).Error; err != nil {
		Internal(c, "failed to update expense")
		return
	}
	if err := h.db.WithContext(ctx).First(expense, expense.ID).Error; err != nil {
		Internal(c, "failed to reload expense")
		return
	}
	c.JSON(http.StatusOK, newExpenseResponse(*expense))
}

// DeleteExpense 删除支出记录。
func (h *ExpenseHandler) DeleteExpense(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	ctx := c.Request.Context()
	expense, err := h.getExpenseForUser(ctx, c.Param("id"), userID)
	if err != nil {
		respondLookupError(c, err, "expense")
		return
	}
	if err := h.db.WithContext(ctx).Delete(&database.Expense{}, expense.ID).Error; err != nil {
		Internal(c, "failed to delete expense")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ExpenseHandler) getExpenseForUser(ctx context.Context, idParam string, userID uint) (*database.Expense, error) {
	id, err := strconv.ParseUint(idParam, 10, 64)
	if err != nil {
		return nil, errInvalidID
	}
	var expense database.Expense
	if err := h.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", uint(id), userID).
		First(&expense).Error; err != nil {
		return nil, err
	}
	return &expense, nil
}
