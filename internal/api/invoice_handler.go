package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"billdesk/internal/api/middleware"
	"billdesk/internal/billing"
	"billdesk/internal/database"
	"billdesk/internal/storage"
	"billdesk/internal/tasks"
)

const downloadLinkTTL = 15 * time.Minute

// 发票与报价单各自允许的状态集合。
var (
	invoiceStatuses  = map[string]bool{"draft": true, "sent": true, "paid": true, "void": true}
	estimateStatuses = map[string]bool{"draft": true, "sent": true, "accepted": true, "declined": true}
)

// DocumentHandler 同时服务发票与报价单路由组，Kind 由路由注册时固定。
// 金额在写入时由服务端计算并快照，渲染阶段只负责排版。
type DocumentHandler struct {
	db             *gorm.DB
	asynqClient    *asynq.Client
	storage        *storage.Client
	logger         *slog.Logger
	defaultTaxRate float64
}

// NewDocumentHandler 构造 DocumentHandler。
func NewDocumentHandler(db *gorm.DB, asynqClient *asynq.Client, storageClient *storage.Client, logger *slog.Logger, defaultTaxRate float64) *DocumentHandler {
	return &DocumentHandler{
		db:             db,
		asynqClient:    asynqClient,
		storage:        storageClient,
		logger:         logger,
		defaultTaxRate: defaultTaxRate,
	}
}

type lineItemRequest struct {
	Name        string  `json:"name" binding:"max=255"`
	Description string  `json:"description" binding:"max=2048"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	ProductID   *uint   `json:"product_id"`
}

type documentRequest struct {
	CustomerID  uint              `json:"customer_id" binding:"required"`
	Number      string            `json:"number" binding:"max=32"`
	Status      string            `json:"status" binding:"max=32"`
	Items       []lineItemRequest `json:"items" binding:"required,min=1,dive"`
	TaxRate     *float64          `json:"tax_rate"`
	DueDate     *time.Time        `json:"due_date"`
	TemplateKey string            `json:"template_key" binding:"max=32"`
	Notes       string            `json:"notes"`
}

type documentResponse struct {
	ID          uint               `json:"id"`
	Kind        string             `json:"kind"`
	Number      string             `json:"number"`
	Status      string             `json:"status"`
	CustomerID  uint               `json:"customer_id"`
	Items       []billing.LineItem `json:"items"`
	TaxRate     float64            `json:"tax_rate"`
	Subtotal    float64            `json:"subtotal"`
	TaxAmount   float64            `json:"tax_amount"`
	Total       float64            `json:"total"`
	DueDate     *time.Time         `json:"due_date,omitempty"`
	TemplateKey string             `json:"template_key,omitempty"`
	Notes       string             `json:"notes,omitempty"`
	PdfStatus   string             `json:"pdf_status,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

func newDocumentResponse(m database.Invoice) documentResponse {
	var items []billing.LineItem
	if len(m.Items) > 0 {
		_ = json.Unmarshal(m.Items, &items)
	}
	return documentResponse{
		ID:          m.ID,
		Kind:        m.Kind,
		Number:      m.Number,
		Status:      m.Status,
		CustomerID:  m.CustomerID,
		Items:       items,
		TaxRate:     m.TaxRate,
		Subtotal:    m.Subtotal,
		TaxAmount:   m.TaxAmount,
		Total:       m.Total,
		DueDate:     m.DueDate,
		TemplateKey: m.TemplateKey,
		Notes:       m.Notes,
		PdfStatus:   m.PdfStatus,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func statusValid(kind, status string) bool {
	if kind == database.KindEstimate {
		return estimateStatuses[status]
	}
	return invoiceStatuses[status]
}

// Create 新建发票或报价单；发票中引用商品的行会扣减库存。
func (h *DocumentHandler) Create(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := userIDFromContext(c)
		if !ok {
			AbortUnauthorized(c)
			return
		}

		var req documentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, err.Error())
			return
		}
		status := req.Status
		if status == "" {
			status = "draft"
		}
		if !statusValid(kind, status) {
			BadRequest(c, "invalid status for "+kind)
			return
		}

		ctx := c.Request.Context()
		var customer database.Customer
		if err := h.db.WithContext(ctx).
			Where("id = ? AND user_id = ?", req.CustomerID, userID).
			First(&customer).Error; err != nil {
			respondLookupError(c, err, "customer")
			return
		}

		var doc database.Invoice
		err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			items, err := h.buildLineItems(tx, userID, kind, req.Items)
			if err != nil {
				return err
			}

			rate, err := h.resolveTaxRate(tx, userID, req.TaxRate)
			if err != nil {
				return err
			}
			totals := billing.ComputeTotals(items, rate)

			itemsJSON, err := json.Marshal(items)
			if err != nil {
				return err
			}

			number := strings.TrimSpace(req.Number)
			if number == "" {
				number, err = nextDocumentNumber(tx, userID, kind)
				if err != nil {
					return err
				}
			}

			doc = database.Invoice{
				UserID:      userID,
				CustomerID:  customer.ID,
				Kind:        kind,
				Number:      number,
				Status:      status,
				Items:       datatypes.JSON(itemsJSON),
				TaxRate:     rate,
				Subtotal:    totals.Subtotal,
				TaxAmount:   totals.Tax,
				Total:       totals.Total,
				DueDate:     req.DueDate,
				TemplateKey: req.TemplateKey,
				Notes:       req.Notes,
			}
			return tx.Create(&doc).Error
		})
		if err != nil {
			h.loggerFromContext(c).Error("create document failed",
				slog.String("kind", kind), slog.Any("error", err))
			Internal(c, "failed to create "+kind)
			return
		}

		c.JSON(http.StatusCreated, newDocumentResponse(doc))
	}
}

// List 按创建时间倒序列出当前用户指定类型的单据。
func (h *DocumentHandler) List(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := userIDFromContext(c)
		if !ok {
			AbortUnauthorized(c)
			return
		}

		query := h.db.WithContext(c.Request.Context()).
			Where("user_id = ? AND kind = ?", userID, kind)
		if status := c.Query("status"); status != "" {
			query = query.Where("status = ?", status)
		}
		if customerID, err := strconv.ParseUint(c.Query("customer_id"), 10, 64); err == nil {
			query = query.Where("customer_id = ?", uint(customerID))
		}

		var docs []database.Invoice
		if err := query.Order("created_at DESC").Find(&docs).Error; err != nil {
			Internal(c, "failed to list documents")
			return
		}

		items := make([]documentResponse, 0, len(docs))
		for _, m := range docs {
			items = append(items, newDocumentResponse(m))
		}
		c.JSON(http.StatusOK, items)
	}
}

// Get 返回单据详情。
func (h *DocumentHandler) Get(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := userIDFromContext(c)
		if !ok {
			AbortUnauthorized(c)
			return
		}
		doc, err := h.getDocument(c.Request.Context(), c.Param("id"), userID, kind)
		if err != nil {
			respondLookupError(c, err, kind)
			return
		}
		c.JSON(http.StatusOK, newDocumentResponse(*doc))
	}
}

// Update 覆盖单据内容并重新计算金额快照；已生成的 PDF 标记失效。
func (h *DocumentHandler) Update(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := userIDFromContext(c)
		if !ok {
			AbortUnauthorized(c)
			return
		}

		var req documentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, err.Error())
			return
		}
		status := req.Status
		if status == "" {
			status = "draft"
		}
		if !statusValid(kind, status) {
			BadRequest(c, "invalid status for "+kind)
			return
		}

		ctx := c.Request.Context()
		doc, err := h.getDocument(ctx, c.Param("id"), userID, kind)
		if err != nil {
			respondLookupError(c, err, kind)
			return
		}

		var customer database.Customer
		if err := h.db.WithContext(ctx).
			Where("id = ? AND user_id = ?", req.CustomerID, userID).
			First(&customer).Error; err != nil {
			respondLookupError(c, err, "customer")
			return
		}

		err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			items, err := requestLineItems(req.Items)
			if err != nil {
				return err
			}
			rate, err := h.resolveTaxRate(tx, userID, req.TaxRate)
			if err != nil {
				return err
			}
			totals := billing.ComputeTotals(items, rate)
			itemsJSON, err := json.Marshal(items)
			if err != nil {
				return err
			}

			updates := map[string]any{
				"customer_id":  customer.ID,
				"status":       status,
				"items":        datatypes.JSON(itemsJSON),
				"tax_rate":     rate,
				"subtotal":     totals.Subtotal,
				"tax_amount":   totals.Tax,
				"total":        totals.Total,
				"due_date":     req.DueDate,
				"template_key": req.TemplateKey,
				"notes":        req.Notes,
				// 内容变更后旧 PDF 不再代表当前单据。
				"pdf_key":    "",
				"pdf_status": "",
			}
			if number := strings.TrimSpace(req.Number); number != "" {
				updates["number"] = number
			}
			return tx.Model(doc).Updates(updates).Error
		})
		if err != nil {
			h.loggerFromContext(c).Error("update document failed",
				slog.String("kind", kind), slog.Any("error", err))
			Internal(c, "failed to update "+kind)
			return
		}

		if err := h.db.WithContext(ctx).First(doc, doc.ID).Error; err != nil {
			Internal(c, "failed to reload "+kind)
			return
		}
		c.JSON(http.StatusOK, newDocumentResponse(*doc))
	}
}

// Delete 删除单据；已上传的 PDF 一并清理（失败仅记日志）。
func (h *DocumentHandler) Delete(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := userIDFromContext(c)
		if !ok {
			AbortUnauthorized(c)
			return
		}

		ctx := c.Request.Context()
		doc, err := h.getDocument(ctx, c.Param("id"), userID, kind)
		if err != nil {
			respondLookupError(c, err, kind)
			return
		}

		if err := h.db.WithContext(ctx).Delete(&database.Invoice{}, doc.ID).Error; err != nil {
			Internal(c, "failed to delete "+kind)
			return
		}
		if doc.PdfKey != "" && h.storage != nil {
			if err := h.storage.DeleteObject(ctx, doc.PdfKey); err != nil {
				h.loggerFromContext(c).Warn("delete rendered pdf failed",
					slog.String("object_key", doc.PdfKey), slog.Any("error", err))
			}
		}
		c.Status(http.StatusNoContent)
	}
}

// Render 将单据投入渲染队列并返回任务 ID。
func (h *DocumentHandler) Render(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := userIDFromContext(c)
		if !ok {
			AbortUnauthorized(c)
			return
		}

		ctx := c.Request.Context()
		doc, err := h.getDocument(ctx, c.Param("id"), userID, kind)
		if err != nil {
			respondLookupError(c, err, kind)
			return
		}

		correlationID := middleware.GetCorrelationID(c)
		task, err := tasks.NewDocumentRenderTask(doc.ID, correlationID)
		if err != nil {
			Internal(c, "failed to build render task")
			return
		}

		if err := h.db.WithContext(ctx).Model(doc).
			Update("pdf_status", database.PdfStatusPending).Error; err != nil {
			Internal(c, "failed to mark document pending")
			return
		}

		info, err := h.asynqClient.EnqueueContext(ctx, task, asynq.MaxRetry(3), asynq.Timeout(2*time.Minute))
		if err != nil {
			h.loggerFromContext(c).Error("enqueue render task failed",
				slog.Uint64("invoice_id", uint64(doc.ID)), slog.Any("error", err))
			Internal(c, "failed to enqueue render task")
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"task_id":        info.ID,
			"invoice_id":     doc.ID,
			"pdf_status":     database.PdfStatusPending,
			"correlation_id": correlationID,
		})
	}
}

// DownloadLink 为已渲染的 PDF 生成限时预签名下载地址。
func (h *DocumentHandler) DownloadLink(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := userIDFromContext(c)
		if !ok {
			AbortUnauthorized(c)
			return
		}

		ctx := c.Request.Context()
		doc, err := h.getDocument(ctx, c.Param("id"), userID, kind)
		if err != nil {
			respondLookupError(c, err, kind)
			return
		}
		if doc.PdfKey == "" ||
			(doc.PdfStatus != database.PdfStatusCompleted && doc.PdfStatus != database.PdfStatusDegraded) {
			NotFound(c, "no rendered pdf for this document")
			return
		}

		url, err := h.storage.GeneratePresignedURL(ctx, doc.PdfKey, downloadLinkTTL)
		if err != nil {
			h.loggerFromContext(c).Error("presign pdf failed",
				slog.String("object_key", doc.PdfKey), slog.Any("error", err))
			Internal(c, "failed to generate download link")
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"url":        url,
			"expires_in": int(downloadLinkTTL.Seconds()),
			"pdf_status": doc.PdfStatus,
		})
	}
}

// Download 直接流式返回已渲染的 PDF。
func (h *DocumentHandler) Download(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := userIDFromContext(c)
		if !ok {
			AbortUnauthorized(c)
			return
		}

		ctx := c.Request.Context()
		doc, err := h.getDocument(ctx, c.Param("id"), userID, kind)
		if err != nil {
			respondLookupError(c, err, kind)
			return
		}
		if doc.PdfKey == "" ||
			(doc.PdfStatus != database.PdfStatusCompleted && doc.PdfStatus != database.PdfStatusDegraded) {
			NotFound(c, "no rendered pdf for this document")
			return
		}

		object, err := h.storage.GetObject(ctx, doc.PdfKey)
		if err != nil {
			h.loggerFromContext(c).Error("get rendered pdf failed",
				slog.String("object_key", doc.PdfKey), slog.Any("error", err))
			Internal(c, "failed to fetch pdf")
			return
		}
		defer object.Close()

		stat, err := object.Stat()
		if err != nil {
			h.loggerFromContext(c).Error("stat rendered pdf failed",
				slog.String("object_key", doc.PdfKey), slog.Any("error", err))
			Internal(c, "failed to fetch pdf")
			return
		}

		filename := fmt.Sprintf("%s-%s.pdf", doc.Kind, sanitizeFilenamePart(doc.Number))
		c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
		c.DataFromReader(http.StatusOK, stat.Size, "application/pdf", object, nil)
	}
}

// ConvertEstimate 由报价单生成新的草稿发票，引用商品的行扣减库存，
// 原报价单标记为 accepted。
func (h *DocumentHandler) ConvertEstimate(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	estimate, err := h.getDocument(ctx, c.Param("id"), userID, database.KindEstimate)
	if err != nil {
		respondLookupError(c, err, "estimate")
		return
	}
	if estimate.Status == "declined" {
		Conflict(c, "declined estimate cannot be converted")
		return
	}

	var items []billing.LineItem
	if len(estimate.Items) > 0 {
		if err := json.Unmarshal(estimate.Items, &items); err != nil {
			Internal(c, "stored line items are malformed")
			return
		}
	}

	var invoice database.Invoice
	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := decrementStock(tx, userID, items); err != nil {
			return err
		}
		number, err := nextDocumentNumber(tx, userID, database.KindInvoice)
		if err != nil {
			return err
		}
		invoice = database.Invoice{
			UserID:      userID,
			CustomerID:  estimate.CustomerID,
			Kind:        database.KindInvoice,
			Number:      number,
			Status:      "draft",
			Items:       estimate.Items,
			TaxRate:     estimate.TaxRate,
			Subtotal:    estimate.Subtotal,
			TaxAmount:   estimate.TaxAmount,
			Total:       estimate.Total,
			DueDate:     estimate.DueDate,
			TemplateKey: estimate.TemplateKey,
			Notes:       estimate.Notes,
		}
		if err := tx.Create(&invoice).Error; err != nil {
			return err
		}
		return tx.Model(estimate).Update("status", "accepted").Error
	})
	if err != nil {
		h.loggerFromContext(c).Error("convert estimate failed",
			slog.Uint64("estimate_id", uint64(estimate.ID)), slog.Any("error", err))
		Internal(c, "failed to convert estimate")
		return
	}

	c.JSON(http.StatusCreated, newDocumentResponse(invoice))
}

func (h *DocumentHandler) getDocument(ctx context.Context, idParam string, userID uint, kind string) (*database.Invoice, error) {
	id, err := strconv.ParseUint(idParam, 10, 64)
	if err != nil {
		return nil, errInvalidID
	}
	var doc database.Invoice
	if err := h.db.WithContext(ctx).
		Where("id = ? AND user_id = ? AND kind = ?", uint(id), userID, kind).
		First(&doc).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

// buildLineItems 把请求行转换为存储形态；发票中引用商品的行补全名称与
// 单价并扣减库存，报价单只补全不扣减。
func (h *DocumentHandler) buildLineItems(tx *gorm.DB, userID uint, kind string, reqItems []lineItemRequest) ([]billing.LineItem, error) {
	items := make([]billing.LineItem, 0, len(reqItems))
	for _, ri := range reqItems {
		item := billing.LineItem{
			Name:        ri.Name,
			Description: ri.Description,
			Quantity:    billing.Sanitize(ri.Quantity),
			UnitPrice:   billing.Sanitize(ri.UnitPrice),
			ProductID:   ri.ProductID,
		}
		if ri.ProductID != nil {
			var product database.Product
			if err := tx.Where("id = ? AND user_id = ?", *ri.ProductID, userID).
				First(&product).Error; err != nil {
				return nil, fmt.Errorf("line item product %d: %w", *ri.ProductID, err)
			}
			if item.Name == "" {
				item.Name = product.Name
			}
			if item.UnitPrice == 0 {
				item.UnitPrice = billing.Sanitize(product.UnitPrice)
			}
		}
		if item.Name == "" {
			return nil, fmt.Errorf("line item name required")
		}
		items = append(items, item)
	}
	if kind == database.KindInvoice {
		if err := decrementStock(tx, userID, items); err != nil {
			return nil, err
		}
	}
	return items, nil
}

// requestLineItems 是 buildLineItems 的无副作用版本，用于更新场景。
func requestLineItems(reqItems []lineItemRequest) ([]billing.LineItem, error) {
	items := make([]billing.LineItem, 0, len(reqItems))
	for _, ri := range reqItems {
		if ri.Name == "" {
			return nil, fmt.Errorf("line item name required")
		}
		items = append(items, billing.LineItem{
			Name:        ri.Name,
			Description: ri.Description,
			Quantity:    billing.Sanitize(ri.Quantity),
			UnitPrice:   billing.Sanitize(ri.UnitPrice),
			ProductID:   ri.ProductID,
		})
	}
	return items, nil
}

// decrementStock 扣减引用商品的库存，下限为 0。
func decrementStock(tx *gorm.DB, userID uint, items []billing.LineItem) error {
	for _, item := range items {
		if item.ProductID == nil {
			continue
		}
		qty := int(item.Quantity)
		if qty <= 0 {
			continue
		}
		if err := tx.Model(&database.Product{}).
			Where("id = ? AND user_id = ?", *item.ProductID, userID).
			Update("stock", gorm.Expr("CASE WHEN stock - ? < 0 THEN 0 ELSE stock - ? END", qty, qty)).Error; err != nil {
			return err
		}
	}
	return nil
}

// resolveTaxRate 取显式税率，否则取用户默认税率，最后落到实例默认值。
func (h *DocumentHandler) resolveTaxRate(tx *gorm.DB, userID uint, explicit *float64) (float64, error) {
	if explicit != nil {
		return billing.Sanitize(*explicit), nil
	}
	var def database.TaxRate
	err := tx.Where("user_id = ? AND is_default = ?", userID, true).First(&def).Error
	if err == nil {
		return billing.Sanitize(def.Percent), nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return billing.Sanitize(h.defaultTaxRate), nil
	}
	return 0, err
}

// nextDocumentNumber 生成形如 INV-0007 / EST-0003 的顺序编号。
// 取历史最大序号 +1 而非计数，且包含软删除记录，删除后编号不复用。
func nextDocumentNumber(tx *gorm.DB, userID uint, kind string) (string, error) {
	prefix := "INV"
	if kind == database.KindEstimate {
		prefix = "EST"
	}
	var numbers []string
	if err := tx.Unscoped().Model(&database.Invoice{}).
		Where("user_id = ? AND kind = ? AND number LIKE ?", userID, kind, prefix+"-%").
		Pluck("number", &numbers).Error; err != nil {
		return "", err
	}
	max := 0
	for _, n := range numbers {
		seq, err := strconv.Atoi(strings.TrimPrefix(n, prefix+"-"))
		if err == nil && seq > max {
			max = seq
		}
	}
	return fmt.Sprintf("%s-%04d", prefix, max+1), nil
}

// sanitizeFilenamePart 过滤会破坏 Content-Disposition 的字符：
// 引号、反斜杠、路径分隔符与控制字符一律剔除。
func sanitizeFilenamePart(s string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r < 0x20 || r == 0x7f:
			return -1
		case r == '"' || r == '\\' || r == '/' || r == ';':
			return -1
		}
		return r
	}, s)
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return "document"
	}
	return cleaned
}

func (h *DocumentHandler) loggerFromContext(c *gin.Context) *slog.Logger {
	if logger := middleware.LoggerFromContext(c); logger != nil {
		return logger
	}
	if h.logger != nil {
		return h.logger
	}
	return slog.Default()
}
