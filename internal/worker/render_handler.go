package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"billdesk/internal/billing"
	"billdesk/internal/database"
	"billdesk/internal/errcode"
	"billdesk/internal/metrics"
	"billdesk/internal/render"
	"billdesk/internal/storage"
	"billdesk/internal/tasks"
)

// DocumentRenderTaskHandler 负责消费单据渲染任务。
type DocumentRenderTaskHandler struct {
	db              *gorm.DB
	storage         *storage.Client
	redisClient     *redis.Client
	logger          *slog.Logger
	defaultTemplate string
}

// NewDocumentRenderTaskHandler 创建任务处理器。
func NewDocumentRenderTaskHandler(
	db *gorm.DB,
	storageClient *storage.Client,
	redisClient *redis.Client,
	logger *slog.Logger,
	defaultTemplate string,
) *DocumentRenderTaskHandler {
	return &DocumentRenderTaskHandler{
		db:              db,
		storage:         storageClient,
		redisClient:     redisClient,
		logger:          logger,
		defaultTemplate: defaultTemplate,
	}
}

// ProcessTask 实现 asynq.Handler。
func (h *DocumentRenderTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) (retErr error) {
	log := h.logger

	var payload tasks.DocumentRenderPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		log.Error("unmarshal task payload failed", slog.Any("error", err))
		return err
	}

	log = log.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.Int("invoice_id", int(payload.InvoiceID)),
	)
	log.Info("starting document render task")

	var invoice database.Invoice
	if err := h.db.WithContext(ctx).Preload("Customer").First(&invoice, payload.InvoiceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("invoice not found, skipping task")
			return nil
		}
		log.Error("query invoice failed", slog.Any("error", err))
		return err
	}

	log = log.With(slog.Uint64("user_id", uint64(invoice.UserID)))

	defer func() {
		if retErr == nil {
			return
		}
		if !isFinalAsynqAttempt(ctx) {
			return
		}

		if err := h.db.WithContext(context.WithoutCancel(ctx)).Model(&invoice).
			Update("pdf_status", database.PdfStatusFailed).Error; err != nil {
			log.Error("mark invoice render failed", slog.Any("error", err))
		}
		notify := tasks.DocumentRenderNotifyMessage{
			Status:        "error",
			InvoiceID:     invoice.ID,
			Kind:          invoice.Kind,
			PdfStatus:     database.PdfStatusFailed,
			CorrelationID: payload.CorrelationID,
			ErrorCode:     errcode.SystemError,
			ErrorMessage:  strings.TrimSpace(retErr.Error()),
		}
		if err := h.publishNotify(context.WithoutCancel(ctx), invoice.UserID, notify); err != nil {
			log.Error("publish render error notification failed", slog.Any("error", err))
		}
	}()

	if err := h.db.WithContext(ctx).Model(&invoice).
		Update("pdf_status", database.PdfStatusProcessing).Error; err != nil {
		log.Error("mark invoice processing failed", slog.Any("error", err))
		return err
	}

	data, err := h.buildDocumentData(ctx, &invoice)
	if err != nil {
		log.Error("build document data failed", slog.Any("error", err))
		return err
	}

	cfg := render.DefaultConfig()
	cfg.StorageOrigin = h.storage.PublicOrigin()
	cfg.StorageBucket = h.storage.AssetBucket()
	cfg.Logger = log

	doc := render.Render(ctx, cfg, data)
	metrics.ObserveRender(data.Template, invoice.Kind, doc.Pages, doc.Degraded)

	objectName := fmt.Sprintf("documents/%d/%s/%s.pdf", invoice.UserID, invoice.Kind, uuid.NewString())
	pdfReader := bytes.NewReader(doc.Bytes)
	if _, err := h.storage.UploadFile(ctx, objectName, pdfReader, int64(len(doc.Bytes)), "application/pdf"); err != nil {
		log.Error("upload pdf to minio failed", slog.Any("error", err))
		return err
	}

	pdfStatus := database.PdfStatusCompleted
	if doc.Degraded {
		pdfStatus = database.PdfStatusDegraded
	}
	update := map[string]any{
		"pdf_key":    objectName,
		"pdf_status": pdfStatus,
	}
	if err := h.db.WithContext(ctx).Model(&invoice).Updates(update).Error; err != nil {
		log.Error("update invoice failed", slog.Any("error", err))
		return err
	}

	notify := completionNotify(&invoice, payload.CorrelationID, pdfStatus, doc)
	switch notify.ErrorCode {
	case errcode.RenderDegraded:
		log.Warn("document rendered via fallback layout")
	case errcode.ResourceMissing:
		log.Warn("document rendered with missing assets",
			slog.Int("missing_count", len(doc.MissingAssets)),
			slog.Any("missing_keys", doc.MissingAssets),
		)
	}
	if err := h.publishNotify(ctx, invoice.UserID, notify); err != nil {
		log.Error("publish redis notification failed", slog.Any("error", err))
		return err
	}

	log.Info("document render task completed",
		slog.Int("pages", doc.Pages),
		slog.String("pdf_status", pdfStatus),
	)
	return nil
}

// buildDocumentData 把数据库中的单据与商户抬头拼装成渲染输入。
// Logo/签名缺失不阻塞渲染，渲染器会按未解析资产处理。
func (h *DocumentRenderTaskHandler) buildDocumentData(ctx context.Context, invoice *database.Invoice) (render.DocumentData, error) {
	var items []billing.LineItem
	if len(invoice.Items) > 0 {
		if err := json.Unmarshal(invoice.Items, &items); err != nil {
			return render.DocumentData{}, fmt.Errorf("unmarshal invoice items: %w", err)
		}
	}

	var profile database.BusinessProfile
	if err := h.db.WithContext(ctx).Where("user_id = ?", invoice.UserID).First(&profile).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return render.DocumentData{}, fmt.Errorf("query business profile: %w", err)
		}
	}

	template := invoice.TemplateKey
	if template == "" {
		template = profile.TemplateKey
	}
	if template == "" {
		template = h.defaultTemplate
	}

	renderItems := make([]render.LineItem, 0, len(items))
	for _, item := range items {
		renderItems = append(renderItems, render.LineItem{
			Name:        item.Name,
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
		})
	}

	data := render.DocumentData{
		Kind:     invoice.Kind,
		Number:   invoice.Number,
		Template: template,
		Recipient: render.Recipient{
			Name:    invoice.Customer.Name,
			Company: invoice.Customer.Company,
			Phone:   invoice.Customer.Phone,
			Email:   invoice.Customer.Email,
		},
		Items:     renderItems,
		Subtotal:  invoice.Subtotal,
		TaxAmount: invoice.TaxAmount,
		Total:     invoice.Total,
		TaxLabel:  billing.TaxLabel(invoice.TaxRate),
		IssueDate: invoice.CreatedAt,
		DueDate:   invoice.DueDate,
		Business: render.BusinessInfo{
			Name:    profile.BusinessName,
			Address: profile.Address,
			Website: profile.Website,
			Phone:   profile.Phone,
			Email:   profile.Email,
			Policy:  profile.Policy,
		},
		Sender: render.SenderInfo{
			Phone:      profile.Phone,
			Email:      profile.Email,
			SignerName: profile.SignerName,
		},
	}
	if profile.LogoKey != "" {
		data.Business.Logo = render.AssetRef{ObjectKey: profile.LogoKey}
	}
	if profile.SignatureKey != "" {
		data.Sender.Signature = render.AssetRef{ObjectKey: profile.SignatureKey}
	}
	return data, nil
}

// completionNotify 根据渲染结果决定上报的状态码：
// 降级渲染 > 资源缺失 > 正常完成。资源缺失只是警告，文档依旧生成。
func completionNotify(invoice *database.Invoice, correlationID, pdfStatus string, doc *render.RenderedDocument) tasks.DocumentRenderNotifyMessage {
	notify := tasks.DocumentRenderNotifyMessage{
		Status:        "completed",
		InvoiceID:     invoice.ID,
		Kind:          invoice.Kind,
		PdfStatus:     pdfStatus,
		CorrelationID: correlationID,
		ErrorCode:     errcode.OK,
	}
	switch {
	case doc.Degraded:
		notify.ErrorCode = errcode.RenderDegraded
		notify.ErrorMessage = "完整排版失败，已生成降级版 PDF"
	case len(doc.MissingAssets) > 0:
		notify.ErrorCode = errcode.ResourceMissing
		notify.ErrorMessage = "部分图片资源缺失/无效，已自动跳过并继续生成"
		notify.MissingKeys = doc.MissingAssets
	}
	return notify
}

func (h *DocumentRenderTaskHandler) publishNotify(ctx context.Context, userID uint, notify tasks.DocumentRenderNotifyMessage) error {
	data, err := json.Marshal(notify)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}
	channel := fmt.Sprintf("user_notify:%d", userID)
	if err := h.redisClient.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish redis notification to %q: %w", channel, err)
	}
	return nil
}

func isFinalAsynqAttempt(ctx context.Context) bool {
	retryCount, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	if !ok1 || !ok2 {
		return false
	}
	return retryCount >= maxRetry
}
