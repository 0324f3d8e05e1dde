package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypeDocumentRender = "document:render"
)

// DocumentRenderPayload 描述渲染一份发票/报价单 PDF 所需的最小信息。
type DocumentRenderPayload struct {
	InvoiceID     uint   `json:"invoice_id"`
	CorrelationID string `json:"correlation_id"`
}

// NewDocumentRenderTask 构造一个新的文档渲染任务。
func NewDocumentRenderTask(invoiceID uint, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(DocumentRenderPayload{
		InvoiceID:     invoiceID,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeDocumentRender, payload), nil
}
