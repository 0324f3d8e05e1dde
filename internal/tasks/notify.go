package tasks

// 渲染结果通知协议：worker 发布到 Redis，WebSocket 网关转发给前端。
// 字段名与前端解析保持一致，生产者与消费者共用此定义。
type DocumentRenderNotifyMessage struct {
	Status        string   `json:"status"`
	InvoiceID     uint     `json:"invoice_id"`
	Kind          string   `json:"kind"`
	PdfStatus     string   `json:"pdf_status,omitempty"`
	CorrelationID string   `json:"correlation_id"`
	ErrorCode     int      `json:"error_code"`
	ErrorMessage  string   `json:"error_message"`
	MissingKeys   []string `json:"missing_keys,omitempty"`
}
