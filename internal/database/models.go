package database

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 文档种类与渲染状态常量，生产者与消费者保持一致。
const (
	KindInvoice  = "invoice"
	KindEstimate = "estimate"

	PdfStatusPending    = "pending"
	PdfStatusProcessing = "processing"
	PdfStatusCompleted  = "completed"
	PdfStatusDegraded   = "degraded"
	PdfStatusFailed     = "failed"
)

// User 表示系统中的账号信息。
type User struct {
	gorm.Model
	Username           string `gorm:"uniqueIndex;size:64"`
	PasswordHash       string `gorm:"size:255"`
	MustChangePassword bool   `gorm:"default:false"`
	Customers          []Customer `gorm:"constraint:OnDelete:CASCADE"`
	Invoices           []Invoice  `gorm:"constraint:OnDelete:CASCADE"`
}

// Customer 表示开票对象（客户）。
type Customer struct {
	gorm.Model
	UserID  uint   `gorm:"index"`
	Name    string `gorm:"size:255"`
	Company string `gorm:"size:255"`
	Phone   string `gorm:"size:64"`
	Email   string `gorm:"size:255"`
	Address string `gorm:"size:512"`
	Notes   string `gorm:"type:text"`
}

// Invoice 同时承载发票与报价单（Kind 区分），行项目以 JSONB 存储。
// Subtotal/TaxAmount/Total 在创建/更新时由服务端计算并快照。
type Invoice struct {
	gorm.Model
	UserID     uint   `gorm:"index;uniqueIndex:idx_invoices_user_kind_number"`
	CustomerID uint   `gorm:"index"`
	Customer   Customer
	Kind       string `gorm:"size:16;index;default:invoice;uniqueIndex:idx_invoices_user_kind_number"`
	Number     string `gorm:"size:32;uniqueIndex:idx_invoices_user_kind_number"`
	Status     string `gorm:"size:32;default:draft"`

	Items     datatypes.JSON `gorm:"type:jsonb"` // []billing.LineItem
	TaxRate   float64        // 快照税率（百分比）
	Subtotal  float64
	TaxAmount float64
	Total     float64

	DueDate     *time.Time
	TemplateKey string `gorm:"size:32"`
	Notes       string `gorm:"type:text"`

	PdfKey    string `gorm:"size:512"`
	PdfStatus string `gorm:"size:32"`
}

// Expense 表示一笔支出记录。
type Expense struct {
	gorm.Model
	UserID      uint   `gorm:"index"`
	Category    string `gorm:"size:64"`
	Description string `gorm:"size:512"`
	Amount      float64
	IncurredOn  time.Time
	ReceiptKey  string `gorm:"size:512"`
}

// Product 表示库存商品，开票时可引用并扣减库存。
type Product struct {
	gorm.Model
	UserID      uint   `gorm:"index;uniqueIndex:idx_products_user_sku"`
	Name        string `gorm:"size:255"`
	SKU         string `gorm:"size:64;uniqueIndex:idx_products_user_sku"`
	Description string `gorm:"size:512"`
	UnitPrice   float64
	Stock       int `gorm:"default:0"`
}

// TaxRate 表示可配置税率；每个用户至多一个默认税率。
type TaxRate struct {
	gorm.Model
	UserID    uint   `gorm:"index"`
	Name      string `gorm:"size:64"`
	Percent   float64
	IsDefault bool `gorm:"default:false"`
}

// BusinessProfile 表示商户抬头信息（每个用户一条），
// 包含用于 PDF 渲染的 Logo 与签名对象键。
type BusinessProfile struct {
	gorm.Model
	UserID       uint   `gorm:"uniqueIndex"`
	BusinessName string `gorm:"size:255"`
	Address      string `gorm:"size:512"`
	Website      string `gorm:"size:255"`
	Phone        string `gorm:"size:64"`
	Email        string `gorm:"size:255"`
	SignerName   string `gorm:"size:255"`
	Policy       string `gorm:"type:text"`
	LogoKey      string `gorm:"size:512"`
	SignatureKey string `gorm:"size:512"`
	TemplateKey  string `gorm:"size:32"`
}
