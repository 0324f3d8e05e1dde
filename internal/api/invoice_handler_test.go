package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"billdesk/internal/database"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(database.Models()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// stubAuth 直接注入用户 ID，绕过真实 JWT 校验。
func stubAuth(userID uint) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("userID", userID)
		c.Next()
	}
}

func newTestRouter(t *testing.T, db *gorm.DB, userID uint) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()

	documentHandler := NewDocumentHandler(db, nil, nil, nil, 17)
	customerHandler := NewCustomerHandler(db)
	inventoryHandler := NewInventoryHandler(db)
	taxHandler := NewTaxHandler(db)

	v1 := router.Group("/v1", stubAuth(userID))
	registerDocumentRoutes(v1.Group("/invoices"), documentHandler, database.KindInvoice)
	estimateGroup := v1.Group("/estimates")
	registerDocumentRoutes(estimateGroup, documentHandler, database.KindEstimate)
	estimateGroup.POST("/:id/convert", documentHandler.ConvertEstimate)

	v1.POST("/customers", customerHandler.CreateCustomer)
	v1.POST("/inventory", inventoryHandler.CreateProduct)
	v1.POST("/inventory/:id/adjust", inventoryHandler.AdjustStock)
	v1.POST("/taxes", taxHandler.CreateTaxRate)
	v1.PUT("/taxes/:id", taxHandler.UpdateTaxRate)

	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewBuffer(data)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func seedCustomer(t *testing.T, db *gorm.DB, userID uint) database.Customer {
	t.Helper()
	customer := database.Customer{UserID: userID, Name: "Jane Doe", Company: "Acme Services"}
	if err := db.Create(&customer).Error; err != nil {
		t.Fatalf("seed customer: %v", err)
	}
	return customer
}

func TestCreateInvoiceComputesTotals(t *testing.T) {
	db := newTestDB(t)
	router := newTestRouter(t, db, 1)
	customer := seedCustomer(t, db, 1)

	rate := 10.0
	w := doJSON(t, router, http.MethodPost, "/v1/invoices", gin.H{
		"customer_id": customer.ID,
		"tax_rate":    rate,
		"items": []gin.H{
			{"name": "Consulting", "quantity": 2, "unit_price": 100},
			{"name": "Hosting", "quantity": 1, "unit_price": 50},
		},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp documentResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Subtotal != 250 || resp.TaxAmount != 25 || resp.Total != 275 {
		t.Fatalf("totals = %v/%v/%v, want 250/25/275", resp.Subtotal, resp.TaxAmount, resp.Total)
	}
	if resp.Kind != database.KindInvoice {
		t.Fatalf("kind = %q", resp.Kind)
	}
	if !strings.HasPrefix(resp.Number, "INV-") {
		t.Fatalf("number = %q, want INV- prefix", resp.Number)
	}
}

func TestCreateInvoiceUsesDefaultTaxRate(t *testing.T) {
	db := newTestDB(t)
	router := newTestRouter(t, db, 1)
	customer := seedCustomer(t, db, 1)

	if err := db.Create(&database.TaxRate{UserID: 1, Name: "VAT", Percent: 20, IsDefault: true}).Error; err != nil {
		t.Fatalf("seed tax rate: %v", err)
	}

	w := doJSON(t, router, http.MethodPost, "/v1/invoices", gin.H{
		"customer_id": customer.ID,
		"items":       []gin.H{{"name": "Consulting", "quantity": 1, "unit_price": 100}},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp documentResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.TaxRate != 20 || resp.TaxAmount != 20 {
		t.Fatalf("tax rate/amount = %v/%v, want 20/20", resp.TaxRate, resp.TaxAmount)
	}
}

func TestCreateInvoiceDecrementsStockWithFloor(t *testing.T) {
	db := newTestDB(t)
	router := newTestRouter(t, db, 1)
	customer := seedCustomer(t, db, 1)

	product := database.Product{UserID: 1, Name: "Widget", SKU: "W-1", UnitPrice: 25, Stock: 3}
	if err := db.Create(&product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}

	w := doJSON(t, router, http.MethodPost, "/v1/invoices", gin.H{
		"customer_id": customer.ID,
		"tax_rate":    0,
		"items":       []gin.H{{"product_id": product.ID, "quantity": 5}},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var reloaded database.Product
	if err := db.First(&reloaded, product.ID).Error; err != nil {
		t.Fatalf("reload product: %v", err)
	}
	if reloaded.Stock != 0 {
		t.Fatalf("stock = %d, want floor 0", reloaded.Stock)
	}

	// 行项目从商品补全了名称与单价。
	var resp documentResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Name != "Widget" || resp.Items[0].UnitPrice != 25 {
		t.Fatalf("items = %+v", resp.Items)
	}
}

func TestCreateEstimateDoesNotTouchStock(t *testing.T) {
	db := newTestDB(t)
	router := newTestRouter(t, db, 1)
	customer := seedCustomer(t, db, 1)

	product := database.Product{UserID: 1, Name: "Widget", SKU: "W-1", UnitPrice: 25, Stock: 3}
	if err := db.Create(&product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}

	w := doJSON(t, router, http.MethodPost, "/v1/estimates", gin.H{
		"customer_id": customer.ID,
		"tax_rate":    0,
		"items":       []gin.H{{"product_id": product.ID, "quantity": 2}},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var reloaded database.Product
	if err := db.First(&reloaded, product.ID).Error; err != nil {
		t.Fatalf("reload product: %v", err)
	}
	if reloaded.Stock != 3 {
		t.Fatalf("stock = %d, want unchanged 3", reloaded.Stock)
	}
}

func TestConvertEstimateCreatesDraftInvoice(t *testing.T) {
	db := newTestDB(t)
	router := newTestRouter(t, db, 1)
	customer := seedCustomer(t, db, 1)

	w := doJSON(t, router, http.MethodPost, "/v1/estimates", gin.H{
		"customer_id": customer.ID,
		"tax_rate":    10,
		"items":       []gin.H{{"name": "Design", "quantity": 4, "unit_price": 75}},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create estimate status = %d, body = %s", w.Code, w.Body.String())
	}
	var estimate documentResponse
	if err := json.Unmarshal(w.Body.Bytes(), &estimate); err != nil {
		t.Fatalf("decode estimate: %v", err)
	}
	if !strings.HasPrefix(estimate.Number, "EST-") {
		t.Fatalf("estimate number = %q", estimate.Number)
	}

	w = doJSON(t, router, http.MethodPost, fmt.Sprintf("/v1/estimates/%d/convert", estimate.ID), nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("convert status = %d, body = %s", w.Code, w.Body.String())
	}
	var invoice documentResponse
	if err := json.Unmarshal(w.Body.Bytes(), &invoice); err != nil {
		t.Fatalf("decode invoice: %v", err)
	}
	if invoice.Kind != database.KindInvoice || invoice.Status != "draft" {
		t.Fatalf("converted kind/status = %s/%s", invoice.Kind, invoice.Status)
	}
	if !strings.HasPrefix(invoice.Number, "INV-") {
		t.Fatalf("invoice number = %q", invoice.Number)
	}
	if invoice.Subtotal != estimate.Subtotal || invoice.Total != estimate.Total {
		t.Fatalf("converted totals %v/%v != estimate %v/%v",
			invoice.Subtotal, invoice.Total, estimate.Subtotal, estimate.Total)
	}

	var reloaded database.Invoice
	if err := db.First(&reloaded, estimate.ID).Error; err != nil {
		t.Fatalf("reload estimate: %v", err)
	}
	if reloaded.Status != "accepted" {
		t.Fatalf("estimate status = %q, want accepted", reloaded.Status)
	}
}

func TestInvoiceRejectsEstimateStatus(t *testing.T) {
	db := newTestDB(t)
	router := newTestRouter(t, db, 1)
	customer := seedCustomer(t, db, 1)

	w := doJSON(t, router, http.MethodPost, "/v1/invoices", gin.H{
		"customer_id": customer.ID,
		"status":      "accepted",
		"items":       []gin.H{{"name": "Consulting", "quantity": 1, "unit_price": 100}},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestDocumentLookupScopedToKindAndUser(t *testing.T) {
	db := newTestDB(t)
	customer := seedCustomer(t, db, 1)

	router := newTestRouter(t, db, 1)
	w := doJSON(t, router, http.MethodPost, "/v1/invoices", gin.H{
		"customer_id": customer.ID,
		"tax_rate":    0,
		"items":       []gin.H{{"name": "Consulting", "quantity": 1, "unit_price": 100}},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var invoice documentResponse
	if err := json.Unmarshal(w.Body.Bytes(), &invoice); err != nil {
		t.Fatalf("decode invoice: %v", err)
	}

	// 换一种类型访问同一 ID 应 404。
	w = doJSON(t, router, http.MethodGet, fmt.Sprintf("/v1/estimates/%d", invoice.ID), nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("cross-kind status = %d, want 404", w.Code)
	}

	// 其他用户访问应 404。
	otherRouter := newTestRouter(t, db, 2)
	w = doJSON(t, otherRouter, http.MethodGet, fmt.Sprintf("/v1/invoices/%d", invoice.ID), nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("cross-user status = %d, want 404", w.Code)
	}
}

func TestDefaultTaxRateUniqueness(t *testing.T) {
	db := newTestDB(t)
	router := newTestRouter(t, db, 1)

	w := doJSON(t, router, http.MethodPost, "/v1/taxes", gin.H{"name": "VAT", "percent": 20, "is_default": true})
	if w.Code != http.StatusCreated {
		t.Fatalf("create first rate: %d, body = %s", w.Code, w.Body.String())
	}
	w = doJSON(t, router, http.MethodPost, "/v1/taxes", gin.H{"name": "Reduced", "percent": 7, "is_default": true})
	if w.Code != http.StatusCreated {
		t.Fatalf("create second rate: %d, body = %s", w.Code, w.Body.String())
	}

	var defaults int64
	if err := db.Model(&database.TaxRate{}).
		Where("user_id = ? AND is_default = ?", 1, true).
		Count(&defaults).Error; err != nil {
		t.Fatalf("count defaults: %v", err)
	}
	if defaults != 1 {
		t.Fatalf("default count = %d, want 1", defaults)
	}

	var current database.TaxRate
	if err := db.Where("user_id = ? AND is_default = ?", 1, true).First(&current).Error; err != nil {
		t.Fatalf("load default: %v", err)
	}
	if current.Name != "Reduced" {
		t.Fatalf("default = %q, want Reduced", current.Name)
	}
}

func TestAdjustStockFloorsAtZero(t *testing.T) {
	db := newTestDB(t)
	router := newTestRouter(t, db, 1)

	product := database.Product{UserID: 1, Name: "Widget", SKU: "W-1", Stock: 2}
	if err := db.Create(&product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}

	w := doJSON(t, router, http.MethodPost, fmt.Sprintf("/v1/inventory/%d/adjust", product.ID), gin.H{"delta": -5})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp productResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Stock != 0 {
		t.Fatalf("stock = %d, want 0", resp.Stock)
	}

	w = doJSON(t, router, http.MethodPost, fmt.Sprintf("/v1/inventory/%d/adjust", product.ID), gin.H{"delta": 7})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Stock != 7 {
		t.Fatalf("stock = %d, want 7", resp.Stock)
	}
}

// 删除单据后编号不得复用，否则两张不同的发票会共享同一个编号。
func TestDocumentNumbersNotReusedAfterDelete(t *testing.T) {
	db := newTestDB(t)
	router := newTestRouter(t, db, 1)
	customer := seedCustomer(t, db, 1)

	createOne := func() documentResponse {
		t.Helper()
		w := doJSON(t, router, http.MethodPost, "/v1/invoices", gin.H{
			"customer_id": customer.ID,
			"tax_rate":    10,
			"items":       []gin.H{{"name": "Consulting", "quantity": 1, "unit_price": 100}},
		})
		if w.Code != http.StatusCreated {
			t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
		}
		var resp documentResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		return resp
	}

	first := createOne()
	second := createOne()

	w := doJSON(t, router, http.MethodDelete, fmt.Sprintf("/v1/invoices/%d", first.ID), nil)
	if w.Code != http.StatusNoContent && w.Code != http.StatusOK {
		t.Fatalf("delete status = %d, body = %s", w.Code, w.Body.String())
	}

	third := createOne()
	if third.Number == first.Number || third.Number == second.Number {
		t.Fatalf("number %q reused (existing %q, %q)", third.Number, first.Number, second.Number)
	}
	if third.Number != "INV-0003" {
		t.Fatalf("number = %q, want INV-0003", third.Number)
	}
}

func TestSanitizeFilenamePart(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"INV-0042", "INV-0042"},
		{`INV-"0042"`, "INV-0042"},
		{"INV-0042\r\nSet-Cookie: x=1", "INV-0042Set-Cookie: x=1"},
		{`..\..\evil`, "....evil"},
		{"a/b", "ab"},
		{"\"\\/;", "document"},
		{"  INV-7  ", "INV-7"},
	}
	for _, tc := range cases {
		if got := sanitizeFilenamePart(tc.in); got != tc.want {
			t.Fatalf("sanitizeFilenamePart(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
