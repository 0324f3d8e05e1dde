package api

import (
	"testing"

	"gorm.io/gorm"

	"billdesk/internal/database"
)

// 新账号必须同时获得商户抬头与默认税率，第一张发票才能直接套用税率。
func TestProvisionUserDefaults(t *testing.T) {
	db := newTestDB(t)

	user := database.User{Username: "newbiz", PasswordHash: "x"}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		return provisionUserDefaults(tx, user.ID, "  Acme Services  ", 17)
	})
	if err != nil {
		t.Fatalf("provision defaults: %v", err)
	}

	var profile database.BusinessProfile
	if err := db.Where("user_id = ?", user.ID).First(&profile).Error; err != nil {
		t.Fatalf("expected a business profile: %v", err)
	}
	if profile.BusinessName != "Acme Services" {
		t.Fatalf("business name not trimmed: %q", profile.BusinessName)
	}

	var rate database.TaxRate
	if err := db.Where("user_id = ? AND is_default = ?", user.ID, true).First(&rate).Error; err != nil {
		t.Fatalf("expected a default tax rate: %v", err)
	}
	if rate.Percent != 17 || rate.Name != "Standard" {
		t.Fatalf("unexpected default rate: %+v", rate)
	}
}
