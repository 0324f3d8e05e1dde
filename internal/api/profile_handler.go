package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"billdesk/internal/database"
	"billdesk/internal/render"
	"billdesk/internal/storage"
)

// ProfileHandler 维护商户抬头信息（每个用户一条）。
// Logo 与签名以对象键存储，渲染时由 worker 解析为公开地址。
type ProfileHandler struct {
	db              *gorm.DB
	storage         *storage.Client
	defaultTemplate string
}

// NewProfileHandler 构造 ProfileHandler。
func NewProfileHandler(db *gorm.DB, storageClient *storage.Client, defaultTemplate string) *ProfileHandler {
	return &ProfileHandler{db: db, storage: storageClient, defaultTemplate: defaultTemplate}
}

type profileRequest struct {
	BusinessName string `json:"business_name" binding:"max=255"`
	Address      string `json:"address" binding:"max=512"`
	Website      string `json:"website" binding:"max=255"`
	Phone        string `json:"phone" binding:"max=64"`
	Email        string `json:"email" binding:"omitempty,email,max=255"`
	SignerName   string `json:"signer_name" binding:"max=255"`
	Policy       string `json:"policy"`
	LogoKey      string `json:"logo_key" binding:"max=512"`
	SignatureKey string `json:"signature_key" binding:"max=512"`
	TemplateKey  string `json:"template_key" binding:"max=32"`
}

type profileResponse struct {
	BusinessName string    `json:"business_name"`
	Address      string    `json:"address,omitempty"`
	Website      string    `json:"website,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	Email        string    `json:"email,omitempty"`
	SignerName   string    `json:"signer_name,omitempty"`
	Policy       string    `json:"policy,omitempty"`
	LogoKey      string    `json:"logo_key,omitempty"`
	LogoURL      string    `json:"logo_url,omitempty"`
	SignatureKey string    `json:"signature_key,omitempty"`
	SignatureURL string    `json:"signature_url,omitempty"`
	TemplateKey  string    `json:"template_key"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (h *ProfileHandler) newProfileResponse(m database.BusinessProfile) profileResponse {
	resp := profileResponse{
		BusinessName: m.BusinessName,
		Address:      m.Address,
		Website:      m.Website,
		Phone:        m.Phone,
		Email:        m.Email,
		SignerName:   m.SignerName,
		Policy:       m.Policy,
		LogoKey:      m.LogoKey,
		SignatureKey: m.SignatureKey,
		TemplateKey:  m.TemplateKey,
		UpdatedAt:    m.UpdatedAt,
	}
	if resp.TemplateKey == "" {
		resp.TemplateKey = h.defaultTemplate
	}
	if h.storage != nil {
		if m.LogoKey != "" {
			resp.LogoURL = h.storage.PublicAssetURL(m.LogoKey)
		}
		if m.SignatureKey != "" {
			resp.SignatureURL = h.storage.PublicAssetURL(m.SignatureKey)
		}
	}
	return resp
}

// GetProfile 返回商户抬头；尚未填写时返回空档案。
func (h *ProfileHandler) GetProfile(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var profile database.BusinessProfile
	err := h.db.WithContext(c.Request.Context()).
		Where("user_id = ?", userID).
		First(&profile).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		Internal(c, "failed to load profile")
		return
	}
	c.JSON(http.StatusOK, h.newProfileResponse(profile))
}

// UpdateProfile 全量更新商户抬头（不存在则创建）。
func (h *ProfileHandler) UpdateProfile(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	if req.LogoKey != "" && !isValidUserAssetObjectKey(userID, req.LogoKey) {
		BadRequest(c, "invalid logo key")
		return
	}
	if req.SignatureKey != "" && !isValidUserAssetObjectKey(userID, req.SignatureKey) {
		BadRequest(c, "invalid signature key")
		return
	}
	if req.TemplateKey != "" && !knownTemplateKey(req.TemplateKey) {
		BadRequest(c, "unknown template key")
		return
	}

	ctx := c.Request.Context()
	var profile database.BusinessProfile
	err := h.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		Internal(c, "failed to load profile")
		return
	}

	profile.UserID = userID
	profile.BusinessName = req.BusinessName
	profile.Address = req.Address
	profile.Website = req.Website
	profile.Phone = req.Phone
	profile.Email = req.Email
	profile.SignerName = req.SignerName
	profile.Policy = req.Policy
	profile.LogoKey = req.LogoKey
	profile.SignatureKey = req.SignatureKey
	profile.TemplateKey = req.TemplateKey

	if err := h.db.WithContext(ctx).Save(&profile).Error; err != nil {
		Internal(c, "failed to save profile")
		return
	}
	c.JSON(http.StatusOK, h.newProfileResponse(profile))
}

func knownTemplateKey(key string) bool {
	for _, k := range render.TemplateKeys() {
		if k == key {
			return true
		}
	}
	return false
}
