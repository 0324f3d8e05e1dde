package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"billdesk/internal/api/middleware"
	"billdesk/internal/auth"
	"billdesk/internal/config"
	"billdesk/internal/database"
	"billdesk/internal/storage"
)

// RegisterRoutes 注册 API 路由，不包含 /api 前缀。
func RegisterRoutes(
	router *gin.Engine,
	cfg *config.Config,
	db *gorm.DB,
	asynqClient *asynq.Client,
	authService *auth.AuthService,
	redisClient *redis.Client,
	logger *slog.Logger,
	storageClient *storage.Client,
) {
	authHandler := NewAuthHandler(
		db, authService, redisClient, logger,
		cfg.Auth.LoginRateLimitPerHour,
		cfg.Auth.LoginLockThreshold,
		time.Duration(cfg.Auth.LoginLockTTLMin)*time.Minute,
		cfg.Auth.CookieDomain,
		cfg.Tax.DefaultRate,
	)
	documentHandler := NewDocumentHandler(db, asynqClient, storageClient, logger, cfg.Tax.DefaultRate)
	customerHandler := NewCustomerHandler(db)
	expenseHandler := NewExpenseHandler(db)
	inventoryHandler := NewInventoryHandler(db)
	taxHandler := NewTaxHandler(db)
	profileHandler := NewProfileHandler(db, storageClient, cfg.Render.DefaultTemplate)
	assetHandler := NewAssetHandler(storageClient, logger, cfg.Clamd.Addr)
	wsHandler := NewWsHandler(redisClient, authService, logger, cfg.API.AllowedOrigins)
	authMiddleware := middleware.AuthMiddleware(authService)

	v1 := router.Group("/v1")
	{
		v1.GET("/ws", wsHandler.HandleConnection)

		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/refresh", authHandler.Refresh)
			authGroup.POST("/logout", authMiddleware, authHandler.Logout)
			authGroup.POST("/change-password", authMiddleware, authHandler.ChangePassword)
		}

		customerGroup := v1.Group("/customers")
		customerGroup.Use(authMiddleware)
		{
			customerGroup.GET("", customerHandler.ListCustomers)
			customerGroup.POST("", customerHandler.CreateCustomer)
			customerGroup.GET("/:id", customerHandler.GetCustomer)
			customerGroup.PUT("/:id", customerHandler.UpdateCustomer)
			customerGroup.DELETE("/:id", customerHandler.DeleteCustomer)
		}

		registerDocumentRoutes(v1.Group("/invoices", authMiddleware), documentHandler, database.KindInvoice)
		estimateGroup := v1.Group("/estimates", authMiddleware)
		registerDocumentRoutes(estimateGroup, documentHandler, database.KindEstimate)
		estimateGroup.POST("/:id/convert", documentHandler.ConvertEstimate)

		expenseGroup := v1.Group("/expenses")
		expenseGroup.Use(authMiddleware)
		{
			expenseGroup.GET("", expenseHandler.ListExpenses)
			expenseGroup.POST("", expenseHandler.CreateExpense)
			expenseGroup.GET("/:id", expenseHandler.GetExpense)
			expenseGroup.PUT("/:id", expenseHandler.UpdateExpense)
			expenseGroup.DELETE("/:id", expenseHandler.DeleteExpense)
		}

		inventoryGroup := v1.Group("/inventory")
		inventoryGroup.Use(authMiddleware)
		{
			inventoryGroup.GET("", inventoryHandler.ListProducts)
			inventoryGroup.POST("", inventoryHandler.CreateProduct)
			inventoryGroup.GET("/:id", inventoryHandler.GetProduct)
			inventoryGroup.PUT("/:id", inventoryHandler.UpdateProduct)
			inventoryGroup.DELETE("/:id", inventoryHandler.DeleteProduct)
			inventoryGroup.POST("/:id/adjust", inventoryHandler.AdjustStock)
		}

		taxGroup := v1.Group("/taxes")
		taxGroup.Use(authMiddleware)
		{
			taxGroup.GET("", taxHandler.ListTaxRates)
			taxGroup.POST("", taxHandler.CreateTaxRate)
			taxGroup.PUT("/:id", taxHandler.UpdateTaxRate)
			taxGroup.DELETE("/:id", taxHandler.DeleteTaxRate)
		}

		profileGroup := v1.Group("/profile")
		profileGroup.Use(authMiddleware)
		{
			profileGroup.GET("", profileHandler.GetProfile)
			profileGroup.PUT("", profileHandler.UpdateProfile)
		}

		assetGroup := v1.Group("/assets")
		assetGroup.Use(authMiddleware)
		{
			assetGroup.POST("/upload", assetHandler.UploadAsset)
			assetGroup.GET("", assetHandler.ListAssets)
			assetGroup.GET("/view", assetHandler.GetAssetURL)
			assetGroup.DELETE("", assetHandler.DeleteAsset)
		}
	}
}

// registerDocumentRoutes 为发票与报价单注册同构的路由组。
func registerDocumentRoutes(group *gin.RouterGroup, h *DocumentHandler, kind string) {
	group.GET("", h.List(kind))
	group.POST("", h.Create(kind))
	group.GET("/:id", h.Get(kind))
	group.PUT("/:id", h.Update(kind))
	group.DELETE("/:id", h.Delete(kind))
	group.POST("/:id/render", h.Render(kind))
	group.GET("/:id/download", h.Download(kind))
	group.GET("/:id/download-link", h.DownloadLink(kind))
}
