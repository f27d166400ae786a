package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/yashrajoria/fotofacil-backend/common/auth"
	"github.com/yashrajoria/fotofacil-backend/common/middleware"
	"github.com/yashrajoria/fotofacil-backend/controllers"
)

// Controllers groups every handler the router mounts.
type Controllers struct {
	Upload   *controllers.UploadController
	Order    *controllers.OrderController
	Lookup   *controllers.LookupController
	Delivery *controllers.DeliveryController
	Webhook  *controllers.WebhookController
	Settings *controllers.SettingsController
}

// RegisterRoutes mounts the public storefront, the gateway webhook and the
// admin API. publicLimit throttles lookup and delivery per client IP.
func RegisterRoutes(r *gin.Engine, c Controllers, tokens *auth.TokenParser, publicLimit gin.HandlerFunc) {
	r.GET("/settings", c.Settings.GetSettings)

	store := r.Group("/fotofacil")
	{
		store.POST("/orders", c.Order.CreateOrder)
		store.GET("/orders/:id/payment", c.Order.PaymentStatus)
		store.POST("/lookup", publicLimit, c.Lookup.Lookup)
		store.GET("/entrega/:order_id/:token", publicLimit, c.Delivery.Deliver)
	}

	r.POST("/webhooks/mercadopago", c.Webhook.MercadoPago)

	admin := r.Group("/admin")
	admin.Use(middleware.AuthMiddleware(tokens), middleware.AdminOnly())
	{
		admin.POST("/uploads", c.Upload.Upload)
		admin.POST("/uploads/batch", c.Upload.UploadBatch)
		admin.DELETE("/photos/:id", c.Upload.DeletePhoto)
		admin.POST("/storage/sign", c.Upload.SignURL)
		admin.PUT("/watermark", c.Upload.ReplaceWatermark)
		admin.GET("/watermark", c.Upload.GetWatermark)
	}
}
