package stream

import (
	"github.com/gin-gonic/gin"

	"github.com/ksred/klear-gateway/pkg/response"
)

// GinHandlers contains HTTP handlers for streaming subscriptions
type GinHandlers struct {
	manager *Manager
}

// NewGinHandlers creates the subscription HTTP handlers
func NewGinHandlers(manager *Manager) *GinHandlers {
	return &GinHandlers{manager: manager}
}

type subscribeRequest struct {
	ProductID  string   `json:"product_id"`
	ProductIDs []string `json:"product_ids"`
	Channel    string   `json:"channel"`
}

// SubscribeHandler handles POST /subscribe_websocket. It responds as soon
// as the subscribe frame is sent; messages keep arriving in the background.
func (h *GinHandlers) SubscribeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req subscribeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request body: "+err.Error())
			return
		}

		products := req.ProductIDs
		if req.ProductID != "" {
			products = append([]string{req.ProductID}, products...)
		}

		sub, err := h.manager.Subscribe(c.Request.Context(), Request{ProductIDs: products, Channel: req.Channel}, nil)
		if err != nil {
			response.Error(c, err)
			return
		}

		response.Success(c, gin.H{
			"status":          "Subscription successful",
			"subscription_id": sub.ID(),
			"channel":         sub.Channel(),
			"product_ids":     sub.Products(),
			"holders":         sub.Holders(),
		})
	}
}

// ListSubscriptionsHandler handles GET /subscriptions
func (h *GinHandlers) ListSubscriptionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		subs := h.manager.List()
		infos := make([]Info, 0, len(subs))
		for _, sub := range subs {
			infos = append(infos, sub.Info(false))
		}
		response.Success(c, infos)
	}
}

// GetSubscriptionHandler handles GET /subscriptions/:id, including the most
// recent messages
func (h *GinHandlers) GetSubscriptionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sub, ok := h.manager.Get(c.Param("id"))
		if !ok {
			response.NotFound(c, "Subscription not found")
			return
		}
		response.Success(c, sub.Info(true))
	}
}

// CloseSubscriptionHandler handles DELETE /subscriptions/:id. The stream stays
// up while other holders remain.
func (h *GinHandlers) CloseSubscriptionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := h.manager.Close(id); err != nil {
			response.Error(c, err)
			return
		}
		status := "Subscription closed"
		if sub, ok := h.manager.Get(id); ok && sub.State() == StateOpen {
			status = "Subscription released"
		}
		response.Success(c, gin.H{"status": status, "subscription_id": id})
	}
}
