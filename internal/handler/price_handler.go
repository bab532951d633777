package handler

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/signal-tracker/internal/service"
	"github.com/signal-tracker/pkg/response"
)

// PriceHandler handles price display requests
type PriceHandler struct {
	priceService *service.PriceService
}

// NewPriceHandler creates a new PriceHandler
func NewPriceHandler(priceService *service.PriceService) *PriceHandler {
	return &PriceHandler{priceService: priceService}
}

// GetPrice returns the current price for a symbol
// GET /api/prices/:symbol
func (h *PriceHandler) GetPrice(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))

	price, err := h.priceService.GetPrice(symbol)
	if err != nil {
		response.NotFound(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"symbol": symbol,
		"price":  price,
	})
}

// GetPrices returns all currently cached prices
// GET /api/prices
func (h *PriceHandler) GetPrices(c *gin.Context) {
	prices := h.priceService.GetAllPrices()
	response.Success(c, prices)
}

// RegisterRoutes registers price routes
func (h *PriceHandler) RegisterRoutes(rg *gin.RouterGroup) {
	prices := rg.Group("/prices")
	{
		prices.GET("", h.GetPrices)
		prices.GET("/:symbol", h.GetPrice)
	}
}
