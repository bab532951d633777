package handler

import (
	"encoding/json"
	"errors"
	"io"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/signal-tracker/internal/middleware"
	"github.com/signal-tracker/internal/repository"
	"github.com/signal-tracker/internal/service"
	"github.com/signal-tracker/pkg/response"
)

const msgStoreNotConfigured = "database not configured"

// TradeHandler handles virtual trade API requests. A nil tradeService
// means the backing store is not configured: every endpoint then answers
// 503 instead of crashing.
type TradeHandler struct {
	trades *service.TradeService
}

// NewTradeHandler creates a new TradeHandler
func NewTradeHandler(trades *service.TradeService) *TradeHandler {
	return &TradeHandler{trades: trades}
}

// Create ingests a trading signal as a new virtual trade
// POST /api/virtual-trades
func (h *TradeHandler) Create(c *gin.Context) {
	if h.trades == nil {
		response.ServiceUnavailable(c, msgStoreNotConfigured)
		return
	}

	var req service.CreateTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		// Malformed body is an unexpected caller fault, details stay server-side
		middleware.LogError("create trade: malformed body: %v", err)
		response.InternalError(c, "internal server error")
		return
	}

	trade, err := h.trades.Create(&req)
	if err != nil {
		h.handleTradeError(c, err)
		return
	}

	response.Success(c, trade)
}

// List retrieves virtual trades for dashboard display
// GET /api/virtual-trades?status=&symbol=&strategy=&limit=
func (h *TradeHandler) List(c *gin.Context) {
	if h.trades == nil {
		response.ServiceUnavailable(c, msgStoreNotConfigured)
		return
	}

	limit := 0
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			response.BadRequest(c, "invalid limit")
			return
		}
		limit = parsed
	}

	trades, err := h.trades.List(service.ListTradesRequest{
		Status:     c.Query("status"),
		Symbol:     c.Query("symbol"),
		StrategyID: c.Query("strategy"),
		Limit:      limit,
	})
	if err != nil {
		h.handleTradeError(c, err)
		return
	}

	response.SuccessList(c, trades, len(trades))
}

// Update applies a partial mutation to a virtual trade, driven by the
// external price-evaluation process
// PUT /api/virtual-trades
func (h *TradeHandler) Update(c *gin.Context) {
	if h.trades == nil {
		response.ServiceUnavailable(c, msgStoreNotConfigured)
		return
	}

	// Strict decoding: fields outside the mutation allow-list are rejected
	decoder := json.NewDecoder(c.Request.Body)
	decoder.DisallowUnknownFields()

	var req service.UpdateTradeRequest
	if err := decoder.Decode(&req); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) ||
			errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			middleware.LogError("update trade: malformed body: %v", err)
			response.InternalError(c, "internal server error")
			return
		}
		// Unknown fields land here: the mutation allow-list is strict
		response.BadRequest(c, err.Error())
		return
	}

	trade, err := h.trades.Update(&req)
	if err != nil {
		h.handleTradeError(c, err)
		return
	}

	response.Success(c, trade)
}

// handleTradeError maps service errors onto the error taxonomy
func (h *TradeHandler) handleTradeError(c *gin.Context, err error) {
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr):
		response.BadRequest(c, validationErr.Error())
	case errors.Is(err, repository.ErrTradeNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, repository.ErrVersionConflict):
		response.Conflict(c, err.Error())
	default:
		// Storage errors pass the driver message through
		response.InternalError(c, err.Error())
	}
}

// RegisterRoutes registers virtual trade routes
func (h *TradeHandler) RegisterRoutes(rg *gin.RouterGroup, writerAuth gin.HandlerFunc) {
	rg.POST("/virtual-trades", h.Create)
	rg.GET("/virtual-trades", h.List)
	rg.PUT("/virtual-trades", writerAuth, middleware.MutationLoggerMiddleware(), h.Update)
}
