package api

import (
	"errors"
	"net/http"
	"strconv"

	"grid-trader-go/internal/engine"
	"grid-trader-go/internal/models"
	"grid-trader-go/internal/oracle"
	"grid-trader-go/internal/storage"

	"github.com/gin-gonic/gin"
)

// createStrategyRequest is the payload for POST /api/grid/strategies
type createStrategyRequest struct {
	Symbol        string   `json:"symbol" binding:"required"`
	Name          string   `json:"name"`
	GridType      string   `json:"grid_type"`
	LowerPrice    float64  `json:"lower_price" binding:"required,gt=0"`
	UpperPrice    float64  `json:"upper_price" binding:"required,gt=0"`
	GridCount     int      `json:"grid_count" binding:"required,min=1"`
	Capital       float64  `json:"capital" binding:"required,gt=0"`
	OrderSizeType string   `json:"order_size_type"`
	OrderSize     float64  `json:"order_size" binding:"required,gt=0"`
	TakeProfit    *float64 `json:"take_profit"`
	StopLoss      *float64 `json:"stop_loss"`
	PaperTrading  *bool    `json:"paper_trading"`
}

type stopStrategyRequest struct {
	ClosePositions bool `json:"close_positions"`
}

func (s *Server) handleCreateStrategy(c *gin.Context) {
	var req createStrategyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.LowerPrice >= req.UpperPrice {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lower_price must be below upper_price"})
		return
	}

	gridType := models.GridType(req.GridType)
	if gridType != models.GridArithmetic && gridType != models.GridGeometric {
		gridType = models.GridArithmetic
	}
	paper := true
	if req.PaperTrading != nil {
		paper = *req.PaperTrading
	}

	strat := &models.Strategy{
		Symbol:        req.Symbol,
		Name:          req.Name,
		GridType:      gridType,
		LowerPrice:    req.LowerPrice,
		UpperPrice:    req.UpperPrice,
		GridCount:     req.GridCount,
		Capital:       req.Capital,
		OrderSizeType: models.OrderSizeFixed,
		OrderSize:     req.OrderSize,
		TakeProfit:    req.TakeProfit,
		StopLoss:      req.StopLoss,
		PaperTrading:  paper,
	}

	id, err := s.store.CreateStrategy(strat)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

func (s *Server) handleListStrategies(c *gin.Context) {
	status := models.StrategyStatus(c.Query("status"))
	strategies, err := s.store.ListStrategies(status)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if strategies == nil {
		strategies = []models.Strategy{}
	}
	c.JSON(http.StatusOK, gin.H{"strategies": strategies})
}

func (s *Server) handleGetStrategyState(c *gin.Context) {
	id, ok := s.strategyID(c)
	if !ok {
		return
	}
	state, err := s.engine.GetStrategyState(id)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleStartStrategy(c *gin.Context) {
	id, ok := s.strategyID(c)
	if !ok {
		return
	}
	if err := s.engine.InitializeStrategy(id); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handlePauseStrategy(c *gin.Context) {
	id, ok := s.strategyID(c)
	if !ok {
		return
	}
	if err := s.engine.PauseStrategy(id); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleResumeStrategy(c *gin.Context) {
	id, ok := s.strategyID(c)
	if !ok {
		return
	}
	if err := s.engine.ResumeStrategy(id); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleStopStrategy(c *gin.Context) {
	id, ok := s.strategyID(c)
	if !ok {
		return
	}
	var req stopStrategyRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if err := s.engine.StopStrategy(id, req.ClosePositions); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleGetStrategyStats(c *gin.Context) {
	id, ok := s.strategyID(c)
	if !ok {
		return
	}
	stats, err := s.store.GetStrategyStats(id)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleGetStrategyTrades(c *gin.Context) {
	id, ok := s.strategyID(c)
	if !ok {
		return
	}
	trades, err := s.store.GetStrategyTrades(id)
	if err != nil {
		s.renderError(c, err)
		return
	}
	if trades == nil {
		trades = []models.Trade{}
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

// strategyID parses the :id path parameter.
func (s *Server) strategyID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid strategy id"})
		return 0, false
	}
	return id, true
}

// renderError maps engine/store errors onto HTTP status codes.
func (s *Server) renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "strategy not found"})
	case errors.Is(err, engine.ErrInvalidTransition),
		errors.Is(err, engine.ErrPriceOutOfRange):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "success": false})
	case errors.Is(err, oracle.ErrPriceUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "success": false})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
