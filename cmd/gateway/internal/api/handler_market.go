package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type MarketDataResponse struct {
	Status    string   `json:"status"`
	Exchanges []string `json:"exchanges"`
	Symbols   []string `json:"symbols"`
	DataType  string   `json:"data_type"`
	Note      string   `json:"note"`
}

var marketDataInfo = MarketDataResponse{
	Status:    "success",
	Exchanges: []string{"binance", "coinbase", "kraken"},
	Symbols:   []string{"BTC/USDT", "ETH/USDT", "SOL/USDT", "ADA/USDT"},
	DataType:  "real-time streaming",
	Note:      "Simulated data for development. Real exchange connection available in production.",
}

func marketData(c *gin.Context) {
	c.JSON(http.StatusOK, marketDataInfo)
}
