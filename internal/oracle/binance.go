package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"grid-trader-go/internal/logger"
	"grid-trader-go/internal/models"

	"github.com/adshao/go-binance/v2"
	"github.com/gorilla/websocket"
)

const restTimeout = 5 * time.Second

// BinanceOracle 通过币安行情接口取价：
// 内存缓存在TTL内直接命中；过期则走REST拉取并写穿缓存；
// REST失败时在允许的过期窗口内回退到最后一次成功的价格。
// 可选地为标的维持一条 aggTrade WebSocket 流，把实时价写入同一份缓存。
type BinanceOracle struct {
	client    *binance.Client
	cache     *PriceCache
	ttl       time.Duration
	staleness time.Duration
	wsBaseURL string
	streaming bool

	mu      sync.Mutex
	streams map[string]chan struct{} // symbol -> stop channel
}

// NewBinanceOracle 创建行情源实例
func NewBinanceOracle(cfg models.OracleConfig, cache *PriceCache) *BinanceOracle {
	client := binance.NewClient("", "") // 公共行情接口不需要API Key
	if cfg.RESTBaseURL != "" {
		client.BaseURL = cfg.RESTBaseURL
	}
	return &BinanceOracle{
		client:    client,
		cache:     cache,
		ttl:       time.Duration(cfg.CacheTTLSec) * time.Second,
		staleness: time.Duration(cfg.StalenessSec) * time.Second,
		wsBaseURL: cfg.WSBaseURL,
		streaming: cfg.EnableStreaming,
		streams:   make(map[string]chan struct{}),
	}
}

// GetPrice 实现 Oracle 接口
func (o *BinanceOracle) GetPrice(symbol string) (float64, error) {
	now := time.Now()

	if price, ts, ok := o.cache.Get(symbol); ok && now.Sub(ts) <= o.ttl {
		return price, nil
	}

	price, err := o.fetchPrice(symbol)
	if err == nil {
		if cerr := o.cache.Set(symbol, price, now); cerr != nil {
			logger.S().Warnf("写入 %s 价格缓存失败: %v", symbol, cerr)
		}
		return price, nil
	}

	// REST取价失败，在过期窗口内回退到最后一次成功的价格
	if price, ts, ok := o.cache.Get(symbol); ok && now.Sub(ts) <= o.staleness {
		logger.S().Warnf("获取 %s 实时价格失败 (%v)，回退到 %s 前的缓存价 %.4f",
			symbol, err, now.Sub(ts).Round(time.Second), price)
		return price, nil
	}

	return 0, fmt.Errorf("%w: %s: %v", ErrPriceUnavailable, symbol, err)
}

// fetchPrice 通过REST接口拉取最新成交价
func (o *BinanceOracle) fetchPrice(symbol string) (float64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), restTimeout)
	defer cancel()

	prices, err := o.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("接口未返回 %s 的价格", symbol)
	}

	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("无法解析 %s 的价格 %q: %v", symbol, prices[0].Price, err)
	}
	return price, nil
}

// Watch 为标的启动一条行情流（未开启streaming时为空操作）。
// 重复Watch同一标的是幂等的。
func (o *BinanceOracle) Watch(symbol string) {
	if !o.streaming {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.streams[symbol]; ok {
		return
	}
	stop := make(chan struct{})
	o.streams[symbol] = stop
	go o.streamLoop(symbol, stop)
}

// Unwatch 停止标的的行情流
func (o *BinanceOracle) Unwatch(symbol string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if stop, ok := o.streams[symbol]; ok {
		close(stop)
		delete(o.streams, symbol)
	}
}

// Close 停止所有行情流
func (o *BinanceOracle) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for symbol, stop := range o.streams {
		close(stop)
		delete(o.streams, symbol)
	}
}

// streamLoop 是一个守护循环，负责维持WebSocket连接和断线重连
func (o *BinanceOracle) streamLoop(symbol string, stop chan struct{}) {
	wsURL := fmt.Sprintf("%s/ws/%s@aggTrade", o.wsBaseURL, strings.ToLower(symbol))
	for {
		select {
		case <-stop:
			return
		default:
			conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
			if err != nil {
				logger.S().Warnf("%s 行情流连接失败: %v。5秒后重试...", symbol, err)
			} else {
				logger.S().Infof("%s 行情流已连接", symbol)
				if err := o.readStream(conn, symbol, stop); err != nil {
					logger.S().Warnf("%s 行情流中断: %v", symbol, err)
				}
				conn.Close()
				select {
				case <-stop:
					return
				default:
				}
			}
			select {
			case <-stop:
				return
			case <-time.After(5 * time.Second):
			}
		}
	}
}

// readStream 处理一条已建立连接上的消息，并维持心跳
func (o *BinanceOracle) readStream(conn *websocket.Conn, symbol string, stop chan struct{}) error {
	const (
		pongWait   = 60 * time.Second
		pingPeriod = (pongWait * 9) / 10
	)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()

	pingStop := make(chan struct{})
	defer close(pingStop)

	go func() {
		for {
			select {
			case <-pingTicker.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingStop:
				return
			case <-stop:
				return
			}
		}
	}()

	for {
		select {
		case <-stop:
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		default:
			_, message, err := conn.ReadMessage()
			if err != nil {
				return fmt.Errorf("读取消息失败: %w", err)
			}

			var tick struct {
				Price json.Number `json:"p"`
			}
			if err := json.Unmarshal(message, &tick); err != nil {
				logger.S().Debugf("解析 %s 行情消息失败: %v", symbol, err)
				continue
			}
			price, err := tick.Price.Float64()
			if err != nil || price <= 0 {
				continue
			}
			if err := o.cache.Set(symbol, price, time.Now()); err != nil {
				logger.S().Warnf("写入 %s 价格缓存失败: %v", symbol, err)
			}
		}
	}
}
