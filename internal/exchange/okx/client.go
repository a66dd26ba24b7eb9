package okx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"synthetic-arbitrage-engine/internal/config"
	"synthetic-arbitrage-engine/internal/core/model"
	"synthetic-arbitrage-engine/internal/metadata"
	"synthetic-arbitrage-engine/internal/util/backoff"
	"synthetic-arbitrage-engine/internal/util/timeutil"
)

// Client OKX 现货深度 WebSocket 客户端
// 连接地址: wss://ws.okx.com:8443/ws/v5/public，订阅 books5；
// 心跳为文本 ping/pong，断线后指数退避重连并重新订阅。
type Client struct {
	cfg    config.ExchangeWSConfig
	maps   []*metadata.SymbolMap
	logger *zap.Logger
	parser *Parser

	conn   *websocket.Conn
	connMu sync.Mutex

	bookCh chan *model.BookEvent

	metrics   ConnectionMetrics
	metricsMu sync.RWMutex

	lastMsgTime    atomic.Int64
	lastPingSentNs atomic.Int64
	lastPongRecvNs atomic.Int64
	updateCount    atomic.Int64
	closed         atomic.Bool

	backoff *backoff.Backoff

	parseErrSampleCount atomic.Uint64
	lastParseErrLogNs   atomic.Int64
}

// NewClient 创建 OKX 客户端
// 参数 cfg: WebSocket 配置
// 参数 maps: 需要订阅的 OKX 交易对映射
// 参数 logger: 日志记录器
func NewClient(cfg config.ExchangeWSConfig, maps []*metadata.SymbolMap, logger *zap.Logger) *Client {
	return &Client{
		cfg:     cfg,
		maps:    maps,
		logger:  logger.Named("okx"),
		parser:  NewParser(maps),
		bookCh:  make(chan *model.BookEvent, 1000),
		backoff: backoff.NewDefault(),
	}
}

// Run 运行客户端，直到 ctx 取消或 Close 被调用
// 返回时关闭 BookCh。
func (c *Client) Run(ctx context.Context) error {
	defer close(c.bookCh)

	go func() {
		<-ctx.Done()
		c.Close()
	}()
	go c.heartbeatLoop(ctx)
	go c.metricsLoop(ctx)

	c.readLoop(ctx)
	return nil
}

// connect 建立连接并订阅
func (c *Client) connect(ctx context.Context) error {
	header := http.Header{}
	header.Set("Origin", "https://www.okx.com")
	header.Set("User-Agent", "synthetic-arbitrage-engine/1.0")

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("连接 OKX WebSocket 失败: %w", err)
	}

	args := make([]SubscribeArg, 0, len(c.maps))
	for _, m := range c.maps {
		args = append(args, SubscribeArg{Channel: "books5", InstId: m.VenueSymbol})
	}
	data, err := json.Marshal(SubscribeRequest{Op: "subscribe", Args: args})
	if err != nil {
		conn.Close()
		return fmt.Errorf("序列化订阅请求失败: %w", err)
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.closed.Load() {
		conn.Close()
		return fmt.Errorf("客户端已关闭")
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		conn.Close()
		return fmt.Errorf("发送订阅请求失败: %w", err)
	}
	c.conn = conn
	c.backoff.Reset()

	c.logger.Info("OKX WebSocket 已连接并订阅",
		zap.String("url", c.cfg.URL),
		zap.Int("instruments", len(args)),
	)
	return nil
}

func (c *Client) readLoop(ctx context.Context) {
	for ctx.Err() == nil && !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			if err := c.connect(ctx); err != nil {
				c.logger.Warn("OKX 连接失败", zap.Error(err))
				c.wait(ctx)
			}
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() || ctx.Err() != nil {
				return
			}
			c.logger.Warn("读取 OKX 消息失败", zap.Error(err))
			c.incrementReconnectCount()
			c.closeConn()
			c.wait(ctx)
			continue
		}

		nowNs := timeutil.NowNano()
		c.lastMsgTime.Store(nowNs)

		if IsPong(data) {
			c.lastPongRecvNs.Store(nowNs)
			if lastPing := c.lastPingSentNs.Load(); lastPing > 0 {
				c.metricsMu.Lock()
				c.metrics.WsRttMs = (nowNs - lastPing) / 1_000_000
				c.metricsMu.Unlock()
			}
			continue
		}

		if IsSubscribeResponse(data) {
			c.logger.Debug("收到订阅响应", zap.ByteString("data", data))
			continue
		}

		events, err := c.parser.Parse(data)
		if err != nil {
			c.incrementParseErrorCount()
			c.maybeLogParseError(err, data)
			continue
		}

		for _, event := range events {
			c.updateCount.Add(1)
			select {
			case c.bookCh <- event:
			default:
				c.metricsMu.Lock()
				c.metrics.DroppedCount++
				c.metricsMu.Unlock()
			}
		}
	}
}

// wait 按退避间隔等待
func (c *Client) wait(ctx context.Context) {
	delay := c.backoff.Next()
	c.logger.Info("OKX 准备重连", zap.Duration("delay", delay))
	_ = backoff.Wait(ctx, delay)
}

// heartbeatLoop 定时发送 ping，超时未收到 pong 时断开触发重连
func (c *Client) heartbeatLoop(ctx context.Context) {
	interval := time.Duration(c.cfg.PingIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 25 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.closed.Load() {
				return
			}

			// 上一个 ping 未按期返回
			lastPing := c.lastPingSentNs.Load()
			if lastPing > 0 && c.lastPongRecvNs.Load() < lastPing &&
				timeutil.NowNano()-lastPing > int64(c.cfg.PongTimeoutMs)*1_000_000 {
				c.logger.Warn("OKX 心跳超时，触发重连")
				c.closeConn()
				continue
			}

			c.connMu.Lock()
			if c.conn == nil {
				c.connMu.Unlock()
				continue
			}
			pingTime := timeutil.NowNano()
			err := c.conn.WriteMessage(websocket.TextMessage, []byte("ping"))
			c.connMu.Unlock()
			if err != nil {
				c.logger.Warn("发送 OKX ping 失败", zap.Error(err))
				continue
			}
			c.lastPingSentNs.Store(pingTime)
		}
	}
}

// metricsLoop 每秒刷新 QPS 与消息延迟
func (c *Client) metricsLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var lastCount int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count := c.updateCount.Load()
			qps := float64(count - lastCount)
			lastCount = count

			var ageMs int64
			if lastMsg := c.lastMsgTime.Load(); lastMsg > 0 {
				ageMs = (timeutil.NowNano() - lastMsg) / 1_000_000
			}

			c.metricsMu.Lock()
			c.metrics.UpdatesPerSec = qps
			c.metrics.LastMessageAgeMs = ageMs
			c.metricsMu.Unlock()
		}
	}
}

func (c *Client) closeConn() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Close 关闭客户端，可重复调用
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.closeConn()
	c.logger.Info("OKX 客户端已关闭")
	return nil
}

// BookCh 深度事件通道，Run 返回后关闭
func (c *Client) BookCh() <-chan *model.BookEvent {
	return c.bookCh
}

// Metrics 连接指标快照
func (c *Client) Metrics() ConnectionMetrics {
	c.metricsMu.RLock()
	defer c.metricsMu.RUnlock()
	return c.metrics
}

func (c *Client) incrementReconnectCount() {
	c.metricsMu.Lock()
	c.metrics.ReconnectCount++
	c.metricsMu.Unlock()
}

func (c *Client) incrementParseErrorCount() {
	c.metricsMu.Lock()
	c.metrics.ParseErrorCount++
	c.metricsMu.Unlock()
}

// maybeLogParseError 采样记录解析错误原始消息
// 每 100 次错误记录 1 条，且至少间隔 1 分钟。
func (c *Client) maybeLogParseError(err error, data []byte) {
	if c.parseErrSampleCount.Add(1)%100 != 1 {
		return
	}
	nowNs := timeutil.NowNano()
	if last := c.lastParseErrLogNs.Load(); last > 0 && nowNs-last < int64(time.Minute) {
		return
	}
	c.lastParseErrLogNs.Store(nowNs)

	sample := data
	if len(sample) > 200 {
		sample = sample[:200]
	}
	c.logger.Warn("解析 OKX 消息失败（采样）", zap.Error(err), zap.ByteString("data", sample))
}
