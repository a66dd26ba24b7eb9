package binance

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

// Client Binance 现货深度 WebSocket 客户端
// 连接地址: wss://stream.binance.com:9443/stream（组合流），订阅 depth5@100ms；
// 心跳为协议层 ping/pong，读超时触发重连。
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

	lastMsgTime atomic.Int64
	updateCount atomic.Int64
	closed      atomic.Bool

	backoff *backoff.Backoff

	parseErrSampleCount atomic.Uint64
	lastParseErrLogNs   atomic.Int64
}

// NewClient 创建 Binance 客户端
// 参数 cfg: WebSocket 配置
// 参数 maps: 需要订阅的 Binance 交易对映射
// 参数 logger: 日志记录器
func NewClient(cfg config.ExchangeWSConfig, maps []*metadata.SymbolMap, logger *zap.Logger) *Client {
	return &Client{
		cfg:     cfg,
		maps:    maps,
		logger:  logger.Named("binance"),
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
	go c.pingLoop(ctx)
	go c.metricsLoop(ctx)

	c.readLoop(ctx)
	return nil
}

func (c *Client) readTimeout() time.Duration {
	if c.cfg.ReadTimeoutMs > 0 {
		return time.Duration(c.cfg.ReadTimeoutMs) * time.Millisecond
	}
	return 30 * time.Second
}

// connect 建立连接并订阅
func (c *Client) connect(ctx context.Context) error {
	header := http.Header{}
	header.Set("User-Agent", "synthetic-arbitrage-engine/1.0")

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("连接 Binance WebSocket 失败: %w", err)
	}

	readTimeout := c.readTimeout()
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		c.lastMsgTime.Store(timeutil.NowNano())
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	params := make([]string, 0, len(c.maps))
	for _, m := range c.maps {
		params = append(params, StreamName(m.VenueSymbol))
	}
	data, err := json.Marshal(SubscribeRequest{Method: "SUBSCRIBE", Params: params, ID: 1})
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

	c.logger.Info("Binance WebSocket 已连接并订阅",
		zap.String("url", c.cfg.URL),
		zap.Strings("streams", params),
	)
	return nil
}

func (c *Client) readLoop(ctx context.Context) {
	readTimeout := c.readTimeout()
	for ctx.Err() == nil && !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			if err := c.connect(ctx); err != nil {
				c.logger.Warn("Binance 连接失败", zap.Error(err))
				c.wait(ctx)
			}
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() || ctx.Err() != nil {
				return
			}
			c.logger.Warn("读取 Binance 消息失败", zap.Error(err))
			c.incrementReconnectCount()
			c.closeConn()
			c.wait(ctx)
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		c.lastMsgTime.Store(timeutil.NowNano())

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

func (c *Client) wait(ctx context.Context) {
	delay := c.backoff.Next()
	c.logger.Info("Binance 准备重连", zap.Duration("delay", delay))
	_ = backoff.Wait(ctx, delay)
}

// pingLoop 定时发送协议层 ping
// 未配置间隔时取读超时的一半。
func (c *Client) pingLoop(ctx context.Context) {
	interval := time.Duration(c.cfg.PingIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = c.readTimeout() / 2
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
			c.connMu.Lock()
			if c.conn == nil {
				c.connMu.Unlock()
				continue
			}
			err := c.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
			c.connMu.Unlock()
			if err != nil {
				c.logger.Warn("发送 Binance ping 失败", zap.Error(err))
			}
		}
	}
}

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
		_ = c.conn.Close()
		c.conn = nil
	}
}

// Close 关闭客户端，可重复调用
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.closeConn()
	c.logger.Info("Binance 客户端已关闭")
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
	c.logger.Warn("解析 Binance 消息失败（采样）", zap.Error(err), zap.ByteString("data", sample))
}
