package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Fetcher 元数据获取器接口
type Fetcher interface {
	// FetchOKX 获取 OKX 现货交易对元数据
	FetchOKX(ctx context.Context, url string) ([]OKXInstrument, error)
	// FetchBinance 获取 Binance 现货交易对元数据
	FetchBinance(ctx context.Context, url string) ([]BinanceSymbol, error)
}

// HTTPFetcher HTTP 元数据获取器
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher 创建 HTTP 元数据获取器
// 参数 timeoutMs: HTTP 请求超时时间（毫秒）
func NewHTTPFetcher(timeoutMs int) *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: time.Duration(timeoutMs) * time.Millisecond,
		},
	}
}

// FetchOKX 获取 OKX 现货交易对元数据
// 参数 ctx: 上下文，用于取消请求
// 参数 url: 元数据 API 地址
func (f *HTTPFetcher) FetchOKX(ctx context.Context, url string) ([]OKXInstrument, error) {
	body, err := f.doRequest(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("请求 OKX 元数据失败: %w", err)
	}

	var resp OKXResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("解析 OKX 元数据失败: %w", err)
	}
	if resp.Code != "0" {
		return nil, fmt.Errorf("OKX API 返回错误: code=%s, msg=%s", resp.Code, resp.Msg)
	}
	return resp.Data, nil
}

// FetchBinance 获取 Binance 现货交易对元数据
// 参数 ctx: 上下文，用于取消请求
// 参数 url: 元数据 API 地址
func (f *HTTPFetcher) FetchBinance(ctx context.Context, url string) ([]BinanceSymbol, error) {
	body, err := f.doRequest(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("请求 Binance 元数据失败: %w", err)
	}

	var resp BinanceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("解析 Binance 元数据失败: %w", err)
	}
	return resp.Symbols, nil
}

func (f *HTTPFetcher) doRequest(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("User-Agent", "synthetic-arbitrage-engine/1.0")
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP 状态码错误: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}
	return body, nil
}
