// Package csvsnap 把各交易所余额定期追加到 CSV 文件。
// 每个交易所一个文件 snapshot_<venue>_balance.csv，另有汇总行写入 snapshot_ALL_balance.csv；
// 文件首次创建时写表头。
package csvsnap

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// AllVenue 汇总行使用的交易所名
const AllVenue = "ALL"

// amountPlaces 余额输出的小数位数
const amountPlaces = 8

// Writer 余额快照写入器
type Writer struct {
	dir        string
	currencies []string

	mu sync.Mutex
}

// New 创建余额快照写入器
// 参数 dir: 输出目录
// 参数 currencies: 记录的币种（列顺序）
func New(dir string, currencies []string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("创建快照目录失败: %w", err)
	}
	ccys := make([]string, len(currencies))
	for i, c := range currencies {
		ccys[i] = strings.ToUpper(c)
	}
	return &Writer{dir: dir, currencies: ccys}, nil
}

// Path 指定交易所的快照文件路径
func (w *Writer) Path(venue string) string {
	return filepath.Join(w.dir, fmt.Sprintf("snapshot_%s_balance.csv", venue))
}

// Header 表头: localtime, timestamp, total_<ccy>...
func (w *Writer) Header() []string {
	header := []string{"localtime", "timestamp"}
	for _, c := range w.currencies {
		header = append(header, "total_"+strings.ToLower(c))
	}
	return header
}

// Record 写入一次快照：每个交易所一行，再写一行汇总
// 参数 balances: 交易所 -> 币种 -> 总余额
// 参数 at: 快照时间
func (w *Writer) Record(balances map[string]map[string]float64, at time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	venues := make([]string, 0, len(balances))
	for v := range balances {
		venues = append(venues, v)
	}
	sort.Strings(venues)

	totals := make([]decimal.Decimal, len(w.currencies))
	var errs []error
	for _, v := range venues {
		row := make([]decimal.Decimal, len(w.currencies))
		for i, c := range w.currencies {
			row[i] = decimal.NewFromFloat(balances[v][c])
			totals[i] = totals[i].Add(row[i])
		}
		if err := w.append(v, row, at); err != nil {
			errs = append(errs, err)
		}
	}
	if err := w.append(AllVenue, totals, at); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (w *Writer) append(venue string, amounts []decimal.Decimal, at time.Time) error {
	path := w.Path(venue)
	_, statErr := os.Stat(path)
	needHeader := errors.Is(statErr, os.ErrNotExist)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("打开快照文件 %s 失败: %w", path, err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if needHeader {
		if err := cw.Write(w.Header()); err != nil {
			return fmt.Errorf("写入表头失败: %w", err)
		}
	}

	record := []string{
		at.Local().Format("2006-01-02 15:04:05"),
		strconv.FormatInt(at.Unix(), 10),
	}
	for _, a := range amounts {
		record = append(record, a.StringFixed(amountPlaces))
	}
	if err := cw.Write(record); err != nil {
		return fmt.Errorf("写入快照行失败: %w", err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("写入快照文件 %s 失败: %w", path, err)
	}
	return nil
}
