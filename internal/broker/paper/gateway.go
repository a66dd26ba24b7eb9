// Package paper 实现影子成交的模拟交易网关。
// 订单按实时订单簿撮合（可成交部分立即吃单，其余挂单等待后续盘口），
// 余额使用十进制运算。重要：仅用于研究/验证，严禁真实下单。
package paper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"synthetic-arbitrage-engine/internal/broker"
	"synthetic-arbitrage-engine/internal/core/model"
)

var (
	// ErrInsufficientFunds 可用余额不足
	ErrInsufficientFunds = errors.New("paper: insufficient funds")
	// ErrOrderNotOpen 订单已成交或已撤销，无法撤单
	ErrOrderNotOpen = errors.New("paper: order not open")
)

// BookSource 订单簿来源（通常为 store.Store）
type BookSource interface {
	Get(instrument string) *model.BookEvent
}

type order struct {
	id         string
	instrument model.Instrument
	side       model.Side
	amount     decimal.Decimal
	price      decimal.Decimal
	filled     decimal.Decimal
	status     model.OrderStatus
	createdAt  time.Time

	// bookTs 最近一次撮合所用订单簿的 ArrivedAtUnixNs
	bookTs int64
	// used 该订单簿对手方一档已被本订单吃掉的数量
	used decimal.Decimal
}

func (o *order) remaining() decimal.Decimal {
	return o.amount.Sub(o.filled)
}

// Gateway 单个交易所的模拟网关
type Gateway struct {
	venue   string
	feeRate decimal.Decimal
	books   BookSource
	logger  *zap.Logger

	mu sync.Mutex
	// available 可用余额（挂单占用部分已扣除）
	available map[string]decimal.Decimal
	orders    map[string]*order
}

var _ broker.Gateway = (*Gateway)(nil)

// New 创建模拟网关
// 参数 venue: 模拟的交易所（交易对前缀）
// 参数 books: 撮合使用的实时订单簿
// 参数 feeRate: 成交手续费率，从买入所得币种或卖出所得计价币中扣除
// 参数 initial: 初始余额（币种 -> 数量）
func New(venue string, books BookSource, feeRate float64, initial map[string]float64, logger *zap.Logger) *Gateway {
	avail := make(map[string]decimal.Decimal, len(initial))
	for ccy, v := range initial {
		avail[ccy] = decimal.NewFromFloat(v)
	}
	return &Gateway{
		venue:     venue,
		feeRate:   decimal.NewFromFloat(feeRate),
		books:     books,
		logger:    logger.Named("paper").With(zap.String("venue", venue)),
		available: avail,
		orders:    make(map[string]*order),
	}
}

func (g *Gateway) Venue() string {
	return g.venue
}

func (g *Gateway) Balances(ctx context.Context) (map[string]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make(map[string]float64, len(g.available))
	for ccy, v := range g.available {
		out[ccy] = v.InexactFloat64()
	}
	return out, nil
}

func (g *Gateway) NewOrder(ctx context.Context, instrument string, side model.Side, amount, price float64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	inst, err := model.ParseInstrument(instrument)
	if err != nil {
		return "", err
	}
	if inst.Venue != g.venue {
		return "", fmt.Errorf("paper: 交易对 %s 不属于 %s", instrument, g.venue)
	}
	if !side.Valid() {
		return "", fmt.Errorf("paper: 无效方向 %q", side)
	}
	if amount <= 0 || price <= 0 {
		return "", fmt.Errorf("paper: 无效数量或价格 amount=%v price=%v", amount, price)
	}

	o := &order{
		id:         uuid.NewString(),
		instrument: inst,
		side:       side,
		amount:     decimal.NewFromFloat(amount),
		price:      decimal.NewFromFloat(price),
		status:     model.StatusOpen,
		createdAt:  time.Now(),
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	ccy, need := g.reservation(o, o.amount)
	if g.available[ccy].LessThan(need) {
		return "", fmt.Errorf("%w: %s need=%s have=%s", ErrInsufficientFunds, ccy, need, g.available[ccy])
	}
	g.available[ccy] = g.available[ccy].Sub(need)
	g.orders[o.id] = o

	g.match(o)
	g.logger.Debug("模拟下单",
		zap.String("order_id", o.id),
		zap.String("instrument", instrument),
		zap.String("side", string(side)),
		zap.Float64("amount", amount),
		zap.Float64("price", price),
		zap.String("status", string(o.status)),
	)
	return o.id, nil
}

func (g *Gateway) GetOrder(ctx context.Context, orderID string) (*model.OrderState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	o, ok := g.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", broker.ErrUnknownOrder, orderID)
	}
	if o.status == model.StatusOpen {
		g.match(o)
	}
	return &model.OrderState{
		ID:         o.id,
		Status:     o.status,
		Amount:     o.amount.InexactFloat64(),
		DealAmount: o.filled.InexactFloat64(),
	}, nil
}

func (g *Gateway) CancelOrder(ctx context.Context, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	o, ok := g.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %s", broker.ErrUnknownOrder, orderID)
	}
	if o.status != model.StatusOpen {
		return fmt.Errorf("%w: %s is %s", ErrOrderNotOpen, orderID, o.status)
	}

	ccy, locked := g.reservation(o, o.remaining())
	g.available[ccy] = g.available[ccy].Add(locked)
	o.status = model.StatusCanceled
	return nil
}

// reservation 挂单占用的币种与数量
// 买单占用计价币 qty×price，卖单占用基础币 qty。
func (g *Gateway) reservation(o *order, qty decimal.Decimal) (string, decimal.Decimal) {
	if o.side == model.SideBuy {
		return o.instrument.Quote, qty.Mul(o.price)
	}
	return o.instrument.Base, qty
}

// match 按当前盘口撮合挂单（调用方持有锁）
// 买单在卖一价不高于限价时成交，卖单在买一价不低于限价时成交，成交价取盘口价。
// 同一份订单簿的一档数量只能被吃一次，新的订单簿事件到达后才会继续成交。
func (g *Gateway) match(o *order) {
	book := g.books.Get(o.instrument.ID)
	if book == nil {
		return
	}

	var lvl model.Level
	if o.side == model.SideBuy {
		lvl = book.BestAsk()
		if lvl.Price <= 0 || decimal.NewFromFloat(lvl.Price).GreaterThan(o.price) {
			return
		}
	} else {
		lvl = book.BestBid()
		if lvl.Price <= 0 || decimal.NewFromFloat(lvl.Price).LessThan(o.price) {
			return
		}
	}

	if book.ArrivedAtUnixNs != o.bookTs {
		o.bookTs = book.ArrivedAtUnixNs
		o.used = decimal.Zero
	}
	depth := decimal.NewFromFloat(lvl.Qty).Sub(o.used)
	qty := decimal.Min(o.remaining(), depth)
	if !qty.IsPositive() {
		return
	}
	o.used = o.used.Add(qty)
	px := decimal.NewFromFloat(lvl.Price)
	keep := decimal.NewFromInt(1).Sub(g.feeRate)

	if o.side == model.SideBuy {
		// 按限价占用，按盘口价成交，差额退回
		refund := qty.Mul(o.price.Sub(px))
		g.available[o.instrument.Quote] = g.available[o.instrument.Quote].Add(refund)
		g.available[o.instrument.Base] = g.available[o.instrument.Base].Add(qty.Mul(keep))
	} else {
		g.available[o.instrument.Quote] = g.available[o.instrument.Quote].Add(qty.Mul(px).Mul(keep))
	}

	o.filled = o.filled.Add(qty)
	if o.remaining().IsZero() {
		o.status = model.StatusClosed
	}
}
