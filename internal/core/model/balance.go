package model

// Balances 各交易所、各币种的可用余额
// 第一层 key: 交易所；第二层 key: 币种（大写）
// 每次评估前重新查询，不跨 tick 缓存。
type Balances map[string]map[string]float64

// Available 获取可用余额，不存在返回 0
func (b Balances) Available(venue, currency string) float64 {
	if b == nil {
		return 0
	}
	return b[venue][currency]
}

// Set 设置可用余额
func (b Balances) Set(venue, currency string, amount float64) {
	cur, ok := b[venue]
	if !ok {
		cur = make(map[string]float64)
		b[venue] = cur
	}
	cur[currency] = amount
}

// Total 汇总所有交易所同一币种的余额
func (b Balances) Total(currency string) float64 {
	var total float64
	for _, cur := range b {
		total += cur[currency]
	}
	return total
}
