package models

// CurrencyBalance - остаток бота по одной валюте
type CurrencyBalance struct {
	Currency string  `json:"currency"`
	Free     float64 `json:"free"`
	Used     float64 `json:"used"`
	Total    float64 `json:"total"`
}

// BotBalance - баланс аккаунта бота на бирже
type BotBalance struct {
	Currencies []CurrencyBalance `json:"currencies"`
	Total      float64           `json:"total"`           // в валюте ставки
	Stake      string            `json:"stake,omitempty"` // валюта ставки (USDT)
}

// BotProfit - сводка по закрытым сделкам бота
//
// OverallProfitAbs - в фиатной валюте, если бот ее считает, иначе в валюте ставки.
type BotProfit struct {
	TotalClosedTrades int     `json:"total_closed_trades"`
	OverallProfitAbs  float64 `json:"overall_profit_abs"`
	OverallProfitPct  float64 `json:"overall_profit_pct"`
	WinningTrades     int     `json:"winning_trades"`
	LosingTrades      int     `json:"losing_trades"`
	WinRatePct        float64 `json:"win_rate_pct"`
}

// BotLogs - последние строки журнала бота, от старых к новым
type BotLogs struct {
	Lines []string `json:"lines"`
}
