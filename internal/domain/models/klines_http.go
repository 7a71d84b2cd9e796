package models

// Requests for kline HTTP and websocket endpoints.

type KlineRequest struct {
	Symbol   string `param:"symbol" json:"symbol" validate:"required,max=32"`
	Interval string `query:"interval" json:"interval" default:"1m" validate:"interval"`
	// Limit <= 0 falls back to the default page size.
	Limit int `query:"limit" json:"limit"`
}

type ArchiveRequest struct {
	Symbol   string `param:"symbol" json:"symbol" validate:"required,max=32"`
	Interval string `query:"interval" json:"interval" default:"1m" validate:"interval"`
	From     string `query:"from" json:"from"`
	To       string `query:"to" json:"to"`
	Limit    int    `query:"limit" json:"limit" default:"500" validate:"gte=1,lte=10000"`
}

type TradeStreamRequest struct {
	Symbol string `param:"symbol" json:"symbol" validate:"required,max=32"`
}

type BarStreamRequest struct {
	Symbol   string `param:"symbol" json:"symbol" validate:"required,max=32"`
	Interval string `query:"interval" json:"interval" default:"1m" validate:"interval"`
}
