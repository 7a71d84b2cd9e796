package models

import "errors"

var (
	ErrInvalidInterval = errors.New("invalid interval")
	ErrInvalidSymbol   = errors.New("invalid symbol")
	ErrInvalidTrade    = errors.New("invalid trade")
	ErrInvalidPrice    = errors.New("price must be a positive finite number")
	ErrInvalidQuantity = errors.New("quantity must be a positive finite number")
	ErrInvalidSide     = errors.New("side must be Buy or Sell")
	ErrInvalidRange    = errors.New("from must not be after to")
	ErrArchiveDisabled = errors.New("kline archive is not configured")
	ErrMirrorDisabled  = errors.New("kline cache is not configured")
)
