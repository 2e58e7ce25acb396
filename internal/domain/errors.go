package domain

import "errors"

var (
	ErrNotWhitelisted  = errors.New("participant not whitelisted")
	ErrZeroAmount      = errors.New("amount must be positive")
	ErrInvalidDuration = errors.New("duration out of range")
	ErrOrderNotFound   = errors.New("order not found")
	ErrNotMaker        = errors.New("caller is not the order maker")
	ErrOrderNotActive  = errors.New("order not active")
	ErrMarketMismatch  = errors.New("order belongs to a different market")
	ErrAmountOverflow  = errors.New("swap amount overflows settlement range")
	ErrNotAdmin        = errors.New("caller is not the admin")
	ErrNotPendingAdmin = errors.New("caller is not the pending admin")

	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrTransferRestricted  = errors.New("transfer restricted")

	ErrNoLiquidity            = errors.New("pool has no liquidity")
	ErrExactOutputThroughPool = errors.New("exact-output size exceeds pool liquidity")
)
