package models

import "errors"

var (
	// ErrInvalidPricingInput 定价输入非法 (spot/strike/T/sigma <= 0)
	ErrInvalidPricingInput = errors.New("invalid pricing input")
	// ErrInvariantViolation 核心不变量被破坏，相关指数将停止处理
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrInvalidTargets 目标距离表非法
	ErrInvalidTargets = errors.New("invalid target distances")
	// ErrUnknownInstrument 未配置的指数
	ErrUnknownInstrument = errors.New("unknown instrument")
)
