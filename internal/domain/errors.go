package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrNoMarket     = errors.New("no market")
	ErrTransport    = errors.New("transport failure")
	ErrProtocol     = errors.New("malformed message")
	ErrSequenceGap  = errors.New("sequence gap")
	ErrRiskRejected = errors.New("risk rejected")
	ErrPersistence  = errors.New("persistence failure")
	ErrFeedHalted   = errors.New("feed halted")
)
