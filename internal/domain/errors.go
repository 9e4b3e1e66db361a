package domain

import "errors"

var (
	ErrSerializationFailure   = errors.New("serialization failure")
	ErrNotFound               = errors.New("not found")
	ErrInvalidInput           = errors.New("invalid input")
	ErrSoldOut                = errors.New("sold out")
	ErrQuantityOutOfRange     = errors.New("quantity out of range")
	ErrSaleWindowClosed       = errors.New("sale window closed")
	ErrAlreadyRegistered      = errors.New("already registered")
	ErrDuplicatePayment       = errors.New("registration already exists for payment")
	ErrPaymentNotPaid         = errors.New("payment not paid")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrInvalidStateTransition = errors.New("invalid state transition")
)
