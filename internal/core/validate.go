package core

import (
	"errors"
	"strings"
)

var (
	ErrEmptyTitle        = errors.New("empty title")
	ErrBookingOrder      = errors.New("booking end before booking start")
	ErrAmountAndFraction = errors.New("transaction carries both an amount and a fraction")
	ErrNoAmountNoReason  = errors.New("transaction carries neither an amount nor a fraction")
	ErrFractionRange     = errors.New("fraction out of [-1, 1]")
	ErrWeightRange       = errors.New("category weight must be positive")
)

func (e Expense) Validate() error {
	if strings.TrimSpace(e.Title) == "" {
		return ErrEmptyTitle
	}
	if e.BookingEnd.Before(e.BookingStart) {
		return ErrBookingOrder
	}
	return nil
}

func (t ExpenseTransaction) Validate() error {
	if t.Amount != nil && t.Fraction != nil {
		return ErrAmountAndFraction
	}
	if t.Amount == nil && t.Fraction == nil {
		return ErrNoAmountNoReason
	}
	if t.Fraction != nil && !ValidFraction(*t.Fraction) {
		return ErrFractionRange
	}
	return nil
}

func (c ExpenseCategory) Validate() error {
	if c.Weight <= 0 {
		return ErrWeightRange
	}
	return nil
}
