package domain

import (
	"errors"
	"regexp"
	"time"
)

var ErrInvalidPhone = errors.New("invalid phone number")

// Accepts +7/8 numbers with optional separators, e.g. +7(999)123-45-67.
var phonePattern = regexp.MustCompile(`^\+?[78][-(]?\d{3}\)?-?\d{3}-?\d{2}-?\d{2}$`)

// Delivery is the contact snapshot an order references: where to ship and
// whom to call. It is written once together with the order.
type Delivery struct {
	ID        string
	Address   string
	Phone     string
	Type      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func ValidatePhone(phone string) error {
	if !phonePattern.MatchString(phone) {
		return ErrInvalidPhone
	}
	return nil
}
