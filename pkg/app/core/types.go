package core

import (
	"fmt"
	"strings"
)

// Side is the direction of an incoming request or a resting order.
// A Buy offers quote for base and rests as a bid.
// A Sell offers base for quote and rests as an ask.
type Side int8

const (
	Buy  Side = 1
	Sell Side = 2
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// Valid reports whether s is Buy or Sell.
func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

// Opposite returns the contra side (the side a taker of s matches against).
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// ParseSide accepts "buy"/"sell" (any case) and the numeric forms "1"/"2".
func ParseSide(v string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "buy", "1":
		return Buy, nil
	case "sell", "2":
		return Sell, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidSide, v)
}

func (s Side) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSide, s)
	}
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(b []byte) error {
	v, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
