// Package model defines the core domain types shared across the fare engine.
// Fares and currency amounts are int64 base units (copper); fractional
// arithmetic happens in shopspring/decimal and is rounded before it lands here.
package model

import (
	"fmt"
	"time"
)

// Station is a named stop at a fixed world coordinate.
type Station struct {
	Name string `json:"name" db:"name"`
	X    int64  `json:"x" db:"x"`
	Y    int64  `json:"y" db:"y"`
	Z    int64  `json:"z" db:"z"`
}

// TicketStatus is the lifecycle stage of an issued ticket.
type TicketStatus int

const (
	StatusUnused TicketStatus = iota
	StatusInUse
	StatusCompleted
)

// String returns the wire name of the status.
func (s TicketStatus) String() string {
	switch s {
	case StatusUnused:
		return "UNUSED"
	case StatusInUse:
		return "IN_USE"
	case StatusCompleted:
		return "COMPLETED"
	}
	return fmt.Sprintf("TicketStatus(%d)", int(s))
}

// ParseTicketStatus is the inverse of String.
func ParseTicketStatus(s string) (TicketStatus, error) {
	switch s {
	case "UNUSED":
		return StatusUnused, nil
	case "IN_USE":
		return StatusInUse, nil
	case "COMPLETED":
		return StatusCompleted, nil
	}
	return 0, fmt.Errorf("model: unknown ticket status %q", s)
}

func (s TicketStatus) MarshalText() ([]byte, error) {
	switch s {
	case StatusUnused, StatusInUse, StatusCompleted:
		return []byte(s.String()), nil
	}
	return nil, fmt.Errorf("model: invalid ticket status %d", int(s))
}

func (s *TicketStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseTicketStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Ticket is the fare record minted by a successful purchase.
// BasePrice is fixed at issuance; only Status moves afterwards.
type Ticket struct {
	ID          string       `json:"id" db:"id"`
	RiderID     string       `json:"rider_id" db:"rider_id"`
	Start       string       `json:"start" db:"start_station"`
	Destination string       `json:"destination" db:"destination"`
	BasePrice   int64        `json:"base_price" db:"base_price"` // undiscounted fare
	PricePaid   int64        `json:"price_paid" db:"price_paid"` // after discount
	IssuedAt    time.Time    `json:"issued_at" db:"issued_at"`
	Status      TicketStatus `json:"status" db:"status"`
}

// FareRule fixes the price of travelling From → To. Rules are directional;
// a two-way fare is stored as two rules.
type FareRule struct {
	From  string `json:"from" db:"from_station"`
	To    string `json:"to" db:"to_station"`
	Price int64  `json:"price" db:"price"`
}

// Quote is a priced route between two stations.
type Quote struct {
	From      string   `json:"from"`
	To        string   `json:"to"`
	Distance  float64  `json:"distance"`
	BasePrice int64    `json:"base_price"`
	Price     int64    `json:"price"`
	Source    string   `json:"source"`             // distance, fare_table or route
	Route     []string `json:"route,omitempty"`    // stations visited when Source is route
	Discount  string   `json:"discount,omitempty"` // name of the applied discount
}
