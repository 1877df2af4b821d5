// Package config loads the fare engine configuration: a YAML file with
// ${VAR} expansion, then environment overrides, then defaults, then
// validation. Everything here is read once at startup.
package config

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/transit-fare/internal/currency"
	"github.com/atmx/transit-fare/internal/fare"
	"github.com/atmx/transit-fare/internal/ticket"
)

// Config is the top-level configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Fare     FareConfig     `yaml:"fare"`
	Currency CurrencyConfig `yaml:"currency"`
	Refund   RefundConfig   `yaml:"refund"`
	Storage  StorageConfig  `yaml:"storage"`
	Limits   LimitsConfig   `yaml:"limits"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port int `yaml:"port" env:"PORT"`
}

// FareConfig holds pricing settings. Decimal values are strings so that
// "0.5" survives YAML without float rounding.
type FareConfig struct {
	RatePerUnit string         `yaml:"rate_per_unit" env:"FARE_RATE_PER_UNIT"`
	Discount    DiscountConfig `yaml:"discount"`
}

// DiscountConfig is the discount active at startup.
type DiscountConfig struct {
	Name     string    `yaml:"name"`
	Factor   string    `yaml:"factor"`
	Enabled  bool      `yaml:"enabled"`
	StartsAt time.Time `yaml:"starts_at"`
	EndsAt   time.Time `yaml:"ends_at"`
}

// CurrencyConfig holds the five adjacent exchange rates.
type CurrencyConfig struct {
	CopperToIron       int64 `yaml:"copper_to_iron"`
	IronToGold         int64 `yaml:"iron_to_gold"`
	GoldToEmerald      int64 `yaml:"gold_to_emerald"`
	EmeraldToDiamond   int64 `yaml:"emerald_to_diamond"`
	DiamondToNetherite int64 `yaml:"diamond_to_netherite"`
}

// RefundConfig holds the refund rate per age bracket of an unused ticket.
type RefundConfig struct {
	Within30m string `yaml:"within_30m"`
	Within1h  string `yaml:"within_1h"`
	Within2h  string `yaml:"within_2h"`
	Within6h  string `yaml:"within_6h"`
	Within24h string `yaml:"within_24h"`
}

// StorageConfig selects the persistence backends.
type StorageConfig struct {
	StationsFile      string        `yaml:"stations_file" env:"STATIONS_FILE"`
	WatchStationsFile bool          `yaml:"watch_stations_file" env:"WATCH_STATIONS_FILE"`
	FaresFile         string        `yaml:"fares_file" env:"FARES_FILE"`
	DiscountFile      string        `yaml:"discount_file" env:"DISCOUNT_FILE"`
	DatabaseURL       string        `yaml:"database_url" env:"DATABASE_URL"`
	RedisURL          string        `yaml:"redis_url" env:"REDIS_URL"`
	CacheTTL          time.Duration `yaml:"cache_ttl"`
}

// LimitsConfig throttles the purchase endpoint.
type LimitsConfig struct {
	PurchaseRPS   float64 `yaml:"purchase_rps"`
	PurchaseBurst int     `yaml:"purchase_burst"`
}

// Rates returns the exchange rates in ladder order.
func (c CurrencyConfig) Rates() [currency.NumTiers - 1]int64 {
	return [currency.NumTiers - 1]int64{
		c.CopperToIron, c.IronToGold, c.GoldToEmerald, c.EmeraldToDiamond, c.DiamondToNetherite,
	}
}

// Ladder builds the currency ladder.
func (c CurrencyConfig) Ladder() (*currency.Ladder, error) {
	return currency.NewLadder(c.Rates())
}

// Rate parses the per-unit fare rate.
func (c FareConfig) Rate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(c.RatePerUnit)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fare.rate_per_unit %q: %w", c.RatePerUnit, err)
	}
	return rate, nil
}

// StartupDiscount returns the configured discount, or nil when none is named.
func (c FareConfig) StartupDiscount() (*fare.Discount, error) {
	if c.Discount.Name == "" {
		return nil, nil
	}
	factor, err := decimal.NewFromString(c.Discount.Factor)
	if err != nil {
		return nil, fmt.Errorf("fare.discount.factor %q: %w", c.Discount.Factor, err)
	}
	d := &fare.Discount{
		Name:     c.Discount.Name,
		Factor:   factor,
		Enabled:  c.Discount.Enabled,
		StartsAt: c.Discount.StartsAt,
		EndsAt:   c.Discount.EndsAt,
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Schedule builds the refund schedule.
func (c RefundConfig) Schedule() (ticket.RefundSchedule, error) {
	brackets := []struct {
		key    string
		within time.Duration
		rate   string
	}{
		{"refund.within_30m", 30 * time.Minute, c.Within30m},
		{"refund.within_1h", time.Hour, c.Within1h},
		{"refund.within_2h", 2 * time.Hour, c.Within2h},
		{"refund.within_6h", 6 * time.Hour, c.Within6h},
		{"refund.within_24h", 24 * time.Hour, c.Within24h},
	}

	schedule := make(ticket.RefundSchedule, 0, len(brackets))
	for _, b := range brackets {
		rate, err := decimal.NewFromString(b.rate)
		if err != nil {
			return nil, fmt.Errorf("%s %q: %w", b.key, b.rate, err)
		}
		schedule = append(schedule, ticket.RefundStep{Within: b.within, Rate: rate})
	}
	if err := schedule.Validate(); err != nil {
		return nil, err
	}
	return schedule, nil
}
