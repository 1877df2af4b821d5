package config

import (
	"errors"
	"fmt"

	"github.com/atmx/transit-fare/internal/currency"
)

// Validate checks that all values are usable.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	rate, err := c.Fare.Rate()
	if err != nil {
		return err
	}
	if rate.IsNegative() {
		return fmt.Errorf("fare.rate_per_unit must be >= 0, got %s", rate)
	}
	if _, err := c.Fare.StartupDiscount(); err != nil {
		return err
	}

	for i, r := range c.Currency.Rates() {
		if r < currency.MinRate || r > currency.MaxRate {
			return fmt.Errorf("currency: %s rate must be between %d and %d, got %d",
				currency.Tier(i+1), currency.MinRate, currency.MaxRate, r)
		}
	}

	if _, err := c.Refund.Schedule(); err != nil {
		return err
	}

	if c.Storage.DatabaseURL == "" && c.Storage.StationsFile == "" {
		return errors.New("storage.stations_file is required without storage.database_url")
	}
	if c.Storage.RedisURL != "" && c.Storage.DatabaseURL == "" {
		return errors.New("storage.redis_url requires storage.database_url")
	}
	if c.Storage.CacheTTL < 0 {
		return fmt.Errorf("storage.cache_ttl must be >= 0, got %s", c.Storage.CacheTTL)
	}

	if c.Limits.PurchaseRPS < 0 {
		return fmt.Errorf("limits.purchase_rps must be >= 0, got %g", c.Limits.PurchaseRPS)
	}
	if c.Limits.PurchaseBurst < 1 {
		return fmt.Errorf("limits.purchase_burst must be >= 1, got %d", c.Limits.PurchaseBurst)
	}

	return nil
}
