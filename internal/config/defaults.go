package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultPort            = 8080
	DefaultRatePerUnit     = "1"
	DefaultExchangeRate    = 10
	DefaultRefundWithin30m = "1.0"
	DefaultRefundWithin1h  = "0.75"
	DefaultRefundWithin2h  = "0.5"
	DefaultRefundWithin6h  = "0.25"
	DefaultRefundWithin24h = "0.1"
	DefaultStationsFile    = "data/stations.json"
	DefaultFaresFile       = "data/fares.json"
	DefaultDiscountFile    = "data/discount.json"
	DefaultCacheTTL        = 30 * time.Second
	DefaultPurchaseRPS     = 20.0
	DefaultPurchaseBurst   = 40
	DefaultDiscountFactor  = "1"
)

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}

	if c.Fare.RatePerUnit == "" {
		c.Fare.RatePerUnit = DefaultRatePerUnit
	}
	if c.Fare.Discount.Name != "" && c.Fare.Discount.Factor == "" {
		c.Fare.Discount.Factor = DefaultDiscountFactor
	}

	rates := []*int64{
		&c.Currency.CopperToIron,
		&c.Currency.IronToGold,
		&c.Currency.GoldToEmerald,
		&c.Currency.EmeraldToDiamond,
		&c.Currency.DiamondToNetherite,
	}
	for _, r := range rates {
		if *r == 0 {
			*r = DefaultExchangeRate
		}
	}

	refunds := []struct {
		field *string
		def   string
	}{
		{&c.Refund.Within30m, DefaultRefundWithin30m},
		{&c.Refund.Within1h, DefaultRefundWithin1h},
		{&c.Refund.Within2h, DefaultRefundWithin2h},
		{&c.Refund.Within6h, DefaultRefundWithin6h},
		{&c.Refund.Within24h, DefaultRefundWithin24h},
	}
	for _, r := range refunds {
		if *r.field == "" {
			*r.field = r.def
		}
	}

	if c.Storage.StationsFile == "" {
		c.Storage.StationsFile = DefaultStationsFile
	}
	if c.Storage.FaresFile == "" {
		c.Storage.FaresFile = DefaultFaresFile
	}
	if c.Storage.DiscountFile == "" {
		c.Storage.DiscountFile = DefaultDiscountFile
	}
	if c.Storage.CacheTTL == 0 {
		c.Storage.CacheTTL = DefaultCacheTTL
	}

	if c.Limits.PurchaseRPS == 0 {
		c.Limits.PurchaseRPS = DefaultPurchaseRPS
	}
	if c.Limits.PurchaseBurst == 0 {
		c.Limits.PurchaseBurst = DefaultPurchaseBurst
	}
}
