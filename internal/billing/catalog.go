// AngelaMos | 2026
// catalog.go

package billing

import (
	"fmt"
	"strings"

	"github.com/carterperez-dev/templates/seller-billing/internal/config"
	"github.com/carterperez-dev/templates/seller-billing/internal/processor"
	"github.com/carterperez-dev/templates/seller-billing/internal/profile"
)

type Cycle string

const (
	CycleMonthly Cycle = "monthly"
	CycleYearly  Cycle = "yearly"
)

func ParseCycle(s string) (Cycle, bool) {
	switch Cycle(strings.ToLower(strings.TrimSpace(s))) {
	case CycleMonthly:
		return CycleMonthly, true
	case CycleYearly:
		return CycleYearly, true
	default:
		return "", false
	}
}

func (c Cycle) Interval() string {
	if c == CycleYearly {
		return processor.IntervalYear
	}
	return processor.IntervalMonth
}

func CycleForInterval(interval string) (Cycle, bool) {
	switch interval {
	case processor.IntervalMonth:
		return CycleMonthly, true
	case processor.IntervalYear:
		return CycleYearly, true
	default:
		return "", false
	}
}

// defaultAmounts are list prices in minor units.
var defaultAmounts = map[string]int64{
	"starter_monthly":    900,
	"starter_yearly":     9000,
	"pro_monthly":        2900,
	"pro_yearly":         29000,
	"merchant_monthly":   7900,
	"merchant_yearly":    79000,
	"enterprise_monthly": 19900,
	"enterprise_yearly":  199000,
}

const (
	metaTier         = "tier"
	metaBillingCycle = "billing_cycle"
	metaUserID       = "user_id"
)

type planKey struct {
	tier  profile.Tier
	cycle Cycle
}

// Catalog maps tier and cycle to amounts and processor price ids. It holds
// configuration only, never processor state.
type Catalog struct {
	currency  string
	priceIDs  map[string]string
	amounts   map[string]int64
	byPriceID map[string]planKey
}

func NewCatalog(cfg config.ProcessorConfig, amounts map[string]int64) *Catalog {
	c := &Catalog{
		currency:  strings.ToLower(cfg.Currency),
		priceIDs:  make(map[string]string, len(cfg.PriceIDs)),
		amounts:   make(map[string]int64, len(defaultAmounts)),
		byPriceID: make(map[string]planKey, len(cfg.PriceIDs)),
	}
	if c.currency == "" {
		c.currency = "usd"
	}

	for key, amount := range defaultAmounts {
		c.amounts[key] = amount
	}
	for key, amount := range amounts {
		if amount > 0 {
			c.amounts[strings.ToLower(key)] = amount
		}
	}

	for key, id := range cfg.PriceIDs {
		key = strings.ToLower(key)
		if id == "" {
			continue
		}
		c.priceIDs[key] = id
		if pk, ok := parsePlanKey(key); ok {
			c.byPriceID[id] = pk
		}
	}

	return c
}

func catalogKey(tier profile.Tier, cycle Cycle) string {
	return string(tier) + "_" + string(cycle)
}

func parsePlanKey(key string) (planKey, bool) {
	tierPart, cyclePart, ok := strings.Cut(key, "_")
	if !ok {
		return planKey{}, false
	}
	tier, ok := profile.ParseTier(tierPart)
	if !ok || !tier.IsPaid() {
		return planKey{}, false
	}
	cycle, ok := ParseCycle(cyclePart)
	if !ok {
		return planKey{}, false
	}
	return planKey{tier: tier, cycle: cycle}, true
}

func (c *Catalog) Currency() string {
	return c.currency
}

// PriceFor returns the unit amount in minor units.
func (c *Catalog) PriceFor(tier profile.Tier, cycle Cycle) int64 {
	return c.amounts[catalogKey(tier, cycle)]
}

// CatalogIDFor returns the configured processor price id, or "" when the
// price has to be created inline.
func (c *Catalog) CatalogIDFor(tier profile.Tier, cycle Cycle) string {
	return c.priceIDs[catalogKey(tier, cycle)]
}

func (c *Catalog) InlinePrice(tier profile.Tier, cycle Cycle) processor.InlinePrice {
	return processor.InlinePrice{
		Currency:    c.currency,
		UnitAmount:  c.PriceFor(tier, cycle),
		Interval:    cycle.Interval(),
		ProductName: productName(tier),
		Metadata: map[string]string{
			metaTier:         string(tier),
			metaBillingCycle: string(cycle),
		},
	}
}

func productName(tier profile.Tier) string {
	name := string(tier)
	if name == "" {
		return "Seller plan"
	}
	return fmt.Sprintf("%s%s seller plan", strings.ToUpper(name[:1]), name[1:])
}

// TierForPrice infers the plan tier behind a processor price. It checks,
// in order: configured price ids, price metadata, product metadata, and
// finally an exact amount and interval match against the catalog.
func (c *Catalog) TierForPrice(price *processor.Price) (profile.Tier, bool) {
	if price == nil {
		return "", false
	}

	if pk, ok := c.byPriceID[price.ID]; ok {
		return pk.tier, true
	}

	if tier, ok := paidTierFrom(price.Metadata); ok {
		return tier, true
	}

	if price.Product != nil {
		if tier, ok := paidTierFrom(price.Product.Metadata); ok {
			return tier, true
		}
	}

	if !price.IsExpanded() || price.UnitAmount <= 0 {
		return "", false
	}
	if price.Currency != "" && !strings.EqualFold(price.Currency, c.currency) {
		return "", false
	}

	cycle, ok := CycleForInterval(price.Interval())
	if !ok {
		return "", false
	}

	var match profile.Tier
	for _, tier := range profile.PaidTiers {
		if c.PriceFor(tier, cycle) != price.UnitAmount {
			continue
		}
		if match != "" {
			return "", false
		}
		match = tier
	}

	return match, match != ""
}

func paidTierFrom(metadata map[string]string) (profile.Tier, bool) {
	raw, ok := metadata[metaTier]
	if !ok {
		return "", false
	}
	tier, ok := profile.ParseTier(raw)
	if !ok || !tier.IsPaid() {
		return "", false
	}
	return tier, true
}
