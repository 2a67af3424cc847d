package pricing

import (
	"strconv"
	"strings"

	"github.com/shortwire/borrowd/internal/decmath"
	"github.com/shortwire/borrowd/internal/domain"
)

// Fingerprint derives the calculation-cache identity of a request priced
// under a broker's fee schedule. Decimals are rendered canonically
// (trailing fractional zeros stripped), so 100000 and 100000.00 share one
// cached result.
func Fingerprint(req domain.FeeRequest, cfg domain.BrokerConfig) string {
	return strings.Join([]string{
		strings.ToUpper(req.Ticker),
		decmath.Canonical(req.PositionValue),
		strconv.Itoa(req.LoanDays),
		decmath.Canonical(cfg.MarkupPct),
		string(cfg.FeeType),
		decmath.Canonical(cfg.FeeAmount),
	}, ":")
}
