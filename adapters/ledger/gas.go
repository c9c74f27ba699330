package ledger

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// GweiToWei converts a decimal gwei amount such as "1.5" to wei
func GweiToWei(gwei string) (*big.Int, error) {
	d, err := decimal.NewFromString(gwei)
	if err != nil {
		return nil, fmt.Errorf("invalid gwei amount %q: %w", gwei, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("invalid gwei amount %q: negative", gwei)
	}
	return d.Shift(9).Truncate(0).BigInt(), nil
}
