package quotes

import (
	"fmt"
	"math/big"
	"strings"
)

// toBaseUnits converts a human amount into the token's integer base units.
func toBaseUnits(amount float64, decimals int) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("amount must be > 0, got %f", amount)
	}
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	v := new(big.Float).Mul(big.NewFloat(amount), scale)
	i, _ := v.Int(nil)
	if i.Sign() <= 0 {
		return "", fmt.Errorf("amount %f rounds to zero at %d decimals", amount, decimals)
	}
	return i.String(), nil
}

func fromBaseUnits(raw string, decimals int) (float64, error) {
	i, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return 0, fmt.Errorf("invalid integer amount %q", raw)
	}
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	out, _ := new(big.Float).Quo(new(big.Float).SetInt(i), scale).Float64()
	return out, nil
}
