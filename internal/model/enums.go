package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Side of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// ParseSide accepts "buy"/"sell" in any case.
func ParseSide(s string) (Side, bool) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, true
	case SideSell:
		return SideSell, true
	default:
		return "", false
	}
}

// AssetClass is the kind of instrument a holding represents.
type AssetClass string

const (
	AssetEquity AssetClass = "EQUITY"
	AssetETF    AssetClass = "ETF"
	AssetCrypto AssetClass = "CRYPTO"
)

func (a AssetClass) Valid() bool {
	switch a {
	case AssetEquity, AssetETF, AssetCrypto:
		return true
	default:
		return false
	}
}

// ParseAssetClass accepts the enum names in any case; empty means equity.
func ParseAssetClass(s string) (AssetClass, bool) {
	switch a := AssetClass(strings.ToUpper(strings.TrimSpace(s))); a {
	case "":
		return AssetEquity, true
	case "STOCK":
		return AssetEquity, true
	default:
		return a, a.Valid()
	}
}

func (a *AssetClass) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, ok := ParseAssetClass(s)
	if !ok {
		return fmt.Errorf("model: unknown asset class %q", s)
	}
	*a = parsed
	return nil
}

// symbolRegex matches an upper-cased ticker: NASDAQ/NYSE tickers, share
// classes (BRK.B), index and FX style symbols (^GSPC, EURUSD=X) and crypto
// pairs (BTC-USD). Already-canonical input (BRK_B) is accepted unchanged.
var symbolRegex = regexp.MustCompile(`^[A-Z0-9^][A-Z0-9._\-=]{0,14}$`)

var ErrInvalidSymbol = errors.New("model: invalid symbol")

// CanonicalSymbol upper-cases and validates a ticker, then maps periods to a
// storage-safe form (document keys may not contain '.').
//
//	" brk.b " → "BRK_B"
func CanonicalSymbol(raw string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" || !symbolRegex.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, raw)
	}
	return strings.ReplaceAll(s, ".", "_"), nil
}

// DisplaySymbol reverses the storage mapping for quote lookups and display.
func DisplaySymbol(canonical string) string {
	return strings.ReplaceAll(canonical, "_", ".")
}
