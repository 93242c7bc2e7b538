package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	return "invalid request"
}

var assetPattern = regexp.MustCompile(`^[A-Z0-9]{2,10}$`)

// ValidateOrderRequest checks shape only: values parse and are
// positive, enums are known. Symbol registration and balance checks
// happen later, against the registry and the wallet row.
func ValidateOrderRequest(symbol, side, orderType, quantity, price string) ValidationErrors {
	var errs ValidationErrors

	if strings.TrimSpace(symbol) == "" {
		errs = append(errs, FieldError{Field: "symbol", Message: "symbol is required"})
	}

	side = strings.ToUpper(strings.TrimSpace(side))
	if side != "BUY" && side != "SELL" {
		errs = append(errs, FieldError{Field: "side", Message: "side must be BUY or SELL"})
	}

	orderType = strings.ToUpper(strings.TrimSpace(orderType))
	if orderType != "LIMIT" && orderType != "MARKET" {
		errs = append(errs, FieldError{Field: "type", Message: "type must be LIMIT or MARKET"})
	}

	if _, err := parsePositiveDecimal(quantity, "quantity"); err != nil {
		errs = append(errs, FieldError{Field: "quantity", Message: err.Error()})
	}

	trimmedPrice := strings.TrimSpace(price)
	if orderType == "LIMIT" && trimmedPrice == "" {
		errs = append(errs, FieldError{Field: "price", Message: "price is required for limit orders"})
	}
	if trimmedPrice != "" {
		if _, err := parsePositiveDecimal(trimmedPrice, "price"); err != nil {
			errs = append(errs, FieldError{Field: "price", Message: err.Error()})
		}
	}

	return errs
}

func ValidateTransferRequest(asset, amount string) ValidationErrors {
	var errs ValidationErrors

	if err := validateAsset(asset); err != nil {
		errs = append(errs, FieldError{Field: "asset", Message: err.Error()})
	}
	if _, err := parsePositiveDecimal(amount, "amount"); err != nil {
		errs = append(errs, FieldError{Field: "amount", Message: err.Error()})
	}
	return errs
}

func validateAsset(raw string) error {
	asset := strings.ToUpper(strings.TrimSpace(raw))
	if asset == "" {
		return fmt.Errorf("asset is required")
	}
	if !assetPattern.MatchString(asset) {
		return fmt.Errorf("asset must be a 2-10 character code")
	}
	return nil
}

func parsePositiveDecimal(raw, field string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, fmt.Errorf("%s is required", field)
	}
	val, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s must be a decimal", field)
	}
	if val.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("%s must be positive", field)
	}
	return val, nil
}

// ParsePositiveDecimal parses a request decimal that must be strictly
// positive.
func ParsePositiveDecimal(raw, field string) (decimal.Decimal, error) {
	return parsePositiveDecimal(raw, field)
}

// NormalizeAsset uppercases and trims an asset code.
func NormalizeAsset(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}
