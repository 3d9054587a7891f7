package x402

import (
	"fmt"
	"math/big"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateRequirements checks a payment requirement for structural
// completeness and a well-formed non-negative amount. Servers validate
// before issuing a challenge; clients validate the selected offer before
// signing.
func ValidateRequirements(req PaymentRequirements) error {
	if err := validate.Struct(req); err != nil {
		return &ProtocolError{Op: "validate requirements", Err: err}
	}
	amount, ok := new(big.Int).SetString(req.MaxAmountRequired, 10)
	if !ok {
		return &ProtocolError{Op: "validate requirements", Err: fmt.Errorf("malformed amount %q", req.MaxAmountRequired)}
	}
	if amount.Sign() < 0 {
		return &ProtocolError{Op: "validate requirements", Err: fmt.Errorf("negative amount %q", req.MaxAmountRequired)}
	}
	if req.MaxTimeoutSeconds < 0 {
		return &ProtocolError{Op: "validate requirements", Err: fmt.Errorf("negative timeout %d", req.MaxTimeoutSeconds)}
	}
	return nil
}
