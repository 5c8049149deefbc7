package orders

import (
	"strings"
	"time"

	"github.com/ariefcatur/pcbuild-orders/internal/apperr"
)

// CustomerIDLength is the fixed length of customer identifiers issued by the customer directory.
const CustomerIDLength = 36

type Order struct {
	OrderID          string    `json:"order_id"`
	CustomerID       string    `json:"customer_id"`
	PartsList        []int64   `json:"parts_list"`
	Status           Status    `json:"status"`
	Timestamp        time.Time `json:"timestamp"`
	CreatedAt        time.Time `json:"created_at"`
	PaymentReference string    `json:"payment_reference,omitempty"`
	IdempotencyKey   string    `json:"idempotency_key,omitempty"`
	// AmountCents and Currency are the price agreed at purchase, in minor units.
	AmountCents int64  `json:"amount_cents,omitempty"`
	Currency    string `json:"currency,omitempty"`
}

// Price is an amount in minor units of a lower-case ISO currency.
type Price struct {
	AmountCents int64
	Currency    string
}

func (o Order) Priced() bool { return o.AmountCents > 0 && o.Currency != "" }

// Charges reports whether a payment of amount in currency settles o exactly.
func (o Order) Charges(amount int64, currency string) bool {
	return o.Priced() && amount == o.AmountCents && strings.EqualFold(currency, o.Currency)
}

func ValidateCustomerID(id string) error {
	if id == "" {
		return apperr.Validation("customer_id is required")
	}
	if len(id) != CustomerIDLength || strings.ContainsAny(id, " \t\r\n") {
		return apperr.Validation("customer_id must be a %d character identifier", CustomerIDLength)
	}
	return nil
}

func ValidateParts(parts []int64) error {
	if len(parts) == 0 {
		return apperr.Validation("parts_list must not be empty")
	}
	for i, p := range parts {
		if p <= 0 {
			return apperr.Validation("parts_list[%d]: invalid part reference %d", i, p)
		}
	}
	return nil
}

func sameParts(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
