package delivery

import (
	"strings"
	"time"

	"github.com/ariefcatur/pcbuild-orders/internal/apperr"
)

type Delivery struct {
	DeliveryID      string    `json:"delivery_id"`
	OrderID         string    `json:"order_id,omitempty"`
	CustomerAddress string    `json:"customerAddress"`
	CustomerEmail   string    `json:"customerEmail"`
	Timestamp       time.Time `json:"timestamp"`
}

// Patch corrects address and/or email. Nil fields are left unchanged.
type Patch struct {
	CustomerAddress *string `json:"customerAddress,omitempty"`
	CustomerEmail   *string `json:"customerEmail,omitempty"`
}

func validateContact(address, email string) error {
	if strings.TrimSpace(address) == "" {
		return apperr.Validation("customerAddress is required")
	}
	if strings.TrimSpace(email) == "" {
		return apperr.Validation("customerEmail is required")
	}
	return nil
}

func (p Patch) validate() error {
	if p.CustomerAddress == nil && p.CustomerEmail == nil {
		return apperr.Validation("customerAddress or customerEmail is required")
	}
	if p.CustomerAddress != nil && strings.TrimSpace(*p.CustomerAddress) == "" {
		return apperr.Validation("customerAddress must not be blank")
	}
	if p.CustomerEmail != nil && strings.TrimSpace(*p.CustomerEmail) == "" {
		return apperr.Validation("customerEmail must not be blank")
	}
	return nil
}
