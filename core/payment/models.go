// Package payment holds the confirmation posted after the external checkout widget succeeds.
package payment

import (
	"github.com/trezcool/masomo-portal/core"
)

const StatusCompleted = "PAYMENT_COMPLETED"

// Request mirrors the checkout widget's success response.
type Request struct {
	ImpUID        string `json:"impUid" validate:"required,notblank"`
	MerchantUID   int64  `json:"merchantUid" validate:"required"`
	PaidAmount    int64  `json:"paidAmount" validate:"gt=0"`
	Name          string `json:"name" validate:"required"`
	PGProvider    string `json:"pgProvider"`
	BuyerEmail    string `json:"buyerEmail" validate:"omitempty,email"`
	BuyerName     string `json:"buyerName"`
	BuyerTel      string `json:"buyTel"`
	BuyerAddr     string `json:"buyerAddr"`
	BuyerPostcode string `json:"buyerPostcode"`
	PaidAt        int64  `json:"paidAt"` // unix seconds
	Status        string `json:"status"`
}

// Validate defaults Status to StatusCompleted.
func (r *Request) Validate() error {
	r.ImpUID = core.CleanString(r.ImpUID)
	r.BuyerEmail = core.CleanString(r.BuyerEmail, true /* lower */)
	if r.Status == "" {
		r.Status = StatusCompleted
	}
	return core.ValidateStruct(r)
}

// Confirmation is the server's payment record.
type Confirmation struct {
	ID          int64  `json:"id"`
	ImpUID      string `json:"impUid"`
	MerchantUID int64  `json:"merchantUid"`
	PaidAmount  int64  `json:"paidAmount"`
	Status      string `json:"status"`
	PaidAt      int64  `json:"paidAt"`
}
