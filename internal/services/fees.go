package services

import "math"

// Charge is the price breakdown in the token's smallest unit
type Charge struct {
	MerchantAmount int64 `json:"merchant_amount,string"`
	ServiceFee     int64 `json:"service_fee,string"`
	GasFee         int64 `json:"gas_fee,string"`
	Total          int64 `json:"total,string"`
}

// ComputeCharge adds a basis-point service fee and a flat gas fee to the
// merchant amount. Division truncates toward zero.
func ComputeCharge(merchantAmount, feeBasisPoints, gasFee int64) (Charge, error) {
	if merchantAmount < 0 || gasFee < 0 {
		return Charge{}, invalidInput("amounts must not be negative")
	}
	if feeBasisPoints < 0 || feeBasisPoints > 10000 {
		return Charge{}, invalidInput("fee basis points must be between 0 and 10000")
	}
	if merchantAmount > math.MaxInt64/10000 {
		return Charge{}, invalidInput("merchant amount too large")
	}

	fee := merchantAmount * feeBasisPoints / 10000
	if merchantAmount > math.MaxInt64-fee-gasFee {
		return Charge{}, invalidInput("total charge overflows")
	}

	return Charge{
		MerchantAmount: merchantAmount,
		ServiceFee:     fee,
		GasFee:         gasFee,
		Total:          merchantAmount + fee + gasFee,
	}, nil
}
