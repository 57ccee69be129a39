package main

import "github.com/google/uuid"

func newPaymentID() string {
	return "pay_" + uuid.NewString()
}
