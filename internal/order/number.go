package order

import (
	"crypto/rand"
	"encoding/base32"
)

// The gateway caps MerchantTradeNo at 20 alphanumeric characters.
// 10 random bytes encode to 16 base32 characters; with the prefix the
// number is 18 characters and collision-free in practice, unlike the
// timestamp-derived scheme it replaces.
const orderNumberPrefix = "SN"

var orderNumberEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewOrderNumber generates a globally unique merchant trade number.
func NewOrderNumber() (string, error) {
	var buf [10]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return orderNumberPrefix + orderNumberEncoding.EncodeToString(buf[:]), nil
}
