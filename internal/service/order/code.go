package order

import (
	"crypto/rand"
	"math/big"
)

const (
	codeLength      = 8
	codeAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxCodeAttempts = 5
)

var alphabetSize = big.NewInt(int64(len(codeAlphabet)))

// NewVoucherCode returns a random voucher code of upper-case letters and digits.
func NewVoucherCode() (string, error) {
	buf := make([]byte, codeLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", err
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}
