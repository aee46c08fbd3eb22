package utils

import (
	"crypto/rand"
	"encoding/base64"
	"math/big"
)

// RandomString returns n random bytes, base64url encoded without padding.
func RandomString(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// RandomDigits returns a string of n random decimal digits.
func RandomDigits(n int) string {
	out := make([]byte, n)
	ten := big.NewInt(10)
	for i := range out {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			out[i] = '0'
			continue
		}
		out[i] = byte('0' + d.Int64())
	}
	return string(out)
}
