package utils

import (
	"crypto/rand"
	"math/big"
	"strconv"
)

const referralCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateReferralCode creates a random uppercase code without the
// ambiguous characters 0, O, 1 and I.
func GenerateReferralCode(length int) (string, error) {
	result := make([]byte, length)
	max := big.NewInt(int64(len(referralCharset)))

	for i := range result {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		result[i] = referralCharset[n.Int64()]
	}

	return string(result), nil
}

// ParsePagination reads page and page_size query values, falling back to
// defaults on missing or malformed input.
func ParsePagination(pageStr, sizeStr string, defaultSize, maxSize int) (page, size int) {
	page, err := strconv.Atoi(pageStr)
	if err != nil || page < 1 {
		page = 1
	}
	size, err = strconv.Atoi(sizeStr)
	if err != nil || size < 1 {
		size = defaultSize
	}
	if size > maxSize {
		size = maxSize
	}
	return page, size
}
