package otp

import (
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"
)

// GenerateCode вычисляет TOTP-код (RFC 6238, 30s, 6 цифр) из base32 seed.
func GenerateCode(seed string, t time.Time) (string, error) {
	seed = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(seed), " ", ""))
	if seed == "" {
		return "", ErrInvalidSeed
	}
	code, err := totp.GenerateCode(seed, t)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSeed, err)
	}
	return code, nil
}
