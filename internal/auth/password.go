package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultBcryptCost = 12
	MinPasswordLength = 8

	temporaryPasswordLength = 12
	passwordSymbols         = "!@#$%^&*"
)

// Hasher produces and verifies salted bcrypt digests.
type Hasher struct {
	cost  int
	dummy []byte
}

// NewHasher returns a Hasher using cost clamped to bcrypt's valid range.
// A zero cost selects DefaultBcryptCost.
func NewHasher(cost int) *Hasher {
	if cost == 0 {
		cost = DefaultBcryptCost
	}
	cost = max(bcrypt.MinCost, min(cost, bcrypt.MaxCost))
	dummy, err := bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing"), cost)
	if err != nil {
		panic(fmt.Sprintf("auth: generate dummy digest: %v", err))
	}
	return &Hasher{cost: cost, dummy: dummy}
}

// Cost returns the bcrypt work factor.
func (h *Hasher) Cost() int { return h.cost }

// Hash hashes plaintext password using bcrypt.
func (h *Hasher) Hash(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify compares plaintext password with stored digest in constant time.
func (h *Hasher) Verify(password, digest string) bool {
	if digest == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil
}

// VerifyDummy spends one comparison so unknown logins cost the same as a
// wrong password.
func (h *Hasher) VerifyDummy(password string) {
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(password))
}

// ValidateNewPassword enforces the minimum password policy.
func ValidateNewPassword(password string) error {
	if len([]rune(password)) < MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, MinPasswordLength)
	}
	if strings.TrimSpace(password) == "" {
		return fmt.Errorf("%w: password must not be blank", ErrInvalidInput)
	}
	return nil
}

// GenerateTemporaryPassword returns a random password of length n (at least
// 8) containing an upper case letter, a lower case letter, a digit and a
// symbol.
func GenerateTemporaryPassword(n int) (string, error) {
	if n < MinPasswordLength {
		n = temporaryPasswordLength
	}
	const (
		upper  = "ABCDEFGHJKLMNPQRSTUVWXYZ"
		lower  = "abcdefghijkmnopqrstuvwxyz"
		digits = "23456789"
	)
	alphabet := upper + lower + digits + passwordSymbols
	out := make([]byte, 0, n)
	for _, set := range []string{upper, lower, digits, passwordSymbols} {
		c, err := randomChar(set)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	for len(out) < n {
		c, err := randomChar(alphabet)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	for i := len(out) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", err
		}
		out[i], out[j.Int64()] = out[j.Int64()], out[i]
	}
	return string(out), nil
}

func randomChar(set string) (byte, error) {
	idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, fmt.Errorf("generate password: %w", err)
	}
	return set[idx.Int64()], nil
}

// GenerateUsername derives "first.last" from a name and appends a numeric
// suffix until exists reports the candidate as free.
func GenerateUsername(ctx context.Context, first, last string, exists func(context.Context, string) (bool, error)) (string, error) {
	base := usernamePart(first)
	if l := usernamePart(last); l != "" {
		if base != "" {
			base += "."
		}
		base += l
	}
	if base == "" {
		return "", fmt.Errorf("%w: first or last name is required", ErrInvalidInput)
	}
	candidate := base
	for i := 1; i <= 1000; i++ {
		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s%d", base, i)
	}
	return "", fmt.Errorf("%w: no free username for %s", ErrConflict, base)
}

func usernamePart(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
