// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GymKeeper Contributors

package auth

import (
	"strings"

	"github.com/samber/oops"
)

// Strength classifies a candidate password.
type Strength string

// Password strength levels.
const (
	StrengthWeak   Strength = "weak"
	StrengthMedium Strength = "medium"
	StrengthStrong Strength = "strong"
)

// Length thresholds for each strength level.
const (
	MinStrongPasswordLength = 8
	MinMediumPasswordLength = 6
)

// MaxPasswordBytes is the longest password bcrypt accepts.
const MaxPasswordBytes = 72

// passwordSpecials is the set of characters counted toward a strong password.
const passwordSpecials = "@$!%*?&"

// EvaluatePassword classifies a password as weak, medium or strong.
//
// Strong requires a lowercase letter, an uppercase letter, a digit, one of
// @$!%*?& and at least 8 characters. Medium drops the special character and
// lowers the length to 6. Everything else is weak.
func EvaluatePassword(password string) Strength {
	var lower, upper, digit, special bool
	for _, r := range password {
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(passwordSpecials, r):
			special = true
		}
	}

	length := len([]rune(password))
	base := lower && upper && digit

	switch {
	case base && special && length >= MinStrongPasswordLength:
		return StrengthStrong
	case base && length >= MinMediumPasswordLength:
		return StrengthMedium
	default:
		return StrengthWeak
	}
}

// CheckPasswordPolicy rejects weak passwords and passwords longer than
// MaxPasswordBytes.
func CheckPasswordPolicy(password string) (Strength, error) {
	strength := EvaluatePassword(password)
	if len(password) > MaxPasswordBytes {
		return strength, oops.Code("AUTH_PASSWORD_TOO_LONG").
			With("bytes", len(password)).
			Errorf("password must be at most %d bytes", MaxPasswordBytes)
	}
	if strength == StrengthWeak {
		return strength, oops.Code("AUTH_WEAK_PASSWORD").
			With("strength", string(strength)).
			Errorf("password is too weak: use upper and lower case letters, digits and at least %d characters", MinMediumPasswordLength)
	}
	return strength, nil
}
