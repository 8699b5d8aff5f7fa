package config

import (
	zxcvbn "github.com/ccojocar/zxcvbn-go"
)

// Tokens scoring below this zxcvbn score (0-4 scale) are considered weak.
const weakTokenScoreThreshold = 3

// IsWeakToken reports whether the admin token is too guessable for an
// exposed deployment. An empty token is not judged here: empty means auth
// is disabled, which is a deliberate operator choice.
func IsWeakToken(token string) bool {
	if token == "" {
		return false
	}
	return zxcvbn.PasswordStrength(token, nil).Score < weakTokenScoreThreshold
}
