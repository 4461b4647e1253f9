package config

import zxcvbn "github.com/ccojocar/zxcvbn-go"

// Tokens scoring below this zxcvbn level are guessable enough to refuse.
const minTokenScore = 3

// IsWeakToken reports whether an admin token is too guessable to accept.
// An empty token means auth is disabled and is not judged here.
func IsWeakToken(token string) bool {
	if token == "" {
		return false
	}
	return zxcvbn.PasswordStrength(token, nil).Score < minTokenScore
}
