package provisioning

import (
	"crypto/rand"
	"math/big"
)

const (
	usernameAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	secretAlphabet   = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789"
	usernameLength   = 9
	secretLength     = 12

	// Сколько раз пробуем новый логин, если сгенерированный уже выдавался.
	maxUsernameAttempts = 5
)

func randomString(n int, alphabet string) (string, error) {
	limit := big.NewInt(int64(len(alphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b[i] = alphabet[idx.Int64()]
	}
	return string(b), nil
}

// newUsername — "u" и 9 случайных символов.
func newUsername() (string, error) {
	s, err := randomString(usernameLength, usernameAlphabet)
	if err != nil {
		return "", err
	}
	return "u" + s, nil
}

func newSecret() (string, error) {
	return randomString(secretLength, secretAlphabet)
}
