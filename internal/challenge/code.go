package challenge

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
)

// DefaultCodeLength is the number of digits in an issued code.
const DefaultCodeLength = 6

// GenerateCode returns a zero-padded numeric code of the given length.
func GenerateCode(length int) (string, error) {
	if length <= 0 {
		length = DefaultCodeLength
	}
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", length, n), nil
}

// HashCode binds the code to its challenge so equal codes hash differently.
func HashCode(challengeID, code string) string {
	sum := sha256.Sum256([]byte(challengeID + ":" + code))
	return hex.EncodeToString(sum[:])
}

// CodeMatches compares a submitted code against the stored hash in constant time.
func CodeMatches(challengeID, code, storedHash string) bool {
	provided := HashCode(challengeID, code)
	return subtle.ConstantTimeCompare([]byte(provided), []byte(storedHash)) == 1
}
