package utils

import (
	"crypto/rand"
	"math/big"

	"github.com/google/uuid"
)

// NewID returns a prefixed opaque id such as "tkt_3f0c...".
func NewID(prefix string) string {
	return prefix + "_" + uuid.New().String()
}

// no 0/O/1/I so codes survive being read aloud at the door
var codeAlphabet = []byte("ABCDEFGHJKLMNPQRSTUVWXYZ23456789")

// GenerateTicketCode returns an unguessable human-readable ticket code.
func GenerateTicketCode() string {
	return "TKT-" + randomFrom(codeAlphabet, 10)
}

var letters = []byte("abcdefghijklmnopqrstuvwxyz0123456789")

// GenerateID creates a random lowercase alphanumeric string of length n.
func GenerateID(n int) string {
	return randomFrom(letters, n)
}

func randomFrom(alphabet []byte, n int) string {
	b := make([]byte, n)
	max := big.NewInt(int64(len(alphabet)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		b[i] = alphabet[idx.Int64()]
	}
	return string(b)
}
