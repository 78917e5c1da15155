package room

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/jaevor/go-nanoid"
)

// KeyAlphabet is the set of characters used in room keys.
const KeyAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// KeyGenerator produces and validates room keys.
type KeyGenerator struct {
	gen    func() string
	length int
}

// NewKeyGenerator creates a generator for keys of the given length.
func NewKeyGenerator(length int) (*KeyGenerator, error) {
	gen, err := nanoid.CustomASCII(KeyAlphabet, length)
	if err != nil {
		return nil, fmt.Errorf("create key generator: %w", err)
	}
	return &KeyGenerator{gen: gen, length: length}, nil
}

// New returns a random key.
func (g *KeyGenerator) New() string {
	key := []byte(g.gen())
	rand.Shuffle(len(key), func(i, j int) {
		key[i], key[j] = key[j], key[i]
	})
	return string(key)
}

// Normalize lowercases key and reports whether it could have been produced
// by this generator.
func (g *KeyGenerator) Normalize(key string) (string, bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	if len(key) != g.length {
		return "", false
	}
	for i := 0; i < len(key); i++ {
		if strings.IndexByte(KeyAlphabet, key[i]) < 0 {
			return "", false
		}
	}
	return key, true
}
