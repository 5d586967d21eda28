package voucher

import (
	"crypto/rand"
	"io"
	"math/big"
	"regexp"
	"strings"

	"github.com/juju/errors"
)

// Codes avoid characters that are easy to mistype (0/O, 1/I).
const (
	codeAlphabet     = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	passwordAlphabet = "abcdefghjkmnpqrstuvwxyz23456789"
	segmentLength    = 4
)

var codePattern = regexp.MustCompile(`^[A-Z0-9]+-[A-Z0-9]{4}-[A-Z0-9]{4}$`)

// ValidCode reports whether code has the PREFIX-XXXX-XXXX shape.
func ValidCode(code string) bool {
	return codePattern.MatchString(code)
}

type Generator interface {
	Code() (string, error)
	Password() (string, error)
}

type RandomGenerator struct {
	Prefix         string
	PasswordLength int
	// Reader defaults to crypto/rand.
	Reader io.Reader
}

func (g RandomGenerator) Code() (string, error) {
	a, err := g.random(codeAlphabet, segmentLength)
	if err != nil {
		return "", err
	}
	b, err := g.random(codeAlphabet, segmentLength)
	if err != nil {
		return "", err
	}
	return strings.ToUpper(g.Prefix) + "-" + a + "-" + b, nil
}

func (g RandomGenerator) Password() (string, error) {
	n := g.PasswordLength
	if n <= 0 {
		n = 8
	}
	return g.random(passwordAlphabet, n)
}

func (g RandomGenerator) random(alphabet string, n int) (string, error) {
	r := g.Reader
	if r == nil {
		r = rand.Reader
	}
	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(r, max)
		if err != nil {
			return "", errors.Annotate(err, "reading randomness")
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out), nil
}
