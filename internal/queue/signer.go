package queue

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const issuer = "records-queue"

var ErrInvalidSignature = errors.New("invalid queue signature")

type callbackClaims struct {
	BodyHash string `json:"body"`
	jwt.RegisteredClaims
}

// Signer issues short-lived tokens binding a callback path to its body.
type Signer struct {
	key    []byte
	expiry time.Duration
}

func NewSigner(key string, expiry time.Duration) (*Signer, error) {
	if key == "" {
		return nil, errors.New("signing key is required")
	}
	return &Signer{key: []byte(key), expiry: expiry}, nil
}

func (s *Signer) Sign(path string, body []byte) (string, error) {
	now := time.Now()
	claims := callbackClaims{
		BodyHash: bodyHash(body),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   path,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign callback: %w", err)
	}
	return signed, nil
}

// Verifier checks callback signatures against the current key and, during a
// rotation, the next one.
type Verifier struct {
	keys     [][]byte
	insecure bool
}

func NewVerifier(current, next string) (*Verifier, error) {
	v := &Verifier{}
	for _, k := range []string{current, next} {
		if k != "" {
			v.keys = append(v.keys, []byte(k))
		}
	}
	if len(v.keys) == 0 {
		return nil, errors.New("at least one signing key is required")
	}
	return v, nil
}

// NewInsecureVerifier accepts every callback. Local development only.
func NewInsecureVerifier() *Verifier {
	return &Verifier{insecure: true}
}

func (v *Verifier) Verify(token, path string, body []byte) error {
	if v.insecure {
		return nil
	}
	if token == "" {
		return fmt.Errorf("%w: missing token", ErrInvalidSignature)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithIssuer(issuer),
		jwt.WithSubject(path),
		jwt.WithExpirationRequired(),
	)

	var lastErr error
	for _, key := range v.keys {
		claims := &callbackClaims{}
		_, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
			return key, nil
		})
		if err != nil {
			lastErr = err
			continue
		}
		if claims.BodyHash != bodyHash(body) {
			return fmt.Errorf("%w: body does not match", ErrInvalidSignature)
		}
		return nil
	}
	return fmt.Errorf("%w: %v", ErrInvalidSignature, lastErr)
}

// VerifyRequest reads the request body and verifies it against the signature
// header. The returned bytes are the body.
func (v *Verifier) VerifyRequest(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read callback body: %w", err)
	}
	if err := v.Verify(r.Header.Get(SignatureHeader), r.URL.Path, body); err != nil {
		zap.S().Named("queue").Warnw("rejected callback", "path", r.URL.Path, "error", err)
		return nil, err
	}
	return body, nil
}

func bodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
