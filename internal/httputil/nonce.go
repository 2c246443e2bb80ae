package httputil

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net/http"
)

// Nonce is a per-request token that lets the inline page config pass the CSP.
type Nonce string

type nonceKey struct{}

const nonceBytes = 18

func NewNonce() (Nonce, error) {
	b := make([]byte, nonceBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return Nonce(base64.RawURLEncoding.EncodeToString(b)), nil
}

// Source renders the nonce as a CSP source expression. An empty nonce
// renders as nothing so the policy never admits "'nonce-'".
func (n Nonce) Source() string {
	if n == "" {
		return ""
	}
	return " 'nonce-" + string(n) + "'"
}

func WithNonce(r *http.Request, n Nonce) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), nonceKey{}, n))
}

func NonceFrom(ctx context.Context) Nonce {
	n, _ := ctx.Value(nonceKey{}).(Nonce)
	return n
}
