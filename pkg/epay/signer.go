// Package epay implements the MD5-signed "epay" merchant protocol used to fund
// balances: request signing, notify verification, order creation and lookup.
package epay

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"html"
	"sort"
	"strings"
)

const (
	FieldSign     = "sign"
	FieldSignType = "sign_type"
	SignTypeMD5   = "MD5"
)

var errKeyRequired = errors.New("epay merchant key is required")

// Signer computes and checks request signatures with the merchant key.
type Signer struct {
	key string
}

func NewSigner(key string) (*Signer, error) {
	if strings.TrimSpace(key) == "" {
		return nil, errKeyRequired
	}
	return &Signer{key: key}, nil
}

// Sign returns the lowercase hex MD5 of the canonical parameter string
// followed directly by the key. sign, sign_type and blank values are excluded.
func (s *Signer) Sign(params map[string]string) string {
	sum := md5.Sum([]byte(Canonical(params) + s.key))
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the signature and compares it in constant time.
func (s *Signer) Verify(params map[string]string) bool {
	remote := strings.TrimSpace(params[FieldSign])
	if remote == "" {
		return false
	}
	local := s.Sign(params)
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(remote)), []byte(local)) == 1
}

// Canonical builds the sorted k=v&k=v string that gets signed.
func Canonical(params map[string]string) string {
	keys := make([]string, 0, len(params))
	values := make(map[string]string, len(params))
	for k, v := range params {
		if k == FieldSign || k == FieldSignType {
			continue
		}
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if strings.Contains(v, "&quot;") {
			v = html.UnescapeString(v)
		}
		keys = append(keys, k)
		values[k] = v
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(values[k])
	}
	return b.String()
}
