// Package signature computes the authority's front-end signatures.
//
// Both algorithms hash a canonical string with SHA-1 and encode the digest as uppercase hex.
// The casing is part of the wire format and must not be normalized.
package signature

import (
	"crypto/sha1"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	fieldTicket    = "jsapi_ticket"
	fieldNonce     = "nonceStr"
	fieldTimestamp = "timestamp"
	fieldURL       = "url"
)

// CanonicalQuery renders fields as k1=v1&k2=v2 with keys in ascending byte order
func CanonicalQuery(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(fields[k])
	}
	return b.String()
}

// CanonicalConcat sorts values in ascending byte order and joins them without separator
func CanonicalConcat(values ...string) string {
	sorted := append([]string(nil), values...)
	sort.Strings(sorted)
	return strings.Join(sorted, "")
}

// Hash returns the uppercase hex SHA-1 of s
func Hash(s string) string {
	sum := sha1.Sum([]byte(s))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// SignJsConfig signs a page url for the JS SDK config call
func SignJsConfig(nonce, ticket, timestamp, url string) string {
	return Hash(CanonicalQuery(map[string]string{
		fieldTicket:    ticket,
		fieldNonce:     nonce,
		fieldTimestamp: timestamp,
		fieldURL:       url,
	}))
}

// SignCardExtension signs the card_ext payload. Empty strings stand for missing
// code, openid and balance.
func SignCardExtension(apiTicket, cardID, timestamp, code, openid, balance string) string {
	return Hash(CanonicalConcat(apiTicket, cardID, timestamp, code, openid, balance))
}

// NewNonce returns a 32 character random string
func NewNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Timestamp formats t as decimal seconds since epoch
func Timestamp(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}
