package signature

import (
	"github.com/muzin/wechatapi-sub000/pkg/clock"
)

// JsConfig is what a page passes to the JS SDK config call
type JsConfig struct {
	AppID     string `json:"app_id"`
	Timestamp string `json:"timestamp"`
	NonceStr  string `json:"nonce_str"`
	Signature string `json:"signature"`
}

type CardExtensionInput struct {
	CardID  string `json:"card_id"`
	Code    string `json:"code,omitempty"`
	OpenID  string `json:"openid,omitempty"`
	Balance string `json:"balance,omitempty"`
}

type CardExtension struct {
	Code      string `json:"code,omitempty"`
	OpenID    string `json:"openid,omitempty"`
	Balance   string `json:"balance,omitempty"`
	Timestamp string `json:"timestamp"`
	Signature string `json:"signature"`
}

// Signer fills nonce and timestamp for the signing helpers. Both sources can be replaced
// to make output deterministic.
type Signer struct {
	Nonce func() string
	Clock clock.Clock
}

func NewSigner(c clock.Clock) *Signer {
	if c == nil {
		c = clock.System()
	}
	return &Signer{Nonce: NewNonce, Clock: c}
}

func (s *Signer) JsConfig(appID, ticket, url string) JsConfig {
	nonce := s.Nonce()
	ts := Timestamp(s.Clock.Now())

	return JsConfig{
		AppID:     appID,
		Timestamp: ts,
		NonceStr:  nonce,
		Signature: SignJsConfig(nonce, ticket, ts, url),
	}
}

func (s *Signer) CardExtension(apiTicket string, in CardExtensionInput) CardExtension {
	ts := Timestamp(s.Clock.Now())

	return CardExtension{
		Code:      in.Code,
		OpenID:    in.OpenID,
		Balance:   in.Balance,
		Timestamp: ts,
		Signature: SignCardExtension(apiTicket, in.CardID, ts, in.Code, in.OpenID, in.Balance),
	}
}
