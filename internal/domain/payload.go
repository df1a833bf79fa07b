package domain

import (
	"encoding/json"
	"errors"
	"strings"
)

// PayloadVersion is the current access code protocol version.
const PayloadVersion = 1

// ErrMalformedPayload is returned when a scanned string is not a valid access code.
var ErrMalformedPayload = errors.New("malformed access token payload")

// TokenPayload is the compact pointer rendered into the scannable code.
// It deliberately carries no quota, expiry or subject data.
type TokenPayload struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	Version  int    `json:"v"`
}

// NewTokenPayload builds the payload for a stored token.
func NewTokenPayload(token *AccessToken) TokenPayload {
	return TokenPayload{ID: token.ID, TenantID: token.TenantID, Version: PayloadVersion}
}

// Encode serializes the payload for a code renderer.
func (p TokenPayload) Encode() (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// payloadKeys are the only object keys a payload may carry, matched exactly.
var payloadKeys = map[string]struct{}{"id": {}, "tenantId": {}, "v": {}}

// DecodeTokenPayload parses the string produced by a code reader. The object
// must carry exactly the keys id, tenantId and v, spelled as written; v must
// equal PayloadVersion, so a payload without a version is malformed.
func DecodeTokenPayload(raw string) (TokenPayload, error) {
	var p TokenPayload
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return p, ErrMalformedPayload
	}
	if !hasExactPayloadKeys(raw) {
		return TokenPayload{}, ErrMalformedPayload
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil || dec.More() {
		return TokenPayload{}, ErrMalformedPayload
	}
	if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.TenantID) == "" {
		return TokenPayload{}, ErrMalformedPayload
	}
	if p.Version != PayloadVersion {
		return TokenPayload{}, ErrMalformedPayload
	}
	return p, nil
}

// hasExactPayloadKeys reports whether raw is one JSON object whose keys are
// payloadKeys, each appearing once.
func hasExactPayloadKeys(raw string) bool {
	dec := json.NewDecoder(strings.NewReader(raw))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return false
	}
	seen := make(map[string]struct{}, len(payloadKeys))
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return false
		}
		key, ok := tok.(string)
		if !ok {
			return false
		}
		if _, allowed := payloadKeys[key]; !allowed {
			return false
		}
		if _, dup := seen[key]; dup {
			return false
		}
		seen[key] = struct{}{}
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return false
		}
	}
	return len(seen) == len(payloadKeys)
}
