/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultTokenTTL is used when a token request does not ask for a lifetime.
const DefaultTokenTTL = time.Hour

// MaxTokenTTL caps requested token lifetimes.
const MaxTokenTTL = 24 * time.Hour

var errUnauthorized = errors.New("unauthorized")

type tokenClaims struct {
	Sub string `json:"sub"`
	Exp int64  `json:"exp"` // unix seconds
}

// IssueToken signs an admin bearer token for subject valid until exp.
func IssueToken(secret, subject string, exp time.Time) (string, error) {
	if secret == "" {
		return "", errors.New("admin secret is not configured")
	}
	claims := tokenClaims{Sub: subject, Exp: exp.Unix()}
	b, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	h := hmac.New(sha256.New, []byte(secret))
	_, _ = h.Write(b)
	sig := h.Sum(nil)
	payload := base64.RawURLEncoding.EncodeToString(b)
	signature := base64.RawURLEncoding.EncodeToString(sig)
	return payload + "." + signature, nil
}

// VerifyToken checks the signature and expiry and returns the subject.
func VerifyToken(secret, token string, now time.Time) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid token format")
	}
	payloadB, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("invalid token payload")
	}
	sigB, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("invalid token signature")
	}
	h := hmac.New(sha256.New, []byte(secret))
	_, _ = h.Write(payloadB)
	if !hmac.Equal(h.Sum(nil), sigB) {
		return "", fmt.Errorf("bad signature")
	}
	var claims tokenClaims
	if err := json.Unmarshal(payloadB, &claims); err != nil {
		return "", fmt.Errorf("bad claims")
	}
	if claims.Exp < now.Unix() {
		return "", fmt.Errorf("token expired")
	}
	if claims.Sub == "" {
		claims.Sub = "admin"
	}
	return claims.Sub, nil
}

// requireAdmin rejects requests without a valid bearer token. An empty secret locks every
// admin route.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		const prefix = "bearer "
		if s.opts.AdminSecret == "" || !strings.HasPrefix(strings.ToLower(auth), prefix) {
			writeError(w, http.StatusUnauthorized, errUnauthorized)
			return
		}
		sub, err := VerifyToken(s.opts.AdminSecret, strings.TrimSpace(auth[len(prefix):]), s.opts.Now())
		if err != nil {
			s.log.WarnContext(r.Context(), "admin token rejected", "err", err)
			writeError(w, http.StatusUnauthorized, errUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(withSubject(r.Context(), sub)))
	})
}

// handleToken exchanges the admin secret for a short-lived bearer token.
// Body: { "secret": "...", "subject": "name", "ttl_seconds": 3600 }
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Secret     string `json:"secret"`
		Subject    string `json:"subject"`
		TTLSeconds int64  `json:"ttl_seconds"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if s.opts.AdminSecret == "" || !hmac.Equal([]byte(req.Secret), []byte(s.opts.AdminSecret)) {
		writeError(w, http.StatusUnauthorized, errUnauthorized)
		return
	}
	if req.Subject == "" {
		req.Subject = "admin"
	}
	ttl := time.Duration(req.TTLSeconds) * time.Second
	switch {
	case ttl <= 0:
		ttl = DefaultTokenTTL
	case ttl > MaxTokenTTL:
		ttl = MaxTokenTTL
	}
	exp := s.opts.Now().Add(ttl)
	tok, err := IssueToken(s.opts.AdminSecret, req.Subject, exp)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      tok,
		"expires_at": exp.UTC().Format(time.RFC3339),
	})
}
