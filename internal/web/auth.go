package web

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// The identity boundary is trusted as-is: a login request carries the
// (personId, displayName, provider) tuple and no credentials are
// checked here. What this layer owns is the session token that maps a
// connection back to a person id.

type signedPayload struct {
	Exp int64  `json:"exp"`
	Sub string `json:"sub"` // person id, decimal
	Typ string `json:"typ,omitempty"`
	N   string `json:"n,omitempty"` // nonce
}

const sessionCookie = "tally_session"
const sessionTTL = 30 * 24 * time.Hour

func secretKeyPath(dataDir string) string {
	return filepath.Join(dataDir, "web", "secret.key")
}

func loadOrInitSecretKey(dataDir string) ([]byte, error) {
	path := secretKeyPath(dataDir)
	if b, err := os.ReadFile(path); err == nil && len(b) > 0 {
		return []byte(strings.TrimSpace(string(b))), nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	enc := base64.RawURLEncoding.EncodeToString(raw)
	if err := os.WriteFile(path, []byte(enc+"\n"), 0o600); err != nil {
		return nil, err
	}
	return []byte(enc), nil
}

func signToken(secret []byte, payload signedPayload) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	p := base64.RawURLEncoding.EncodeToString(b)
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(p))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return p + "." + sig, nil
}

func verifyToken(secret []byte, token string) (signedPayload, error) {
	token = strings.TrimSpace(token)
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return signedPayload{}, errors.New("invalid token format")
	}
	p, sig := parts[0], parts[1]

	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(p))
	want := mac.Sum(nil)
	got, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return signedPayload{}, errors.New("invalid token signature")
	}
	if !hmac.Equal(want, got) {
		return signedPayload{}, errors.New("invalid token signature")
	}

	raw, err := base64.RawURLEncoding.DecodeString(p)
	if err != nil {
		return signedPayload{}, errors.New("invalid token payload")
	}
	var sp signedPayload
	if err := json.Unmarshal(raw, &sp); err != nil {
		return signedPayload{}, errors.New("invalid token payload")
	}
	if sp.Exp == 0 || time.Now().Unix() > sp.Exp {
		return signedPayload{}, errors.New("token expired")
	}
	if strings.TrimSpace(sp.Sub) == "" {
		return signedPayload{}, errors.New("token missing sub")
	}
	return sp, nil
}

func newNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (s *Server) newSessionToken(personID int64) (string, error) {
	n, err := newNonce()
	if err != nil {
		return "", err
	}
	return signToken(s.secret, signedPayload{
		Typ: "session",
		Sub: strconv.FormatInt(personID, 10),
		N:   n,
		Exp: time.Now().Add(sessionTTL).Unix(),
	})
}

// viewerFromRequest resolves the requesting person, or nil for an
// anonymous viewer. Invalid or expired tokens degrade to anonymous
// rather than failing the request.
func (s *Server) viewerFromRequest(r *http.Request) *int64 {
	token := ""
	if c, err := r.Cookie(sessionCookie); err == nil {
		token = c.Value
	}
	if token == "" {
		// Websocket clients without cookie jars may pass the token
		// explicitly.
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token == "" {
		return nil
	}
	sp, err := verifyToken(s.secret, token)
	if err != nil || sp.Typ != "session" {
		return nil
	}
	id, err := strconv.ParseInt(sp.Sub, 10, 64)
	if err != nil || id <= 0 {
		return nil
	}
	return &id
}
