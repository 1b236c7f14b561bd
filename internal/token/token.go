// Package token implements the authentication token service: JWT sign/verify
// plus an opaque-token-wraps-encrypted-JWT indirection, so the bearer value
// handed to agents never exposes claims directly. A single HS256 signer is
// used since this system has no upstream IdP — agents authenticate with a
// pre-shared API key, not a browser OAuth flow.
package token

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sharedcontext/server/internal/store"
)

// ErrAuthInvalid is returned by Resolve on any validation failure. The
// message never reveals whether the agent, key, or token was the actual
// problem, so failures can't be used to probe for valid agent ids.
var ErrAuthInvalid = errors.New("token: authentication invalid")

const (
	opaquePrefix    = "sct_"
	issuer          = "shared-context-server"
	audience        = "mcp-agents"
	clockSkewLeeway = 5 * time.Minute
)

// allPermissions is the policy-allowed permission set.
var allPermissions = map[string]bool{"read": true, "write": true, "admin": true, "debug": true}

// Claims is the inner JWT's claim set.
type Claims struct {
	AgentType   string   `json:"type"`
	Permissions []string `json:"perms"`
	jwt.RegisteredClaims
}

// AuthResult is returned from Authenticate.
type AuthResult struct {
	OpaqueToken string
	Permissions []string
	ExpiresAt   time.Time
}

// Service implements authenticate/resolve/refresh/rotate over a signing
// key pair (current + previous, for rotation) and an AES-GCM wrapping
// key for opaque-token ciphertext.
type Service struct {
	store  *store.Store
	apiKey string

	mu          sync.RWMutex
	signingKey  []byte
	prevSignKey []byte
	aead        cipher.AEAD

	tokenTTL time.Duration
}

// Config carries the required startup secrets. There is no development
// fallback: a start with no signing key is a fatal configuration error
// (enforced by internal/config.Config.Validate, called before Service is
// constructed).
type Config struct {
	SigningKey    string
	EncryptionKey string
	APIKey        string
	TokenTTL      time.Duration
}

// NewService constructs the Token Service. SigningKey and EncryptionKey
// must already be validated non-empty by the caller.
func NewService(st *store.Store, cfg Config) (*Service, error) {
	block, err := aes.NewCipher(deriveAESKey(cfg.EncryptionKey))
	if err != nil {
		return nil, fmt.Errorf("token: building AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("token: building AES-GCM: %w", err)
	}

	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	return &Service{
		store:      st,
		apiKey:     cfg.APIKey,
		signingKey: []byte(cfg.SigningKey),
		aead:       aead,
		tokenTTL:   ttl,
	}, nil
}

// deriveAESKey folds an arbitrary-length secret down to a 32-byte AES-256
// key. Using the raw secret directly would require operators to supply
// exactly 16/24/32 bytes; this keeps the config surface a plain string.
func deriveAESKey(secret string) []byte {
	sum := make([]byte, 32)
	b := []byte(secret)
	for i := range sum {
		sum[i] = b[i%len(b)]
	}
	return sum
}

// Authenticate verifies apiKey against the configured machine-to-machine
// secret, intersects requested with the policy-allowed permission set
// (defaulting to {read}), issues an HS256 JWT, wraps it behind a fresh
// opaque id, and persists the ciphertext.
func (s *Service) Authenticate(ctx context.Context, agentID, agentType, apiKey string, requested []string) (AuthResult, error) {
	if subtle.ConstantTimeCompare([]byte(apiKey), []byte(s.apiKey)) != 1 {
		return AuthResult{}, ErrAuthInvalid
	}

	perms := intersectPermissions(requested)

	now := time.Now()
	expiresAt := now.Add(s.tokenTTL)

	claims := Claims{
		AgentType:   agentType,
		Permissions: perms,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   agentID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
		},
	}

	signed, err := s.sign(claims)
	if err != nil {
		return AuthResult{}, fmt.Errorf("token: signing: %w", err)
	}

	opaque, err := s.wrap(ctx, agentID, signed, expiresAt)
	if err != nil {
		return AuthResult{}, fmt.Errorf("token: wrapping: %w", err)
	}

	return AuthResult{OpaqueToken: opaque, Permissions: perms, ExpiresAt: expiresAt}, nil
}

func intersectPermissions(requested []string) []string {
	if len(requested) == 0 {
		return []string{"read"}
	}
	seen := make(map[string]bool)
	out := make([]string, 0, len(requested))
	for _, p := range requested {
		if allPermissions[p] && !seen[p] {
			out = append(out, p)
			seen[p] = true
		}
	}
	if len(out) == 0 {
		return []string{"read"}
	}
	return out
}

func (s *Service) sign(claims Claims) (string, error) {
	s.mu.RLock()
	key := s.signingKey
	s.mu.RUnlock()

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(key)
}

// wrap encrypts the inner JWT and stores it under a new opaque id.
func (s *Service) wrap(ctx context.Context, agentID, jwtStr string, expiresAt time.Time) (string, error) {
	opaque := opaquePrefix + strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(uuidBytes()))

	ciphertext, err := s.encrypt([]byte(jwtStr))
	if err != nil {
		return "", err
	}

	now := time.Now()
	_, err = s.store.ExecuteUpdate(ctx,
		`INSERT INTO secure_tokens (opaque_id, ciphertext, agent_id, created_at, expires_at)
		 VALUES (:opaque_id, :ciphertext, :agent_id, :created_at, :expires_at)`,
		map[string]any{
			"opaque_id":  opaque,
			"ciphertext": ciphertext,
			"agent_id":   agentID,
			"created_at": float64(now.Unix()),
			"expires_at": float64(expiresAt.Unix()),
		})
	if err != nil {
		return "", err
	}

	return opaque, nil
}

func uuidBytes() []byte {
	id := uuid.New()
	return id[:]
}

func (s *Service) encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *Service) decrypt(ciphertext []byte) ([]byte, error) {
	nonceLen := s.aead.NonceSize()
	if len(ciphertext) < nonceLen {
		return nil, errors.New("token: ciphertext too short")
	}
	nonce, data := ciphertext[:nonceLen], ciphertext[nonceLen:]
	return s.aead.Open(nil, nonce, data, nil)
}

// Resolve accepts either an opaque token (prefix sct_) or a bare JWT,
// validates it (signature, iss, aud, exp with clock-skew leeway), and
// returns its claims.
func (s *Service) Resolve(ctx context.Context, tokenOrOpaque string) (Claims, error) {
	jwtStr := tokenOrOpaque
	if strings.HasPrefix(tokenOrOpaque, opaquePrefix) {
		var ciphertext []byte
		var agentID string
		var expiresAt float64
		found := false
		err := s.store.ExecuteQuery(ctx,
			`SELECT ciphertext, agent_id, expires_at FROM secure_tokens WHERE opaque_id = :opaque_id`,
			map[string]any{"opaque_id": tokenOrOpaque},
			func(rows pgx.Rows) error {
				for rows.Next() {
					found = true
					return rows.Scan(&ciphertext, &agentID, &expiresAt)
				}
				return nil
			})
		if err != nil || !found {
			return Claims{}, ErrAuthInvalid
		}
		_ = agentID
		if expiresAt < float64(time.Now().Unix()) {
			return Claims{}, ErrAuthInvalid
		}

		plaintext, err := s.decrypt(ciphertext)
		if err != nil {
			return Claims{}, ErrAuthInvalid
		}
		jwtStr = string(plaintext)
	}

	return s.verify(jwtStr)
}

func (s *Service) verify(jwtStr string) (Claims, error) {
	s.mu.RLock()
	current, prev := s.signingKey, s.prevSignKey
	s.mu.RUnlock()

	var claims Claims
	parse := func(key []byte) (*jwt.Token, error) {
		return jwt.ParseWithClaims(jwtStr, &claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method")
			}
			return key, nil
		}, jwt.WithLeeway(clockSkewLeeway), jwt.WithIssuer(issuer), jwt.WithAudience(audience))
	}

	tok, err := parse(current)
	if (err != nil || !tok.Valid) && len(prev) > 0 {
		tok, err = parse(prev)
	}
	if err != nil || tok == nil || !tok.Valid {
		return Claims{}, ErrAuthInvalid
	}

	return claims, nil
}

// Refresh issues a new inner JWT with identical subject and permissions
// but a fresh expiry, reusing the existing opaque id rather than minting
// a new one (see DESIGN.md's Open Question decision). The old id remains
// valid until it naturally expires since its row is overwritten only
// with fresh ciphertext, not deleted and reissued.
func (s *Service) Refresh(ctx context.Context, opaque string) (string, error) {
	claims, err := s.Resolve(ctx, opaque)
	if err != nil {
		return "", err
	}

	now := time.Now()
	expiresAt := now.Add(s.tokenTTL)
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(expiresAt)

	signed, err := s.sign(claims)
	if err != nil {
		return "", err
	}

	ciphertext, err := s.encrypt([]byte(signed))
	if err != nil {
		return "", err
	}

	_, err = s.store.ExecuteUpdate(ctx,
		`UPDATE secure_tokens SET ciphertext = :ciphertext, expires_at = :expires_at WHERE opaque_id = :opaque_id`,
		map[string]any{"ciphertext": ciphertext, "expires_at": float64(expiresAt.Unix()), "opaque_id": opaque})
	if err != nil {
		return "", err
	}

	return opaque, nil
}

// RotateSigningKey replaces the active signing key. Subsequent signs use
// the new key; verification tries the current key then the previous one,
// so tokens issued just before a rotation still validate.
func (s *Service) RotateSigningKey(newKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prevSignKey = s.signingKey
	s.signingKey = []byte(newKey)
}
