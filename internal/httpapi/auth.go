package httpapi

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/argon2"

	"switchboard/internal/logger"
)

// adminClaims is the single-subject claim set for the admin bearer token;
// there is no user database, only one shared admin credential (spec §4.8).
type adminClaims struct {
	jwt.RegisteredClaims
}

// JWTService mints and verifies the admin bearer token. Grounded on
// destiny-lucas's internal/gateway/auth.go JWTService, narrowed from a
// per-user claim set to a single admin subject.
type JWTService struct {
	secretKey []byte
	issuer    string
	lifetime  time.Duration
}

func NewJWTService(secret string, lifetime time.Duration) *JWTService {
	return &JWTService{secretKey: []byte(secret), issuer: "switchboard", lifetime: lifetime}
}

func (j *JWTService) GenerateToken() (string, time.Duration, error) {
	now := time.Now()
	claims := &adminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin",
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.lifetime)),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(j.secretKey)
	return signed, j.lifetime, err
}

func (j *JWTService) ValidateToken(tokenString string) error {
	token, err := jwt.ParseWithClaims(tokenString, &adminClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secretKey, nil
	})
	if err != nil {
		return fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return fmt.Errorf("invalid token")
	}
	return nil
}

// PasswordService hashes and verifies the single admin password with
// Argon2id. Grounded on destiny-lucas's internal/gateway/auth.go
// PasswordService, unchanged in parameters.
type PasswordService struct {
	memory      uint32
	iterations  uint32
	parallelism uint8
	saltLength  uint32
	keyLength   uint32
}

func NewPasswordService() *PasswordService {
	return &PasswordService{
		memory:      64 * 1024,
		iterations:  3,
		parallelism: 2,
		saltLength:  16,
		keyLength:   32,
	}
}

func (p *PasswordService) HashPassword(password string) (string, error) {
	salt := make([]byte, p.saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, p.iterations, p.memory, p.parallelism, p.keyLength)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%x$%x",
		argon2.Version, p.memory, p.iterations, p.parallelism, salt, hash), nil
}

func (p *PasswordService) VerifyPassword(password, hashedPassword string) (bool, error) {
	memory, iterations, parallelism, salt, hash, err := p.parseHash(hashedPassword)
	if err != nil {
		return false, fmt.Errorf("failed to parse hash: %w", err)
	}
	inputHash := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, p.keyLength)
	return subtle.ConstantTimeCompare(hash, inputHash) == 1, nil
}

func (p *PasswordService) parseHash(encodedHash string) (memory uint32, iterations uint32, parallelism uint8, salt, hash []byte, err error) {
	var version int
	n, err := fmt.Sscanf(encodedHash, "$argon2id$v=%d$m=%d,t=%d,p=%d$%x$%x",
		&version, &memory, &iterations, &parallelism, &salt, &hash)
	if err != nil || n != 6 {
		return 0, 0, 0, nil, nil, fmt.Errorf("invalid hash format")
	}
	if version != argon2.Version {
		return 0, 0, 0, nil, nil, fmt.Errorf("incompatible version")
	}
	return memory, iterations, parallelism, salt, hash, nil
}

// AdminAuth bundles the password+JWT shim of spec §4.8.
type AdminAuth struct {
	jwt          *JWTService
	passwords    *PasswordService
	passwordHash string
	requireAuth  bool
}

// NewAdminAuth hashes cfg's configured admin password at startup so the
// plaintext is never compared or retained, and warns once if auth is
// enabled with either default still in place.
func NewAdminAuth(cfg *Config) (*AdminAuth, error) {
	ps := NewPasswordService()
	hash, err := ps.HashPassword(cfg.Security.AdminPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to hash admin password: %w", err)
	}
	if cfg.UsesUnsafeDefaults() {
		logger.Server("require_auth is enabled with a default admin password or token secret still in effect")
	}
	return &AdminAuth{
		jwt:          NewJWTService(cfg.Security.TokenSecret, time.Duration(cfg.Security.TokenLifetimeHours)*time.Hour),
		passwords:    ps,
		passwordHash: hash,
		requireAuth:  cfg.Security.RequireAuth,
	}, nil
}

// Login verifies password against the hashed admin password and mints a
// bearer token on success.
func (a *AdminAuth) Login(password string) (token string, expiresIn time.Duration, ok bool) {
	match, err := a.passwords.VerifyPassword(password, a.passwordHash)
	if err != nil || !match {
		return "", 0, false
	}
	token, expiresIn, err = a.jwt.GenerateToken()
	if err != nil {
		return "", 0, false
	}
	return token, expiresIn, true
}

// RequireAuth gates next behind a valid bearer token when auth is
// required by configuration; otherwise it is a no-op pass-through.
func (a *AdminAuth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.requireAuth {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			writeJSONError(w, http.StatusUnauthorized, "Authorization header must be a bearer token")
			return
		}
		token := strings.TrimPrefix(authHeader, bearerPrefix)
		if err := a.jwt.ValidateToken(token); err != nil {
			writeJSONError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
