// Package auth authenticates account holders and issues HS256 access tokens.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/congo-pay/otpay/internal/ledger"
)

var (
	// ErrInvalidCredentials hides whether the address or the password was wrong.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrInvalidToken is returned for malformed, forged or expired tokens.
	ErrInvalidToken = errors.New("invalid token")
)

// Claims are the access token claims. Subject is the account id.
type Claims struct {
	jwt.RegisteredClaims
	Name string `json:"name"`
}

// Service verifies passwords and signs tokens.
type Service struct {
	accounts ledger.Store
	secret   []byte
	issuer   string
	ttl      time.Duration
	now      func() time.Time
}

func NewService(accounts ledger.Store, secret, issuer string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Service{
		accounts: accounts,
		secret:   []byte(secret),
		issuer:   issuer,
		ttl:      ttl,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Credentials are the login form fields.
type Credentials struct {
	Email    string
	Password string
}

// Session is the outcome of a successful login.
type Session struct {
	AccountID   string
	Name        string
	AccessToken string
	ExpiresAt   time.Time
}

// Login checks the password against the stored bcrypt hash and issues a token.
func (s *Service) Login(ctx context.Context, creds Credentials) (Session, error) {
	address, err := ledger.NormalizeAddress(creds.Email)
	if err != nil {
		return Session{}, ErrInvalidCredentials
	}
	account, err := s.accounts.GetAccountByAddress(ctx, address)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, err
	}
	if len(account.PasswordHash) == 0 ||
		bcrypt.CompareHashAndPassword(account.PasswordHash, []byte(creds.Password)) != nil {
		return Session{}, ErrInvalidCredentials
	}

	token, expiresAt, err := s.Issue(account)
	if err != nil {
		return Session{}, err
	}
	return Session{AccountID: account.ID, Name: account.Name, AccessToken: token, ExpiresAt: expiresAt}, nil
}

// Issue signs an access token for the account.
func (s *Service) Issue(account ledger.Account) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.ID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Name: account.Name,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ParseToken validates signature, expiry and issuer.
func (s *Service) ParseToken(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
