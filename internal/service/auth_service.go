package service

import (
	"context"
	"strings"
	"time"

	"letterdesk/internal/account"
	"letterdesk/internal/util"
	"letterdesk/pkg/rbac"
)

type AuthService struct {
	accounts  *account.Directory
	jwtSecret string
	ttl       time.Duration
	admins    map[string]bool
}

// NewAuthService issues tokens for directory accounts. Emails in admins get
// the admin role whatever their stored role says.
func NewAuthService(accounts *account.Directory, jwtSecret string, ttl time.Duration, admins []string) *AuthService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	set := make(map[string]bool, len(admins))
	for _, a := range admins {
		set[strings.ToLower(strings.TrimSpace(a))] = true
	}
	return &AuthService{
		accounts:  accounts,
		jwtSecret: jwtSecret,
		ttl:       ttl,
		admins:    set,
	}
}

// Register creates a new account on plan.
func (s *AuthService) Register(ctx context.Context, email, password, plan string) (*account.Account, error) {
	return s.accounts.Create(ctx, email, password, plan)
}

// Login checks credentials and returns a signed token.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, *account.Account, error) {
	acct, err := s.accounts.Authenticate(ctx, email, password)
	if err != nil {
		return "", nil, err
	}
	token, err := util.GenerateJWT(acct.Email, s.RoleOf(acct), s.jwtSecret, s.ttl)
	if err != nil {
		return "", nil, err
	}
	return token, acct, nil
}

// RoleOf is the effective role of acct.
func (s *AuthService) RoleOf(acct *account.Account) string {
	if s.admins[acct.Email] {
		return rbac.RoleAdmin
	}
	return rbac.NormalizeRole(acct.Role)
}
