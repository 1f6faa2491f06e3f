/*
Package access controls which users may act within which company.

PURPOSE:
  Every API operation runs on behalf of a user against one company. The Gate
  answers whether that pairing is allowed and with what role. Membership data
  lives outside this engine; deployments plug in their own Gate. StaticGate
  serves tests and single-box setups, AllowAll serves local development.
*/
package access

import (
	"context"
	"errors"
	"sync"
)

// Role is a user's standing within a company.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// ErrDenied reports a user acting outside their company.
var ErrDenied = errors.New("access denied")

// Gate checks company membership.
type Gate interface {
	// CheckAccess returns the user's role within the company, or ErrDenied.
	CheckAccess(ctx context.Context, userID, companyID string) (Role, error)
}

// =============================================================================
// STATIC GATE - explicit grants, for tests and single-box setups
// =============================================================================

type StaticGate struct {
	mu     sync.RWMutex
	grants map[grantKey]Role
}

type grantKey struct {
	UserID    string
	CompanyID string
}

func NewStaticGate() *StaticGate {
	return &StaticGate{grants: make(map[grantKey]Role)}
}

// Grant records a membership.
func (g *StaticGate) Grant(userID, companyID string, role Role) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.grants[grantKey{UserID: userID, CompanyID: companyID}] = role
}

func (g *StaticGate) CheckAccess(_ context.Context, userID, companyID string) (Role, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	role, ok := g.grants[grantKey{UserID: userID, CompanyID: companyID}]
	if !ok {
		return "", ErrDenied
	}
	return role, nil
}

// =============================================================================
// ALLOW ALL - local development only
// =============================================================================

type AllowAll struct{}

func NewAllowAll() *AllowAll { return &AllowAll{} }

func (AllowAll) CheckAccess(_ context.Context, _, _ string) (Role, error) {
	return RoleAdmin, nil
}
