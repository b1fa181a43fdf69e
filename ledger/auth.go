/*
auth.go - GM authorization

PURPOSE:
  Decides whether a caller may run a mutating operation. A caller is a GM
  when any of these hold:
  - its ID equals the configured GM user ID (when one is configured)
  - the configured GM role name is non-empty and in the caller's roles
  - the caller is a guild administrator

RUNTIME ROLE CHANGES:
  The GM role name is the one piece of configuration that may change
  after startup. Authorizer holds it behind a lock; SetGMRole takes
  effect for every check that starts after it returns. Checks already
  running keep the value they read.

Role membership and the admin flag are resolved by the chat gateway;
this package only evaluates them.
*/
package ledger

import (
	"strings"
	"sync"
)

// Caller is the identity behind a request, as resolved by the gateway.
type Caller struct {
	ID      string
	Roles   []string
	IsAdmin bool
}

// IsAuthorized is the pure authorization predicate.
func IsAuthorized(callerID string, callerRoles []string, callerIsAdmin bool, gmID, gmRole string) bool {
	if gmID != "" && callerID == gmID {
		return true
	}
	if gmRole != "" {
		for _, r := range callerRoles {
			if r == gmRole {
				return true
			}
		}
	}
	return callerIsAdmin
}

// Authorizer applies IsAuthorized against the current GM configuration.
type Authorizer struct {
	mu       sync.RWMutex
	gmUserID string
	gmRole   string
}

func NewAuthorizer(gmUserID, gmRole string) *Authorizer {
	return &Authorizer{
		gmUserID: strings.TrimSpace(gmUserID),
		gmRole:   strings.TrimSpace(gmRole),
	}
}

// Allowed reports whether c may mutate the ledger.
func (a *Authorizer) Allowed(c Caller) bool {
	a.mu.RLock()
	gmID, gmRole := a.gmUserID, a.gmRole
	a.mu.RUnlock()
	return IsAuthorized(c.ID, c.Roles, c.IsAdmin, gmID, gmRole)
}

// Check returns an *UnauthorizedError when c is not a GM.
func (a *Authorizer) Check(c Caller) error {
	if !a.Allowed(c) {
		return &UnauthorizedError{CallerID: c.ID}
	}
	return nil
}

// SetGMRole replaces the GM role name. An empty name disables role-based
// access. Returns the previous name.
func (a *Authorizer) SetGMRole(name string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	prev := a.gmRole
	a.gmRole = strings.TrimSpace(name)
	return prev
}

func (a *Authorizer) GMRole() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.gmRole
}

func (a *Authorizer) GMUserID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.gmUserID
}

// GMStatus is a snapshot of the GM configuration.
type GMStatus struct {
	UserID string
	Role   string
}

func (a *Authorizer) Status() GMStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return GMStatus{UserID: a.gmUserID, Role: a.gmRole}
}
