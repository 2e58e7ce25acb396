package engine

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openhooks/matchbook/internal/domain"
)

// Admin returns the current admin identity.
func (e *Engine) Admin() common.Address {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.admin
}

// PendingAdmin returns the candidate of an in-flight handoff, or the zero
// address when none is pending.
func (e *Engine) PendingAdmin() common.Address {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pendingAdmin
}

// ProposeAdmin starts the two-step admin handoff. The change takes effect
// only when the candidate calls AcceptAdmin, so a typo cannot hand control
// to an unreachable address. Proposing again overwrites any earlier pending
// candidate.
func (e *Engine) ProposeAdmin(ctx context.Context, caller, candidate common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.admin {
		return domain.ErrNotAdmin
	}
	e.pendingAdmin = candidate

	e.emit(ctx, domain.EventAdminProposed, domain.AdminProposedEvent{
		Admin:   e.admin,
		Pending: candidate,
	})
	return nil
}

// AcceptAdmin finalizes the handoff. Only the pending candidate may call it.
func (e *Engine) AcceptAdmin(ctx context.Context, caller common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pendingAdmin == (common.Address{}) || caller != e.pendingAdmin {
		return domain.ErrNotPendingAdmin
	}
	previous := e.admin
	e.admin = caller
	e.pendingAdmin = common.Address{}

	e.emit(ctx, domain.EventAdminChanged, domain.AdminChangedEvent{
		Previous: previous,
		Admin:    caller,
	})
	return nil
}

// AddToWhitelist authorizes account to post orders and have swaps matched.
// Idempotent: re-adding an authorized account is a silent no-op.
func (e *Engine) AddToWhitelist(ctx context.Context, caller, account common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.admin {
		return domain.ErrNotAdmin
	}
	if e.whitelist[account] {
		return nil
	}
	e.whitelist[account] = true

	e.emit(ctx, domain.EventWhitelistUpdated, domain.WhitelistUpdatedEvent{
		Account: account,
		Added:   true,
	})
	return nil
}

// RemoveFromWhitelist revokes authorization. The account's resting orders
// stay live and it can still swap through the pool; it just stops being
// matched.
func (e *Engine) RemoveFromWhitelist(ctx context.Context, caller, account common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.admin {
		return domain.ErrNotAdmin
	}
	if !e.whitelist[account] {
		return nil
	}
	delete(e.whitelist, account)

	e.emit(ctx, domain.EventWhitelistUpdated, domain.WhitelistUpdatedEvent{
		Account: account,
		Added:   false,
	})
	return nil
}

// IsWhitelisted reports whether account may post orders and be matched.
func (e *Engine) IsWhitelisted(account common.Address) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.whitelist[account]
}
