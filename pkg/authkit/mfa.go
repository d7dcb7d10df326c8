package authkit

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// MFAStatus tracks where a session is in the step-up lifecycle.
type MFAStatus string

const (
	// MFAInactive: the account has no factor configured.
	MFAInactive MFAStatus = "inactive"

	// MFAEnabledUnverified: a factor is configured but this session has not
	// stepped up yet.
	MFAEnabledUnverified MFAStatus = "enabled_unverified"

	// MFAVerifying: a code submission is in flight.
	MFAVerifying MFAStatus = "verifying"

	// MFAVerified: the session is fully trusted.
	MFAVerified MFAStatus = "verified"

	// MFAActivating: a new factor enrollment is in flight.
	MFAActivating MFAStatus = "activating"

	// MFADeactivating: factor removal is in flight.
	MFADeactivating MFAStatus = "deactivating"
)

// MFAStatus reports where the session sits in the factor lifecycle. While a
// verification, enrollment, or removal call is in flight the transient
// status wins; otherwise the status is derived from the store's snapshot.
// The portal's account-security screen renders its spinner and badges off
// this single value.
func (c *Client) MFAStatus() MFAStatus {
	c.mfaMu.Lock()
	flight := c.mfaFlight
	c.mfaMu.Unlock()
	if flight != "" {
		return flight
	}

	snap := c.store.Snapshot()
	switch {
	case snap.User == nil || !snap.User.MFAEnabled:
		return MFAInactive
	case snap.MFAVerified:
		return MFAVerified
	default:
		return MFAEnabledUnverified
	}
}

func (c *Client) beginMFA(st MFAStatus) {
	c.mfaMu.Lock()
	c.mfaFlight = st
	c.mfaMu.Unlock()
}

func (c *Client) endMFA() {
	c.mfaMu.Lock()
	c.mfaFlight = ""
	c.mfaMu.Unlock()
}

// MFAChallenge is the ephemeral hand-off between credential login and full
// trust. It holds the pre-verified user/token pair and is consumed by
// exactly one of Verify or Cancel; it is never persisted.
//
// A failed Verify logs the whole session out rather than allowing
// retry-in-place: a rejected code must not leave a lingering
// half-authenticated state.
type MFAChallenge struct {
	client *Client
	user   *Principal
	token  string

	mu     sync.Mutex
	status MFAStatus
	done   bool
}

func newMFAChallenge(client *Client, user *Principal, token string) *MFAChallenge {
	return &MFAChallenge{
		client: client,
		user:   user,
		token:  token,
		status: MFAEnabledUnverified,
	}
}

// User returns the pending principal, for challenge UI display.
func (ch *MFAChallenge) User() *Principal { return ch.user }

// Status returns the challenge's current lifecycle state.
func (ch *MFAChallenge) Status() MFAStatus {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.status
}

// Verify submits the one-time code against the pending session. Success
// marks the store verified; any failure (rejected code, network, server)
// logs the session out entirely and consumes the challenge.
func (ch *MFAChallenge) Verify(ctx context.Context, code string) error {
	ch.mu.Lock()
	if ch.done {
		ch.mu.Unlock()
		return ErrChallengeConsumed
	}
	ch.status = MFAVerifying
	ch.mu.Unlock()

	ch.client.beginMFA(MFAVerifying)
	defer ch.client.endMFA()

	resp, err := ch.client.mfaVerify(ctx, ch.token, code)

	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.done = true

	if err != nil || !resp.Success {
		ch.status = MFAEnabledUnverified
		ch.client.store.Logout()
		if err != nil {
			return fmt.Errorf("mfa verification failed: %w", errors.Join(ErrMFARejected, err))
		}
		return ErrMFARejected
	}

	ch.status = MFAVerified
	ch.client.store.VerifyMFA()
	return nil
}

// Cancel abandons the challenge and logs the pending session out. Closing
// the step-up dialog without verifying must not leave an "authenticated but
// never verified" state behind. Idempotent.
func (ch *MFAChallenge) Cancel() {
	ch.mu.Lock()
	if ch.done {
		ch.mu.Unlock()
		return
	}
	ch.done = true
	ch.status = MFAEnabledUnverified
	ch.mu.Unlock()

	ch.client.store.Logout()
}

// ============================================================================
// Factor management (fully authenticated sessions only)
// ============================================================================

// ActivateMFA enrolls a TOTP factor for the current account, proving
// possession with a code from the user's authenticator app. Secret
// provisioning happens server-side. Requires a fully verified session. On
// success the local principal is updated and the session counts as
// stepped-up, since the user just used the factor.
func (c *Client) ActivateMFA(ctx context.Context, code string) error {
	state := c.store.Snapshot()
	if !CanEnter(state) {
		return ErrNotAuthenticated
	}

	c.beginMFA(MFAActivating)
	defer c.endMFA()

	if err := c.mfaActivate(ctx, code); err != nil {
		return fmt.Errorf("activate mfa: %w", err)
	}

	user := *state.User
	user.MFAEnabled = true
	c.store.SetUser(&user)
	c.store.VerifyMFA()
	return nil
}

// DeactivateMFA disables the account's TOTP factor. Requires a fully
// verified session.
func (c *Client) DeactivateMFA(ctx context.Context) error {
	state := c.store.Snapshot()
	if !CanEnter(state) {
		return ErrNotAuthenticated
	}

	c.beginMFA(MFADeactivating)
	defer c.endMFA()

	if err := c.mfaDeactivate(ctx); err != nil {
		return fmt.Errorf("deactivate mfa: %w", err)
	}

	user := *state.User
	user.MFAEnabled = false
	c.store.SetUser(&user)
	return nil
}
