/*
Package authkit owns authentication and session lifecycle for the Meridian
study-abroad portal client. Every other client surface (program tables,
application forms, document upload) consumes this package's trust state and
otherwise stays out of auth entirely.

# Overview

The package is organized around four cooperating pieces:

  - Client: typed access to the portal's auth endpoints, carrying the
    StateStore and the request Transport.
  - StateStore: the single source of truth for {user, token, mfaVerified},
    hydrated from a credstore.Store and published to subscribers on change.
  - Flow: the entry paths into a session: credential login, sign-up,
    silent SSO discovery, and startup hydration.
  - Transport: an http.RoundTripper that attaches the bearer token to every
    outbound request and reacts to server-signaled session expiry.

# Trust progression

A session moves anonymous → pending-MFA → verified:

	cache, err := cfg.OpenCache()
	if err != nil {
		// an unusable cache path; fall back to credstore.NewMemStore()
	}
	client := authkit.New(cfg, cache)
	flow := authkit.NewFlow(client)

	challenge, err := flow.Login(ctx, username, password)
	if err != nil {
		// authkit.ErrInvalidCredentials for rejected logins
	}
	if challenge != nil {
		// Account requires step-up; the guard denies until verified.
		if err := challenge.Verify(ctx, code); err != nil {
			// Session is already logged out; start over.
		}
	}

Route protection is a pure predicate over the store's snapshot:

	if !authkit.CanEnter(client.Store().Snapshot()) {
		// redirect to the public landing surface
	}

# Session expiry

The server is the sole clock authority for both the idle window and the
absolute session ceiling. The Transport watches every response for the
expiry signal, clears the store, and notifies once:

	client.OnSessionExpired(func(err *authkit.SessionExpiredError) {
		// show the blocking re-login modal; err.Cause selects the message
	})

# Persistence

Complete sessions survive restarts through a credstore.Store (file-backed,
sqlite-backed, or in-memory). Flow.Hydrate restores the cached session
optimistically and confirms it against the current-principal endpoint; a
rejected token silently resets to anonymous.
*/
package authkit
