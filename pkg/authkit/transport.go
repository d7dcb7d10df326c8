package authkit

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/meridianabroad/portal/pkg/idx"
)

// Transport wraps every outbound request to the portal API. It attaches the
// bearer token and a request ID on the way out, and watches responses for
// the server's session-expired signal on the way back.
//
// Expiry handling is purely reactive: the server is the sole clock
// authority, so the transport never computes idle or absolute timeouts
// itself. On an expired response it clears the state store, fires the
// notify callback exactly once per expiry (latched in the store, reset by a
// fresh login), and hands the response back to the caller unchanged. The
// triggering request is never retried. Only tokens the transport attached
// itself are monitored; a 401 for a caller-supplied Authorization header is
// returned untouched.
type Transport struct {
	// Base is the underlying round tripper. Defaults to
	// http.DefaultTransport.
	Base http.RoundTripper

	// Store supplies the token and receives the clear on expiry.
	Store *StateStore

	// Notify is invoked once per expiry event with the server-reported
	// cause. Typically wired to a blocking re-login modal. May be nil.
	Notify func(*SessionExpiredError)

	// Log may be nil, in which case slog.Default is used.
	Log *slog.Logger
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) logger() *slog.Logger {
	if t.Log != nil {
		return t.Log
	}
	return slog.Default()
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Per RoundTripper contract the request must not be mutated.
	out := req.Clone(req.Context())

	reqID := idx.New()
	out.Header.Set("X-Request-ID", reqID.String())

	// A caller-supplied Authorization header wins; this lets flows act on a
	// token the store does not hold yet (e.g. SSO exchange follow-up).
	callerAuth := out.Header.Get("Authorization") != ""
	if !callerAuth {
		if token := t.Store.Token(); token != "" {
			out.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := t.base().RoundTrip(out)
	if err != nil {
		return nil, err
	}

	// Expiry is only a lifecycle event for the session the store vouches
	// for. A verdict on a caller-supplied token (hydration and SSO confirm
	// candidate tokens this way) is the caller's to handle quietly.
	if resp.StatusCode == http.StatusUnauthorized && !callerAuth {
		t.inspectExpiry(resp, reqID)
	}

	return resp, nil
}

// inspectExpiry checks a 401 response for the session-expired signal. The
// body is restored afterwards so the caller still sees the full response.
func (t *Transport) inspectExpiry(resp *http.Response, reqID idx.ID) {
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		resp.Body = io.NopCloser(bytes.NewReader(nil))
		return
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	var sig struct {
		Error string `json:"error"`
		Cause string `json:"cause"`
	}
	if err := json.Unmarshal(body, &sig); err != nil || sig.Error != ErrorCodeSessionExpired {
		// Any other 401 is the caller's problem, not a lifecycle event.
		return
	}

	// First observer wins; concurrent expired responses are swallowed.
	if !t.Store.markExpired() {
		return
	}

	t.logger().Info("session expired by server",
		"cause", sig.Cause,
		"req_id", reqID.String(),
	)

	t.Store.Logout()

	if t.Notify != nil {
		t.Notify(&SessionExpiredError{Cause: sig.Cause})
	}
}
