// Package resolver turns provider callbacks into resolved sessions,
// exactly once, idempotently. It is the only writer of flow state after
// the initial send.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vault-auth/internal/auth"
	"vault-auth/internal/auth/flow"
	"vault-auth/internal/gateway"
	"vault-auth/internal/logger"
	"vault-auth/internal/profile"
)

// RetryPolicy bounds the "no session yet" retry right after an OAuth
// redirect. The gateway can lag its own redirect by a beat; one short
// retry absorbs that without looping.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// DefaultRetry is one retry after 500ms.
var DefaultRetry = RetryPolicy{Attempts: 1, Delay: 500 * time.Millisecond}

// Resolution is the outcome of a successful callback.
type Resolution struct {
	UserID    string
	Email     string
	IsNewUser bool
	ReturnURL string
	Referral  string
	Session   *gateway.Session
}

type Resolver struct {
	gw       gateway.IdentityGateway
	profiles profile.Store
	flows    flow.Store
	retry    RetryPolicy
}

func New(gw gateway.IdentityGateway, profiles profile.Store, flows flow.Store, retry RetryPolicy) *Resolver {
	if retry.Attempts < 0 {
		retry.Attempts = 0
	}
	return &Resolver{
		gw:       gw,
		profiles: profiles,
		flows:    flows,
		retry:    retry,
	}
}

// ResolveOAuth exchanges an authorization code for a session and
// reconciles local state. f may be nil when the flow cookie was lost;
// the exchange still succeeds, only return-URL and referral context are
// gone.
func (r *Resolver) ResolveOAuth(ctx context.Context, f *flow.Flow, code, codeVerifier string) (*Resolution, error) {
	if replay := r.replayed(f); replay != nil {
		return replay, nil
	}

	sess, err := r.gw.ExchangeCode(ctx, code, codeVerifier)
	if err != nil {
		return nil, r.fail(ctx, f, err)
	}
	return r.finish(ctx, f, sess)
}

// ResolveOTP exchanges an emailed code or magic-link token. The flow's
// own TTL is enforced before the gateway is asked, so a locally expired
// attempt reports Expired even if the gateway would still accept it.
func (r *Resolver) ResolveOTP(ctx context.Context, f *flow.Flow, email, token string, kind gateway.VerifyKind) (*Resolution, error) {
	if replay := r.replayed(f); replay != nil {
		return replay, nil
	}

	if f != nil && f.ExpiredAt(time.Now()) {
		return nil, r.fail(ctx, f, auth.ErrExpired)
	}

	sess, err := r.gw.VerifyOTP(ctx, email, token, kind)
	if err != nil {
		return nil, r.fail(ctx, f, err)
	}
	return r.finish(ctx, f, sess)
}

// ResolveExisting handles the double-invocation case: the callback ran
// again (remount, duplicate navigation) and the browser already holds
// an access token. An established session is success, not an error.
// "No session yet" is retried per the policy, then surfaced as a
// failure with an actionable retry, never a silent loop.
func (r *Resolver) ResolveExisting(ctx context.Context, f *flow.Flow, accessToken string) (*Resolution, error) {
	if replay := r.replayed(f); replay != nil {
		return replay, nil
	}

	sess, err := r.getSessionWithRetry(ctx, accessToken)
	if err != nil {
		return nil, r.fail(ctx, f, err)
	}
	if sess == nil {
		return nil, r.fail(ctx, f, auth.ErrAuthenticationFailed)
	}
	return r.finish(ctx, f, sess)
}

func (r *Resolver) getSessionWithRetry(ctx context.Context, accessToken string) (*gateway.Session, error) {
	sess, err := r.gw.GetSession(ctx, accessToken)
	if err != nil || sess != nil {
		return sess, err
	}

	for attempt := 0; attempt < r.retry.Attempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.retry.Delay):
		}

		sess, err = r.gw.GetSession(ctx, accessToken)
		if err != nil || sess != nil {
			return sess, err
		}
	}
	return nil, nil
}

// replayed returns the stored resolution for an already-verified flow,
// making double invocation of the callback a no-op.
func (r *Resolver) replayed(f *flow.Flow) *Resolution {
	if f == nil || f.State != flow.StateVerified || f.Resolved == nil {
		return nil
	}
	return &Resolution{
		UserID:    f.Resolved.UserID,
		Email:     f.Resolved.Email,
		IsNewUser: f.Resolved.IsNewUser,
		ReturnURL: f.ReturnURL,
		Referral:  f.Referral,
	}
}

// finish reconciles the profile mirror and marks the flow verified.
// The existence check runs before the write: the upsert destroys the
// isNewUser signal, so check-then-write ordering is load-bearing.
func (r *Resolver) finish(ctx context.Context, f *flow.Flow, sess *gateway.Session) (*Resolution, error) {
	identity := sess.Identity
	if identity.UserID == "" {
		return nil, fmt.Errorf("%w: session missing user id", auth.ErrAuthenticationFailed)
	}

	isNew := false
	_, err := r.profiles.Get(ctx, identity.UserID)
	switch {
	case errors.Is(err, profile.ErrNotFound):
		isNew = true
		if _, err := r.profiles.Create(ctx, identity); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		if err := r.profiles.Touch(ctx, identity); err != nil {
			return nil, err
		}
	}

	res := &Resolution{
		UserID:    identity.UserID,
		Email:     identity.Email,
		IsNewUser: isNew,
		Session:   sess,
	}

	if f != nil {
		res.ReturnURL = f.ReturnURL
		res.Referral = f.Referral

		if err := f.Apply(flow.EventVerified, time.Now()); err != nil {
			// Flow bookkeeping must not undo a successful login.
			logger.Warn("flow already left awaiting state", map[string]any{
				"flow":  f.ID,
				"state": string(f.State),
			})
		} else {
			f.Resolved = &flow.Resolution{
				UserID:    identity.UserID,
				Email:     identity.Email,
				IsNewUser: isNew,
			}
			if err := r.flows.Update(ctx, *f); err != nil {
				logger.Error("failed to persist resolved flow", map[string]any{
					"flow":  f.ID,
					"error": err.Error(),
				})
			}
		}
	}

	// Referral codes attach to durable records only after
	// verification, never on pending attempts.
	if res.Referral != "" {
		if err := r.profiles.SetReferral(ctx, identity.UserID, res.Referral); err != nil {
			logger.Error("failed to persist referral", map[string]any{
				"user":  identity.UserID,
				"error": err.Error(),
			})
		}
	}

	return res, nil
}

// fail transitions the flow into its terminal state. Expired and Failed
// are distinct on purpose: the correct user action differs (resend vs
// retry provider).
func (r *Resolver) fail(ctx context.Context, f *flow.Flow, cause error) error {
	if f == nil {
		return cause
	}

	ev := flow.EventFailed
	if errors.Is(cause, auth.ErrExpired) {
		ev = flow.EventExpired
	}

	if err := f.Apply(ev, time.Now()); err == nil {
		if err := r.flows.Update(ctx, *f); err != nil {
			logger.Error("failed to persist failed flow", map[string]any{
				"flow":  f.ID,
				"error": err.Error(),
			})
		}
	}
	return cause
}
