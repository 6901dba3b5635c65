// Package request builds provider-specific sign-in requests and records
// just enough context to resolve the callback later.
package request

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vault-auth/internal/auth"
	"vault-auth/internal/auth/flow"
	"vault-auth/internal/auth/redirect"
	"vault-auth/internal/gateway"
	"vault-auth/internal/referral"

	"github.com/go-playground/validator/v10"
)

// ErrTermsNotAccepted guards the magic-link consent gate. The consent
// timestamp is part of the compliance record the gateway writes, so
// this is a hard precondition, not a UI nicety.
var ErrTermsNotAccepted = errors.New("terms must be accepted before a magic link is sent")

// Builder constructs sign-in requests for the four supported methods.
type Builder struct {
	gw       gateway.IdentityGateway
	flows    flow.Store
	policy   redirect.Policy
	validate *validator.Validate

	otpTTL       time.Duration
	magicLinkTTL time.Duration
}

type Options struct {
	OTPTTL       time.Duration
	MagicLinkTTL time.Duration
}

func NewBuilder(gw gateway.IdentityGateway, flows flow.Store, policy redirect.Policy, opts Options) *Builder {
	if opts.OTPTTL <= 0 {
		opts.OTPTTL = 10 * time.Minute
	}
	if opts.MagicLinkTTL <= 0 {
		opts.MagicLinkTTL = 60 * time.Minute
	}
	return &Builder{
		gw:           gw,
		flows:        flows,
		policy:       policy,
		validate:     validator.New(),
		otpTTL:       opts.OTPTTL,
		magicLinkTTL: opts.MagicLinkTTL,
	}
}

// BeginResult is everything the HTTP layer needs to launch an OAuth
// redirect: the gateway URL for a full-page navigation (OAuth requires a
// top-level redirect, not a fetch) and the flow to track it.
type BeginResult struct {
	RedirectURL string
	Flow        flow.Flow

	// Referral is the normalized code to persist in the short-TTL
	// cookie, or "" if none was supplied.
	Referral string
}

// BeginOAuth validates the provider and return URL, creates a Pending
// flow and returns the gateway authorization URL. State and PKCE values
// are owned by the HTTP layer (they live in cookies).
func (b *Builder) BeginOAuth(ctx context.Context, provider, returnURL, referralCode, state, codeChallenge string) (*BeginResult, error) {
	authURL, err := b.gw.OAuthURL(provider, state, codeChallenge)
	if err != nil {
		return nil, err
	}

	sanitized, _ := b.policy.Sanitize(returnURL)

	f, err := b.newFlow(auth.OAuthMethod(provider), "", sanitized, referralCode, b.magicLinkTTL)
	if err != nil {
		return nil, err
	}

	// OAuth is synchronous from the flow's perspective: the redirect
	// is the "send".
	if err := f.Apply(flow.EventSend, time.Now()); err != nil {
		return nil, err
	}
	if err := b.flows.Create(ctx, *f); err != nil {
		return nil, err
	}

	return &BeginResult{
		RedirectURL: authURL,
		Flow:        *f,
		Referral:    referral.Normalize(referralCode),
	}, nil
}

// SendOTP asks the gateway to email a one-time code. Rate limiting is
// the gateway's job; its throttle error passes through distinguished.
func (b *Builder) SendOTP(ctx context.Context, email string) (*flow.Flow, error) {
	if err := b.checkEmail(email); err != nil {
		return nil, err
	}

	f, err := b.newFlow(auth.MethodOTPEmail, email, "", "", b.otpTTL)
	if err != nil {
		return nil, err
	}

	if err := b.gw.SignInWithOTP(ctx, email); err != nil {
		return nil, err
	}

	if err := f.Apply(flow.EventSend, time.Now()); err != nil {
		return nil, err
	}
	if err := b.flows.Create(ctx, *f); err != nil {
		return nil, err
	}
	return f, nil
}

// SendMagicLink asks the gateway to email a single-use sign-in link.
func (b *Builder) SendMagicLink(ctx context.Context, email, returnURL string, acceptedTerms bool, referralCode string) (*flow.Flow, error) {
	if err := b.checkEmail(email); err != nil {
		return nil, err
	}
	if !acceptedTerms {
		return nil, ErrTermsNotAccepted
	}

	sanitized, _ := b.policy.Sanitize(returnURL)

	f, err := b.newFlow(auth.MethodMagicLink, email, sanitized, referralCode, b.magicLinkTTL)
	if err != nil {
		return nil, err
	}

	if err := b.gw.SendMagicLink(ctx, email, sanitized); err != nil {
		return nil, err
	}

	if err := f.Apply(flow.EventSend, time.Now()); err != nil {
		return nil, err
	}
	if err := b.flows.Create(ctx, *f); err != nil {
		return nil, err
	}
	return f, nil
}

// Resend re-dispatches verification for an expired attempt, preserving
// the original email. Only Expired flows can resend.
func (b *Builder) Resend(ctx context.Context, f *flow.Flow) error {
	now := time.Now()
	if err := f.Apply(flow.EventResend, now); err != nil {
		return err
	}

	var err error
	switch f.Method {
	case auth.MethodOTPEmail:
		err = b.gw.SignInWithOTP(ctx, f.SubjectHint)
	case auth.MethodMagicLink:
		err = b.gw.SendMagicLink(ctx, f.SubjectHint, f.ReturnURL)
	default:
		return fmt.Errorf("%w: method %q cannot resend", auth.ErrInvalidInput, f.Method)
	}
	if err != nil {
		return err
	}

	if err := f.Apply(flow.EventSend, now); err != nil {
		return err
	}
	return b.flows.Update(ctx, *f)
}

func (b *Builder) newFlow(method auth.Method, subject, returnURL, referralCode string, ttl time.Duration) (*flow.Flow, error) {
	id, err := flow.NewID()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &flow.Flow{
		ID:          id,
		Method:      method,
		SubjectHint: subject,
		State:       flow.StatePending,
		ReturnURL:   returnURL,
		Referral:    referral.Normalize(referralCode),
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}, nil
}

func (b *Builder) checkEmail(email string) error {
	if err := b.validate.Var(email, "required,email"); err != nil {
		return fmt.Errorf("%w: malformed email", auth.ErrInvalidInput)
	}
	return nil
}
