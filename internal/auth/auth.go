// Package auth identifies the viewer behind a feed request.
package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/blackmichael/bluesky-listfeed/internal/domain"
	atauth "github.com/bluesky-social/indigo/atproto/auth"
	"github.com/bluesky-social/indigo/atproto/identity"
	"github.com/bluesky-social/indigo/atproto/syntax"
)

// GetFeedSkeletonMethod is the lexicon method service auth tokens must be
// scoped to.
const GetFeedSkeletonMethod = "app.bsky.feed.getFeedSkeleton"

const devTokenPrefix = "dev:"

// Verifier resolves an Authorization header to the requester's DID. Every
// failure wraps domain.ErrNotAuthorized.
type Verifier interface {
	Verify(ctx context.Context, authorization string) (string, error)
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", fmt.Errorf("%w: authorization header is missing", domain.ErrNotAuthorized)
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || scheme != "Bearer" {
		return "", fmt.Errorf("%w: invalid authorization header", domain.ErrNotAuthorized)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("%w: empty bearer token", domain.ErrNotAuthorized)
	}
	return token, nil
}

// ServiceAuthVerifier checks atproto inter-service JWTs issued for this feed
// generator.
type ServiceAuthVerifier struct {
	validator *atauth.ServiceAuthValidator
	method    syntax.NSID
}

// NewServiceAuthVerifier creates a verifier accepting tokens whose audience
// is serviceDID. Issuer keys are resolved through dir.
func NewServiceAuthVerifier(serviceDID string, dir identity.Directory) *ServiceAuthVerifier {
	return &ServiceAuthVerifier{
		validator: &atauth.ServiceAuthValidator{Audience: serviceDID, Dir: dir},
		method:    syntax.NSID(GetFeedSkeletonMethod),
	}
}

// Verify validates the bearer token and returns its issuer DID.
func (v *ServiceAuthVerifier) Verify(ctx context.Context, authorization string) (string, error) {
	token, err := BearerToken(authorization)
	if err != nil {
		return "", err
	}
	did, err := v.validator.Validate(ctx, token, &v.method)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrNotAuthorized, err)
	}
	return did.String(), nil
}

// DevVerifier accepts "dev:<did>" bearer tokens for local testing and hands
// everything else to next. It must only be enabled in debug mode.
type DevVerifier struct {
	next Verifier
}

// NewDevVerifier wraps next. next may be nil, in which case only dev tokens
// are accepted.
func NewDevVerifier(next Verifier) *DevVerifier {
	return &DevVerifier{next: next}
}

// Verify returns the DID named by a dev token, or defers to the wrapped
// verifier.
func (v *DevVerifier) Verify(ctx context.Context, authorization string) (string, error) {
	token, err := BearerToken(authorization)
	if err != nil {
		return "", err
	}
	if raw, ok := strings.CutPrefix(token, devTokenPrefix); ok {
		did, err := syntax.ParseDID(raw)
		if err != nil {
			return "", fmt.Errorf("%w: dev token: %w", domain.ErrNotAuthorized, err)
		}
		return did.String(), nil
	}
	if v.next == nil {
		return "", fmt.Errorf("%w: only dev tokens are accepted", domain.ErrNotAuthorized)
	}
	return v.next.Verify(ctx, authorization)
}
