// Package jwt validates the inbound bearer token presented to the web
// API and exposes the validated identity to handlers. Token signature
// and claim validation is delegated to the JWKS-backed validator; this
// package only wires it into the middleware chain and the request
// context.
package jwt

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	jwtmiddleware "github.com/auth0/go-jwt-middleware/v2"
	"github.com/auth0/go-jwt-middleware/v2/jwks"
	"github.com/auth0/go-jwt-middleware/v2/validator"
	"github.com/rs/zerolog/log"

	"github.com/cachebridge/cachebridge/internal/config"
)

// Middleware returns HTTP middleware that verifies the JWT and enforces
// the issuer and audience claims. The validated claims are set on the
// request context and can be retrieved with ClaimsFromContext.
func Middleware(cfg config.AuthorizationConfig) (func(http.Handler) http.Handler, error) {
	issuerURL, err := url.Parse(cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid issuer URL: %w", err)
	}

	provider := jwks.NewCachingProvider(issuerURL, 5*time.Minute)

	jwtValidator, err := validator.New(
		provider.KeyFunc,
		validator.RS256,
		issuerURL.String(),
		[]string{cfg.Audience},
		validator.WithAllowedClockSkew(5*time.Second), // this could be configurable
	)
	if err != nil {
		return nil, fmt.Errorf("failed to set up the validator: %w", err)
	}

	middleware := jwtmiddleware.New(
		jwtValidator.ValidateToken,
		jwtmiddleware.WithErrorHandler(logErrorHandler()),
	)

	return middleware.CheckJWT, nil
}

func logErrorHandler() jwtmiddleware.ErrorHandler {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		log.Info().Err(err).Msg("inbound token validation failed")
		jwtmiddleware.DefaultErrorHandler(w, r, err)
	}
}

type claimsContextKey struct{}

// ContextWithClaims returns a new context.Context with the provided
// validated claims added to it. This is primarily for test usage.
func ContextWithClaims(ctx context.Context, claims *validator.ValidatedClaims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// ClaimsFromContext returns the validated claims from the context as
// set by the JWT middleware. This will return nil if the context data
// is not set; handlers behind the middleware should regard that as an
// error.
func ClaimsFromContext(ctx context.Context) *validator.ValidatedClaims {
	// Production: middleware stores claims under its own key
	if claims, ok := ctx.Value(jwtmiddleware.ContextKey{}).(*validator.ValidatedClaims); ok {
		return claims
	}
	// Test fallback: local key injection
	claims, _ := ctx.Value(claimsContextKey{}).(*validator.ValidatedClaims)
	return claims
}

// Subject returns the authenticated principal's stable identifier, or
// empty when the request is unauthenticated.
func Subject(ctx context.Context) string {
	claims := ClaimsFromContext(ctx)
	if claims == nil {
		return ""
	}
	return claims.RegisteredClaims.Subject
}

// BearerFromRequest extracts the literal bearer credential from the
// Authorization header, or empty when none is presented.
func BearerFromRequest(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return ""
	}
	return token
}
