// Package challenge constructs the structured 403 response a web API
// returns when a downstream token acquisition needs the calling client
// to re-authenticate or re-consent. The client parses the challenge,
// resolves it interactively, and retries; no retry happens here.
package challenge

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// Action proposes how the client should resolve the challenge.
type Action string

const (
	ActionConsent      Action = "consent"
	ActionForceRefresh Action = "forceRefresh"
)

// Parameters is the structured hint serialized into the challenge
// header. It is constructed transiently per response and never
// persisted.
type Parameters struct {
	ClientID       string
	Scopes         []string
	Claims         string
	ProposedAction Action
}

// Error codes reported by the acquisition collaborator.
const (
	// CodeInteractionRequired: no usable cached credential; the user must
	// participate to proceed.
	CodeInteractionRequired = "interaction_required"

	// CodeInvalidGrant: the inbound grant was rejected by the identity
	// provider.
	CodeInvalidGrant = "invalid_grant"
)

// tokenVersionMismatchMarker identifies an invalid_grant caused by a
// v1/v2 accepted-token-version mismatch between app registrations.
// Re-consenting cannot fix a registration bug, so these are fatal.
const tokenVersionMismatchMarker = "AADSTS50013"

// AcquireError is a failed downstream acquisition that may be
// resolvable by client interaction.
type AcquireError struct {
	Code    string
	Claims  string
	Message string
}

func (e *AcquireError) Error() string {
	return fmt.Sprintf("token acquisition failed (%s): %s", e.Code, e.Message)
}

// tokenVersionMismatch reports whether the error is the unresolvable
// accepted-token-version case.
func tokenVersionMismatch(e *AcquireError) bool {
	return e.Code == CodeInvalidGrant && strings.Contains(e.Message, tokenVersionMismatchMarker)
}

// Respond evaluates a downstream acquisition failure. Errors the client
// can fix interactively produce a 403 with a WWW-Authenticate challenge
// and return nil. Errors that re-signing-in cannot fix — including the
// accepted-token-version mismatch — are returned unchanged with no
// challenge written, so a configuration bug never masquerades as a
// consent loop.
func Respond(w http.ResponseWriter, clientID string, scopes []string, err error) error {
	var ae *AcquireError
	if !errors.As(err, &ae) {
		return err
	}

	if tokenVersionMismatch(ae) {
		return err
	}

	p := Parameters{
		ClientID:       clientID,
		Scopes:         scopes,
		Claims:         ae.Claims,
		ProposedAction: ActionConsent,
	}

	log.Info().
		Str("client_id", clientID).
		Strs("scopes", scopes).
		Str("code", ae.Code).
		Msg("replying with consent challenge")

	Write(w, p)
	return nil
}

// Write sets the challenge on the response: status 403 with a single
// WWW-Authenticate header. Set (not Add) is deliberate — a later
// challenge replaces an earlier one rather than stacking conflicting
// headers.
func Write(w http.ResponseWriter, p Parameters) {
	w.Header().Set("WWW-Authenticate", p.Header())
	w.WriteHeader(http.StatusForbidden)
}

// Header renders the parameters as a bearer challenge header value:
//
//	Bearer clientId="...", claims="...", scopes="...", proposedAction="consent"
func (p Parameters) Header() string {
	pairs := []string{
		fmt.Sprintf("clientId=%q", p.ClientID),
		fmt.Sprintf("claims=%q", p.Claims),
		fmt.Sprintf("scopes=%q", strings.Join(p.Scopes, ",")),
		fmt.Sprintf("proposedAction=%q", string(p.ProposedAction)),
	}
	return "Bearer " + strings.Join(pairs, ", ")
}

// Parse decodes a challenge header value produced by Header. Clients
// use this to recover the parameters they need for interactive
// re-consent.
func Parse(header string) (Parameters, error) {
	rest, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return Parameters{}, fmt.Errorf("challenge is not a bearer challenge: %q", header)
	}

	var p Parameters
	for _, pair := range strings.Split(rest, ", ") {
		key, value, found := strings.Cut(pair, "=")
		if !found {
			return Parameters{}, fmt.Errorf("malformed challenge parameter %q", pair)
		}

		unquoted := strings.Trim(value, `"`)
		switch key {
		case "clientId":
			p.ClientID = unquoted
		case "claims":
			p.Claims = unquoted
		case "scopes":
			if unquoted != "" {
				p.Scopes = strings.Split(unquoted, ",")
			}
		case "proposedAction":
			p.ProposedAction = Action(unquoted)
		default:
			// Unknown parameters are ignored for forward compatibility.
		}
	}

	return p, nil
}
