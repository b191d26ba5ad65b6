// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/tomtom215/carelink/internal/auth"
	"github.com/tomtom215/carelink/internal/session"
)

// Response headers set by the pipeline.
const (
	HeaderSessionExpiresAt = "X-Session-Expires-At"
	HeaderSessionWarning   = "X-Session-Warning"
	HeaderAuthMethod       = "X-Auth-Method"
	HeaderClearSession     = "X-Clear-Session"
)

// Request is the transport-independent input of the pipeline.
type Request struct {
	Token           string
	EmergencyKey    string
	EmergencyReason string
	SessionID       string
	IPAddress       string
	UserAgent       string
}

// Result accumulates what the steps produced.
type Result struct {
	Principal      *auth.Principal
	Session        *session.Session
	SessionCreated bool
	// SessionRenewed is set when validation moved ExpiresAt forward.
	SessionRenewed bool
	Warning        session.Warning
	// Header holds response headers for the transport to copy.
	Header http.Header
}

// Step is one stage of the pipeline. A returned error stops the pipeline
// and is surfaced as is.
type Step interface {
	Name() string
	Run(ctx context.Context, req *Request, res *Result) error
}

// Pipeline runs steps in order.
type Pipeline struct {
	steps []Step
}

// NewPipeline creates a pipeline.
func NewPipeline(steps ...Step) *Pipeline {
	return &Pipeline{steps: steps}
}

// Run executes every step. Errors are *auth.Error values.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	res := &Result{Header: make(http.Header)}
	for _, s := range p.steps {
		if err := s.Run(ctx, &req, res); err != nil {
			return res, err
		}
	}
	return res, nil
}

// Authenticator verifies credentials. Implemented by auth.Orchestrator.
type Authenticator interface {
	Authenticate(ctx context.Context, creds auth.Credentials) (*auth.Principal, error)
}

// AuthenticateStep resolves the principal.
type AuthenticateStep struct {
	Auth Authenticator
}

func (AuthenticateStep) Name() string { return "authenticate" }

func (s AuthenticateStep) Run(ctx context.Context, req *Request, res *Result) error {
	p, err := s.Auth.Authenticate(ctx, auth.Credentials{
		Token:           req.Token,
		EmergencyKey:    req.EmergencyKey,
		EmergencyReason: req.EmergencyReason,
		IPAddress:       req.IPAddress,
		UserAgent:       req.UserAgent,
	})
	if err != nil {
		return err
	}
	res.Principal = p
	res.Header.Set(HeaderAuthMethod, string(p.AuthMethod))
	return nil
}

// SessionEstablisher creates or validates sessions. Implemented by
// session.Manager.
type SessionEstablisher interface {
	EstablishOrValidate(ctx context.Context, p *auth.Principal, sessionID string, info session.RequestInfo) (*session.Session, session.Outcome, error)
}

// SessionStep attaches a session to the principal. Emergency access is
// stateless and skips it.
type SessionStep struct {
	Sessions SessionEstablisher
}

func (SessionStep) Name() string { return "session" }

func (s SessionStep) Run(ctx context.Context, req *Request, res *Result) error {
	if res.Principal == nil || res.Principal.AuthMethod == auth.MethodEmergency {
		return nil
	}
	sess, outcome, err := s.Sessions.EstablishOrValidate(ctx, res.Principal, req.SessionID,
		session.RequestInfo{IPAddress: req.IPAddress, UserAgent: req.UserAgent})
	if err != nil {
		return err
	}
	res.Session = sess
	res.SessionCreated = outcome == session.OutcomeCreated
	res.SessionRenewed = outcome == session.OutcomeRenewed
	return nil
}

// ExpiryWarner classifies how close a session is to expiry.
type ExpiryWarner interface {
	ExpiryWarning(s *session.Session) session.Warning
}

// ExpiryWarningStep surfaces the session deadline and any warning.
type ExpiryWarningStep struct {
	Warner ExpiryWarner
}

func (ExpiryWarningStep) Name() string { return "expiry-warning" }

func (s ExpiryWarningStep) Run(_ context.Context, _ *Request, res *Result) error {
	if res.Session == nil {
		return nil
	}
	res.Header.Set(HeaderSessionExpiresAt, res.Session.ExpiresAt.UTC().Format(time.RFC3339))
	res.Warning = s.Warner.ExpiryWarning(res.Session)
	if res.Warning != session.WarningNone {
		res.Header.Set(HeaderSessionWarning, string(res.Warning))
	}
	return nil
}

// DefaultPipeline wires the standard three steps.
func DefaultPipeline(a Authenticator, m *session.Manager) *Pipeline {
	return NewPipeline(
		AuthenticateStep{Auth: a},
		SessionStep{Sessions: m},
		ExpiryWarningStep{Warner: m},
	)
}
