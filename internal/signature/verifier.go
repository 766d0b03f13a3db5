package signature

import (
	"bytes"
	"crypto/subtle"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/trustline/trustline/internal/model"
)

// DefaultReplayWindow bounds how far a timestamp may drift from the
// verifier's clock in either direction.
const DefaultReplayWindow = 300 * time.Second

// Reason explains why an envelope was rejected. Never sent to the caller.
type Reason string

// Rejection reasons, in the order the checks run.
const (
	ReasonNone           Reason = ""
	ReasonMissingHeaders Reason = "missing_headers"
	ReasonInvalidToken   Reason = "invalid_token"
	ReasonStaleTimestamp Reason = "stale_or_future_timestamp"
	ReasonBadSignature   Reason = "bad_signature"
)

// Envelope is the inbound view of a signed request.
type Envelope struct {
	Method    string
	Path      string
	Body      []byte
	Token     string
	ServiceID string
	Timestamp string
	Signature string
}

// Result is the outcome of a verification.
type Result struct {
	Accepted  bool
	Reason    Reason
	ServiceID string
}

func accept(serviceID string) Result {
	return Result{Accepted: true, ServiceID: serviceID}
}

func reject(reason Reason) Result {
	return Result{Reason: reason}
}

// Registry resolves the identities a verifier trusts.
type Registry struct {
	identities map[string]model.ServiceIdentity
}

// NewRegistry builds an immutable registry from the given identities.
func NewRegistry(identities ...model.ServiceIdentity) *Registry {
	m := make(map[string]model.ServiceIdentity, len(identities))
	for _, id := range identities {
		m[id.ServiceID] = id
	}
	return &Registry{identities: m}
}

// Lookup returns the identity registered for serviceID.
func (r *Registry) Lookup(serviceID string) (model.ServiceIdentity, bool) {
	id, ok := r.identities[serviceID]
	return id, ok
}

// Verifier is the server-side gate for inbound service calls.
// It holds no per-request state and is safe for concurrent use.
type Verifier struct {
	registry *Registry
	window   time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithReplayWindow overrides DefaultReplayWindow.
func WithReplayWindow(window time.Duration) VerifierOption {
	return func(v *Verifier) {
		if window > 0 {
			v.window = window
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// WithLogger sets the logger used for verification outcomes.
func WithLogger(logger *slog.Logger) VerifierOption {
	return func(v *Verifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// NewVerifier creates a Verifier over the given registry.
func NewVerifier(registry *Registry, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		registry: registry,
		window:   DefaultReplayWindow,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify runs the checks in order and stops at the first failure.
func (v *Verifier) Verify(env Envelope) Result {
	v.logger.Debug("service request verification started",
		slog.String("service_id", env.ServiceID),
		slog.String("method", env.Method),
		slog.String("path", env.Path),
	)

	res := v.verify(env)

	if res.Accepted {
		v.logger.Info("service request accepted",
			slog.String("service_id", res.ServiceID),
			slog.String("endpoint", env.Method+" "+env.Path),
		)
	} else {
		v.logger.Warn("service request rejected",
			slog.String("reason", string(res.Reason)),
			slog.String("service_id", env.ServiceID),
			slog.String("endpoint", env.Method+" "+env.Path),
		)
	}
	return res
}

func (v *Verifier) verify(env Envelope) Result {
	if env.Token == "" || env.ServiceID == "" || env.Timestamp == "" || env.Signature == "" {
		return reject(ReasonMissingHeaders)
	}

	identity, ok := v.registry.Lookup(env.ServiceID)
	if !ok || subtle.ConstantTimeCompare([]byte(identity.Token), []byte(env.Token)) != 1 {
		return reject(ReasonInvalidToken)
	}

	ts, err := strconv.ParseInt(env.Timestamp, 10, 64)
	if err != nil {
		return reject(ReasonStaleTimestamp)
	}
	now, window := v.now().Unix(), int64(v.window/time.Second)
	if ts < now-window || ts > now+window {
		return reject(ReasonStaleTimestamp)
	}

	expected := Compute(identity.Secret, env.Method, stripQuery(env.Path), env.Body, env.ServiceID, env.Timestamp)
	if !Equal(expected, env.Signature) {
		return reject(ReasonBadSignature)
	}

	return accept(env.ServiceID)
}

// FromRequest reads the envelope fields from an inbound request.
// The body is consumed and replaced so handlers can read it again.
func FromRequest(r *http.Request) (Envelope, error) {
	var body []byte
	if r.Body != nil {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			return Envelope{}, fmt.Errorf("read request body: %w", err)
		}
		_ = r.Body.Close()
		body = b
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	return Envelope{
		Method:    r.Method,
		Path:      r.URL.EscapedPath(),
		Body:      body,
		Token:     r.Header.Get(HeaderServiceToken),
		ServiceID: r.Header.Get(HeaderServiceID),
		Timestamp: r.Header.Get(HeaderTimestamp),
		Signature: r.Header.Get(HeaderSignature),
	}, nil
}
