package signature

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/trustline/trustline/internal/model"
)

// ErrNoIdentity is returned when a Signer has no identity to sign with.
var ErrNoIdentity = errors.New("signer has no service identity")

// Signer attaches the service identity headers to outbound requests.
type Signer struct {
	identity model.ServiceIdentity
	now      func() time.Time
}

// NewSigner creates a Signer for the given identity.
func NewSigner(identity model.ServiceIdentity) *Signer {
	return &Signer{identity: identity, now: time.Now}
}

// WithClock returns a copy of the signer using the given time source.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	cp := *s
	cp.now = now
	return &cp
}

// ServiceID returns the identity this signer speaks for.
func (s *Signer) ServiceID() string {
	return s.identity.ServiceID
}

// Sign sets the four identity headers on req. body must be exactly the
// bytes that will be sent; nil means an empty body.
func (s *Signer) Sign(req *http.Request, body []byte) error {
	if s.identity.ServiceID == "" || len(s.identity.Secret) == 0 {
		return ErrNoIdentity
	}

	timestamp := FormatTimestamp(s.now().Unix())
	sig := Compute(s.identity.Secret, req.Method, req.URL.EscapedPath(), body, s.identity.ServiceID, timestamp)

	req.Header.Set(HeaderServiceToken, s.identity.Token)
	req.Header.Set(HeaderServiceID, s.identity.ServiceID)
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderSignature, sig)
	return nil
}

// Transport signs every request at send time.
type Transport struct {
	Base   http.RoundTripper
	Signer *Signer
}

// NewTransport wraps base (http.DefaultTransport when nil).
func NewTransport(base http.RoundTripper, signer *Signer) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{Base: base, Signer: signer}
}

// RoundTrip implements http.RoundTripper. The caller's headers are not
// modified; a clone carries the signature headers.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	body, err := readBody(req)
	if err != nil {
		return nil, err
	}

	signed := req.Clone(req.Context())
	if body != nil {
		signed.Body = io.NopCloser(bytes.NewReader(body))
	}
	if err := t.Signer.Sign(signed, body); err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}
	signed.Header.Set("User-Agent", "trustline-service/"+t.Signer.ServiceID())

	return t.Base.RoundTrip(signed)
}

func readBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()
	b, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	return b, nil
}
