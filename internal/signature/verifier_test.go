package signature

import (
	"bytes"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/trustline/trustline/internal/model"
)

var testIdentity = model.ServiceIdentity{
	ServiceID: "auth-service",
	Token:     "test-token",
	Secret:    []byte("test-secret"),
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestVerifier(now time.Time) *Verifier {
	return NewVerifier(
		NewRegistry(testIdentity),
		WithClock(func() time.Time { return now }),
		WithLogger(discardLogger()),
	)
}

func signedEnvelope(method, path string, body []byte, ts int64) Envelope {
	timestamp := FormatTimestamp(ts)
	return Envelope{
		Method:    method,
		Path:      path,
		Body:      body,
		Token:     testIdentity.Token,
		ServiceID: testIdentity.ServiceID,
		Timestamp: timestamp,
		Signature: Compute(testIdentity.Secret, method, path, body, testIdentity.ServiceID, timestamp),
	}
}

func TestVerifier_Verify(t *testing.T) {
	now := time.Unix(1736600000, 0)
	v := newTestVerifier(now)
	valid := signedEnvelope("GET", "/internal/users/test@example.com", nil, now.Unix())

	tests := []struct {
		name   string
		mutate func(e *Envelope)
		want   Reason
	}{
		{
			name:   "valid envelope",
			mutate: func(e *Envelope) {},
			want:   ReasonNone,
		},
		{
			name:   "missing token",
			mutate: func(e *Envelope) { e.Token = "" },
			want:   ReasonMissingHeaders,
		},
		{
			name:   "missing service id",
			mutate: func(e *Envelope) { e.ServiceID = "" },
			want:   ReasonMissingHeaders,
		},
		{
			name:   "missing timestamp",
			mutate: func(e *Envelope) { e.Timestamp = "" },
			want:   ReasonMissingHeaders,
		},
		{
			name:   "missing signature",
			mutate: func(e *Envelope) { e.Signature = "" },
			want:   ReasonMissingHeaders,
		},
		{
			name:   "invalid token",
			mutate: func(e *Envelope) { e.Token = "invalid-token" },
			want:   ReasonInvalidToken,
		},
		{
			name:   "unknown service",
			mutate: func(e *Envelope) { e.ServiceID = "billing-service" },
			want:   ReasonInvalidToken,
		},
		{
			name:   "non-integer timestamp",
			mutate: func(e *Envelope) { e.Timestamp = "yesterday" },
			want:   ReasonStaleTimestamp,
		},
		{
			name:   "invalid signature",
			mutate: func(e *Envelope) { e.Signature = "invalid-signature" },
			want:   ReasonBadSignature,
		},
		{
			name:   "tampered body",
			mutate: func(e *Envelope) { e.Body = []byte(`{"role":"admin"}`) },
			want:   ReasonBadSignature,
		},
		{
			name:   "tampered path",
			mutate: func(e *Envelope) { e.Path = "/internal/users/other@example.com" },
			want:   ReasonBadSignature,
		},
		{
			name:   "lower-case method still verifies",
			mutate: func(e *Envelope) { e.Method = "get" },
			want:   ReasonNone,
		},
		{
			name:   "query string is ignored",
			mutate: func(e *Envelope) { e.Path += "?debug=1" },
			want:   ReasonNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := valid
			tt.mutate(&env)

			res := v.Verify(env)
			if res.Reason != tt.want {
				t.Errorf("Verify() reason = %q, want %q", res.Reason, tt.want)
			}
			if res.Accepted != (tt.want == ReasonNone) {
				t.Errorf("Verify() accepted = %v, want %v", res.Accepted, tt.want == ReasonNone)
			}
		})
	}
}

func TestVerifier_ReplayWindowBoundaries(t *testing.T) {
	now := time.Unix(1736600000, 0)
	v := newTestVerifier(now)

	tests := []struct {
		name   string
		offset int64
		accept bool
	}{
		{"now", 0, true},
		{"300s in the past", -300, true},
		{"300s in the future", 300, true},
		{"301s in the past", -301, false},
		{"301s in the future", 301, false},
		{"400s in the past", -400, false},
		{"10 minutes in the future", 600, false},
		{"offset wraps int64", math.MinInt64, false},
		{"max int64 timestamp", math.MaxInt64 - 1736600000, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Correctly signed for its own timestamp.
			env := signedEnvelope("GET", "/test/", nil, now.Unix()+tt.offset)
			res := v.Verify(env)
			if res.Accepted != tt.accept {
				t.Errorf("Verify() accepted = %v, want %v (reason %q)", res.Accepted, tt.accept, res.Reason)
			}
			if !tt.accept && res.Reason != ReasonStaleTimestamp {
				t.Errorf("Verify() reason = %q, want %q", res.Reason, ReasonStaleTimestamp)
			}
		})
	}
}

func TestVerifier_CustomReplayWindow(t *testing.T) {
	now := time.Unix(1736600000, 0)
	v := NewVerifier(
		NewRegistry(testIdentity),
		WithClock(func() time.Time { return now }),
		WithReplayWindow(30*time.Second),
		WithLogger(discardLogger()),
	)

	if res := v.Verify(signedEnvelope("GET", "/", nil, now.Unix()-31)); res.Accepted {
		t.Error("expected rejection outside a 30s window")
	}
	if res := v.Verify(signedEnvelope("GET", "/", nil, now.Unix()-30)); !res.Accepted {
		t.Errorf("expected acceptance inside a 30s window, got %q", res.Reason)
	}
}

func TestVerifier_AnyFlippedSignatureByteRejects(t *testing.T) {
	now := time.Unix(1736600000, 0)
	v := newTestVerifier(now)
	env := signedEnvelope("POST", "/internal/users", []byte(`{"email":"a@b.com"}`), now.Unix())

	for i := 0; i < len(env.Signature); i++ {
		flipped := []byte(env.Signature)
		if flipped[i] == '0' {
			flipped[i] = '1'
		} else {
			flipped[i] = '0'
		}

		tampered := env
		tampered.Signature = string(flipped)
		if res := v.Verify(tampered); res.Accepted || res.Reason != ReasonBadSignature {
			t.Fatalf("byte %d flipped: accepted=%v reason=%q", i, res.Accepted, res.Reason)
		}
	}
}

func TestVerifier_LogsReasonButNotSecrets(t *testing.T) {
	var buf bytes.Buffer
	now := time.Unix(1736600000, 0)
	v := NewVerifier(
		NewRegistry(testIdentity),
		WithClock(func() time.Time { return now }),
		WithLogger(slog.New(slog.NewJSONHandler(&buf, nil))),
	)

	env := signedEnvelope("GET", "/test/", nil, now.Unix())
	env.Signature = strings.Repeat("0", 64)
	v.Verify(env)

	out := buf.String()
	if !strings.Contains(out, string(ReasonBadSignature)) {
		t.Errorf("expected reason in log output, got %s", out)
	}
	for _, secret := range []string{testIdentity.Token, string(testIdentity.Secret)} {
		if strings.Contains(out, secret) {
			t.Errorf("log output contains secret %q", secret)
		}
	}
}

func TestFromRequest(t *testing.T) {
	body := []byte(`{"email":"a@b.com"}`)
	req := httptest.NewRequest(http.MethodPost, "/internal/users?x=1", bytes.NewReader(body))
	req.Header.Set(HeaderServiceToken, "tok")
	req.Header.Set(HeaderServiceID, "svc")
	req.Header.Set(HeaderTimestamp, "123")
	req.Header.Set(HeaderSignature, "abc")

	env, err := FromRequest(req)
	if err != nil {
		t.Fatalf("FromRequest() error = %v", err)
	}

	if env.Method != http.MethodPost || env.Path != "/internal/users" {
		t.Errorf("unexpected method/path: %s %s", env.Method, env.Path)
	}
	if !bytes.Equal(env.Body, body) {
		t.Errorf("body = %q, want %q", env.Body, body)
	}
	if env.Token != "tok" || env.ServiceID != "svc" || env.Timestamp != "123" || env.Signature != "abc" {
		t.Errorf("unexpected headers: %+v", env)
	}

	// Body must still be readable downstream.
	again, _ := io.ReadAll(req.Body)
	if !bytes.Equal(again, body) {
		t.Errorf("body was not restored, got %q", again)
	}
}
