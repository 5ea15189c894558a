// Package webhook serves the provider's signed webhook callbacks.
//
// Every request body is authenticated with HMAC-SHA256 over the raw bytes
// before any parsing happens; an invalid signature is rejected with 403.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"eth-swap-ingester/internal/observability"
)

// SignatureHeader carries the hex HMAC digest of the request body.
const SignatureHeader = "X-Alchemy-Signature"

// Envelope is the provider's webhook payload frame.
type Envelope struct {
	WebhookID string          `json:"webhookId"`
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"createdAt"`
	Type      string          `json:"type"`
	Event     json.RawMessage `json:"event"`
}

// Handler consumes authenticated webhook envelopes.
type Handler func(env *Envelope)

// Server verifies and dispatches webhook requests.
type Server struct {
	signingKey []byte
	handler    Handler
	metrics    *observability.Metrics
	logger     *log.Logger
}

// Options configures a Server.
type Options struct {
	// SigningKey is the shared secret the provider signs bodies with.
	SigningKey string
	// Handler receives each authenticated envelope. Optional; envelopes
	// are still verified and counted without one.
	Handler Handler
	Metrics *observability.Metrics
	Logger  *log.Logger
}

// NewServer creates a webhook server.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.NewMetrics("")
	}
	return &Server{
		signingKey: []byte(opts.SigningKey),
		handler:    opts.Handler,
		metrics:    metrics,
		logger:     logger,
	}
}

// ValidSignature reports whether signature is the hex HMAC-SHA256 digest of
// body under key.
func ValidSignature(body []byte, signature string, key []byte) bool {
	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.metrics.WebhookRequests.WithLabelValues("read_error").Inc()
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	if !ValidSignature(body, r.Header.Get(SignatureHeader), s.signingKey) {
		s.metrics.WebhookRequests.WithLabelValues("bad_signature").Inc()
		s.logger.Printf("[webhook] rejected request with invalid signature from %s", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		s.metrics.WebhookRequests.WithLabelValues("bad_payload").Inc()
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	s.metrics.WebhookRequests.WithLabelValues("ok").Inc()
	if s.handler != nil {
		s.handler(&env)
	}
	w.WriteHeader(http.StatusOK)
}
