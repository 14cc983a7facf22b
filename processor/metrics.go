package processor

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vocdoni/vocdoni-qf/crypto"
	"github.com/vocdoni/vocdoni-qf/message"
	"github.com/vocdoni/vocdoni-qf/state"
)

const metricsNamespace = "qf"

var (
	messagesApplied = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "processor",
		Name:      "messages_applied_total",
		Help:      "Number of messages applied to the state of a round.",
	})
	messagesDiscarded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "processor",
		Name:      "messages_discarded_total",
		Help:      "Number of messages discarded, by reason.",
	}, []string{"reason"})
	batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "processor",
		Name:      "batch_duration_seconds",
		Help:      "Time spent processing a message batch.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	})
	roundsFinalized = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "processor",
		Name:      "rounds_finalized_total",
		Help:      "Number of rounds whose tally and settlement were computed.",
	})
)

func init() {
	prometheus.MustRegister(messagesApplied, messagesDiscarded, batchDuration, roundsFinalized)
}

// Discard reasons, used as the label of the discarded messages counter.
const (
	ReasonMalformed           = "malformed"
	ReasonDegenerateKey       = "degenerate_key"
	ReasonInvalidStateIndex   = "invalid_state_index"
	ReasonInvalidSignature    = "invalid_signature"
	ReasonNonceMismatch       = "nonce_mismatch"
	ReasonInvalidRecipient    = "invalid_recipient"
	ReasonInsufficientCredits = "insufficient_credits"
	ReasonOverflow            = "overflow"
	ReasonOther               = "other"
)

// discardReason maps the error that discarded a message to its label.
func discardReason(err error) string {
	switch {
	case errors.Is(err, message.ErrMalformedMessage):
		return ReasonMalformed
	case errors.Is(err, message.ErrDegenerateKeyMaterial):
		return ReasonDegenerateKey
	case errors.Is(err, state.ErrInvalidStateIndex):
		return ReasonInvalidStateIndex
	case errors.Is(err, state.ErrSignatureInvalid):
		return ReasonInvalidSignature
	case errors.Is(err, state.ErrNonceMismatch):
		return ReasonNonceMismatch
	case errors.Is(err, state.ErrInvalidRecipient):
		return ReasonInvalidRecipient
	case errors.Is(err, state.ErrInsufficientCredits):
		return ReasonInsufficientCredits
	case errors.Is(err, crypto.ErrArithmeticOverflow):
		return ReasonOverflow
	default:
		return ReasonOther
	}
}
