package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Security-core metrics. Labels stay low-cardinality: method/result/reason
// only, never identifiers or IPs.
var (
	AuthFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "security_auth_failures_total",
			Help: "Failed authentication attempts recorded by the lockout manager.",
		},
		[]string{"kind"},
	)

	LockoutsApplied = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "security_lockouts_applied_total",
		Help: "Account locks applied.",
	})

	MFAVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "security_mfa_verifications_total",
			Help: "MFA verification attempts by method and result.",
		},
		[]string{"method", "result"},
	)

	SessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "security_session_transitions_total",
			Help: "Session lifecycle transitions by reason.",
		},
		[]string{"transition"},
	)

	CryptoOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "security_crypto_operations_total",
			Help: "Encryption engine operations by type and result.",
		},
		[]string{"op", "result"},
	)

	KeyRotations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "security_key_rotations_total",
		Help: "Encryption key rotations performed.",
	})

	AuditFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "security_audit_fallback_total",
		Help: "Audit entries diverted to the fallback log channel.",
	})

	NotifyDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "security_notifications_dropped_total",
		Help: "Outbound notifications dropped or failed (best-effort sends).",
	})
)

// Init registers the security metrics with the default registry.
func Init() {
	prometheus.MustRegister(
		AuthFailures,
		LockoutsApplied,
		MFAVerifications,
		SessionTransitions,
		CryptoOperations,
		KeyRotations,
		AuditFallbacks,
		NotifyDropped,
	)
}

// Handler exposes the Prometheus scrape endpoint for embedding callers.
func Handler() http.Handler {
	return promhttp.Handler()
}
