package obs

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	accessDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_access_decisions_total",
			Help: "Access evaluator decisions by outcome (grant or deny).",
		},
		[]string{"outcome"},
	)

	agentLifecycle = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_agent_lifecycle_total",
			Help: "Agent lifecycle operations by action (assign or revoke).",
		},
		[]string{"action"},
	)
)

// Init registers engine metrics with the default registry. Call once at
// process startup.
func Init() {
	prometheus.MustRegister(accessDecisions, agentLifecycle)
}

// AccessDecision counts one grant/deny outcome.
func AccessDecision(outcome string) {
	accessDecisions.WithLabelValues(outcome).Inc()
}

// AgentLifecycle counts one assign/revoke operation.
func AgentLifecycle(action string) {
	agentLifecycle.WithLabelValues(action).Inc()
}
