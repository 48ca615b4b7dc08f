package http

import (
	agentsapp "agentex/internal/agents/app"
	authapp "agentex/internal/auth/app"
	"agentex/internal/auth/ports"
	eventsapp "agentex/internal/events/app"
	"agentex/internal/logging"
	"agentex/internal/observability"
)

// RouterDeps carries the services the router hands to its handlers.
type RouterDeps struct {
	Verifier    ports.Verifier
	Admission   *authapp.Admission
	Sequencer   *eventsapp.Sequencer
	Trackers    *eventsapp.TrackerService
	Registrar   *agentsapp.Registrar
	Broadcaster *eventsapp.Broadcaster
	Metrics     *observability.MetricsCollector
	Tracer      *observability.TracerProvider
	Logger      logging.Logger
}

// RouterConfig carries the edge settings the router needs.
type RouterConfig struct {
	Environment string
	CORSOrigins []string
}
