package constants

// Пути health, ready и сокетов; REST-группы описаны в router.
const (
	PathHealth    = "/health"
	PathReady     = "/ready"
	PathMetrics   = "/metrics"
	PathSignaling = "/ws/signaling/:user_id"
	PathMedia     = "/"
	PathStreams   = "/streams"
)

// HeaderUserID carries the caller identity set by the API gateway.
const HeaderUserID = "X-User-ID"
