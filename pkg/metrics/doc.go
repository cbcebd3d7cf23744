/*
Package metrics provides Prometheus metrics collection and exposition for
flecs-core, plus lightweight health/readiness/liveness endpoints for
supervisors to poll.

Metrics are grouped by subsystem:

  - Vault: flecs_vault_reservation_wait_seconds, flecs_vault_flush_duration_seconds,
    flecs_vault_corrupt_records_total, flecs_apps_total, flecs_instances_total.
  - Quest Engine: flecs_quests_by_status, flecs_quests_scheduled_total,
    flecs_quest_duration_seconds.
  - floxy: flecs_floxy_writes_total, flecs_floxy_deletes_total.
  - Driver: flecs_driver_create_duration_seconds, flecs_driver_start_duration_seconds,
    flecs_driver_stop_duration_seconds.
  - API: flecs_api_requests_total, flecs_api_request_duration_seconds.

All metrics are package-level prometheus.Collector values registered with
the default registry in init(); Handler returns promhttp.Handler() for
mounting at /metrics. Collector (collector.go) samples the Vault and Quest
Engine on a 15s ticker to keep the gauges current between writes.

Health, readiness, and liveness are handled separately (health.go):
RegisterComponent/UpdateComponent track named components ("vault",
"containerd", "api", ...), HealthHandler/ReadyHandler/LivenessHandler
expose them as JSON over HTTP.
*/
package metrics
