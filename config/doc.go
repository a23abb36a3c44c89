// Package config loads the service configuration.
//
// Configuration starts from Default, then each file layer (JSON or YAML) is
// deep-merged on top, then INTEL_* environment variables override individual
// values. Duration fields accept Go duration strings ("30s", "2m") and a "d"
// suffix for days.
//
//	loader := config.NewLoader()
//	loader.AddLayer("configs/base.yaml")
//	loader.AddLayer("configs/production.yaml")
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//		return err
//	}
//
// Recognized environment overrides:
//
//	INTEL_SERVICE_NAME, INTEL_ENVIRONMENT
//	INTEL_NATS_URL, INTEL_NATS_USERNAME, INTEL_NATS_PASSWORD, INTEL_NATS_TOKEN
//	INTEL_SQLITE_PATH, INTEL_GATHERER_SOURCE, INTEL_GATHERER_KV_BUCKET
//	INTEL_GATEWAY_ENABLED, INTEL_GATEWAY_PREFIX
//	INTEL_METRICS_ENABLED, INTEL_METRICS_PORT, INTEL_CACHE_ENABLED
//	INTEL_PIPELINE_BATCH_WORKERS, INTEL_PIPELINE_PLUGIN_TIMEOUT, INTEL_PIPELINE_BATCH_TIMEOUT
//
// Files are read with size, depth and path-traversal limits.
package config
