// Package config loads querycache settings from YAML and the environment.
//
// Every key can be overridden by an environment variable with the prefix
// QUERYCACHE_ and dots replaced by underscores, so gateway.supabase_key
// becomes QUERYCACHE_GATEWAY_SUPABASE_KEY. String credentials may use
// ${NAME} expansion or secretref:<provider>:<ref> references, which are
// resolved before validation.
package config
