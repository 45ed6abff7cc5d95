// Package secret resolves credentials referenced from configuration.
//
// A configuration string may name an environment variable with ${NAME}, or
// point at a provider with a secret reference:
//
//	gateway:
//	  supabase_key: secretref:env:SUPABASE_SERVICE_KEY
//	  dsn: file:${DATA_DIR}/invoices.db
//
// The env and file providers are built in. Other providers are plugged in
// through a Registry. Providers never log the values they return.
package secret
