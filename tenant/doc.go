// Package tenant carries the tenant id of a request on its context and
// resolves it from Supabase-style access tokens.
//
// Tokens are verified with the project's HS256 secret, with keys published
// at a JWKS endpoint, or both. The query coordinator folds the tenant into
// every cache key, so two tenants never read each other's cached results.
package tenant
