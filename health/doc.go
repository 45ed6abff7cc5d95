// Package health reports whether the query cache and its data gateway can
// serve.
//
// A Checker returns a Result with one of three statuses. StoreChecker is
// degraded when the cache store is disabled or grows past configured limits.
// GatewayChecker pings the gateway and reports the circuit breaker state when
// the gateway is wrapped in one.
//
// An Aggregator runs registered checkers concurrently under a deadline:
//
//	agg := health.NewAggregator()
//	agg.Register(health.NewStoreChecker(store, health.StoreCheckerConfig{MaxEntries: 10000}))
//	agg.Register(health.NewGatewayChecker(gw))
//
//	http.ListenAndServe(":8081", health.NewRouter(agg))
//
// The router serves /healthz, /readyz, /health and /health/{name}.
package health
