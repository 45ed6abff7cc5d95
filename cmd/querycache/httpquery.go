package main

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jonwraymond/querycache/observe"
	"github.com/jonwraymond/querycache/query"
)

// queryOptions reads fetch options from the URL query:
//
//	?columns=id,status&filter=status=eq:open&order=due:desc&limit=10&offset=0&ttl=30s
func queryOptions(req *http.Request) (*fetchOptions, error) {
	q := req.URL.Query()
	opts := &fetchOptions{filters: q["filter"], order: q["order"], tags: q["tag"]}
	if c := q.Get("columns"); c != "" {
		opts.columns = strings.Split(c, ",")
	}

	var err error
	if s := q.Get("limit"); s != "" {
		if opts.limit, err = strconv.Atoi(s); err != nil {
			return nil, fmt.Errorf("limit: %w", err)
		}
	}
	if s := q.Get("offset"); s != "" {
		if opts.offset, err = strconv.Atoi(s); err != nil {
			return nil, fmt.Errorf("offset: %w", err)
		}
	}
	if s := q.Get("ttl"); s != "" {
		if opts.ttl, err = time.ParseDuration(s); err != nil {
			return nil, fmt.Errorf("ttl: %w", err)
		}
	}
	return opts, nil
}

// handleQuery serves GET /query/{collection} through the cache, scoped to
// the tenant on the request context.
func (a *app) handleQuery(w http.ResponseWriter, req *http.Request) {
	collection := chi.URLParam(req, "collection")
	opts, err := queryOptions(req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	fa, err := opts.fetchArgs()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	ttl := opts.ttl
	if ttl == 0 {
		ttl = a.cfg.Cache.DefaultTTL
	}
	tags := opts.tags
	if len(tags) == 0 {
		tags = []string{collection}
	}

	res := a.coord.Fetch(req.Context(), collection, fa, query.WithCache(ttl, tags...))
	if res.Err != nil {
		a.logger.Warn(req.Context(), "query failed",
			observe.F("collection", collection),
			observe.F("error", res.Err.Error()),
		)
		writeJSON(w, http.StatusBadGateway, outputOf(res))
		return
	}
	writeJSON(w, http.StatusOK, outputOf(res))
}
