package secret

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const refPrefix = "secretref:"

// Resolver expands environment variables and secret references in
// configuration strings.
type Resolver struct {
	providers map[string]Provider
	strict    bool
}

// NewResolver creates a resolver over providers. In strict mode a provider
// returning an empty value is an error.
func NewResolver(strict bool, providers ...Provider) *Resolver {
	r := &Resolver{providers: make(map[string]Provider), strict: strict}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// NewDefaultResolver creates a strict resolver with every provider in
// DefaultRegistry, built with empty configuration.
func NewDefaultResolver() (*Resolver, error) {
	r := NewResolver(true)
	for _, name := range DefaultRegistry.List() {
		p, err := DefaultRegistry.Create(name, nil)
		if err != nil {
			return nil, err
		}
		r.Register(p)
	}
	return r, nil
}

// Register adds or replaces a provider.
func (r *Resolver) Register(p Provider) {
	if p == nil {
		return
	}
	r.providers[p.Name()] = p
}

// Close closes every provider.
func (r *Resolver) Close() error {
	var errs []error
	for _, p := range r.providers {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}

// ParseRef splits secretref:<provider>:<ref>. ok is false when value is not
// a secret reference at all.
func ParseRef(value string) (provider, ref string, ok bool) {
	if !strings.HasPrefix(value, refPrefix) {
		return "", "", false
	}
	provider, ref, found := strings.Cut(strings.TrimPrefix(value, refPrefix), ":")
	if !found || provider == "" || ref == "" {
		return "", "", false
	}
	return provider, ref, true
}

var inlineRef = regexp.MustCompile(`secretref:([^:\s]+):(\S+)`)

// ResolveValue expands environment variables in value, then resolves a
// whole-value secret reference or any references embedded in it.
func (r *Resolver) ResolveValue(ctx context.Context, value string) (string, error) {
	expanded, err := ExpandEnvStrict(value)
	if err != nil {
		return "", err
	}
	if provider, ref, ok := ParseRef(expanded); ok {
		return r.resolve(ctx, provider, ref)
	}
	if strings.HasPrefix(expanded, refPrefix) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, expanded)
	}

	matches := inlineRef.FindAllStringSubmatchIndex(expanded, -1)
	out := expanded
	for i := len(matches) - 1; i >= 0; i-- {
		m := matches[i]
		v, err := r.resolve(ctx, out[m[2]:m[3]], out[m[4]:m[5]])
		if err != nil {
			return "", err
		}
		out = out[:m[0]] + v + out[m[1]:]
	}
	return out, nil
}

// ResolveFields resolves each non-empty string in place. name labels the
// field in errors.
func (r *Resolver) ResolveFields(ctx context.Context, fields map[string]*string) error {
	for name, field := range fields {
		if field == nil || *field == "" {
			continue
		}
		v, err := r.ResolveValue(ctx, *field)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", name, err)
		}
		*field = v
	}
	return nil
}

func (r *Resolver) resolve(ctx context.Context, provider, ref string) (string, error) {
	p, ok := r.providers[provider]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	v, err := p.Resolve(ctx, ref)
	if err != nil {
		return "", err
	}
	if r.strict && v == "" {
		return "", fmt.Errorf("%w: %s:%s", ErrEmptySecret, provider, ref)
	}
	return v, nil
}
