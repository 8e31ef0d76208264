package secret

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// refPrefix introduces a secret reference: secretref:<provider>:<ref>.
const refPrefix = "secretref:"

// inlineRefPattern finds secret references embedded in larger strings,
// such as "Bearer secretref:env:API_TOKEN". Provider and ref run until
// whitespace; the ref may itself contain colons (file paths, ARNs).
var inlineRefPattern = regexp.MustCompile(`secretref:([^:\s]+):([^\s]+)`)

var (
	// ErrUnknownProvider reports a reference naming a provider that was
	// never registered with the resolver.
	ErrUnknownProvider = errors.New("secret: unknown provider")

	// ErrEmptyValue reports a provider returning "" while the resolver
	// is in strict mode.
	ErrEmptyValue = errors.New("secret: empty value")
)

// Resolver turns secret references into their values.
//
// A value of the form "secretref:<provider>:<ref>" resolves through the
// named provider. Any other value goes through strict environment
// expansion, with inline secretref tokens replaced in place. A nil
// Resolver still expands environment variables; it just has no providers.
type Resolver struct {
	providers map[string]Provider
	strict    bool
}

// NewResolver builds a resolver over the given providers. In strict mode
// a provider returning an empty value is an error rather than "".
func NewResolver(strict bool, providers ...Provider) *Resolver {
	r := &Resolver{providers: make(map[string]Provider), strict: strict}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds a provider, replacing any previous one with the same name.
func (r *Resolver) Register(p Provider) {
	if r == nil || p == nil {
		return
	}
	if r.providers == nil {
		r.providers = make(map[string]Provider)
	}
	r.providers[p.Name()] = p
}

// ResolveValue expands environment variables in value and resolves any
// secret references, whether the whole value is a reference or references
// are embedded inline.
func (r *Resolver) ResolveValue(ctx context.Context, value string) (string, error) {
	expanded, err := ExpandEnvStrict(value)
	if err != nil {
		return "", err
	}
	return r.ResolveRefs(ctx, expanded)
}

// ResolveRefs resolves secret references in value without expanding
// environment variables first. Use it for values that already went
// through expansion, where a stray $ is data rather than a reference.
func (r *Resolver) ResolveRefs(ctx context.Context, value string) (string, error) {
	if r == nil {
		return value, nil
	}
	if providerName, ref, ok := ParseSecretRef(value); ok {
		return r.lookup(ctx, providerName, ref)
	}
	return r.expandInline(ctx, value)
}

// ResolveMap resolves every value in input, keyed errors included.
// Configuration uses this for per-provider credential maps.
func (r *Resolver) ResolveMap(ctx context.Context, input map[string]string) (map[string]string, error) {
	if input == nil {
		return nil, nil
	}
	out := make(map[string]string, len(input))
	for k, v := range input {
		resolved, err := r.ResolveValue(ctx, v)
		if err != nil {
			return nil, fmt.Errorf("resolve %q: %w", k, err)
		}
		out[k] = resolved
	}
	return out, nil
}

// Close closes every registered provider and joins their errors.
func (r *Resolver) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	for _, p := range r.providers {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}

// ParseSecretRef splits a full reference of the form
//
//	secretref:<provider>:<ref>
//
// into its provider name and ref. ok is false when value is not a
// reference or either part is empty.
func ParseSecretRef(value string) (provider, ref string, ok bool) {
	rest, found := strings.CutPrefix(value, refPrefix)
	if !found {
		return "", "", false
	}
	provider, ref, ok = strings.Cut(rest, ":")
	if !ok || provider == "" || ref == "" {
		return "", "", false
	}
	return provider, ref, true
}

// lookup resolves one provider/ref pair. Callers guarantee both parts
// are non-empty.
func (r *Resolver) lookup(ctx context.Context, providerName, ref string) (string, error) {
	p, ok := r.providers[providerName]
	if !ok || p == nil {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, providerName)
	}
	resolved, err := p.Resolve(ctx, ref)
	if err != nil {
		return "", err
	}
	if r.strict && resolved == "" {
		return "", fmt.Errorf("%w: provider %q returned nothing for %q", ErrEmptyValue, providerName, ref)
	}
	return resolved, nil
}

// expandInline replaces each embedded secretref token in value with its
// resolved secret, leaving the surrounding text intact.
func (r *Resolver) expandInline(ctx context.Context, value string) (string, error) {
	matches := inlineRefPattern.FindAllStringSubmatchIndex(value, -1)
	if len(matches) == 0 {
		return value, nil
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		resolved, err := r.lookup(ctx, value[m[2]:m[3]], value[m[4]:m[5]])
		if err != nil {
			return "", err
		}
		b.WriteString(value[last:m[0]])
		b.WriteString(resolved)
		last = m[1]
	}
	b.WriteString(value[last:])
	return b.String(), nil
}
