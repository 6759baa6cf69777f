package backend

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// Resolver maps descriptor kinds to client factories.
type Resolver struct {
	factories  map[string]Factory
	httpClient *http.Client
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithFactory registers or replaces the factory for kind.
func WithFactory(kind string, f Factory) ResolverOption {
	return func(r *Resolver) {
		r.factories[kind] = f
	}
}

// WithHTTPClient sets the HTTP client handed to every factory.
func WithHTTPClient(c *http.Client) ResolverOption {
	return func(r *Resolver) {
		r.httpClient = c
	}
}

// NewResolver returns a resolver with the built-in providers registered.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		factories: map[string]Factory{
			KindOpenAI:    NewOpenAIBackend,
			KindAnthropic: NewAnthropicBackend,
			KindGemini:    NewGeminiBackend,
			KindCompat:    NewCompatBackend,
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Kinds lists the registered kinds.
func (r *Resolver) Kinds() []string {
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Validate checks desc without building a client.
func (r *Resolver) Validate(desc Descriptor) error {
	desc = desc.Normalize()

	if _, ok := r.factories[desc.Kind]; !ok {
		return fmt.Errorf("%w: %s: unknown kind %q (want one of %s)",
			ErrConfigInvalid, desc.label(), desc.Kind, strings.Join(r.Kinds(), ", "))
	}
	if strings.TrimSpace(desc.Model) == "" {
		return fmt.Errorf("%w: %s: model is required", ErrConfigInvalid, desc.label())
	}
	if desc.Endpoint != "" {
		u, err := url.Parse(desc.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: %s: endpoint %q is not an http(s) URL", ErrConfigInvalid, desc.label(), desc.Endpoint)
		}
	}
	if desc.Kind == KindCompat && desc.Endpoint == "" {
		return fmt.Errorf("%w: %s: endpoint is required for compat backends", ErrConfigInvalid, desc.label())
	}
	if desc.Hosted() && desc.APIKey == "" {
		hint := ""
		if desc.APIKeyEnv != "" {
			hint = fmt.Sprintf(" (set %s)", desc.APIKeyEnv)
		}
		return fmt.Errorf("%w: %s: api key is required%s", ErrConfigInvalid, desc.label(), hint)
	}
	if desc.Temperature < 0 || desc.TopP < 0 || desc.TopP > 1 || desc.MaxTokens < 0 {
		return fmt.Errorf("%w: %s: sampling parameters out of range", ErrConfigInvalid, desc.label())
	}
	return nil
}

// Resolve validates desc and builds its client. needImage requests image
// support, which the descriptor must declare.
func (r *Resolver) Resolve(desc Descriptor, needImage bool) (Backend, error) {
	desc = desc.Normalize()
	if err := r.Validate(desc); err != nil {
		return nil, err
	}
	if needImage && !desc.SupportsImage {
		return nil, fmt.Errorf("%w: %s (%s) does not accept images", ErrUnsupportedCapability, desc.label(), desc.Model)
	}

	b, err := r.factories[desc.Kind](desc, FactoryOptions{HTTPClient: r.httpClient})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConfigInvalid, desc.label(), err)
	}
	return b, nil
}

func (d Descriptor) label() string {
	if d.Name != "" {
		return d.Name
	}
	return "backend"
}
