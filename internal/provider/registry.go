package provider

import "fmt"

// Registry maps provider ids to configured clients. Selection is always
// caller-specified; there is no silent failover to another provider.
type Registry struct {
	clients map[string]Client
}

func NewRegistry(clients ...Client) *Registry {
	r := &Registry{clients: make(map[string]Client, len(clients))}
	for _, c := range clients {
		r.clients[c.Name()] = c
	}
	return r
}

// Get returns the client for the given provider id, or ErrProviderUnavailable
// when the provider is unknown or not configured.
func (r *Registry) Get(name string) (Client, error) {
	c, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q is not configured", ErrProviderUnavailable, name)
	}
	return c, nil
}

// Names lists the configured provider ids.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.clients))
	for name := range r.clients {
		out = append(out, name)
	}
	return out
}
