package orchestrator

import (
	"fmt"

	"github.com/alanyoungcy/hedged/internal/domain"
)

// VenueRegistry dispatches to the venue client matching a leg's venue tag.
type VenueRegistry struct {
	clients map[domain.Venue]domain.VenueClient
}

// NewVenueRegistry builds a registry from the configured venue clients.
func NewVenueRegistry(clients ...domain.VenueClient) *VenueRegistry {
	m := make(map[domain.Venue]domain.VenueClient, len(clients))
	for _, c := range clients {
		m[c.Venue()] = c
	}
	return &VenueRegistry{clients: m}
}

// Get returns the client for a venue.
func (r *VenueRegistry) Get(v domain.Venue) (domain.VenueClient, error) {
	c, ok := r.clients[v]
	if !ok {
		return nil, fmt.Errorf("orchestrator: no client for venue %q: %w", v, domain.ErrUnknownMarket)
	}
	return c, nil
}

// Venues lists the registered venue tags.
func (r *VenueRegistry) Venues() []domain.Venue {
	out := make([]domain.Venue, 0, len(r.clients))
	for v := range r.clients {
		out = append(out, v)
	}
	return out
}
