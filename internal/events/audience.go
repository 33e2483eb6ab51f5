// Package events fans committed mutations out to the users, teams and
// brokerages that should hear about them.
//
// Emit never blocks the request path: events are queued and a single
// Dispatcher goroutine delivers them through a Transport, either the local
// WebSocket hub or Redis pub/sub when several server instances run.
package events

import "github.com/estatedesk/crm/internal/access"

// Tier is the breadth of an audience.
type Tier string

// Audience tiers.
const (
	TierUser   Tier = "user"
	TierTeam   Tier = "team"
	TierBroker Tier = "broker"
)

// Audience is one recipient group.
type Audience struct {
	Tier Tier
	ID   string
}

// Key identifies the audience across transports, e.g. "team:<id>".
func (a Audience) Key() string {
	return string(a.Tier) + ":" + a.ID
}

// Audiences returns who should hear about a change made by p: p itself, p's
// team and p's brokerage. Private records are never announced brokerage-wide.
func Audiences(p access.Principal, isPrivate bool) []Audience {
	out := make([]Audience, 0, 3)

	if p.ID != "" {
		out = append(out, Audience{Tier: TierUser, ID: p.ID})
	}

	if p.TeamID != nil && *p.TeamID != "" {
		out = append(out, Audience{Tier: TierTeam, ID: *p.TeamID})
	}

	if !isPrivate && p.BrokerID != nil && *p.BrokerID != "" {
		out = append(out, Audience{Tier: TierBroker, ID: *p.BrokerID})
	}

	return out
}
