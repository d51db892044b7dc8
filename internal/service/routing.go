package service

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Router picks the internal agents added to newly created or reopened
// conversations and tracks how many conversations each has been assigned.
type Router struct {
	store  Store
	logger *logrus.Logger
}

func NewRouter(store Store, logger *logrus.Logger) *Router {
	return &Router{store: store, logger: logger}
}

// AssignInitialMembers returns the connector's routed agent contact ids and
// bumps their assignment counters. An empty routing table yields no agents,
// which is valid: the conversation then starts with the contact alone.
func (r *Router) AssignInitialMembers(ctx context.Context, connectorID int64) ([]int64, error) {
	members, err := r.store.ListRoutingMembers(ctx, connectorID)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}

	contactIDs := make([]int64, 0, len(members))
	memberIDs := make([]int64, 0, len(members))
	for _, m := range members {
		contactIDs = append(contactIDs, m.ContactID)
		memberIDs = append(memberIDs, m.ID)
	}
	if err := r.store.IncrementRoutingAssignments(ctx, memberIDs); err != nil {
		return nil, err
	}
	return contactIDs, nil
}
