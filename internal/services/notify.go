package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/multisig-custody/backend/internal/events"
	"github.com/multisig-custody/backend/internal/models"
	"github.com/multisig-custody/backend/internal/repositories"
	"go.uber.org/zap"
)

// outbox collects audit entries and notifications produced inside a
// transaction. They are flushed only after the transaction commits, and a
// flush failure never undoes the state change.
type outbox struct {
	audits []models.AuditLog
	events []events.Event
}

func (o *outbox) audit(actorID *uuid.UUID, action, entityType string, entityID uuid.UUID, meta map[string]any) {
	actorType := models.ActorUser
	if actorID == nil {
		actorType = models.ActorSystem
	}
	id := entityID
	o.audits = append(o.audits, models.AuditLog{
		ActorUserID: actorID,
		ActorType:   actorType,
		Action:      action,
		EntityType:  entityType,
		EntityID:    &id,
		Meta:        meta,
	})
}

func (o *outbox) notify(eventType string, payload map[string]any) {
	o.events = append(o.events, events.Event{Type: eventType, Payload: payload})
}

type notifier struct {
	store         repositories.Store
	publisher     events.Publisher
	defaultTenant string
	log           *zap.Logger
}

func (n *notifier) flush(ctx context.Context, ob *outbox) {
	for _, entry := range ob.audits {
		if err := n.store.LogAudit(ctx, entry); err != nil {
			n.log.Warn("failed to write audit log", zap.String("action", entry.Action), zap.Error(err))
		}
	}

	tenant := events.TenantFromContext(ctx, n.defaultTenant)
	for _, e := range ob.events {
		e.TenantID = tenant
		e.OccurredAt = time.Now().UTC()
		if err := n.publisher.Publish(ctx, events.StreamMultiSig, e); err != nil {
			n.log.Warn("failed to publish event", zap.String("type", e.Type), zap.Error(err))
		}
	}
}
