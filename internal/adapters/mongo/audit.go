package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/eventra/payment-settlement/internal/domain"
	"github.com/eventra/payment-settlement/internal/observability"
)

// AuditLogger writes one document per settlement and per disbursement
// transition. Best-effort: callers log and drop errors, money state never
// depends on this collection.
type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type AuditLog struct {
	ID        uuid.UUID `bson:"_id"`
	Action    string    `bson:"action"`
	SubjectID uuid.UUID `bson:"subject_id"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

func (a *AuditLogger) logEvent(ctx context.Context, action string, subjectID uuid.UUID, data map[string]interface{}) error {
	log := AuditLog{
		ID:        uuid.New(),
		Action:    action,
		SubjectID: subjectID,
		Timestamp: time.Now().UTC(),
		Data:      bson.M(data),
	}
	_, err := a.coll.InsertOne(ctx, log)
	if err != nil {
		a.logger.Error("failed to insert audit log", err)
		return err
	}
	return nil
}

func (a *AuditLogger) LogSettlement(ctx context.Context, payment domain.Payment, reg domain.Registration, duplicate bool) error {
	action := "payment.settled"
	if duplicate {
		action = "payment.settle_duplicate"
	}
	return a.logEvent(ctx, action, payment.ID, map[string]interface{}{
		"registration_id": reg.ID,
		"event_id":        payment.EventID,
		"participant_id":  payment.ParticipantID,
		"quantity":        reg.Quantity,
		"amount":          payment.Amount,
	})
}

func (a *AuditLogger) LogDisbursementTransition(ctx context.Context, d domain.Disbursement, from domain.DisbursementStatus) error {
	data := map[string]interface{}{
		"organizer_id": d.OrganizerID,
		"amount":       d.Amount,
		"from":         string(from),
		"to":           string(d.Status),
	}
	if d.FailureReason != nil {
		data["failure_reason"] = *d.FailureReason
	}
	return a.logEvent(ctx, "disbursement."+string(d.Status), d.ID, data)
}
