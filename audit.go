// Package audit builds structured audit records for mutating operations:
// who did what to which object, with latency. A Pipeline wraps the call,
// resolves identities from parameters and return values, and hands the
// finished records to a Sink.
package audit

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ---------- Context propagation ----------

type contextKey struct{ name string }

var (
	actorKey = contextKey{"audit-actor"}
	skipKey  = contextKey{"skip-audit"}
)

// Actor identifies the user performing an audited call.
type Actor struct {
	UserID        string
	Username      string
	Tenant        string
	CorrelationID string
	IP            string
	UserAgent     string
}

// WithActor attaches the acting user to the context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFrom extracts the acting user from context. Returns nil if absent.
func ActorFrom(ctx context.Context) *Actor {
	a, ok := ctx.Value(actorKey).(Actor)
	if !ok {
		return nil
	}
	return &a
}

// WithSkipAudit marks the context so the pipeline does not audit the call.
func WithSkipAudit(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipKey, true)
}

// ShouldSkip reports whether audit should be skipped for this context.
func ShouldSkip(ctx context.Context) bool {
	v, _ := ctx.Value(skipKey).(bool)
	return v
}

// ---------- Classification ----------

// OperationType classifies what the call did to the object.
type OperationType string

const (
	OperationCreate        OperationType = "CREATE"
	OperationRead          OperationType = "READ"
	OperationUpdate        OperationType = "UPDATE"
	OperationDelete        OperationType = "DELETE"
	OperationBatchDelete   OperationType = "BATCH_DELETE"
	OperationCopy          OperationType = "COPY"
	OperationBatchCopy     OperationType = "BATCH_COPY"
	OperationMove          OperationType = "MOVE"
	OperationImport        OperationType = "IMPORT"
	OperationExport        OperationType = "EXPORT"
	OperationRelease       OperationType = "RELEASE"
	OperationOnline        OperationType = "ONLINE"
	OperationOffline       OperationType = "OFFLINE"
	OperationStart         OperationType = "START"
	OperationStop          OperationType = "STOP"
	OperationRerun         OperationType = "RERUN"
	OperationSwitchVersion OperationType = "SWITCH_VERSION"
	OperationDeleteVersion OperationType = "DELETE_VERSION"
	OperationAuthorize     OperationType = "AUTHORIZE"
	OperationUnauthorize   OperationType = "UNAUTHORIZE"
)

// IsValid reports whether o is a known operation type.
func (o OperationType) IsValid() bool {
	switch o {
	case OperationCreate, OperationRead, OperationUpdate, OperationDelete,
		OperationBatchDelete, OperationCopy, OperationBatchCopy, OperationMove,
		OperationImport, OperationExport, OperationRelease, OperationOnline,
		OperationOffline, OperationStart, OperationStop, OperationRerun,
		OperationSwitchVersion, OperationDeleteVersion,
		OperationAuthorize, OperationUnauthorize:
		return true
	}
	return false
}

// ObjectType classifies the kind of object the call affected.
type ObjectType string

const (
	ObjectProject          ObjectType = "PROJECT"
	ObjectWorkflow         ObjectType = "WORKFLOW"
	ObjectWorkflowInstance ObjectType = "WORKFLOW_INSTANCE"
	ObjectTask             ObjectType = "TASK"
	ObjectTaskInstance     ObjectType = "TASK_INSTANCE"
	ObjectSchedule         ObjectType = "SCHEDULE"
	ObjectDatasource       ObjectType = "DATASOURCE"
	ObjectResource         ObjectType = "RESOURCE"
	ObjectTenant           ObjectType = "TENANT"
	ObjectUser             ObjectType = "USER"
	ObjectToken            ObjectType = "TOKEN"
	ObjectAlertGroup       ObjectType = "ALERT_GROUP"
	ObjectWorkerGroup      ObjectType = "WORKER_GROUP"
	ObjectEnvironment      ObjectType = "ENVIRONMENT"
	ObjectCluster          ObjectType = "CLUSTER"
	ObjectQueue            ObjectType = "QUEUE"
)

// ---------- Record entity ----------

// UnresolvedID marks an object identity that could not be determined.
const UnresolvedID int64 = -1

// ErrActorRequired is returned when a record is created without a user.
var ErrActorRequired = errors.New("audit: actor user_id is required")

// Record is one audit entry. Records are values; builders return new
// slices rather than mutating a shared list.
type Record struct {
	ID            uuid.UUID
	Type          AuditType
	Description   string
	OperationType OperationType
	ObjectType    ObjectType
	Actor         Actor

	// ObjectID is nil or UnresolvedID when the object identity is unknown.
	ObjectID   *int64
	ObjectName string

	LatencyMs int64
	CreatedAt time.Time
}

// NewRecord creates the draft record for a call described by d.
// A non-empty description overrides the descriptor template.
// Accepts an optional nowFn to allow injecting a clock for testing.
func NewRecord(d Descriptor, description string, actor Actor, nowFn ...func() time.Time) (Record, error) {
	if actor.UserID == "" {
		return Record{}, ErrActorRequired
	}

	now := time.Now
	if len(nowFn) > 0 && nowFn[0] != nil {
		now = nowFn[0]
	}

	if description == "" {
		description = d.Description
	}

	return Record{
		ID:            uuid.New(),
		Type:          d.Type,
		Description:   description,
		OperationType: d.OperationType,
		ObjectType:    d.ObjectType,
		Actor:         actor,
		CreatedAt:     now(),
	}, nil
}

// HasObjectID reports whether the record carries a resolved object identity.
func (r Record) HasObjectID() bool {
	return r.ObjectID != nil && *r.ObjectID != UnresolvedID
}

// ObjectIDString formats the object identity, or "" when unresolved.
func (r Record) ObjectIDString() string {
	if !r.HasObjectID() {
		return ""
	}
	return strconv.FormatInt(*r.ObjectID, 10)
}

// WithObject returns a copy of r carrying the given identity.
func (r Record) WithObject(id int64, name string) Record {
	r.ObjectID = &id
	r.ObjectName = name
	return r
}

// Clone returns an independent copy of r with a fresh ID.
func (r Record) Clone() Record {
	c := r.copy()
	c.ID = uuid.New()
	return c
}

// copy duplicates r, including the ObjectID pointee, keeping its ID.
func (r Record) copy() Record {
	if r.ObjectID != nil {
		id := *r.ObjectID
		r.ObjectID = &id
	}
	return r
}

func copyRecords(records []Record) []Record {
	out := make([]Record, len(records))
	for i, r := range records {
		out[i] = r.copy()
	}
	return out
}
