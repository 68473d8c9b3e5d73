package core

import (
	"strings"

	"github.com/valter-silva-au/questsync/pkg/models"
)

// Operation is the kind of mutation that produced a conflict.
type Operation string

const (
	OpCreate Operation = "CREATE"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// ParseOperation maps a case-insensitive operation name to an Operation.
func ParseOperation(s string) (Operation, bool) {
	switch Operation(strings.ToUpper(strings.TrimSpace(s))) {
	case OpCreate:
		return OpCreate, true
	case OpUpdate:
		return OpUpdate, true
	case OpDelete:
		return OpDelete, true
	default:
		return "", false
	}
}

// Policy names the rule of the resolution table that decided a conflict.
type Policy string

const (
	PolicyRemoteDeleteWins Policy = "remote_delete_wins"
	PolicyIncompleteLocal  Policy = "incomplete_local_delete"
	PolicyLocalDeleteWins  Policy = "local_delete_wins"
	PolicyTaskFieldMerge   Policy = "task_field_merge"
	PolicyRemoteWins       Policy = "remote_wins"
	PolicyRecoveredPanic   Policy = "recovered_remote_wins"
)

// ConflictInput is what the synchronized store hands its conflict hook for
// one divergence between a local and a remote version of the same entity.
type ConflictInput struct {
	Kind      models.EntityKind
	Local     models.Record
	Remote    models.Record
	Operation Operation
	Attempts  int
}

// ConflictHandler is the hook signature a store invokes on divergence. It
// must be synchronous and must not fail.
type ConflictHandler func(in ConflictInput) models.Record

// ConflictResolver decides which version of a diverged entity survives.
type ConflictResolver interface {
	Resolve(kind models.EntityKind, local, remote models.Record, op Operation) models.Record
	Policy(kind models.EntityKind, local, remote models.Record, op Operation) Policy
}

// DefaultIdentityFields lists, per entity kind, the fields any one of which
// makes a local copy structurally complete. Kinds not listed fall back to
// the pk/sk pair.
func DefaultIdentityFields() map[models.EntityKind][]string {
	return map[models.EntityKind][]string{
		models.KindTask:     {models.FieldTitle, models.FieldDescription},
		models.KindQuestion: {"question", "questionId"},
		models.KindActivity: {"name", models.FieldTitle},
	}
}

var fallbackIdentityFields = []string{"pk", "sk"}

// taskScheduleFields are taken from the remote version when present.
var taskScheduleFields = []string{
	models.FieldStartTime,
	models.FieldExpireTime,
	models.FieldEndTime,
}

// taskProgressFields are taken from the local version when present.
var taskProgressFields = []string{
	models.FieldActivityAnswer,
	models.FieldActivityResponse,
}

// policyResolver implements ConflictResolver with a fixed, ordered policy
// table. The identity table is copied at construction and never written
// afterwards, so one resolver may serve concurrent callers.
type policyResolver struct {
	identity map[models.EntityKind][]string
}

// NewConflictResolver creates a resolver using the default identity table
// extended (or overridden per kind) by extra.
func NewConflictResolver(extra map[models.EntityKind][]string) ConflictResolver {
	identity := DefaultIdentityFields()
	for kind, fields := range extra {
		if len(fields) == 0 {
			continue
		}
		identity[kind] = append([]string(nil), fields...)
	}
	return &policyResolver{identity: identity}
}

var defaultResolver = NewConflictResolver(nil)

// Resolve applies the default policy table.
func Resolve(kind models.EntityKind, local, remote models.Record, op Operation) models.Record {
	return defaultResolver.Resolve(kind, local, remote, op)
}

// HandlerFor adapts a resolver to the store hook signature.
func HandlerFor(r ConflictResolver) ConflictHandler {
	return func(in ConflictInput) models.Record {
		return r.Resolve(in.Kind, in.Local, in.Remote, in.Operation)
	}
}

// LoggingHandlerFor is HandlerFor that also records every decision as a
// conflict.resolved event.
func LoggingHandlerFor(r ConflictResolver, events EventLogger) ConflictHandler {
	return func(in ConflictInput) models.Record {
		policy := r.Policy(in.Kind, in.Local, in.Remote, in.Operation)
		out := r.Resolve(in.Kind, in.Local, in.Remote, in.Operation)
		logEvent(events, "conflict.resolved", map[string]any{
			"kind":      string(in.Kind),
			"id":        in.Remote.ID,
			"operation": string(in.Operation),
			"policy":    string(policy),
			"attempts":  in.Attempts,
		})
		return out
	}
}

// Resolve returns the version to persist. It never panics; an unexpected
// failure degrades to remote-wins.
func (p *policyResolver) Resolve(kind models.EntityKind, local, remote models.Record, op Operation) (resolved models.Record) {
	defer func() {
		if recover() != nil {
			resolved = remote.Clone()
		}
	}()

	switch p.Policy(kind, local, remote, op) {
	case PolicyRemoteDeleteWins:
		return remote.Clone()
	case PolicyIncompleteLocal:
		out := remote.Clone()
		out.Deleted = true
		return out
	case PolicyLocalDeleteWins:
		return local.Clone()
	case PolicyTaskFieldMerge:
		return mergeTask(local, remote)
	default:
		return remote.Clone()
	}
}

// Policy reports which rule of the table applies, checked in order.
func (p *policyResolver) Policy(kind models.EntityKind, local, remote models.Record, op Operation) (policy Policy) {
	defer func() {
		if recover() != nil {
			policy = PolicyRecoveredPanic
		}
	}()

	switch op {
	case OpDelete:
		if remote.IsTombstoned() {
			return PolicyRemoteDeleteWins
		}
		if !p.isComplete(kind, local) {
			return PolicyIncompleteLocal
		}
		return PolicyLocalDeleteWins
	case OpUpdate:
		if kind == models.KindTask {
			return PolicyTaskFieldMerge
		}
	}
	return PolicyRemoteWins
}

func (p *policyResolver) isComplete(kind models.EntityKind, r models.Record) bool {
	fields, ok := p.identity[kind]
	if !ok {
		fields = fallbackIdentityFields
	}
	for _, f := range fields {
		if r.Has(f) {
			return true
		}
	}
	return false
}

// mergeTask starts from the remote version and overrides status and
// in-progress answers with local values, while scheduling fields prefer
// remote and fall back to local.
func mergeTask(local, remote models.Record) models.Record {
	out := remote.Clone()
	if out.Fields == nil {
		out.Fields = make(map[string]any)
	}

	if local.Has(models.FieldStatus) {
		out.Fields[models.FieldStatus] = local.Fields[models.FieldStatus]
	}

	for _, f := range taskScheduleFields {
		if remote.Has(f) {
			continue
		}
		if local.Has(f) {
			out.Fields[f] = local.CloneField(f)
		}
	}

	for _, f := range taskProgressFields {
		if local.Has(f) {
			out.Fields[f] = local.CloneField(f)
		}
	}

	return out
}
