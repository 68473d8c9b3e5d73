package core

import (
	"reflect"
	"testing"

	"github.com/valter-silva-au/questsync/pkg/models"
	"pgregory.net/rapid"
)

// genTaskFields draws a task attribute map in which every field the
// resolver cares about may be missing, nil, empty or set.
func genTaskFields(t *rapid.T, label string) map[string]any {
	fields := make(map[string]any)
	maybe := func(key string, gen *rapid.Generator[any]) {
		switch rapid.IntRange(0, 3).Draw(t, label+"_"+key+"_mode") {
		case 0:
		case 1:
			fields[key] = nil
		case 2:
			fields[key] = ""
		default:
			fields[key] = gen.Draw(t, label+"_"+key)
		}
	}
	str := func(values ...string) *rapid.Generator[any] {
		return rapid.Map(rapid.SampledFrom(values), func(s string) any { return s })
	}
	millis := rapid.Map(rapid.Int64Range(0, 2_000_000_000_000), func(v int64) any { return float64(v) })

	maybe(models.FieldTitle, str("Walk", "Read", "Check-in"))
	maybe(models.FieldDescription, str("daily", "weekly"))
	maybe(models.FieldStatus, str("OPEN", "STARTED", "INPROGRESS", "COMPLETED", "RECALLED"))
	maybe(models.FieldStartTime, millis)
	maybe(models.FieldExpireTime, millis)
	maybe(models.FieldEndTime, millis)
	maybe(models.FieldActivityAnswer, str(`{"q1":"a"}`, `{"q2":"b"}`))
	maybe(models.FieldActivityResponse, str("draft", "final"))
	maybe("pk", str("TASK#1"))
	return fields
}

func genTaskRecord(t *rapid.T, label string) models.Record {
	return models.Record{
		Kind:    models.KindTask,
		ID:      "t1",
		Version: rapid.IntRange(0, 5).Draw(t, label+"_version"),
		Deleted: rapid.Bool().Draw(t, label+"_deleted"),
		Fields:  genTaskFields(t, label),
	}
}

// Property: for Task UPDATE conflicts the local status survives whenever it
// is present, and remote scheduling fields survive whenever they are present.
func TestProperty_TaskMergeStatusAndSchedule(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		local := genTaskRecord(rt, "local")
		remote := genTaskRecord(rt, "remote")

		got := Resolve(models.KindTask, local, remote, OpUpdate)

		if local.Has(models.FieldStatus) {
			if got.Fields[models.FieldStatus] != local.Fields[models.FieldStatus] {
				rt.Fatalf("status = %v, want local %v", got.Fields[models.FieldStatus], local.Fields[models.FieldStatus])
			}
		} else if !reflect.DeepEqual(got.Fields[models.FieldStatus], remote.Fields[models.FieldStatus]) {
			rt.Fatalf("status = %v, want remote %v", got.Fields[models.FieldStatus], remote.Fields[models.FieldStatus])
		}

		for _, f := range []string{models.FieldStartTime, models.FieldExpireTime, models.FieldEndTime} {
			switch {
			case remote.Has(f):
				if got.Fields[f] != remote.Fields[f] {
					rt.Fatalf("%s = %v, want remote %v", f, got.Fields[f], remote.Fields[f])
				}
			case local.Has(f):
				if got.Fields[f] != local.Fields[f] {
					rt.Fatalf("%s = %v, want local fallback %v", f, got.Fields[f], local.Fields[f])
				}
			}
		}

		for _, f := range []string{models.FieldActivityAnswer, models.FieldActivityResponse} {
			if local.Has(f) && got.Fields[f] != local.Fields[f] {
				rt.Fatalf("%s = %v, want local %v", f, got.Fields[f], local.Fields[f])
			}
		}

		if got.Deleted != remote.Deleted {
			rt.Fatalf("deleted = %v, want remote %v", got.Deleted, remote.Deleted)
		}
	})
}

// Property: re-resolving the resolver's own output against the same remote
// yields the same result.
func TestProperty_ResolveIdempotent(t *testing.T) {
	kinds := []models.EntityKind{models.KindTask, models.KindQuestion, models.KindActivity, models.KindDataPoint}

	rapid.Check(t, func(rt *rapid.T) {
		kind := rapid.SampledFrom(kinds).Draw(rt, "kind")
		local := genTaskRecord(rt, "local")
		remote := genTaskRecord(rt, "remote")
		local.Kind, remote.Kind = kind, kind

		once := Resolve(kind, local, remote, OpUpdate)
		twice := Resolve(kind, once, remote, OpUpdate)
		if !reflect.DeepEqual(once, twice) {
			rt.Fatalf("not idempotent:\nonce  %+v\ntwice %+v", once, twice)
		}
	})
}

// Property: Resolve never mutates its inputs.
func TestProperty_ResolveLeavesInputsUntouched(t *testing.T) {
	ops := []Operation{OpCreate, OpUpdate, OpDelete}

	rapid.Check(t, func(rt *rapid.T) {
		local := genTaskRecord(rt, "local")
		remote := genTaskRecord(rt, "remote")
		op := rapid.SampledFrom(ops).Draw(rt, "op")

		localBefore, remoteBefore := local.Clone(), remote.Clone()
		out := Resolve(models.KindTask, local, remote, op)
		out.Set("injected", true)
		out.Deleted = !out.Deleted

		if !reflect.DeepEqual(local, localBefore) {
			rt.Fatalf("local mutated: %+v", local)
		}
		if !reflect.DeepEqual(remote, remoteBefore) {
			rt.Fatalf("remote mutated: %+v", remote)
		}
	})
}
