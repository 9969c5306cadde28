package audit

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
)

// RecordBuilder assembles draft records from call parameters and
// reconciles them against the call's return value.
type RecordBuilder struct {
	Resolver IdentityResolver
	Logger   *slog.Logger
}

func (b RecordBuilder) resolver() IdentityResolver {
	if b.Resolver == nil {
		return SelfNamed
	}
	return b.Resolver
}

func (b RecordBuilder) logger() *slog.Logger {
	if b.Logger == nil {
		return slog.Default()
	}
	return b.Logger
}

func (b RecordBuilder) expander() BatchExpander {
	return BatchExpander{Resolver: b.resolver(), Logger: b.logger()}
}

// Build resolves the object identity from params. The result holds the
// draft alone, or the batch expansion of it when several identifying
// parameters are declared or the primary one carries a list.
func (b RecordBuilder) Build(ctx context.Context, d Descriptor, params Params, draft Record) []Record {
	names := d.RequestParamNames
	if len(names) == 0 {
		return []Record{draft}
	}

	raw, ok := params.Get(names[0])
	if len(names) > 1 || (ok && isList(raw)) {
		return b.expander().Expand(ctx, names, params, draft)
	}
	if !ok {
		return []Record{draft}
	}

	rec := draft.copy()
	name := b.resolver().NameOf(ctx, raw)
	if name == "" {
		rec.ObjectName = raw
		return []Record{rec}
	}

	id, err := ParseID(raw)
	if err != nil {
		b.logger().Warn("request parameter is not a numeric id",
			"audit_type", d.Type,
			"param", names[0],
			"error", err,
		)
	} else {
		rec.ObjectID = &id
	}
	rec.ObjectName = name
	return []Record{rec}
}

// Reconcile applies the identities found in the call's return value.
// A created-object id in the primary field replaces the id of the first
// record; a list in the primary field expands a single draft. Names are
// then re-resolved from each record's id. Calling Reconcile again with
// the same data yields the same records.
func (b RecordBuilder) Reconcile(ctx context.Context, d Descriptor, data any, records []Record) []Record {
	names := d.ReturnObjectFieldNames
	if len(names) == 0 {
		return records
	}

	fields := ExtractFields(data, names)
	out := copyRecords(records)

	if raw, ok := fields.Get(names[0]); ok && len(out) > 0 {
		switch {
		case isList(raw) && len(out) == 1:
			expanded := b.expander().Expand(ctx, names, fields, out[0])
			if len(expanded) > 0 {
				// the first expanded record takes over the draft's identity
				expanded[0].ID = out[0].ID
			}
			out = expanded
		case isList(raw):
			// already expanded
		default:
			id, err := ParseID(raw)
			if err != nil {
				b.logger().Warn("return field is not a numeric id",
					"audit_type", d.Type,
					"field", names[0],
					"error", err,
				)
			} else if id != UnresolvedID {
				out[0].ObjectID = &id
			}
		}
	}

	resolver := b.resolver()
	for i := range out {
		if !out[i].HasObjectID() {
			continue
		}
		if name := resolver.NameOf(ctx, out[i].ObjectIDString()); name != "" {
			out[i].ObjectName = name
		}
	}
	return out
}

func isList(raw string) bool {
	return strings.Contains(raw, ",")
}

// BatchExpander turns one template record into one record per identity
// listed in comma-separated values.
type BatchExpander struct {
	Resolver IdentityResolver
	Logger   *slog.Logger
}

// Expand produces a clone of template for every identity in the named
// values that parses as an id and resolves to a name, in encounter
// order. The unresolved sentinel id is never expanded. The template
// itself is never part of the result, which may be empty.
func (e BatchExpander) Expand(ctx context.Context, names []string, values Params, template Record) []Record {
	resolver := e.Resolver
	if resolver == nil {
		resolver = SelfNamed
	}
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}

	out := []Record{}
	for _, name := range names {
		raw, ok := values.Get(name)
		if !ok {
			continue
		}
		for _, candidate := range strings.Split(raw, ",") {
			id, err := ParseID(candidate)
			if err != nil {
				logger.Debug("dropping malformed batch identity", "field", name, "error", err)
				continue
			}
			if id == UnresolvedID {
				logger.Debug("dropping unresolved batch identity", "field", name)
				continue
			}
			objName := resolver.NameOf(ctx, strconv.FormatInt(id, 10))
			if objName == "" {
				logger.Debug("dropping unresolvable batch identity", "field", name, "id", id)
				continue
			}
			out = append(out, template.Clone().WithObject(id, objName))
		}
	}
	return out
}
