package audit

import "context"

// Operator customises auditing for a family of operations. It resolves
// object names and may adjust how parameters are read and how the final
// records are classified. Embed BaseOperator to inherit the defaults.
type Operator interface {
	IdentityResolver

	// ModifyRequestParams may rewrite the parameters used for identity
	// resolution and classification. The wrapped call always receives
	// the original map.
	ModifyRequestParams(ctx context.Context, names []string, params Params) Params

	// OverrideOperationType may change OperationType on the records.
	OverrideOperationType(ctx context.Context, params Params, records []Record) []Record

	// OverrideObjectType may change ObjectType on the records.
	OverrideObjectType(ctx context.Context, params Params, records []Record) []Record
}

// BaseOperator implements Operator with no-op hooks. Resolver defaults
// to SelfNamed.
type BaseOperator struct {
	Resolver IdentityResolver
}

func (b BaseOperator) NameOf(ctx context.Context, identity string) string {
	if identity == "" {
		return ""
	}
	if b.Resolver == nil {
		return SelfNamed.NameOf(ctx, identity)
	}
	return b.Resolver.NameOf(ctx, identity)
}

func (BaseOperator) ModifyRequestParams(_ context.Context, _ []string, params Params) Params {
	return params
}

func (BaseOperator) OverrideOperationType(_ context.Context, _ Params, records []Record) []Record {
	return records
}

func (BaseOperator) OverrideObjectType(_ context.Context, _ Params, records []Record) []Record {
	return records
}

// classify runs both override hooks. Only the classification fields of
// the hook output are kept; identity fields stay as the builder left them.
func classify(ctx context.Context, op Operator, params Params, records []Record) ([]Record, bool) {
	out := copyRecords(records)
	ok := true

	next := op.OverrideOperationType(ctx, params, copyRecords(out))
	if len(next) == len(out) {
		for i := range out {
			out[i].OperationType = next[i].OperationType
		}
	} else {
		ok = false
	}

	next = op.OverrideObjectType(ctx, params, copyRecords(out))
	if len(next) == len(out) {
		for i := range out {
			out[i].ObjectType = next[i].ObjectType
		}
	} else {
		ok = false
	}

	return out, ok
}
