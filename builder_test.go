package audit_test

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"

	audit "github.com/kafeiih/go-opaudit"
)

type ident struct {
	ID   int64
	Name string
}

// identities flattens records for comparison; unset ids read as -1.
func identities(records []audit.Record) []ident {
	out := make([]ident, 0, len(records))
	for _, r := range records {
		id := audit.UnresolvedID
		if r.ObjectID != nil {
			id = *r.ObjectID
		}
		out = append(out, ident{ID: id, Name: r.ObjectName})
	}
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// numericNames names every integer identity "p<id>" and nothing else.
var numericNames = audit.ResolverFunc(func(_ context.Context, identity string) string {
	if _, err := strconv.ParseInt(identity, 10, 64); err != nil {
		return ""
	}
	return "p" + identity
})

func draftFor(t *testing.T, d audit.Descriptor) audit.Record {
	t.Helper()
	rec, err := audit.NewRecord(d, "", audit.Actor{UserID: "1", Username: "admin"})
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	return rec
}

func descriptor(params, fields []string) audit.Descriptor {
	return audit.Descriptor{
		Type:                   "TEST_OP",
		OperationType:          audit.OperationUpdate,
		ObjectType:             audit.ObjectProject,
		RequestParamNames:      params,
		ReturnObjectFieldNames: fields,
	}
}

func TestBuild(t *testing.T) {
	tests := []struct {
		name     string
		params   []string
		values   audit.Params
		resolver audit.IdentityResolver
		want     []ident
	}{
		{
			name:   "no identifying params",
			params: nil,
			values: audit.Params{"projectId": "10"},
			want:   []ident{{ID: -1}},
		},
		{
			name:   "absent param",
			params: []string{"projectId"},
			values: audit.Params{},
			want:   []ident{{ID: -1}},
		},
		{
			name:   "nil param",
			params: []string{"projectId"},
			values: audit.Params{"projectId": nil},
			want:   []ident{{ID: -1}},
		},
		{
			name:   "numeric id",
			params: []string{"projectId"},
			values: audit.Params{"projectId": "10"},
			want:   []ident{{ID: 10, Name: "10"}},
		},
		{
			name:   "integer value",
			params: []string{"projectId"},
			values: audit.Params{"projectId": 10},
			want:   []ident{{ID: 10, Name: "10"}},
		},
		{
			name:     "resolved name",
			params:   []string{"projectId"},
			values:   audit.Params{"projectId": "10"},
			resolver: numericNames,
			want:     []ident{{ID: 10, Name: "p10"}},
		},
		{
			name:     "unresolved raw value becomes the name",
			params:   []string{"projectId"},
			values:   audit.Params{"projectId": "myproj"},
			resolver: numericNames,
			want:     []ident{{ID: -1, Name: "myproj"}},
		},
		{
			name:   "self named non-numeric keeps id unset",
			params: []string{"projectName"},
			values: audit.Params{"projectName": "myproj"},
			want:   []ident{{ID: -1, Name: "myproj"}},
		},
		{
			name:     "comma list expands",
			params:   []string{"processIds"},
			values:   audit.Params{"processIds": "1,2,notanumber,3"},
			resolver: numericNames,
			want:     []ident{{1, "p1"}, {2, "p2"}, {3, "p3"}},
		},
		{
			name:     "several params expand in declaration order",
			params:   []string{"codes", "missing", "otherCodes"},
			values:   audit.Params{"otherCodes": "9", "codes": "4,5"},
			resolver: numericNames,
			want:     []ident{{4, "p4"}, {5, "p5"}, {9, "p9"}},
		},
		{
			name:     "expansion without survivors is empty",
			params:   []string{"a", "b"},
			values:   audit.Params{"a": "x,y"},
			resolver: numericNames,
			want:     []ident{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := descriptor(tt.params, nil)
			b := audit.RecordBuilder{Resolver: tt.resolver, Logger: quietLogger()}

			got := b.Build(context.Background(), d, tt.values, draftFor(t, d))

			if diff := cmp.Diff(tt.want, identities(got)); diff != "" {
				t.Errorf("Build() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBuild_DoesNotMutateDraft(t *testing.T) {
	d := descriptor([]string{"projectId"}, nil)
	draft := draftFor(t, d)

	audit.RecordBuilder{Logger: quietLogger()}.Build(context.Background(), d, audit.Params{"projectId": "10"}, draft)

	if draft.ObjectID != nil || draft.ObjectName != "" {
		t.Errorf("draft was modified: %+v", draft)
	}
}

func TestExpand_ClonesTemplate(t *testing.T) {
	d := descriptor([]string{"ids"}, nil)
	template := draftFor(t, d)

	got := audit.BatchExpander{Logger: quietLogger()}.Expand(context.Background(), []string{"ids"}, audit.Params{"ids": "1,2"}, template)

	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	for _, r := range got {
		if r.ID == template.ID {
			t.Error("expanded record reuses the template id")
		}
		if r.Actor != template.Actor || r.OperationType != template.OperationType {
			t.Errorf("expanded record lost template fields: %+v", r)
		}
	}
	if got[0].ID == got[1].ID {
		t.Error("expanded records share an id")
	}
}

func TestExpand_DropsUnresolvable(t *testing.T) {
	onlyTwo := audit.ResolverFunc(func(_ context.Context, identity string) string {
		if identity == "2" {
			return "two"
		}
		return ""
	})

	got := audit.BatchExpander{Resolver: onlyTwo, Logger: quietLogger()}.
		Expand(context.Background(), []string{"ids"}, audit.Params{"ids": "1,2,,3"}, audit.Record{})

	if diff := cmp.Diff([]ident{{2, "two"}}, identities(got)); diff != "" {
		t.Errorf("Expand() mismatch (-want +got):\n%s", diff)
	}
}

func TestExpand_DropsUnresolvedSentinel(t *testing.T) {
	var asked []string
	namesAll := audit.ResolverFunc(func(_ context.Context, identity string) string {
		asked = append(asked, identity)
		return "n" + identity
	})

	got := audit.BatchExpander{Resolver: namesAll, Logger: quietLogger()}.
		Expand(context.Background(), []string{"ids"}, audit.Params{"ids": "-1,2"}, audit.Record{})

	if diff := cmp.Diff([]ident{{2, "n2"}}, identities(got)); diff != "" {
		t.Errorf("Expand() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"2"}, asked); diff != "" {
		t.Errorf("resolver lookups mismatch (-want +got):\n%s", diff)
	}
}

func TestReconcile(t *testing.T) {
	tests := []struct {
		name   string
		fields []string
		data   any
		want   []ident
	}{
		{
			name:   "no return fields keeps records",
			fields: nil,
			data:   map[string]any{"id": 42},
			want:   []ident{{10, "p10"}},
		},
		{
			name:   "created id overrides request id",
			fields: []string{"id"},
			data:   map[string]any{"id": 42},
			want:   []ident{{42, "p42"}},
		},
		{
			name:   "sentinel id is ignored",
			fields: []string{"id"},
			data:   map[string]any{"id": -1},
			want:   []ident{{10, "p10"}},
		},
		{
			name:   "malformed id is ignored",
			fields: []string{"id"},
			data:   map[string]any{"id": "abc"},
			want:   []ident{{10, "p10"}},
		},
		{
			name:   "missing field keeps id",
			fields: []string{"id"},
			data:   map[string]any{"name": "x"},
			want:   []ident{{10, "p10"}},
		},
		{
			name:   "struct payload",
			fields: []string{"code"},
			data: struct {
				Code int64  `json:"code"`
				Name string `json:"name"`
			}{Code: 1234567890123, Name: "wf"},
			want: []ident{{1234567890123, "p1234567890123"}},
		},
		{
			name:   "scalar payload has no fields",
			fields: []string{"id"},
			data:   42,
			want:   []ident{{10, "p10"}},
		},
		{
			name:   "list in return field expands",
			fields: []string{"ids"},
			data:   audit.Params{"ids": "7,8"},
			want:   []ident{{7, "p7"}, {8, "p8"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := descriptor([]string{"projectId"}, tt.fields)
			b := audit.RecordBuilder{Resolver: numericNames, Logger: quietLogger()}
			draft := b.Build(context.Background(), d, audit.Params{"projectId": "10"}, draftFor(t, d))

			got := b.Reconcile(context.Background(), d, tt.data, draft)

			if diff := cmp.Diff(tt.want, identities(got)); diff != "" {
				t.Errorf("Reconcile() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	payloads := []any{
		map[string]any{"id": 42},
		audit.Params{"id": "7,8"},
		audit.Params{"id": "7,abc"},
	}

	for _, data := range payloads {
		d := descriptor([]string{"projectId"}, []string{"id"})
		b := audit.RecordBuilder{Resolver: numericNames, Logger: quietLogger()}
		draft := b.Build(context.Background(), d, audit.Params{"projectId": "10"}, draftFor(t, d))

		once := b.Reconcile(context.Background(), d, data, draft)
		twice := b.Reconcile(context.Background(), d, data, once)

		if diff := cmp.Diff(once, twice); diff != "" {
			t.Errorf("Reconcile(%v) not idempotent (-once +twice):\n%s", data, diff)
		}
	}
}

func TestReconcile_SingleExpansionKeepsDraftID(t *testing.T) {
	d := descriptor([]string{"projectId"}, []string{"id"})
	b := audit.RecordBuilder{Resolver: numericNames, Logger: quietLogger()}
	draft := b.Build(context.Background(), d, audit.Params{"projectId": "10"}, draftFor(t, d))

	got := b.Reconcile(context.Background(), d, audit.Params{"id": "7,abc"}, draft)

	if diff := cmp.Diff([]ident{{7, "p7"}}, identities(got)); diff != "" {
		t.Errorf("Reconcile() mismatch (-want +got):\n%s", diff)
	}
	if got[0].ID != draft[0].ID {
		t.Errorf("record ID = %s, want draft ID %s", got[0].ID, draft[0].ID)
	}
}

type fieldPayload map[string]int64

func (f fieldPayload) AuditField(name string) (any, bool) {
	v, ok := f[name]
	return v, ok
}

func TestExtractFields(t *testing.T) {
	got := audit.ExtractFields(fieldPayload{"id": 5, "other": 6}, []string{"id", "absent"})
	if diff := cmp.Diff(audit.Params{"id": int64(5)}, got); diff != "" {
		t.Errorf("ExtractFields() mismatch (-want +got):\n%s", diff)
	}

	if got := audit.ExtractFields(nil, []string{"id"}); len(got) != 0 {
		t.Errorf("expected empty fields for nil payload, got %v", got)
	}
}

func TestParamsGet(t *testing.T) {
	p := audit.Params{"s": "x", "i": 3, "f": float64(42), "nil": nil, "ids": []any{1, "2", int64(3)}}

	tests := []struct {
		key    string
		want   string
		wantOK bool
	}{
		{"s", "x", true},
		{"i", "3", true},
		{"f", "42", true},
		{"ids", "1,2,3", true},
		{"nil", "", false},
		{"absent", "", false},
	}
	for _, tt := range tests {
		got, ok := p.Get(tt.key)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("Get(%q) = %q, %v; want %q, %v", tt.key, got, ok, tt.want, tt.wantOK)
		}
	}
}
