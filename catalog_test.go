package audit_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	audit "github.com/kafeiih/go-opaudit"
)

func TestRegistry_RegisterAndLookup(t *testing.T) {
	reg, err := audit.NewRegistry(projectCreate)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	d, ok := reg.Lookup("PROJECT_CREATE")
	if !ok {
		t.Fatal("expected PROJECT_CREATE to be registered")
	}
	if diff := cmp.Diff(projectCreate, d); diff != "" {
		t.Errorf("Lookup() mismatch (-want +got):\n%s", diff)
	}

	if _, ok := reg.Lookup("MISSING"); ok {
		t.Error("expected MISSING to be absent")
	}
}

func TestRegistry_RejectsDuplicate(t *testing.T) {
	reg, _ := audit.NewRegistry(projectCreate)
	if err := reg.Register(projectCreate); !errors.Is(err, audit.ErrDuplicateAuditType) {
		t.Fatalf("expected ErrDuplicateAuditType, got %v", err)
	}
}

func TestRegistry_CopiesNameSlices(t *testing.T) {
	d := projectCreate
	d.RequestParamNames = []string{"projectId"}
	reg, _ := audit.NewRegistry(d)

	d.RequestParamNames[0] = "changed"

	got, _ := reg.Lookup(d.Type)
	if got.RequestParamNames[0] != "projectId" {
		t.Errorf("registry shares the caller's slice: %v", got.RequestParamNames)
	}
}

func TestDescriptor_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*audit.Descriptor)
	}{
		{"empty type", func(d *audit.Descriptor) { d.Type = " " }},
		{"invalid operation", func(d *audit.Descriptor) { d.OperationType = "FLY" }},
		{"empty object", func(d *audit.Descriptor) { d.ObjectType = "" }},
		{"duplicate params", func(d *audit.Descriptor) { d.RequestParamNames = []string{"a", "a"} }},
		{"duplicate fields", func(d *audit.Descriptor) { d.ReturnObjectFieldNames = []string{"id", "id"} }},
		{"empty param name", func(d *audit.Descriptor) { d.RequestParamNames = []string{""} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := projectCreate
			tt.mutate(&d)
			if err := d.Validate(); !errors.Is(err, audit.ErrInvalidDescriptor) {
				t.Errorf("Validate() = %v, want ErrInvalidDescriptor", err)
			}
		})
	}

	if err := projectCreate.Validate(); err != nil {
		t.Errorf("expected valid descriptor, got %v", err)
	}
}

func TestLoadCatalog(t *testing.T) {
	src := `
operations:
  - type: PROJECT_CREATE
    operation: CREATE
    object: PROJECT
    description: create project
    requestParams: [projectName]
    returnFields: [code]
  - type: WORKFLOW_BATCH_DELETE
    operation: BATCH_DELETE
    object: WORKFLOW
    description: batch delete workflows
    requestParams: [codes]
`
	reg, err := audit.LoadCatalog(strings.NewReader(src))
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}

	want := []audit.AuditType{"PROJECT_CREATE", "WORKFLOW_BATCH_DELETE"}
	if diff := cmp.Diff(want, reg.Types()); diff != "" {
		t.Errorf("Types() mismatch (-want +got):\n%s", diff)
	}

	d, _ := reg.Lookup("WORKFLOW_BATCH_DELETE")
	if d.OperationType != audit.OperationBatchDelete || d.RequestParamNames[0] != "codes" {
		t.Errorf("unexpected descriptor: %+v", d)
	}
}

func TestLoadCatalog_Empty(t *testing.T) {
	reg, err := audit.LoadCatalog(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if len(reg.Types()) != 0 {
		t.Errorf("expected empty registry, got %v", reg.Types())
	}
}

func TestLoadCatalog_UnknownField(t *testing.T) {
	src := "operations:\n  - type: X\n    operation: CREATE\n    object: PROJECT\n    colour: red\n"
	if _, err := audit.LoadCatalog(strings.NewReader(src)); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadCatalog_InvalidOperation(t *testing.T) {
	src := "operations:\n  - type: X\n    operation: FLY\n    object: PROJECT\n"
	_, err := audit.LoadCatalog(strings.NewReader(src))
	if !errors.Is(err, audit.ErrInvalidDescriptor) {
		t.Fatalf("expected ErrInvalidDescriptor, got %v", err)
	}
}
