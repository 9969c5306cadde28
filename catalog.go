package audit

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// AuditType identifies an audited operation, e.g. "PROJECT_CREATE".
type AuditType string

var (
	ErrUnknownAuditType   = errors.New("audit: unknown audit type")
	ErrDuplicateAuditType = errors.New("audit: duplicate audit type")
	ErrInvalidDescriptor  = errors.New("audit: invalid descriptor")
)

// Descriptor declares how an operation is audited.
type Descriptor struct {
	Type          AuditType     `yaml:"type"`
	OperationType OperationType `yaml:"operation"`
	ObjectType    ObjectType    `yaml:"object"`
	Description   string        `yaml:"description"`

	// RequestParamNames name the call parameters identifying the target
	// object(s). The first one is primary.
	RequestParamNames []string `yaml:"requestParams"`

	// ReturnObjectFieldNames name the fields of the call's return value
	// identifying created object(s). The first one is primary.
	ReturnObjectFieldNames []string `yaml:"returnFields"`
}

// Validate checks the descriptor is usable by the pipeline.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(string(d.Type)) == "" {
		return fmt.Errorf("%w: type is required", ErrInvalidDescriptor)
	}
	if !d.OperationType.IsValid() {
		return fmt.Errorf("%w: %s: invalid operation type %q", ErrInvalidDescriptor, d.Type, d.OperationType)
	}
	if d.ObjectType == "" {
		return fmt.Errorf("%w: %s: object type is required", ErrInvalidDescriptor, d.Type)
	}
	if dup := lo.FindDuplicates(d.RequestParamNames); len(dup) > 0 {
		return fmt.Errorf("%w: %s: duplicate request params %v", ErrInvalidDescriptor, d.Type, dup)
	}
	if dup := lo.FindDuplicates(d.ReturnObjectFieldNames); len(dup) > 0 {
		return fmt.Errorf("%w: %s: duplicate return fields %v", ErrInvalidDescriptor, d.Type, dup)
	}
	if lo.Contains(d.RequestParamNames, "") || lo.Contains(d.ReturnObjectFieldNames, "") {
		return fmt.Errorf("%w: %s: empty field name", ErrInvalidDescriptor, d.Type)
	}
	return nil
}

// Catalog maps an audit type to its descriptor.
type Catalog interface {
	Lookup(t AuditType) (Descriptor, bool)
}

// Registry is an in-memory Catalog populated at startup.
// It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[AuditType]Descriptor
}

// NewRegistry creates a Registry holding ds.
func NewRegistry(ds ...Descriptor) (*Registry, error) {
	r := &Registry{descriptors: make(map[AuditType]Descriptor, len(ds))}
	for _, d := range ds {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds d. It fails if d is invalid or its type is already present.
func (r *Registry) Register(d Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.descriptors[d.Type]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateAuditType, d.Type)
	}
	d.RequestParamNames = append([]string(nil), d.RequestParamNames...)
	d.ReturnObjectFieldNames = append([]string(nil), d.ReturnObjectFieldNames...)
	r.descriptors[d.Type] = d
	return nil
}

// Lookup returns the descriptor registered for t.
func (r *Registry) Lookup(t AuditType) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[t]
	return d, ok
}

// Types returns the registered audit types in sorted order.
func (r *Registry) Types() []AuditType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := lo.Keys(r.descriptors)
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

type catalogFile struct {
	Operations []Descriptor `yaml:"operations"`
}

// LoadCatalog reads a YAML catalog of the form
//
//	operations:
//	  - type: PROJECT_CREATE
//	    operation: CREATE
//	    object: PROJECT
//	    description: create project
//	    returnFields: [code]
func LoadCatalog(rd io.Reader) (*Registry, error) {
	var f catalogFile
	dec := yaml.NewDecoder(rd)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decoding catalog: %w", err)
	}
	return NewRegistry(f.Operations...)
}
