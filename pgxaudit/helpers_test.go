package pgxaudit

import (
	"testing"

	audit "github.com/kafeiih/go-opaudit"
)

func TestNullString(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		isNil   bool
		wantVal string
	}{
		{"empty returns nil", "", true, ""},
		{"non-empty returns pointer", "hello", false, "hello"},
		{"whitespace is not empty", " ", false, " "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := nullString(tt.input)
			if tt.isNil {
				if got != nil {
					t.Errorf("nullString(%q) = %v, want nil", tt.input, *got)
				}
			} else {
				if got == nil {
					t.Fatalf("nullString(%q) = nil, want %q", tt.input, tt.wantVal)
				}
				if *got != tt.wantVal {
					t.Errorf("nullString(%q) = %q, want %q", tt.input, *got, tt.wantVal)
				}
			}
		})
	}
}

func TestObjectIDArg(t *testing.T) {
	if got := objectIDArg(audit.Record{}); got != nil {
		t.Errorf("objectIDArg(unset) = %v, want nil", *got)
	}
	if got := objectIDArg(audit.Record{}.WithObject(audit.UnresolvedID, "")); got != nil {
		t.Errorf("objectIDArg(-1) = %v, want nil", *got)
	}

	rec := audit.Record{}.WithObject(7, "")
	got := objectIDArg(rec)
	if got == nil || *got != 7 {
		t.Fatalf("objectIDArg(7) = %v, want 7", got)
	}
	*got = 8
	if *rec.ObjectID != 7 {
		t.Error("objectIDArg shares the record's pointer")
	}
}

func TestSessionConfig(t *testing.T) {
	cfg := sessionConfig(audit.Actor{UserID: "u1", Username: "alice", Tenant: "t1"})
	if cfg["app.user_id"] != "u1" || cfg["app.username"] != "alice" || cfg["app.tenant"] != "t1" {
		t.Errorf("unexpected session config: %v", cfg)
	}
	if len(cfg) != 6 {
		t.Errorf("expected 6 settings, got %d", len(cfg))
	}
}
