package stage

import (
	"errors"
	"testing"

	"github.com/dbsmedya/regstage/internal/types"
)

func descriptors() []types.ColumnDescriptor {
	return []types.ColumnDescriptor{
		{Name: "corp_num", TypeID: types.TypeIDVarchar, Length: 10},
		{Name: "event_id", TypeID: types.TypeIDNumeric, Length: -1},
		{Name: "corp_name_seq_num", TypeID: types.TypeIDInt4, Length: -1},
		{Name: "event_timestmp", TypeID: types.TypeIDTimestamp, Length: -1},
		{Name: "notes", TypeID: 25, Length: -1}, // text: unmapped
	}
}

func TestSynthesizeSchema(t *testing.T) {
	def, err := SynthesizeSchema("event", descriptors())
	if err != nil {
		t.Fatalf("SynthesizeSchema() error = %v", err)
	}

	want := []ColumnDefinition{
		{Name: "corp_num", Type: types.Text},
		{Name: "event_id", Type: types.Numeric},
		{Name: "corp_name_seq_num", Type: types.Integer},
		{Name: "event_timestmp", Type: types.Timestamp},
		{Name: "notes", Type: types.Text},
	}
	if len(def.Columns) != len(want) {
		t.Fatalf("got %d columns, want %d", len(def.Columns), len(want))
	}
	for i := range want {
		if def.Columns[i] != want[i] {
			t.Errorf("column %d = %+v, want %+v", i, def.Columns[i], want[i])
		}
	}
}

func TestSynthesizeSchema_Errors(t *testing.T) {
	tests := []struct {
		name     string
		table    string
		cols     []types.ColumnDescriptor
		mismatch bool
	}{
		{name: "invalid table", table: "event;", cols: descriptors()},
		{name: "no columns", table: "event"},
		{name: "invalid column", table: "event", cols: []types.ColumnDescriptor{{Name: "a b"}}},
		{
			name:     "duplicate column",
			table:    "event",
			cols:     []types.ColumnDescriptor{{Name: "corp_num"}, {Name: "corp_num"}},
			mismatch: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SynthesizeSchema(tt.table, tt.cols)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, types.ErrSchemaMismatch); got != tt.mismatch {
				t.Errorf("errors.Is(ErrSchemaMismatch) = %v, want %v", got, tt.mismatch)
			}
		})
	}
}

func TestTableDefinition_SQL(t *testing.T) {
	def, err := SynthesizeSchema("event", descriptors()[:2])
	if err != nil {
		t.Fatalf("SynthesizeSchema() error = %v", err)
	}

	wantCreate := `CREATE TABLE IF NOT EXISTS "event" ("corp_num" TEXT, "event_id" DECIMAL_TEXT)`
	if got := def.CreateSQL(); got != wantCreate {
		t.Errorf("CreateSQL() = %q, want %q", got, wantCreate)
	}

	wantInsert := `INSERT INTO "event" ("event_id", "corp_num") VALUES (?, ?)`
	if got := def.InsertSQL([]string{"event_id", "corp_num"}); got != wantInsert {
		t.Errorf("InsertSQL() = %q, want %q", got, wantInsert)
	}
}

func TestTableDefinition_Equal(t *testing.T) {
	a, _ := SynthesizeSchema("event", descriptors())
	b, _ := SynthesizeSchema("event", descriptors())
	c, _ := SynthesizeSchema("event", descriptors()[:3])

	if !a.Equal(b) {
		t.Error("identical definitions should be equal")
	}
	if a.Equal(c) {
		t.Error("definitions with different columns should differ")
	}
	if a.Equal(nil) {
		t.Error("definition should not equal nil")
	}
}
