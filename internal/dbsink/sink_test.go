package dbsink

import "testing"

func TestSplitRecordExtractsKeyAndFields(t *testing.T) {
	key, fields, err := splitRecord("3,a,b,c")
	if err != nil {
		t.Fatal(err)
	}
	if key != "3" {
		t.Fatalf("got key %q, want 3", key)
	}
	want := []string{"a", "b", "c"}
	if len(fields) != len(want) {
		t.Fatalf("got fields %v, want %v", fields, want)
	}
	for i := range want {
		if fields[i] != want[i] {
			t.Fatalf("field %d: got %q, want %q", i, fields[i], want[i])
		}
	}
}

func TestSplitRecordRejectsSingleFieldRecord(t *testing.T) {
	if _, _, err := splitRecord("onlyfield"); err == nil {
		t.Fatal("expected error on record with no fields past the key")
	}
}

func TestTableForSingleModeIgnoresKey(t *testing.T) {
	s := New(nil, TableSpec{Name: "events", Columns: []string{"a", "b"}})
	spec, ok := s.tableFor("anything")
	if !ok || spec.Name != "events" {
		t.Fatalf("got spec=%v ok=%v", spec, ok)
	}
}

func TestTableForMultiplexModeRoutesByKey(t *testing.T) {
	s := NewMultiplexed(nil, map[string]TableSpec{
		"1": {Name: "fs_events", Columns: []string{"a"}},
		"2": {Name: "process_events", Columns: []string{"b"}},
	})
	spec, ok := s.tableFor("2")
	if !ok || spec.Name != "process_events" {
		t.Fatalf("got spec=%v ok=%v", spec, ok)
	}
	if _, ok := s.tableFor("9"); ok {
		t.Fatal("expected no match for unconfigured key")
	}
}
