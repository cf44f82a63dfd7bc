package actions

import "testing"

func TestParseDestinationFile(t *testing.T) {
	d, err := ParseDestination("FILE /var/log/out.csv")
	if err != nil {
		t.Fatal(err)
	}
	if d.Kind != "FILE" || d.Path != "/var/log/out.csv" {
		t.Fatalf("got %+v", d)
	}
}

func TestParseDestinationDB(t *testing.T) {
	d, err := ParseDestination("DB admin:secret@dbhost:5432/mytable USING col1,col2,col3")
	if err != nil {
		t.Fatal(err)
	}
	if d.Kind != "DB" || d.User != "admin" || d.Password != "secret" || d.Host != "dbhost" ||
		d.Port != "5432" || d.Table != "mytable" {
		t.Fatalf("got %+v", d)
	}
	want := []string{"col1", "col2", "col3"}
	if len(d.Schema) != len(want) {
		t.Fatalf("got schema %v", d.Schema)
	}
	for i := range want {
		if d.Schema[i] != want[i] {
			t.Fatalf("schema[%d] = %q, want %q", i, d.Schema[i], want[i])
		}
	}
}

func TestParseDestinationMissingUsing(t *testing.T) {
	if _, err := ParseDestination("DB admin:secret@dbhost:5432/mytable"); err == nil {
		t.Fatal("expected error for DB destination without USING clause")
	}
}

func TestParseDestinationUnknownKind(t *testing.T) {
	if _, err := ParseDestination("KAFKA somewhere"); err == nil {
		t.Fatal("expected error for unrecognized destination kind")
	}
}
