package refdata

import "testing"

func TestMetaDSN(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"postgres://u:p@db:5432/tracker?sslmode=disable", "postgres://u:p@db:5432/postgres?sslmode=disable"},
		{"postgresql://db/tracker", "postgresql://db/postgres"},
		{"db:5432/tracker", "postgres://db:5432/postgres"},
	}
	for _, tc := range cases {
		got, err := MetaDSN(tc.in)
		if err != nil {
			t.Errorf("MetaDSN(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("MetaDSN(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestImportDSN(t *testing.T) {
	got, err := ImportDSN("postgres://u:p@db:5432/postgres?sslmode=disable", "vvo_20240510")
	if err != nil {
		t.Fatalf("ImportDSN: %v", err)
	}
	want := "postgres://u:p@db:5432/vvo_20240510?sslmode=disable"
	if got != want {
		t.Errorf("ImportDSN = %q, want %q", got, want)
	}

	if _, err := ImportDSN("postgres://db/postgres", ""); err == nil {
		t.Errorf("empty database name accepted")
	}
}

func TestRewriteDatabaseRejectsBadInput(t *testing.T) {
	if _, err := MetaDSN(""); err == nil {
		t.Errorf("empty DSN accepted")
	}
	if _, err := MetaDSN("mysql://db/tracker"); err == nil {
		t.Errorf("non-postgres scheme accepted")
	}
}
