package fleet

import (
	"errors"
	"testing"
)

func TestParseStopID(t *testing.T) {
	cases := []struct {
		in      string
		want    StopID
		wantErr bool
	}{
		{"12.3", StopID{Primary: 12, Sub: 3}, false},
		{"1204.0", StopID{Primary: 1204, Sub: 0}, false},
		{"0.0", StopID{}, false},
		{"12", StopID{}, true},
		{"12.", StopID{}, true},
		{".3", StopID{}, true},
		{"12.3.4", StopID{}, true},
		{"a.b", StopID{}, true},
		{"-1.2", StopID{}, true},
		{"", StopID{}, true},
	}
	for _, tc := range cases {
		got, err := ParseStopID(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseStopID(%q) succeeded, want error", tc.in)
			} else if !errors.Is(err, ErrValidation) {
				t.Errorf("ParseStopID(%q) error %v does not match ErrValidation", tc.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseStopID(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseStopID(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestStopIDRoundTrip(t *testing.T) {
	id := StopID{Primary: 42, Sub: 7}
	parsed, err := ParseStopID(id.String())
	if err != nil {
		t.Fatalf("reparse %q: %v", id.String(), err)
	}
	if parsed != id {
		t.Errorf("round trip = %v, want %v", parsed, id)
	}
}

func TestStopIDLess(t *testing.T) {
	cases := []struct {
		a, b StopID
		want bool
	}{
		{StopID{1, 0}, StopID{2, 0}, true},
		{StopID{2, 0}, StopID{1, 9}, false},
		{StopID{1, 1}, StopID{1, 2}, true},
		{StopID{1, 2}, StopID{1, 2}, false},
	}
	for _, tc := range cases {
		if got := tc.a.Less(tc.b); got != tc.want {
			t.Errorf("%v.Less(%v) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestServesLine(t *testing.T) {
	s := Stop{ID: StopID{1, 0}, Lines: []string{"10", "12"}}
	if !s.ServesLine("10") {
		t.Errorf("expected stop to serve line 10")
	}
	if s.ServesLine("11") {
		t.Errorf("stop should not serve line 11")
	}
	if (Stop{}).ServesLine("10") {
		t.Errorf("empty stop should serve no lines")
	}
}

func TestStopIndexOf(t *testing.T) {
	trip := Trip{
		TripID: "t1",
		Stops: []TripStop{
			{StopID: StopID{1, 0}},
			{StopID: StopID{2, 0}},
			{StopID: StopID{3, 1}},
		},
	}
	if got := trip.StopIndexOf(StopID{2, 0}); got != 1 {
		t.Errorf("StopIndexOf(2.0) = %d, want 1", got)
	}
	if got := trip.StopIndexOf(StopID{9, 9}); got != -1 {
		t.Errorf("StopIndexOf(9.9) = %d, want -1", got)
	}
}

func TestValidationErrorMatchesSentinel(t *testing.T) {
	var err error = &ValidationError{Field: "latitude", Detail: "out of range"}
	if !errors.Is(err, ErrValidation) {
		t.Errorf("ValidationError does not match ErrValidation")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "latitude" {
		t.Errorf("errors.As did not recover the field name")
	}
}

func TestDependencyErrorUnwraps(t *testing.T) {
	inner := errors.New("connection refused")
	var err error = &DependencyError{Dependency: "position persistence", Err: inner}
	if !errors.Is(err, inner) {
		t.Errorf("DependencyError does not unwrap to its cause")
	}
}
