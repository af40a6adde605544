package entitlements

import (
	"errors"
	"testing"
	"time"
)

func TestEntitlementActive(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	cases := []struct {
		name string
		e    Entitlement
		want bool
	}{
		{"plain", Entitlement{Name: "c1"}, true},
		{"empty name", Entitlement{Name: " "}, false},
		{"revoked", Entitlement{Name: "c1", RevokedAt: &past}, false},
		{"revocation scheduled", Entitlement{Name: "c1", RevokedAt: &future}, true},
		{"expired", Entitlement{Name: "c1", ExpiresAt: &past}, false},
		{"not yet expired", Entitlement{Name: "c1", ExpiresAt: &future}, true},
	}
	for _, tc := range cases {
		if got := tc.e.Active(now); got != tc.want {
			t.Errorf("%s: Active() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestSnapshotHasCourseIgnoresInactiveGrants(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	s := NewProfileSnapshot("u1", []Entitlement{
		{Name: "go-101"},
		{Name: "rust-201", RevokedAt: &past},
	}, map[string]string{"name": "Ada"}, now)

	if !s.HasCourse("go-101") {
		t.Fatal("expected go-101 to be purchased")
	}
	if s.HasCourse("rust-201") {
		t.Fatal("revoked grant must not count")
	}
	if s.HasCourse("missing") {
		t.Fatal("unexpected course")
	}
	if zero := (ProfileSnapshot{}); zero.HasCourse("go-101") {
		t.Fatal("zero snapshot grants nothing")
	}
}

func TestSnapshotCopiesInputs(t *testing.T) {
	grants := []Entitlement{{Name: "a"}}
	fields := map[string]string{"k": "v"}
	s := NewProfileSnapshot("u", grants, fields, time.Now())
	grants[0].Name = "mutated"
	fields["k"] = "changed"
	if s.Grants[0].Name != "a" || s.Fields["k"] != "v" {
		t.Fatal("snapshot shares memory with caller inputs")
	}
}

func TestIntentProgressAndValidate(t *testing.T) {
	in := NewIntent("c1", 4, time.Now())
	if !in.IsChecking || in.MaxAttempts != 4 {
		t.Fatalf("unexpected intent %+v", in)
	}
	in.Attempts = 2
	if in.Progress() != 0.5 {
		t.Fatalf("progress = %v", in.Progress())
	}
	if in.Exhausted() {
		t.Fatal("not exhausted yet")
	}
	in.Attempts = 4
	if !in.Exhausted() {
		t.Fatal("expected exhausted")
	}
	in.Attempts = 5
	if err := in.Validate(); err == nil {
		t.Fatal("attempts over max must fail validation")
	}
	if err := (Intent{MaxAttempts: 1}).Validate(); err == nil {
		t.Fatal("missing courseId must fail validation")
	}
	if NewIntent("c", 0, time.Now()).MaxAttempts != DefaultMaxAttempts {
		t.Fatal("expected default max attempts")
	}
}

func TestEventKindRoundTrip(t *testing.T) {
	for _, k := range []EventKind{EventStarted, EventUpdated, EventCompleted} {
		got, ok := ParseEventKind(k.String())
		if !ok || got != k {
			t.Fatalf("ParseEventKind(%q) = %v, %v", k.String(), got, ok)
		}
	}
	if _, ok := ParseEventKind("bogus"); ok {
		t.Fatal("bogus kind parsed")
	}
}

func TestPersistenceErrorsUnwrap(t *testing.T) {
	cause := errors.New("quota")
	var werr error = &PersistenceWriteError{CourseID: "c", Op: "save", Err: cause}
	if !errors.Is(werr, cause) {
		t.Fatal("write error should unwrap to cause")
	}
	var target *PersistenceWriteError
	if !errors.As(werr, &target) || target.Op != "save" {
		t.Fatal("errors.As failed")
	}
	var rerr error = &PersistenceReadError{CourseID: "c", Err: cause}
	if !errors.Is(rerr, cause) {
		t.Fatal("read error should unwrap to cause")
	}
}
