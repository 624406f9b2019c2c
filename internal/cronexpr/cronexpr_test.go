package cronexpr

import (
	"testing"
	"time"
)

func mustParse(t *testing.T, expr string) *Expr {
	t.Helper()
	e, err := Parse(expr)
	if err != nil {
		t.Fatalf("Parse(%q): %v", expr, err)
	}
	return e
}

func at(s string) time.Time {
	t, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}

func TestNextAfter_EveryMinute(t *testing.T) {
	e := mustParse(t, "*/1 * * * *")
	got := e.NextAfter(at("2025-01-16 12:00:00"))
	want := at("2025-01-16 12:01:00")
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestNextAfter_HourList(t *testing.T) {
	e := mustParse(t, "0 0,9,12,15,18,21 * * *")
	got := e.NextAfter(at("2025-01-16 10:00:00"))
	want := at("2025-01-16 12:00:00")
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestNextAfter_DomDowUnion(t *testing.T) {
	// Both constrained: 1st of month OR Monday. From a Wednesday in the
	// middle of the month, the next match is whichever comes first.
	e := mustParse(t, "0 0 1 * 1")
	from := at("2025-01-15 00:00:00") // Wednesday
	got := e.NextAfter(from)
	// Next Monday after 2025-01-15 is 2025-01-20; the 1st of Feb is later.
	want := at("2025-01-20 00:00:00")
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestNextAfter_StrictlyGreater(t *testing.T) {
	e := mustParse(t, "0 0 * * *")
	from := at("2025-01-16 00:00:00")
	got := e.NextAfter(from)
	if !got.After(from) {
		t.Fatalf("NextAfter must be strictly greater: got %v for from %v", got, from)
	}
	want := at("2025-01-17 00:00:00")
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestNextAfter_LeapYear(t *testing.T) {
	e := mustParse(t, "0 0 29 2 *")
	got := e.NextAfter(at("2024-03-01 00:00:00"))
	want := at("2028-02-29 00:00:00")
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestNextAfter_MonthRollover(t *testing.T) {
	e := mustParse(t, "0 0 1 * *")
	got := e.NextAfter(at("2025-12-15 00:00:00"))
	want := at("2026-01-01 00:00:00")
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestParse_Errors(t *testing.T) {
	cases := []string{
		"* * * *",      // too few fields
		"60 * * * *",   // minute out of range
		"* 24 * * *",   // hour out of range
		"* * 0 * *",    // dom out of range
		"* * * 13 *",   // month out of range
		"* * * * 8",    // dow out of range (only 0-7 are valid)
		"*/0 * * * *",  // invalid step
		"1-60 * * * *", // range out of bounds
	}
	for _, c := range cases {
		if _, err := Parse(c); err == nil {
			t.Errorf("Parse(%q): expected error, got nil", c)
		}
	}
}

// Vixie cron treats day-of-week 7 as an alias for 0 (Sunday); the
// dow field's parsed bit set has to end up identical either way.
func TestNextAfter_DowSevenEqualsZero(t *testing.T) {
	seven := mustParse(t, "0 0 * * 7")
	zero := mustParse(t, "0 0 * * 0")
	from := at("2025-01-15 00:00:00") // Wednesday

	got := seven.NextAfter(from)
	want := zero.NextAfter(from)
	if !got.Equal(want) {
		t.Fatalf("dow=7 gave %v, want same as dow=0: %v", got, want)
	}
	if got.Weekday() != time.Sunday {
		t.Fatalf("dow=7 must land on a Sunday, got %v", got.Weekday())
	}
}

func TestParse_StepRange(t *testing.T) {
	e := mustParse(t, "*/15 * * * *")
	got := e.NextAfter(at("2025-01-16 12:01:00"))
	want := at("2025-01-16 12:15:00")
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestParse_CommaList(t *testing.T) {
	e := mustParse(t, "5,10,15 * * * *")
	got := e.NextAfter(at("2025-01-16 12:06:00"))
	want := at("2025-01-16 12:10:00")
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestNextAfterExpr_InvalidExpr(t *testing.T) {
	if _, err := NextAfterExpr("bad", time.Now()); err == nil {
		t.Fatal("expected error for malformed expression")
	}
}
