package domain

import (
	"testing"
	"time"
)

func TestClockFuncNilFallsBackToUTC(t *testing.T) {
	got := ClockFunc(nil).Now()
	if got.IsZero() {
		t.Fatal("expected non-zero time from nil ClockFunc")
	}
	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %s", got.Location())
	}
}

func TestWallClockUsesLocationReading(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	instant := time.Date(2024, 1, 1, 23, 30, 0, 0, time.UTC)
	got := WallClock(instant, berlin)
	want := time.Date(2024, 1, 2, 0, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if WallClock(instant, nil) != instant {
		t.Fatalf("nil location must behave as UTC")
	}
}

func TestResolveLocationInheritance(t *testing.T) {
	org := Organization{Timezone: "America/New_York"}
	cases := []struct {
		name  string
		group Group
		want  string
	}{
		{name: "sentinel", group: Group{Timezone: TimezoneInherit}, want: "America/New_York"},
		{name: "empty", group: Group{}, want: "America/New_York"},
		{name: "explicit", group: Group{Timezone: "Europe/Paris"}, want: "Europe/Paris"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := EffectiveTimezone(tc.group, org); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}

	loc, err := ResolveLocation(Group{Timezone: TimezoneInherit}, Organization{})
	if err != nil || loc != time.UTC {
		t.Fatalf("expected UTC for empty zone, got %v (%v)", loc, err)
	}
	if _, err := ResolveLocation(Group{ID: "g", Timezone: "Mars/Olympus"}, org); err == nil {
		t.Fatalf("expected error for unknown zone")
	}
}

func TestNaiveWallTimeDropsZoneAndSubseconds(t *testing.T) {
	offset := time.FixedZone("UTC-5", -5*60*60)
	got := NaiveWallTime(time.Date(2024, 3, 9, 10, 15, 30, 500_000_000, offset))
	want := time.Date(2024, 3, 9, 10, 15, 30, 0, time.UTC)
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if !NaiveWallTime(time.Time{}).IsZero() {
		t.Fatalf("zero time must stay zero")
	}
}
