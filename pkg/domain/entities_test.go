package domain

import (
	"testing"
	"time"
)

func TestEntityRefRoundTrip(t *testing.T) {
	refs := []EntityRef{
		OrganizationRef("o1"),
		GroupRef("g1"),
		EventRef("e1"),
		ImportRef("i1"),
		ResultRef("r1"),
	}
	for _, ref := range refs {
		parsed, err := ParseEntityRef(ref.String())
		if err != nil {
			t.Fatalf("parse %s: %v", ref, err)
		}
		if parsed != ref {
			t.Fatalf("expected %v, got %v", ref, parsed)
		}
	}
}

func TestParseEntityRefRejectsMalformed(t *testing.T) {
	cases := []string{"", "event", "event:", "event_repeater:x", "nope:1"}
	for _, tc := range cases {
		if _, err := ParseEntityRef(tc); err == nil {
			t.Fatalf("expected error for %q", tc)
		}
	}
}

func TestRepeaterEnabled(t *testing.T) {
	if (EventRepeater{}).Enabled() {
		t.Fatalf("unset step must disable the rule")
	}
	if (EventRepeater{Step: 0, Frequency: FrequencyWeek}).Enabled() {
		t.Fatalf("zero step must disable the rule")
	}
	if !(EventRepeater{Step: 2, Frequency: FrequencyWeek}).Enabled() {
		t.Fatalf("positive step must enable the rule")
	}
}

func TestFrequencyValid(t *testing.T) {
	for _, f := range []Frequency{FrequencyDay, FrequencyWeek, FrequencyMonth, FrequencyYear} {
		if !f.Valid() {
			t.Fatalf("expected %s to be valid", f)
		}
	}
	if Frequency("fortnight").Valid() {
		t.Fatalf("unexpected valid frequency")
	}
}

func TestMembershipHelpers(t *testing.T) {
	org := Organization{Managers: []int64{4, 7}}
	if !org.HasManager(7) || org.HasManager(5) {
		t.Fatalf("unexpected manager membership")
	}
	group := Group{Organizers: []int64{9}}
	if !group.HasOrganizer(9) || group.HasOrganizer(4) {
		t.Fatalf("unexpected organizer membership")
	}
}

func TestEventSeriesAndDuration(t *testing.T) {
	repeater := "rep-1"
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	event := Event{Start: start, End: start.Add(90 * time.Minute), RepeaterID: &repeater}
	if !event.InSeries(repeater) || event.InSeries("other") {
		t.Fatalf("unexpected series membership")
	}
	if event.Duration() != 90*time.Minute {
		t.Fatalf("unexpected duration %v", event.Duration())
	}
	if (Event{}).InSeries(repeater) {
		t.Fatalf("event without repeater must not be in a series")
	}
}

func TestPublishState(t *testing.T) {
	if !StatePublish.Published() || StateUnpublish.Published() {
		t.Fatalf("unexpected published mapping")
	}
	if PublishState("archive").Valid() {
		t.Fatalf("unexpected valid state")
	}
}
