package domain

import (
	"fmt"
	"time"
)

// Clock provides the current instant.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock. A nil ClockFunc reports time.Now in UTC.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time {
	if f == nil {
		return time.Now().UTC()
	}
	return f().UTC()
}

// WallClock converts an instant into the timezone-naive representation used
// for event timestamps: the wall-clock reading in loc, stored with a UTC
// location so that comparisons against Event.Start are field-wise.
func WallClock(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), local.Minute(), local.Second(), local.Nanosecond(), time.UTC)
}

// NaiveWallTime drops the zone of t, keeping its wall-clock reading at
// whole-second precision under a UTC label. Event timestamps are stored this
// way so that the offset a caller supplied never shifts them.
func NaiveWallTime(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
}

// EffectiveTimezone returns the zone name events of the group are interpreted in.
func EffectiveTimezone(group Group, organization Organization) string {
	if group.InheritsTimezone() {
		return organization.Timezone
	}
	return group.Timezone
}

// ResolveLocation loads the group's effective location. An empty zone resolves to UTC.
func ResolveLocation(group Group, organization Organization) (*time.Location, error) {
	name := EffectiveTimezone(group, organization)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("group %s timezone %q: %w", group.ID, name, err)
	}
	return loc, nil
}
