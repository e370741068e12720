package cortex

import (
	"testing"
	"time"
)

func mustTime(t *testing.T, value string, loc *time.Location) time.Time {
	t.Helper()
	parsed, err := time.ParseInLocation("2006-01-02 15:04:05", value, loc)
	if err != nil {
		t.Fatal(err)
	}
	return parsed
}

func TestComputeNextFireDaily(t *testing.T) {
	loc := time.UTC
	tests := []struct {
		name string
		now  string
		want string
	}{
		{"before today's slot", "2026-08-01 07:00:00", "2026-08-01 09:30:00"},
		{"after today's slot", "2026-08-01 10:00:00", "2026-08-02 09:30:00"},
		{"exactly at the slot", "2026-08-01 09:30:00", "2026-08-02 09:30:00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ComputeNextFire("09:30 daily", mustTime(t, tt.now, loc), loc)
			if !ok {
				t.Fatal("not ok")
			}
			if want := mustTime(t, tt.want, loc); !got.Equal(want) {
				t.Errorf("got %v, want %v", got, want)
			}
		})
	}
}

func TestComputeNextFireWeekly(t *testing.T) {
	loc := time.UTC
	// 2026-08-01 is a Saturday.
	now := mustTime(t, "2026-08-01 12:00:00", loc)

	got, ok := ComputeNextFire("08:00 weekly(monday)", now, loc)
	if !ok {
		t.Fatal("not ok")
	}
	if want := mustTime(t, "2026-08-03 08:00:00", loc); !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}

	// Same day but time already past: a full week ahead.
	got, ok = ComputeNextFire("08:00 weekly(saturday)", now, loc)
	if !ok {
		t.Fatal("not ok")
	}
	if want := mustTime(t, "2026-08-08 08:00:00", loc); !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestComputeNextFireCustomDays(t *testing.T) {
	loc := time.UTC
	now := mustTime(t, "2026-08-01 12:00:00", loc) // Saturday

	got, ok := ComputeNextFire("18:00 custom(mon,wed,fri)", now, loc)
	if !ok {
		t.Fatal("not ok")
	}
	if want := mustTime(t, "2026-08-03 18:00:00", loc); !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestComputeNextFireMonthly(t *testing.T) {
	loc := time.UTC
	tests := []struct {
		now  string
		rule string
		want string
	}{
		{"2026-08-01 12:00:00", "09:00 monthly(15)", "2026-08-15 09:00:00"},
		{"2026-08-20 12:00:00", "09:00 monthly(15)", "2026-09-15 09:00:00"},
		{"2026-12-20 12:00:00", "09:00 monthly(15)", "2027-01-15 09:00:00"},
	}
	for _, tt := range tests {
		got, ok := ComputeNextFire(tt.rule, mustTime(t, tt.now, loc), loc)
		if !ok {
			t.Fatalf("%s: not ok", tt.now)
		}
		if want := mustTime(t, tt.want, loc); !got.Equal(want) {
			t.Errorf("%s: got %v, want %v", tt.now, got, want)
		}
	}
}

func TestComputeNextFireIndonesianDayNames(t *testing.T) {
	loc := time.UTC
	now := mustTime(t, "2026-08-01 12:00:00", loc) // Saturday

	got, ok := ComputeNextFire("07:00 weekly(senin)", now, loc)
	if !ok {
		t.Fatal("senin not recognized")
	}
	if want := mustTime(t, "2026-08-03 07:00:00", loc); !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestComputeNextFireInvalid(t *testing.T) {
	loc := time.UTC
	now := mustTime(t, "2026-08-01 12:00:00", loc)
	for _, rule := range []string{
		"",
		"daily",
		"25:00 daily",
		"09:xx daily",
		"09:00 fortnightly",
		"09:00 weekly(noday)",
		"09:00 monthly(32)",
	} {
		if _, ok := ComputeNextFire(rule, now, loc); ok {
			t.Errorf("rule %q accepted", rule)
		}
	}
}
