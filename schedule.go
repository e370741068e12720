package cortex

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// ComputeNextFire calculates the next fire time for a recurring reminder.
//
// Recurrence format is "HH:MM <rule>" where rule is one of:
//   - daily                — fires every day at the given local time
//   - custom(mon,wed,fri)  — fires on specific days of the week
//   - weekly(monday)       — fires once a week on the given day
//   - monthly(15)          — fires once a month on the given day number
//
// The time component is interpreted in loc. Day names are matched after
// Unicode normalization and case folding, so user-entered free text
// ("Monday", "MONTAG" won't match, "senin" will — English and Indonesian
// names are recognized).
func ComputeNextFire(recurrence string, now time.Time, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.Local
	}
	parts := strings.SplitN(strings.TrimSpace(recurrence), " ", 2)
	if len(parts) != 2 {
		return time.Time{}, false
	}

	timeParts := strings.Split(parts[0], ":")
	if len(timeParts) != 2 {
		return time.Time{}, false
	}
	hour := schedParseInt(timeParts[0])
	minute := schedParseInt(timeParts[1])
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return time.Time{}, false
	}

	local := now.In(loc)
	localDays := civilDaysOf(local)
	targetSecs := int64(hour)*3600 + int64(minute)*60
	localSecs := int64(local.Hour())*3600 + int64(local.Minute())*60 + int64(local.Second())

	rule := normalizeScheduleToken(parts[1])

	switch {
	case rule == "daily":
		targetDay := localDays
		if localSecs >= targetSecs {
			targetDay++
		}
		return civilTime(targetDay, targetSecs, loc), true

	case strings.HasPrefix(rule, "custom("):
		names := strings.TrimSuffix(strings.TrimPrefix(rule, "custom("), ")")
		currentDOW := ((localDays % 7) + 3) % 7 // Monday=0 (1970-01-01 was a Thursday)

		var bestAhead int64 = -1
		for _, name := range strings.Split(names, ",") {
			targetDOW, ok := dayNameToDOW(strings.TrimSpace(name))
			if !ok {
				return time.Time{}, false
			}
			ahead := targetDOW - currentDOW
			if ahead < 0 {
				ahead += 7
			}
			if ahead == 0 && localSecs >= targetSecs {
				ahead = 7
			}
			if bestAhead < 0 || ahead < bestAhead {
				bestAhead = ahead
			}
		}
		if bestAhead < 0 {
			return time.Time{}, false
		}
		return civilTime(localDays+bestAhead, targetSecs, loc), true

	case strings.HasPrefix(rule, "weekly("):
		name := strings.TrimSuffix(strings.TrimPrefix(rule, "weekly("), ")")
		targetDOW, ok := dayNameToDOW(name)
		if !ok {
			return time.Time{}, false
		}
		currentDOW := ((localDays % 7) + 3) % 7
		ahead := targetDOW - currentDOW
		if ahead < 0 {
			ahead += 7
		}
		if ahead == 0 && localSecs >= targetSecs {
			ahead = 7
		}
		return civilTime(localDays+ahead, targetSecs, loc), true

	case strings.HasPrefix(rule, "monthly("):
		domStr := strings.TrimSuffix(strings.TrimPrefix(rule, "monthly("), ")")
		targetDOM := schedParseInt(domStr)
		if targetDOM < 1 || targetDOM > 31 {
			return time.Time{}, false
		}
		y, m, d := unixDaysToDate(localDays)
		targetY, targetM := y, m
		if d > targetDOM || (d == targetDOM && localSecs >= targetSecs) {
			if m == 12 {
				targetY, targetM = y+1, 1
			} else {
				targetM = m + 1
			}
		}
		return civilTime(dateToUnixDays(targetY, targetM, targetDOM), targetSecs, loc), true
	}

	return time.Time{}, false
}

// civilDaysOf returns the civil-calendar day count since the Unix epoch for
// t's local date. Day arithmetic on civil days is robust to DST: recurrence
// boundaries never shift with a midnight rollover the way naive duration
// subtraction would.
func civilDaysOf(t time.Time) int64 {
	return dateToUnixDays(t.Year(), int(t.Month()), t.Day())
}

// civilTime materializes a civil day + second-of-day in loc.
func civilTime(days, secs int64, loc *time.Location) time.Time {
	y, m, d := unixDaysToDate(days)
	return time.Date(y, time.Month(m), d, 0, 0, int(secs), 0, loc)
}

// normalizeScheduleToken lowercases and NFKC-normalizes user-entered
// schedule text so full-width digits and compatibility forms match.
func normalizeScheduleToken(s string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFKC.String(s)))
}

// dayNameToDOW maps a day name (English or Indonesian) to day-of-week
// (Monday=0).
func dayNameToDOW(name string) (int64, bool) {
	switch normalizeScheduleToken(name) {
	case "monday", "mon", "senin":
		return 0, true
	case "tuesday", "tue", "selasa":
		return 1, true
	case "wednesday", "wed", "rabu":
		return 2, true
	case "thursday", "thu", "kamis":
		return 3, true
	case "friday", "fri", "jumat":
		return 4, true
	case "saturday", "sat", "sabtu":
		return 5, true
	case "sunday", "sun", "minggu":
		return 6, true
	}
	return 0, false
}

// schedParseInt parses a non-negative integer. Returns -1 on any non-digit
// character or empty input.
func schedParseInt(s string) int {
	if s == "" {
		return -1
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return -1
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// unixDaysToDate converts days since the Unix epoch to year/month/day.
// Algorithm from http://howardhinnant.github.io/date_algorithms.html
func unixDaysToDate(days int64) (year, month, day int) {
	z := days + 719468
	era := z / 146097
	if z < 0 {
		era = (z - 146096) / 146097
	}
	doe := z - era*146097
	yoe := (doe - doe/1460 + doe/36524 - doe/146096) / 365
	y := yoe + era*400
	doy := doe - (365*yoe + yoe/4 - yoe/100)
	mp := (5*doy + 2) / 153
	d := doy - (153*mp+2)/5 + 1
	m := mp + 3
	if mp >= 10 {
		m = mp - 9
	}
	if m <= 2 {
		y++
	}
	return int(y), int(m), int(d)
}

// dateToUnixDays converts year/month/day to days since the Unix epoch.
// Inverse of unixDaysToDate.
func dateToUnixDays(year, month, day int) int64 {
	y := int64(year)
	m := int64(month)
	d := int64(day)
	if m <= 2 {
		y--
	}
	era := y / 400
	if y < 0 {
		era = (y - 399) / 400
	}
	yoe := y - era*400
	var doy int64
	if m > 2 {
		doy = (153*(m-3)+2)/5 + d - 1
	} else {
		doy = (153*(m+9)+2)/5 + d - 1
	}
	doe := yoe*365 + yoe/4 - yoe/100 + doy
	return era*146097 + doe - 719468
}
