package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// bits is a set of small integers; bit n is set when n matches.
type bits uint64

func (b bits) has(n int) bool { return b&(1<<uint(n)) != 0 }

type cronSpec struct {
	name   string
	lo, hi int
}

var cronFields = [5]cronSpec{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 7}, // 7 is Sunday as well as 0
}

// parseField accepts "*", "5", "1,15", "1-5", "*/10" and "1-30/2".
func parseField(field string, spec cronSpec) (set bits, star bool, err error) {
	for _, part := range strings.Split(field, ",") {
		expr, step := part, 1
		if base, s, ok := strings.Cut(part, "/"); ok {
			n, err := strconv.Atoi(s)
			if err != nil || n < 1 {
				return 0, false, fmt.Errorf("bad step in %q", part)
			}
			expr, step = base, n
		}

		from, to := spec.lo, spec.hi
		switch {
		case expr == "*":
			star = star || step == 1
		case strings.Contains(expr, "-"):
			a, b, _ := strings.Cut(expr, "-")
			if from, err = strconv.Atoi(a); err != nil {
				return 0, false, fmt.Errorf("bad range %q", part)
			}
			if to, err = strconv.Atoi(b); err != nil {
				return 0, false, fmt.Errorf("bad range %q", part)
			}
		default:
			if from, err = strconv.Atoi(expr); err != nil {
				return 0, false, fmt.Errorf("bad value %q", part)
			}
			to = from
		}
		if from < spec.lo || to > spec.hi || from > to {
			return 0, false, fmt.Errorf("%q outside %d-%d", part, spec.lo, spec.hi)
		}
		for v := from; v <= to; v += step {
			set |= 1 << uint(v)
		}
	}
	return set, star, nil
}

// Cron is a parsed 5-field expression: minute hour day-of-month month
// day-of-week. When both day fields are restricted a day matches if either
// does, as in crontab(5).
type Cron struct {
	expr                     string
	minute, hour, dom, month bits
	dow                      bits
	domStar, dowStar         bool
}

func ParseCron(expr string) (Cron, error) {
	fields := strings.Fields(expr)
	if len(fields) != len(cronFields) {
		return Cron{}, fmt.Errorf("cron %q: want 5 fields, got %d", expr, len(fields))
	}

	var (
		sets  [5]bits
		stars [5]bool
	)
	for i, f := range fields {
		set, star, err := parseField(f, cronFields[i])
		if err != nil {
			return Cron{}, fmt.Errorf("cron %s field: %w", cronFields[i].name, err)
		}
		sets[i], stars[i] = set, star
	}
	if sets[4].has(7) {
		sets[4] |= 1
	}

	return Cron{
		expr:    expr,
		minute:  sets[0],
		hour:    sets[1],
		dom:     sets[2],
		month:   sets[3],
		dow:     sets[4],
		domStar: stars[2],
		dowStar: stars[4],
	}, nil
}

func (c Cron) String() string { return c.expr }

func (c Cron) dayMatches(t time.Time) bool {
	dom, dow := c.dom.has(t.Day()), c.dow.has(int(t.Weekday()))
	switch {
	case c.domStar || c.dowStar:
		return dom && dow
	default:
		return dom || dow
	}
}

// Next returns the first matching minute strictly after 'after', searching
// at most a year ahead. Non-matching days and hours are skipped whole.
func (c Cron) Next(after time.Time) (time.Time, error) {
	t := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.AddDate(1, 0, 1)

	for t.Before(limit) {
		if !c.month.has(int(t.Month())) || !c.dayMatches(t) {
			y, m, d := t.Date()
			t = time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
			continue
		}
		if !c.hour.has(t.Hour()) {
			y, m, d := t.Date()
			t = time.Date(y, m, d, t.Hour()+1, 0, 0, 0, t.Location())
			continue
		}
		if !c.minute.has(t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}
		return t, nil
	}
	return time.Time{}, fmt.Errorf("cron %q: no match within a year of %s", c.expr, after.Format(time.RFC3339))
}
