package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"roombot/internal/storage"
)

// rule is one concrete fire instruction. Repeating rules carry a cron
// schedule; one-time rules have sched == nil.
type rule struct {
	id     uint64
	tag    string
	msg    storage.ScheduledMessage
	sched  cron.Schedule
	next   time.Time
	firing bool
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// expand turns a message into its cron schedules. Weekdays yields five
// schedules, one per Monday..Friday. Weekly anchors on anchor's weekday.
func expand(m storage.ScheduledMessage, anchor time.Time) ([]cron.Schedule, error) {
	base := fmt.Sprintf("%d %d * * ", m.At.Minute, m.At.Hour)
	var specs []string
	switch m.Repeat {
	case storage.RepeatNone:
		return nil, nil
	case storage.RepeatDaily:
		specs = []string{base + "*"}
	case storage.RepeatWeekdays:
		for d := time.Monday; d <= time.Friday; d++ {
			specs = append(specs, fmt.Sprintf("%s%d", base, int(d)))
		}
	case storage.RepeatWeekly:
		specs = []string{fmt.Sprintf("%s%d", base, int(anchor.Local().Weekday()))}
	default:
		return nil, fmt.Errorf("unsupported repeat %q", m.Repeat)
	}

	out := make([]cron.Schedule, 0, len(specs))
	for _, spec := range specs {
		sc, err := parser.Parse(spec)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", spec, err)
		}
		out = append(out, sc)
	}
	return out, nil
}

// nextOnce is today's HH:MM, rolled to tomorrow if it is not after now.
func nextOnce(at storage.TimeOfDay, now time.Time) time.Time {
	target := at.On(now)
	if !target.After(now) {
		target = at.On(now.AddDate(0, 0, 1))
	}
	return target
}

func tag(c Class, id int64) string { return fmt.Sprintf("%s:%d", c, id) }
