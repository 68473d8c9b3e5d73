package core

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/valter-silva-au/questsync/pkg/models"
)

// Day labels for the two relative buckets.
const (
	LabelToday    = "Today"
	LabelTomorrow = "Tomorrow"
)

// Default layouts used when BucketOptions leaves them empty.
const (
	DefaultTimeLayout = "3:04 PM"
	DefaultDateLayout = "Monday, January 2"
)

// TimeGroup collects the tasks of one day that share a formatted
// time-of-day. Instant is the earliest underlying instant in the group and
// drives ordering.
type TimeGroup struct {
	Time    string        `json:"time"`
	Instant time.Time     `json:"instant"`
	Tasks   []models.Task `json:"tasks"`
}

// DayBucket is one day of the agenda. It is derived data and is rebuilt on
// every input change.
type DayBucket struct {
	DayLabel         string        `json:"dayLabel"`
	DayDate          time.Time     `json:"dayDate"`
	TasksWithoutTime []models.Task `json:"tasksWithoutTime"`
	TimeGroups       []TimeGroup   `json:"timeGroups"`
}

// BucketOptions controls the calendar and formatting used for bucketing.
// A nil Location means the location of the supplied now.
type BucketOptions struct {
	Location   *time.Location
	TimeLayout string
	DateLayout string
}

// DefaultBucketOptions returns the default layouts in now's location.
func DefaultBucketOptions() BucketOptions {
	return BucketOptions{
		TimeLayout: DefaultTimeLayout,
		DateLayout: DefaultDateLayout,
	}
}

// BucketOptionsFromConfig builds options from the display configuration.
func BucketOptionsFromConfig(cfg models.DisplayConfig) (BucketOptions, error) {
	opts := DefaultBucketOptions()
	if cfg.TimeLayout != "" {
		opts.TimeLayout = cfg.TimeLayout
	}
	if cfg.DateLayout != "" {
		opts.DateLayout = cfg.DateLayout
	}
	tz := strings.TrimSpace(cfg.Timezone)
	if tz != "" && !strings.EqualFold(tz, "local") {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return BucketOptions{}, fmt.Errorf("loading timezone %q: %w", tz, err)
		}
		opts.Location = loc
	}
	return opts, nil
}

// DayBucketer partitions task collections into day buckets.
type DayBucketer struct {
	opts BucketOptions
}

// NewDayBucketer creates a DayBucketer, filling empty layouts with defaults.
func NewDayBucketer(opts BucketOptions) *DayBucketer {
	if opts.TimeLayout == "" {
		opts.TimeLayout = DefaultTimeLayout
	}
	if opts.DateLayout == "" {
		opts.DateLayout = DefaultDateLayout
	}
	return &DayBucketer{opts: opts}
}

// GroupByDay buckets tasks using the default options.
func GroupByDay(tasks []models.Task, now time.Time) []DayBucket {
	return NewDayBucketer(DefaultBucketOptions()).GroupByDay(tasks, now)
}

// GroupByDay partitions tasks into day buckets ordered Today, Tomorrow, then
// the remaining days ascending. Within a day, untimed tasks keep input order
// and time groups are ordered by instant. Tombstoned tasks, hidden episodic
// tasks and past tasks that are neither COMPLETED nor INPROGRESS are
// dropped.
func (b *DayBucketer) GroupByDay(tasks []models.Task, now time.Time) []DayBucket {
	loc := b.opts.Location
	if loc == nil {
		loc = now.Location()
	}
	now = now.In(loc)
	todayStart := startOfDay(now)
	todayEnd := todayStart.AddDate(0, 0, 1)

	var (
		order   []int64
		buckets = make(map[int64]*DayBucket)
		groups  = make(map[int64]map[string]int)
	)

	bucketFor := func(dayStart time.Time) *DayBucket {
		key := dayStart.Unix()
		if bk, ok := buckets[key]; ok {
			return bk
		}
		bk := &DayBucket{
			DayLabel:         b.dayLabel(dayStart, todayStart, todayEnd),
			DayDate:          dayStart,
			TasksWithoutTime: []models.Task{},
			TimeGroups:       []TimeGroup{},
		}
		buckets[key] = bk
		groups[key] = make(map[string]int)
		order = append(order, key)
		return bk
	}

	for _, task := range tasks {
		if task.IsTombstoned() {
			continue
		}
		if task.Type == models.TaskTypeEpisodic && !IsEpisodicTaskVisible(task, now) {
			continue
		}

		instant, timed := effectiveInstant(task)
		if !timed {
			bk := bucketFor(todayStart)
			bk.TasksWithoutTime = append(bk.TasksWithoutTime, task)
			continue
		}

		instant = instant.In(loc)
		if instant.Before(todayStart) && !staysVisible(task.Status) {
			continue
		}

		dayStart := startOfDay(instant)
		bk := bucketFor(dayStart)
		label := instant.Format(b.opts.TimeLayout)
		idx, ok := groups[dayStart.Unix()][label]
		if !ok {
			bk.TimeGroups = append(bk.TimeGroups, TimeGroup{Time: label, Instant: instant})
			idx = len(bk.TimeGroups) - 1
			groups[dayStart.Unix()][label] = idx
		}
		g := &bk.TimeGroups[idx]
		g.Tasks = append(g.Tasks, task)
		if instant.Before(g.Instant) {
			g.Instant = instant
		}
	}

	out := make([]DayBucket, 0, len(order))
	for _, key := range order {
		bk := buckets[key]
		sort.SliceStable(bk.TimeGroups, func(i, j int) bool {
			return bk.TimeGroups[i].Instant.Before(bk.TimeGroups[j].Instant)
		})
		out = append(out, *bk)
	}

	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := dayRank(out[i].DayLabel), dayRank(out[j].DayLabel)
		if ri != rj {
			return ri < rj
		}
		return out[i].DayDate.Before(out[j].DayDate)
	})

	return out
}

func (b *DayBucketer) dayLabel(dayStart, todayStart, todayEnd time.Time) string {
	switch {
	case dayStart.Equal(todayStart):
		return LabelToday
	case dayStart.Equal(todayEnd):
		return LabelTomorrow
	default:
		return dayStart.Format(b.opts.DateLayout)
	}
}

// effectiveInstant returns the instant a task is scheduled against. An
// unset expire time, or a zero expire time on an episodic task, means the
// task has no time component.
func effectiveInstant(task models.Task) (time.Time, bool) {
	if task.ExpireTimeInMillSec == nil {
		return time.Time{}, false
	}
	if task.Type == models.TaskTypeEpisodic && *task.ExpireTimeInMillSec == 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(*task.ExpireTimeInMillSec), true
}

// staysVisible reports whether a past task must still be shown so the user
// can review or finish it.
func staysVisible(status models.TaskStatus) bool {
	return status == models.StatusCompleted || status == models.StatusInProgress
}

func dayRank(label string) int {
	switch label {
	case LabelToday:
		return 0
	case LabelTomorrow:
		return 1
	default:
		return 2
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
