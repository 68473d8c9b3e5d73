package core

import (
	"context"
	"fmt"
	"time"

	"github.com/valter-silva-au/questsync/pkg/models"
)

// TaskSource supplies raw records of one kind.
// This interface is defined locally in core to avoid importing storage.
type TaskSource interface {
	Query(ctx context.Context, kind models.EntityKind) ([]models.Record, error)
}

// Agenda is the rendered view of the task collection at one instant.
type Agenda struct {
	GeneratedAt time.Time     `json:"generatedAt"`
	Days        []DayBucket   `json:"days"`
	Episodic    []models.Task `json:"episodic"`
	Skipped     int           `json:"skipped,omitempty"`
}

// AgendaService builds agendas from the local task collection.
type AgendaService interface {
	Build(ctx context.Context, now time.Time) (*Agenda, error)
	FromRecords(records []models.Record, now time.Time) *Agenda
}

type agendaService struct {
	src      TaskSource
	bucketer *DayBucketer
	locale   string
}

// NewAgendaService creates an AgendaService reading from src.
func NewAgendaService(src TaskSource, opts BucketOptions, locale string) AgendaService {
	return &agendaService{
		src:      src,
		bucketer: NewDayBucketer(opts),
		locale:   locale,
	}
}

// Build queries the current Task records and renders them.
func (s *agendaService) Build(ctx context.Context, now time.Time) (*Agenda, error) {
	records, err := s.src.Query(ctx, models.KindTask)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	return s.FromRecords(records, now), nil
}

// FromRecords renders an already-fetched set of Task records. Records that
// cannot be decoded are counted in Skipped.
func (s *agendaService) FromRecords(records []models.Record, now time.Time) *Agenda {
	visible := FilterVisible(records)
	tasks := make([]models.Task, 0, len(visible))
	skipped := 0
	for _, r := range visible {
		t, err := models.TaskFromRecord(r)
		if err != nil {
			skipped++
			continue
		}
		tasks = append(tasks, t)
	}

	var episodic []models.Task
	for _, t := range tasks {
		if t.Type == models.TaskTypeEpisodic && IsEpisodicTaskVisible(t, now) {
			episodic = append(episodic, t)
		}
	}

	return &Agenda{
		GeneratedAt: now,
		Days:        s.bucketer.GroupByDay(tasks, now),
		Episodic:    SortEpisodicTasks(episodic, s.locale),
		Skipped:     skipped,
	}
}
