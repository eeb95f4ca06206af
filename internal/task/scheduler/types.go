package scheduler

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"rtcore/internal/eventbus"
	logx "rtcore/pkg/logx"
)

// Config controls the scheduler.
type Config struct {
	// HistorySize bounds the execution history kept for Snapshot (default 200).
	HistorySize int
	// Timezone is used to evaluate cron schedules (IANA name, default Local).
	Timezone string
}

// Action is the work a task performs. It runs synchronously inside Step.
type Action interface {
	Execute(ctx context.Context) error
}

// ActionFunc adapts a plain function to Action.
type ActionFunc func(ctx context.Context) error

func (f ActionFunc) Execute(ctx context.Context) error { return f(ctx) }

// TaskID identifies one enqueue of a task.
type TaskID uint64

func (id TaskID) String() string { return "tsk-" + strconv.FormatUint(uint64(id), 10) }

// Task is a deferred unit of work with an eligibility tick.
//
// The scheduled tick is fixed at construction. After Enqueue the scheduler
// owns the task until it has executed.
type Task struct {
	name   string
	at     uint64
	action Action

	// guarded by the owning Service's mu
	id        TaskID
	completed bool
	sched     *scheduleDef
}

// NewTask creates a task eligible at tick at.
func NewTask(name string, at uint64, action Action) *Task {
	return &Task{name: name, at: at, action: action}
}

// NewFuncTask is NewTask for a plain function.
func NewFuncTask(name string, at uint64, fn func(ctx context.Context) error) *Task {
	if fn == nil {
		return NewTask(name, at, nil)
	}
	return NewTask(name, at, ActionFunc(fn))
}

func (t *Task) Name() string { return t.name }

// At returns the tick at or after which the task may run.
func (t *Task) At() uint64 { return t.at }

// Completed reports whether the task has executed. Read it between steps.
func (t *Task) Completed() bool { return t.completed }

// ID returns the id assigned by the latest Enqueue (0 before that).
func (t *Task) ID() TaskID { return t.id }

// entry is one pending occurrence of a task in the collection.
type entry struct {
	id       TaskID
	task     *Task
	canceled bool
}

type scheduleDef struct {
	name    string
	spec    string
	sched   cron.Schedule
	action  Action
	next    uint64
	current *entry
}

type Service struct {
	mu sync.Mutex

	cfg Config
	log logx.Logger
	bus eventbus.Bus
	loc *time.Location

	parser cron.Parser

	pending []*entry
	byTask  map[*Task]*entry
	byID    map[TaskID]*entry
	seq     uint64

	schedules map[string]*scheduleDef

	stepping bool
	running  *entry

	executed uint64
	failed   uint64
	canceled uint64
	steps    uint64

	history []HistoryItem
}

type HistoryItem struct {
	ID       TaskID
	Name     string
	At       uint64
	RanAt    uint64
	Duration time.Duration
	Error    string
}

// TaskEvent is the payload of task.* bus events.
type TaskEvent struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	At       uint64        `json:"at"`
	RanAt    uint64        `json:"ran_at"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// StepEvent is the payload of scheduler.step bus events.
type StepEvent struct {
	Now      uint64 `json:"now"`
	Executed int    `json:"executed"`
	Failed   int    `json:"failed"`
	Pending  int    `json:"pending"`
}

// ClearEvent is the payload of scheduler.cleared bus events.
type ClearEvent struct {
	Dropped int `json:"dropped"`
}

type ScheduleInfo struct {
	Name string
	Spec string
	Next uint64
}

type Snapshot struct {
	Pending   int
	Executed  uint64
	Failed    uint64
	Canceled  uint64
	Steps     uint64
	NextAt    uint64
	HasNext   bool
	Timezone  string
	Schedules []ScheduleInfo
	History   []HistoryItem
}
