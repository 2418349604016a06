package storage

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a conditional update finds the row in an
// unexpected state (for example, completing a job that is no longer processing).
var ErrConflict = errors.New("conflicting state")

// ErrLeased is returned when a write task is held by a writer whose lease
// has not yet expired.
var ErrLeased = errors.New("write task is leased by another writer")

type JobType string

const (
	JobWriteChapter    JobType = "write_chapter"
	JobBatchWrite      JobType = "batch_write"
	JobAnalyzeChapter  JobType = "analyze_chapter"
	JobGenerateSummary JobType = "generate_summary"
	JobExportStory     JobType = "export_story"
)

// Valid reports whether t is one of the known job types.
func (t JobType) Valid() bool {
	switch t {
	case JobWriteChapter, JobBatchWrite, JobAnalyzeChapter, JobGenerateSummary, JobExportStory:
		return true
	}
	return false
}

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobRetrying   JobStatus = "retrying"
	JobTimeout    JobStatus = "timeout"
)

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// ClaimableStatuses lists the statuses a job may be dequeued from.
var ClaimableStatuses = []JobStatus{JobPending, JobRetrying, JobTimeout}

type Job struct {
	ID              string
	OwnerID         string
	Type            JobType
	Status          JobStatus
	Priority        int
	Payload         json.RawMessage
	Result          json.RawMessage
	Error           string
	Attempts        int
	MaxAttempts     int
	TimeoutMs       int64
	ScheduledFor    time.Time
	Progress        int
	ProgressMessage string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StartedAt       time.Time
	CompletedAt     time.Time
}

// JobTransition describes a conditional status change. Zero-valued optional
// fields leave the stored column unchanged.
type JobTransition struct {
	Status       JobStatus
	Error        *string
	Result       json.RawMessage
	Progress     *int
	ScheduledFor time.Time
	CompletedAt  time.Time
}

// JobStats aggregates the job table for dashboards.
type JobStats struct {
	Counts            map[JobStatus]int
	Total             int
	AvgDurationMillis float64
}

type Project struct {
	ID             string
	Title          string
	TotalChapters  int
	RealmLadder    []string
	GradeLadder    []string
	LevelsPerRealm int
	CreatedAt      time.Time
}

// Arc is one narrative arc of a blueprint, covering an inclusive chapter range.
type Arc struct {
	Name          string `json:"name"`
	StartChapter  int    `json:"start_chapter"`
	EndChapter    int    `json:"end_chapter"`
	TensionTarget int    `json:"tension_target"`
	Summary       string `json:"summary,omitempty"`
}

type Blueprint struct {
	ID        string
	ProjectID string
	Title     string
	Genre     string
	Synopsis  string
	Arcs      []Arc
	CreatedAt time.Time
}

// ArcFor returns the arc covering chapter, if any.
func (b Blueprint) ArcFor(chapter int) (Arc, bool) {
	for _, a := range b.Arcs {
		if chapter >= a.StartChapter && (a.EndChapter == 0 || chapter <= a.EndChapter) {
			return a, true
		}
	}
	return Arc{}, false
}

// Author is the virtual author persona assigned to a production.
type Author struct {
	ID           string
	Name         string
	Style        string
	Voice        string
	SystemPrompt string
	Temperature  float64
}

const (
	ProductionActive    = "active"
	ProductionPaused    = "paused"
	ProductionCompleted = "completed"
)

type Production struct {
	ID                   string
	ProjectID            string
	BlueprintID          string
	AuthorID             string
	Status               string
	CurrentChapter       int
	TotalChapters        int
	QualityScores        []float64
	AverageQuality       float64
	ChaptersWrittenToday int
	LastWriteDate        string // YYYY-MM-DD, UTC
	ConsecutiveErrors    int
	LastError            string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

type WriteTaskStatus string

const (
	TaskPending   WriteTaskStatus = "pending"
	TaskWriting   WriteTaskStatus = "writing"
	TaskRewriting WriteTaskStatus = "rewriting"
	TaskCompleted WriteTaskStatus = "completed"
	TaskFailed    WriteTaskStatus = "failed"
)

// WriteTask is one scheduled chapter-writing slot of a production.
type WriteTask struct {
	ID            string
	ProductionID  string
	ChapterNumber int
	Status        WriteTaskStatus
	Attempts      int
	ScheduledFor  time.Time
	PublishAt     time.Time
	ChapterID     string
	QualityScore  float64
	Rewritten     bool
	Error         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// WriteTaskResult is the terminal outcome recorded on a write task.
// A non-zero Attempt only applies the result while the task is still held
// by that claim.
type WriteTaskResult struct {
	Status       WriteTaskStatus
	ChapterID    string
	QualityScore float64
	Rewritten    bool
	Error        string
	Attempt      int
}

type Chapter struct {
	ID           string
	ProductionID string
	Number       int
	Title        string
	Content      string
	WordCount    int
	QualityScore float64
	Summary      string
	CreatedAt    time.Time
}

type PublishEntry struct {
	ID            string
	ProductionID  string
	ChapterID     string
	ChapterNumber int
	PublishAt     time.Time
	Status        string
	CreatedAt     time.Time
}

// FactoryError is an operator-facing record of a failed production step.
type FactoryError struct {
	ID           int64
	ProductionID string
	TaskID       string
	Stage        string
	Message      string
	Detail       string
	CreatedAt    time.Time
}

type ProgressionItem struct {
	Name            string `json:"name"`
	Type            string `json:"type"`
	Grade           string `json:"grade"`
	AcquiredChapter int    `json:"acquired_chapter"`
}

type ProgressionRow struct {
	ProjectID               string
	CharacterName           string
	Realm                   string
	Level                   int
	Abilities               []string
	Items                   []ProgressionItem
	TotalBreakthroughs      int
	LastBreakthroughChapter int
}

type OwnerRecord struct {
	Owner   string `json:"owner"`
	Chapter int    `json:"chapter"`
}

type ItemRow struct {
	ID                  string
	ProjectID           string
	Name                string
	AlternateName       string
	Category            string
	Grade               string
	Description         string
	Effects             []string
	EstimatedValue      float64
	Currency            string
	FirstMentionChapter int
	LastMentionChapter  int
	MentionCount        int
	CurrentOwner        string
	OwnerHistory        []OwnerRecord
	Status              string
	StatusChangeChapter int
}
