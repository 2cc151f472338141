package model

import (
	"time"

	"github.com/google/uuid"
)

// Organization owns exams (a university or one of its faculties).
type Organization struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Exam represents an exam entity published by an organization.
type Exam struct {
	ID              uuid.UUID  `json:"id"`
	OrganizationID  int        `json:"organization_id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	ScheduledStart  *time.Time `json:"scheduled_start,omitempty"`
	ScheduledEnd    *time.Time `json:"scheduled_end,omitempty"`
	DurationMinutes int        `json:"duration_minutes"`
	// PassingScore is the minimum exam score marked as passed on finalize.
	PassingScore int       `json:"passing_score"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CreateExamRequest is the payload for creating a new exam.
type CreateExamRequest struct {
	Title           string     `json:"title" binding:"required,notblank,min=3,max=255"`
	Description     string     `json:"description" binding:"omitempty,max=5000"`
	ScheduledStart  *time.Time `json:"scheduled_start" binding:"required"`
	ScheduledEnd    *time.Time `json:"scheduled_end" binding:"omitempty,gtfield=ScheduledStart"`
	DurationMinutes int        `json:"duration_minutes" binding:"required,min=1,max=480"`
	PassingScore    int        `json:"passing_score" binding:"min=0"`
}

// AddStudentsRequest appends students to an exam's entitlement list.
type AddStudentsRequest struct {
	StudentIDs []int `json:"student_ids" binding:"required,min=1,max=1000,dive,min=1"`
}

// ExamContentView is what a student receives when opening an exam.
type ExamContentView struct {
	ExamID          uuid.UUID            `json:"exam_id"`
	Title           string               `json:"title"`
	Description     string               `json:"description"`
	ScheduledStart  *time.Time           `json:"scheduled_start,omitempty"`
	ScheduledEnd    *time.Time           `json:"scheduled_end,omitempty"`
	DurationMinutes int                  `json:"duration_minutes"`
	Questions       []QuestionForStudent `json:"questions"`
	// FirstOpen is true only on the call that recorded the opening.
	FirstOpen bool `json:"first_open"`
}
