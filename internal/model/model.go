// Package model defines domain entities exchanged with the TaskFlow API.
package model

import "time"

// TaskStatus is the board column a task sits in.
type TaskStatus string

const (
	StatusTodo       TaskStatus = "todo"
	StatusInProgress TaskStatus = "in_progress"
	StatusReview     TaskStatus = "review"
	StatusDone       TaskStatus = "done"
)

// Valid reports whether s is one of the server-known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusReview, StatusDone:
		return true
	}
	return false
}

// TaskPriority is the urgency level assigned to a task.
type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
	PriorityUrgent TaskPriority = "urgent"
)

// Valid reports whether p is one of the server-known priorities.
func (p TaskPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Task is a read-only mirror of server state; never mutated locally,
// only replaced wholesale by a fresh fetch.
type Task struct {
	ID          int64        `json:"id"`
	Title       string       `json:"title"`
	Description *string      `json:"description"`
	Status      TaskStatus   `json:"status"`
	Priority    TaskPriority `json:"priority"`
	DueDate     *time.Time   `json:"due_date"`
	OwnerID     int64        `json:"owner_id"`
	AssigneeID  *int64       `json:"assignee_id"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// TaskPage is one page of the task collection.
type TaskPage struct {
	Items   []Task `json:"items"`
	Total   int    `json:"total"`
	Page    int    `json:"page"`
	PerPage int    `json:"per_page"`
}

// TaskCreate is the payload for creating a task. Optional fields are
// omitted so the server applies its defaults.
type TaskCreate struct {
	Title       string       `json:"title"`
	Description *string      `json:"description,omitempty"`
	Status      TaskStatus   `json:"status,omitempty"`
	Priority    TaskPriority `json:"priority,omitempty"`
	DueDate     *time.Time   `json:"due_date,omitempty"`
	AssigneeID  *int64       `json:"assignee_id,omitempty"`
}

// TaskUpdate carries only the fields being changed.
type TaskUpdate struct {
	Title       *string       `json:"title,omitempty"`
	Description *string       `json:"description,omitempty"`
	Status      *TaskStatus   `json:"status,omitempty"`
	Priority    *TaskPriority `json:"priority,omitempty"`
	DueDate     *time.Time    `json:"due_date,omitempty"`
	AssigneeID  *int64        `json:"assignee_id,omitempty"`
}

// User is the account identity as reported by the API.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	FullName  *string   `json:"full_name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Tokens is the login endpoint response.
type Tokens struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Session pairs the signed-in user with the bearer credential.
// Invariant: both fields are set and cleared together.
type Session struct {
	User  *User
	Token string
}

// LoggedIn reports whether the session carries an identity and a credential.
func (s Session) LoggedIn() bool { return s.User != nil && s.Token != "" }
