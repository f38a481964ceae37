package types

import (
	"fmt"
	"time"
)

// RegistrationTask is one unit of deferred onboarding work for a subject.
// Exactly one row exists per (SubjectID, TaskType).
type RegistrationTask struct {
	ID           string      `json:"id"`
	SubjectID    string      `json:"subjectId"`
	TaskType     TaskType    `json:"taskType"`
	Status       TaskStatus  `json:"status"`
	Priority     int         `json:"priority"`
	RetryCount   int         `json:"retryCount"`
	NextRetryAt  *time.Time  `json:"nextRetryAt,omitempty"`
	ErrorDetails *TaskError  `json:"errorDetails,omitempty"`
	Result       *TaskResult `json:"resultPayload,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// DueAt reports whether the task may be attempted at now.
// A task with no scheduled retry is always due.
func (t RegistrationTask) DueAt(now time.Time) bool {
	return t.NextRetryAt == nil || !t.NextRetryAt.After(now)
}

// TaskError is the last failure recorded on a task.
type TaskError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Attempt    int       `json:"attempt"`
	OccurredAt time.Time `json:"occurredAt"`
}

// TaskResult is the tagged union of handler results, keyed by TaskType.
// A skipped result carries a SkipReason and may omit the variant.
type TaskResult struct {
	TaskType   TaskType        `json:"taskType"`
	Skipped    bool            `json:"skipped,omitempty"`
	SkipReason SkipReason      `json:"skipReason,omitempty"`
	CareTeam   *CareTeamResult `json:"careTeam,omitempty"`
	ChatRoom   *ChatRoomResult `json:"chatRoom,omitempty"`
	Welcome    *WelcomeResult  `json:"welcome,omitempty"`
}

// CareTeamResult is the payload of a completed assign_care_team task.
type CareTeamResult struct {
	CareTeamAssigned bool    `json:"careTeamAssigned"`
	AlreadyAssigned  bool    `json:"alreadyAssigned,omitempty"`
	AssignmentID     string  `json:"assignmentId,omitempty"`
	DoctorID         string  `json:"doctorId,omitempty"`
	NutritionistID   *string `json:"nutritionistId,omitempty"`
}

// ChatRoomResult is the payload of a completed create_chat_room task.
type ChatRoomResult struct {
	RoomID  string `json:"roomId"`
	Created bool   `json:"created"`
}

// WelcomeResult is the payload of a completed send_welcome_notification task.
type WelcomeResult struct {
	Template          WelcomeTemplate `json:"template"`
	Delivered         bool            `json:"delivered"`
	AlreadySent       bool            `json:"alreadySent,omitempty"`
	ProviderMessageID string          `json:"providerMessageId,omitempty"`
}

// SkippedResult builds the result of a handler that did not apply.
func SkippedResult(taskType TaskType, reason SkipReason) *TaskResult {
	return &TaskResult{TaskType: taskType, Skipped: true, SkipReason: reason}
}

// Validate checks that the populated variant matches TaskType.
func (r *TaskResult) Validate() error {
	if r == nil {
		return fmt.Errorf("task result is nil")
	}
	set := 0
	for _, ok := range []bool{r.CareTeam != nil, r.ChatRoom != nil, r.Welcome != nil} {
		if ok {
			set++
		}
	}
	if set > 1 {
		return fmt.Errorf("task result for %s carries %d variants", r.TaskType, set)
	}
	if r.Skipped {
		if r.SkipReason == "" {
			return fmt.Errorf("skipped task result for %s has no reason", r.TaskType)
		}
		return nil
	}

	var ok bool
	switch r.TaskType {
	case TaskAssignCareTeam:
		ok = r.CareTeam != nil
	case TaskCreateChatRoom:
		ok = r.ChatRoom != nil
	case TaskSendWelcomeNotification:
		ok = r.Welcome != nil
	default:
		return fmt.Errorf("unknown task type %q", r.TaskType)
	}
	if !ok {
		return fmt.Errorf("task result for %s is missing its payload", r.TaskType)
	}
	return nil
}

// Profile is the subset of a subject's profile the orchestrator reads.
type Profile struct {
	ID                      string             `json:"id"`
	FullName                string             `json:"fullName"`
	Email                   string             `json:"email,omitempty"`
	Phone                   string             `json:"phone,omitempty"`
	Role                    Role               `json:"role"`
	RegistrationStatus      RegistrationStatus `json:"registrationStatus"`
	RegistrationCompletedAt *time.Time         `json:"registrationCompletedAt,omitempty"`
}

// Assignment links a patient to a doctor and optional nutritionist.
type Assignment struct {
	ID             string    `json:"id"`
	PatientID      string    `json:"patientId"`
	DoctorID       string    `json:"doctorId"`
	NutritionistID *string   `json:"nutritionistId,omitempty"`
	AssignedAt     time.Time `json:"assignedAt"`
}

// DefaultCareTeam is the administrator-configured fallback pairing.
type DefaultCareTeam struct {
	ID             string  `json:"id"`
	DoctorID       string  `json:"doctorId"`
	NutritionistID *string `json:"nutritionistId,omitempty"`
}

// Room is a provisioned care-team communication room.
type Room struct {
	ID        string `json:"roomId"`
	PatientID string `json:"patientId"`
	Created   bool   `json:"created"`
}

// WelcomeNotification is the payload handed to the notification dispatcher.
type WelcomeNotification struct {
	SubjectID        string
	Template         WelcomeTemplate
	RecipientName    string
	RecipientEmail   string
	Role             Role
	DoctorName       string
	NutritionistName string
}

// WelcomeDelivery records that the provider accepted a subject's welcome
// notification. At most one exists per subject.
type WelcomeDelivery struct {
	SubjectID         string
	Template          WelcomeTemplate
	ProviderMessageID string
	SentAt            time.Time
}

// DeliveryReceipt is returned by the notification dispatcher.
type DeliveryReceipt struct {
	Delivered         bool
	ProviderMessageID string
}

// Lease is a time-bounded exclusive claim on a named resource.
type Lease struct {
	Key       string
	Holder    string
	ExpiresAt time.Time
}
