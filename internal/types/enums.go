package types

// TaskType identifies the unit of onboarding work a RegistrationTask performs.
type TaskType string

const (
	TaskAssignCareTeam          TaskType = "assign_care_team"
	TaskCreateChatRoom          TaskType = "create_chat_room"
	TaskSendWelcomeNotification TaskType = "send_welcome_notification"
)

// AllTaskTypes lists every task type seeded for a newly paid subject, in
// descending default priority.
var AllTaskTypes = []TaskType{
	TaskAssignCareTeam,
	TaskCreateChatRoom,
	TaskSendWelcomeNotification,
}

// DefaultPriority returns the priority a task of this type is seeded with.
// Execution is parallel; priority only orders listings and summaries.
func (t TaskType) DefaultPriority() int {
	switch t {
	case TaskAssignCareTeam:
		return 30
	case TaskCreateChatRoom:
		return 20
	case TaskSendWelcomeNotification:
		return 10
	default:
		return 0
	}
}

// Valid reports whether t is a known task type.
func (t TaskType) Valid() bool {
	switch t {
	case TaskAssignCareTeam, TaskCreateChatRoom, TaskSendWelcomeNotification:
		return true
	}
	return false
}

// TaskStatus is the persisted lifecycle state of a RegistrationTask.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Role is the subject's role in the care platform.
type Role string

const (
	RolePatient      Role = "patient"
	RoleDoctor       Role = "doctor"
	RoleNutritionist Role = "nutritionist"
	RoleAdmin        Role = "admin"
)

// IsPatient reports whether the role receives a care team.
func (r Role) IsPatient() bool {
	return r == RolePatient
}

// RegistrationStatus is the subject's aggregate onboarding state.
type RegistrationStatus string

const (
	RegistrationPaymentPending  RegistrationStatus = "payment_pending"
	RegistrationFullyRegistered RegistrationStatus = "fully_registered"
)

// TriggerSource records why an orchestration run was started.
type TriggerSource string

const (
	TriggerSourcePayment TriggerSource = "payment"
	TriggerSourceResync  TriggerSource = "resync"
	TriggerSourceRetry   TriggerSource = "retry"
)

// HonorsBackoff reports whether runs from this source leave tasks whose
// nextRetryAt is still in the future untouched.
func (s TriggerSource) HonorsBackoff() bool {
	return s == TriggerSourceRetry
}

// SkipReason explains why a handler completed without doing work.
type SkipReason string

const (
	SkipNotPatient      SkipReason = "not_patient"
	SkipAlreadyAssigned SkipReason = "already_assigned"
)

// WelcomeTemplate selects the welcome notification variant.
type WelcomeTemplate string

const (
	WelcomeTemplatePatient      WelcomeTemplate = "welcome_patient"
	WelcomeTemplateProfessional WelcomeTemplate = "welcome_professional"
)

// RunSkipReason explains why a trigger did not process any tasks.
type RunSkipReason string

const (
	RunSkipLeaseHeld RunSkipReason = "run_in_progress"
)
