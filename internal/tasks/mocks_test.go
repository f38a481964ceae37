package tasks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"carepath/internal/types"
)

type mockProfiles struct{ mock.Mock }

func (m *mockProfiles) GetRole(ctx context.Context, subjectID string) (types.Role, error) {
	args := m.Called(ctx, subjectID)
	return args.Get(0).(types.Role), args.Error(1)
}

func (m *mockProfiles) GetProfile(ctx context.Context, subjectID string) (*types.Profile, error) {
	args := m.Called(ctx, subjectID)
	p, _ := args.Get(0).(*types.Profile)
	return p, args.Error(1)
}

type mockCareTeam struct{ mock.Mock }

func (m *mockCareTeam) GetAssignment(ctx context.Context, patientID string) (*types.Assignment, error) {
	args := m.Called(ctx, patientID)
	a, _ := args.Get(0).(*types.Assignment)
	return a, args.Error(1)
}

func (m *mockCareTeam) CreateAssignment(ctx context.Context, patientID, doctorID string, nutritionistID *string) (*types.Assignment, error) {
	args := m.Called(ctx, patientID, doctorID, nutritionistID)
	a, _ := args.Get(0).(*types.Assignment)
	return a, args.Error(1)
}

func (m *mockCareTeam) GetDefaultCareTeamConfig(ctx context.Context) (*types.DefaultCareTeam, error) {
	args := m.Called(ctx)
	d, _ := args.Get(0).(*types.DefaultCareTeam)
	return d, args.Error(1)
}

type mockRooms struct{ mock.Mock }

func (m *mockRooms) GetOrCreateCareTeamRoom(ctx context.Context, patientID string) (*types.Room, error) {
	args := m.Called(ctx, patientID)
	r, _ := args.Get(0).(*types.Room)
	return r, args.Error(1)
}

type mockNotifier struct{ mock.Mock }

func (m *mockNotifier) SendWelcomeNotification(ctx context.Context, n types.WelcomeNotification) (*types.DeliveryReceipt, error) {
	args := m.Called(ctx, n)
	r, _ := args.Get(0).(*types.DeliveryReceipt)
	return r, args.Error(1)
}

// memLedger is an in-memory WelcomeLedger.
type memLedger struct {
	deliveries map[string]types.WelcomeDelivery
	getErr     error
	recordErr  error
	records    int
	recordCtx  error
}

func newLedger() *memLedger {
	return &memLedger{deliveries: make(map[string]types.WelcomeDelivery)}
}

func (l *memLedger) GetWelcomeDelivery(_ context.Context, subjectID string) (*types.WelcomeDelivery, error) {
	if l.getErr != nil {
		return nil, l.getErr
	}
	d, ok := l.deliveries[subjectID]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (l *memLedger) RecordWelcomeDelivery(ctx context.Context, d types.WelcomeDelivery) error {
	l.records++
	l.recordCtx = ctx.Err()
	if l.recordErr != nil {
		return l.recordErr
	}
	if _, ok := l.deliveries[d.SubjectID]; !ok {
		l.deliveries[d.SubjectID] = d
	}
	return nil
}

const (
	patientID = "0b0e7d8e-8a4c-4f57-9d53-2d6f3f1c9a01"
	doctorID  = "D1"
	nutriID   = "N1"
)

func ptr(s string) *string { return &s }

var noTask = types.RegistrationTask{}
