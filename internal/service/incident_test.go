package service

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/emergency_dispatch_system/internal/config"
	"github.com/shenikar/emergency_dispatch_system/internal/models"
	"github.com/shenikar/emergency_dispatch_system/internal/service/mocks"
	webhook_mocks "github.com/shenikar/emergency_dispatch_system/internal/webhook/mocks"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// newTestIncidentService — вспомогательная функция для создания инстанса сервиса с моками.
func newTestIncidentService(t *testing.T) (*incidentService, *mocks.MockIncidentRepository, *mocks.MockDispatchService, *mocks.MockEventPublisher, *webhook_mocks.MockWebhookPublisher) {
	ctrl := gomock.NewController(t)
	repoMock := mocks.NewMockIncidentRepository(ctrl)
	dispatchMock := mocks.NewMockDispatchService(ctrl)
	busMock := mocks.NewMockEventPublisher(ctrl)
	webhookMock := webhook_mocks.NewMockWebhookPublisher(ctrl)

	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{}) // Отключаем вывод логов в тестах

	cfg := &config.Config{
		DedupRadiusMeters:    200,
		DedupWindow:          15 * time.Minute,
		DispatchRadiusMeters: 10000,
	}

	service := NewIncidentService(repoMock, dispatchMock, logger, cfg, busMock, webhookMock)
	return service.(*incidentService), repoMock, dispatchMock, busMock, webhookMock
}

func TestSubmitReport_CreatesNewIncident(t *testing.T) {
	// Подготовка
	service, repoMock, _, busMock, webhookMock := newTestIncidentService(t)
	ctx := context.Background()
	report := &models.Report{
		Type:        models.IncidentFire,
		Description: "Горит склад",
		Latitude:    55.75,
		Longitude:   37.61,
		DeviceID:    "device-1",
	}

	// Ожидания
	repoMock.EXPECT().
		FindCandidates(ctx, models.IncidentFire, gomock.Any()).
		Return(nil, nil).
		Times(1)

	repoMock.EXPECT().
		Create(ctx, gomock.Any()).
		DoAndReturn(func(ctx context.Context, inc *models.Incident) error {
			inc.ID = uuid.New()
			return nil
		}).Times(1)

	busMock.EXPECT().Broadcast(ctx, EventIncidentNew, gomock.Any()).Return(nil).Times(1)
	webhookMock.EXPECT().Publish(ctx, gomock.Any()).Return(nil).Times(1)

	// Действие
	incident, merged, err := service.SubmitReport(ctx, report)

	// Проверки
	require.NoError(t, err)
	assert.False(t, merged)
	assert.Equal(t, models.StatusUnverified, incident.Status)
	assert.Equal(t, 1, incident.Upvotes)
	assert.Equal(t, []string{"device-1"}, incident.Voters)
	assert.Equal(t, models.SeverityLow, incident.Severity) // Серьезность по умолчанию
}

func TestSubmitReport_MergesCloseRecentReport(t *testing.T) {
	// Подготовка
	service, repoMock, _, busMock, webhookMock := newTestIncidentService(t)
	ctx := context.Background()
	existing := &models.Incident{
		ID:        uuid.New(),
		Type:      models.IncidentFire,
		Latitude:  55.7500,
		Longitude: 37.6100,
		Status:    models.StatusUnverified,
		Upvotes:   1,
		Voters:    []string{"device-1"},
		CreatedAt: time.Now().Add(-5 * time.Minute),
	}
	report := &models.Report{
		Type: models.IncidentFire,
		// Около 90 метров от существующего инцидента
		Latitude:  55.7508,
		Longitude: 37.6100,
		DeviceID:  "device-2",
	}

	// Ожидания
	repoMock.EXPECT().
		FindCandidates(ctx, models.IncidentFire, gomock.Any()).
		Return([]*models.Incident{existing}, nil).
		Times(1)

	// Слияние перечитывает кандидата под замком инцидента
	repoMock.EXPECT().GetByID(ctx, existing.ID).Return(existing, nil).Times(1)
	repoMock.EXPECT().Update(ctx, existing).Return(nil).Times(1)
	repoMock.EXPECT().InvalidateIncidentCache(ctx, existing.ID).Return(nil).Times(1)
	busMock.EXPECT().Broadcast(ctx, EventIncidentUpdate, gomock.Any()).Return(nil).Times(1)
	webhookMock.EXPECT().Publish(ctx, gomock.Any()).Return(nil).Times(1)

	// Действие
	incident, merged, err := service.SubmitReport(ctx, report)

	// Проверки
	require.NoError(t, err)
	assert.True(t, merged)
	assert.Equal(t, existing.ID, incident.ID)
	assert.Equal(t, 2, incident.Upvotes)
	assert.Contains(t, incident.Voters, "device-2")
	// Координаты инцидента остаются от первого сообщения
	assert.Equal(t, 55.7500, incident.Latitude)
}

func TestSubmitReport_SameDeviceNoDoubleVote(t *testing.T) {
	// Подготовка
	service, repoMock, _, _, _ := newTestIncidentService(t)
	ctx := context.Background()
	existing := &models.Incident{
		ID:        uuid.New(),
		Type:      models.IncidentFire,
		Latitude:  55.75,
		Longitude: 37.61,
		Status:    models.StatusUnverified,
		Upvotes:   1,
		Voters:    []string{"device-1"},
		CreatedAt: time.Now().Add(-5 * time.Minute),
	}
	report := &models.Report{
		Type:      models.IncidentFire,
		Latitude:  55.75,
		Longitude: 37.61,
		DeviceID:  "device-1",
	}

	// Ожидания: повторное сообщение не пишет в хранилище и не рассылает событий
	repoMock.EXPECT().
		FindCandidates(ctx, models.IncidentFire, gomock.Any()).
		Return([]*models.Incident{existing}, nil).
		Times(1)

	repoMock.EXPECT().GetByID(ctx, existing.ID).Return(existing, nil).Times(1)

	// Действие
	incident, merged, err := service.SubmitReport(ctx, report)

	// Проверки
	require.NoError(t, err)
	assert.True(t, merged)
	assert.Equal(t, 1, incident.Upvotes)
}

func TestSubmitReport_StaleCandidateCreatesNew(t *testing.T) {
	// Подготовка
	service, repoMock, _, busMock, webhookMock := newTestIncidentService(t)
	ctx := context.Background()
	// Кандидат старше окна дедупликации: временной предикат отсеивает его
	// независимо от выборки хранилища
	stale := &models.Incident{
		ID:        uuid.New(),
		Type:      models.IncidentFire,
		Latitude:  55.75,
		Longitude: 37.61,
		Status:    models.StatusUnverified,
		Upvotes:   3,
		Voters:    []string{"device-1"},
		CreatedAt: time.Now().Add(-30 * time.Minute),
	}
	report := &models.Report{
		Type:      models.IncidentFire,
		Latitude:  55.75,
		Longitude: 37.61,
		DeviceID:  "device-2",
	}

	// Ожидания
	repoMock.EXPECT().
		FindCandidates(ctx, models.IncidentFire, gomock.Any()).
		Return([]*models.Incident{stale}, nil).
		Times(1)

	repoMock.EXPECT().
		Create(ctx, gomock.Any()).
		DoAndReturn(func(ctx context.Context, inc *models.Incident) error {
			inc.ID = uuid.New()
			return nil
		}).Times(1)

	busMock.EXPECT().Broadcast(ctx, EventIncidentNew, gomock.Any()).Return(nil).Times(1)
	webhookMock.EXPECT().Publish(ctx, gomock.Any()).Return(nil).Times(1)

	// Действие
	incident, merged, err := service.SubmitReport(ctx, report)

	// Проверки
	require.NoError(t, err)
	assert.False(t, merged)
	assert.NotEqual(t, stale.ID, incident.ID)
}

func TestSubmitReport_FirstMatchWins(t *testing.T) {
	// Подготовка
	service, repoMock, _, busMock, webhookMock := newTestIncidentService(t)
	ctx := context.Background()
	// Два подходящих кандидата: выигрывает более ранний, глобальный скоринг
	// не выполняется
	first := &models.Incident{
		ID:        uuid.New(),
		Type:      models.IncidentFire,
		Latitude:  55.7500,
		Longitude: 37.6100,
		Status:    models.StatusUnverified,
		Upvotes:   1,
		Voters:    []string{"device-1"},
		CreatedAt: time.Now().Add(-10 * time.Minute),
	}
	second := &models.Incident{
		ID:        uuid.New(),
		Type:      models.IncidentFire,
		Latitude:  55.7501,
		Longitude: 37.6101,
		Status:    models.StatusUnverified,
		Upvotes:   1,
		Voters:    []string{"device-2"},
		CreatedAt: time.Now().Add(-2 * time.Minute),
	}
	report := &models.Report{
		Type:      models.IncidentFire,
		Latitude:  55.7500,
		Longitude: 37.6100,
		DeviceID:  "device-3",
	}

	// Ожидания: хранилище отдает кандидатов по возрастанию created_at
	repoMock.EXPECT().
		FindCandidates(ctx, models.IncidentFire, gomock.Any()).
		Return([]*models.Incident{first, second}, nil).
		Times(1)

	repoMock.EXPECT().GetByID(ctx, first.ID).Return(first, nil).Times(1)
	repoMock.EXPECT().Update(ctx, first).Return(nil).Times(1)
	repoMock.EXPECT().InvalidateIncidentCache(ctx, first.ID).Return(nil).Times(1)
	busMock.EXPECT().Broadcast(ctx, EventIncidentUpdate, gomock.Any()).Return(nil).Times(1)
	webhookMock.EXPECT().Publish(ctx, gomock.Any()).Return(nil).Times(1)

	// Действие
	incident, merged, err := service.SubmitReport(ctx, report)

	// Проверки
	require.NoError(t, err)
	assert.True(t, merged)
	assert.Equal(t, first.ID, incident.ID)
	assert.Equal(t, 1, second.Upvotes) // Второй кандидат не тронут
}

func TestSubmitReport_InvalidCoordinates(t *testing.T) {
	// Подготовка
	service, _, _, _, _ := newTestIncidentService(t)
	ctx := context.Background()
	report := &models.Report{
		Type:      models.IncidentFire,
		Latitude:  95.0,
		Longitude: 37.61,
		DeviceID:  "device-1",
	}

	// Действие
	incident, merged, err := service.SubmitReport(ctx, report)

	// Проверки
	assert.ErrorIs(t, err, ErrInvalidLocation)
	assert.False(t, merged)
	assert.Nil(t, incident)
}

func TestSubmitReport_MissingDeviceID(t *testing.T) {
	// Подготовка
	service, _, _, _, _ := newTestIncidentService(t)
	ctx := context.Background()
	report := &models.Report{
		Type:      models.IncidentFire,
		Latitude:  55.75,
		Longitude: 37.61,
	}

	// Действие
	_, _, err := service.SubmitReport(ctx, report)

	// Проверки
	assert.ErrorIs(t, err, ErrMissingDeviceID)
}

func TestApplyUpvote_Success(t *testing.T) {
	// Подготовка
	service, repoMock, _, busMock, webhookMock := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	existing := &models.Incident{
		ID:      incidentID,
		Type:    models.IncidentAccident,
		Status:  models.StatusUnverified,
		Upvotes: 1,
		Voters:  []string{"device-1"},
	}

	// Ожидания
	repoMock.EXPECT().GetByID(ctx, incidentID).Return(existing, nil).Times(1)
	repoMock.EXPECT().Update(ctx, existing).Return(nil).Times(1)
	repoMock.EXPECT().InvalidateIncidentCache(ctx, incidentID).Return(nil).Times(1)
	busMock.EXPECT().Broadcast(ctx, EventIncidentUpdate, gomock.Any()).Return(nil).Times(1)
	webhookMock.EXPECT().Publish(ctx, gomock.Any()).Return(nil).Times(1)

	// Действие
	incident, err := service.ApplyUpvote(ctx, incidentID, "device-2")

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, 2, incident.Upvotes)
}

func TestApplyUpvote_RepeatVoteIsNoOp(t *testing.T) {
	// Подготовка
	service, repoMock, _, _, _ := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	existing := &models.Incident{
		ID:      incidentID,
		Upvotes: 1,
		Voters:  []string{"device-1"},
	}

	// Ожидания: записи и событий нет
	repoMock.EXPECT().GetByID(ctx, incidentID).Return(existing, nil).Times(1)

	// Действие
	incident, err := service.ApplyUpvote(ctx, incidentID, "device-1")

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, 1, incident.Upvotes)
}

func TestApplyUpvote_NotFound(t *testing.T) {
	// Подготовка
	service, repoMock, _, _, _ := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()

	// Ожидания
	repoMock.EXPECT().GetByID(ctx, incidentID).Return(nil, fmt.Errorf("repository: %w", ErrNotFound)).Times(1)

	// Действие
	incident, err := service.ApplyUpvote(ctx, incidentID, "device-1")

	// Проверки
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, incident)
}

func TestApplyUpvote_ConcurrentVotesAreNotLost(t *testing.T) {
	// Подготовка: хранилище имитируется разделяемым состоянием, каждое чтение
	// отдает свежую копию, каждая запись фиксируется
	service, repoMock, _, busMock, webhookMock := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()

	var storeMu sync.Mutex
	stored := &models.Incident{
		ID:      incidentID,
		Type:    models.IncidentFire,
		Status:  models.StatusUnverified,
		Upvotes: 1,
		Voters:  []string{"device-1"},
	}

	// Ожидания
	repoMock.EXPECT().
		GetByID(gomock.Any(), incidentID).
		DoAndReturn(func(_ context.Context, _ uuid.UUID) (*models.Incident, error) {
			storeMu.Lock()
			defer storeMu.Unlock()
			copied := *stored
			copied.Voters = append([]string{}, stored.Voters...)
			return &copied, nil
		}).Times(2)
	repoMock.EXPECT().
		Update(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, incident *models.Incident) error {
			storeMu.Lock()
			defer storeMu.Unlock()
			copied := *incident
			stored = &copied
			return nil
		}).Times(2)
	repoMock.EXPECT().InvalidateIncidentCache(gomock.Any(), incidentID).Return(nil).Times(2)
	busMock.EXPECT().Broadcast(gomock.Any(), EventIncidentUpdate, gomock.Any()).Return(nil).Times(2)
	webhookMock.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	// Действие: два устройства голосуют одновременно
	start := make(chan struct{})
	var wg sync.WaitGroup
	for _, device := range []string{"device-2", "device-3"} {
		wg.Add(1)
		go func(device string) {
			defer wg.Done()
			<-start
			_, err := service.ApplyUpvote(ctx, incidentID, device)
			assert.NoError(t, err)
		}(device)
	}
	close(start)
	wg.Wait()

	// Проверки: оба голоса сохранены, поздняя запись не затерла раннюю
	assert.Equal(t, 3, stored.Upvotes)
	assert.Contains(t, stored.Voters, "device-2")
	assert.Contains(t, stored.Voters, "device-3")
}

func TestVerifyIncident_Success(t *testing.T) {
	// Подготовка
	service, repoMock, dispatchMock, busMock, webhookMock := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	existing := &models.Incident{
		ID:      incidentID,
		Type:    models.IncidentFire,
		Status:  models.StatusUnverified,
		Upvotes: 3,
		Voters:  []string{"device-1"},
	}
	admin := models.Actor{Role: models.RoleAdmin}

	// Ожидания
	repoMock.EXPECT().GetByID(ctx, incidentID).Return(existing, nil).Times(1)
	repoMock.EXPECT().Update(ctx, existing).Return(nil).Times(1)
	repoMock.EXPECT().InvalidateIncidentCache(ctx, incidentID).Return(nil).Times(1)
	busMock.EXPECT().Broadcast(ctx, EventIncidentUpdate, gomock.Any()).Return(nil).Times(1)
	webhookMock.EXPECT().Publish(ctx, gomock.Any()).Return(nil).Times(1)
	dispatchMock.EXPECT().DispatchIncident(ctx, existing).Return(nil).Times(1)

	// Действие
	incident, err := service.VerifyIncident(ctx, admin, incidentID)

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, models.StatusVerified, incident.Status)
	assert.Equal(t, 4, incident.Upvotes) // Верификация добавляет голос доверия
}

func TestVerifyIncident_AlreadyVerified(t *testing.T) {
	// Подготовка
	service, repoMock, _, _, _ := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	existing := &models.Incident{
		ID:     incidentID,
		Status: models.StatusVerified,
	}

	// Ожидания
	repoMock.EXPECT().GetByID(ctx, incidentID).Return(existing, nil).Times(1)

	// Действие
	incident, err := service.VerifyIncident(ctx, models.Actor{Role: models.RoleAdmin}, incidentID)

	// Проверки
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Nil(t, incident)
}

func TestVerifyIncident_CitizenRejected(t *testing.T) {
	// Подготовка
	service, repoMock, _, _, _ := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	existing := &models.Incident{
		ID:     incidentID,
		Status: models.StatusUnverified,
	}

	// Ожидания
	repoMock.EXPECT().GetByID(ctx, incidentID).Return(existing, nil).Times(1)

	// Действие
	_, err := service.VerifyIncident(ctx, models.Actor{Role: models.RoleCitizen}, incidentID)

	// Проверки
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestVerifyIncident_DispatchFailureDoesNotRollBack(t *testing.T) {
	// Подготовка
	service, repoMock, dispatchMock, busMock, webhookMock := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	existing := &models.Incident{
		ID:      incidentID,
		Type:    models.IncidentFire,
		Status:  models.StatusUnverified,
		Upvotes: 1,
		Voters:  []string{"device-1"},
	}

	// Ожидания: сбой диспетчеризации логируется, но верификация остается
	repoMock.EXPECT().GetByID(ctx, incidentID).Return(existing, nil).Times(1)
	repoMock.EXPECT().Update(ctx, existing).Return(nil).Times(1)
	repoMock.EXPECT().InvalidateIncidentCache(ctx, incidentID).Return(nil).Times(1)
	busMock.EXPECT().Broadcast(ctx, EventIncidentUpdate, gomock.Any()).Return(nil).Times(1)
	webhookMock.EXPECT().Publish(ctx, gomock.Any()).Return(nil).Times(1)
	dispatchMock.EXPECT().DispatchIncident(ctx, existing).Return(fmt.Errorf("responders unavailable")).Times(1)

	// Действие
	incident, err := service.VerifyIncident(ctx, models.Actor{Role: models.RoleAdmin}, incidentID)

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, models.StatusVerified, incident.Status)
}

func TestUpdateStatus_ResponderResolvesAssignedIncident(t *testing.T) {
	// Подготовка
	service, repoMock, _, busMock, webhookMock := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	responderID := uuid.New()
	existing := &models.Incident{
		ID:         incidentID,
		Status:     models.StatusVerified,
		Severity:   models.SeverityLow,
		AssignedTo: []uuid.UUID{responderID},
	}
	actor := models.Actor{Role: models.RoleResponder, ResponderID: responderID}

	// Ожидания
	repoMock.EXPECT().GetByID(ctx, incidentID).Return(existing, nil).Times(1)
	repoMock.EXPECT().Update(ctx, existing).Return(nil).Times(1)
	repoMock.EXPECT().InvalidateIncidentCache(ctx, incidentID).Return(nil).Times(1)
	busMock.EXPECT().Broadcast(ctx, EventIncidentUpdate, gomock.Any()).Return(nil).Times(1)
	webhookMock.EXPECT().Publish(ctx, gomock.Any()).Return(nil).Times(1)

	// Действие: ответчик пытается поднять серьезность, это право администратора
	incident, err := service.UpdateStatus(ctx, actor, incidentID, models.StatusResolved, "пожар потушен", models.SeverityHigh)

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, incident.Status)
	assert.Equal(t, "пожар потушен", incident.InternalNotes)
	assert.Equal(t, models.SeverityLow, incident.Severity) // Серьезность не изменилась
}

func TestUpdateStatus_AdminOverridesSeverity(t *testing.T) {
	// Подготовка
	service, repoMock, _, busMock, webhookMock := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	existing := &models.Incident{
		ID:       incidentID,
		Status:   models.StatusVerified,
		Severity: models.SeverityLow,
	}

	// Ожидания
	repoMock.EXPECT().GetByID(ctx, incidentID).Return(existing, nil).Times(1)
	repoMock.EXPECT().Update(ctx, existing).Return(nil).Times(1)
	repoMock.EXPECT().InvalidateIncidentCache(ctx, incidentID).Return(nil).Times(1)
	busMock.EXPECT().Broadcast(ctx, EventIncidentUpdate, gomock.Any()).Return(nil).Times(1)
	webhookMock.EXPECT().Publish(ctx, gomock.Any()).Return(nil).Times(1)

	// Действие
	incident, err := service.UpdateStatus(ctx, models.Actor{Role: models.RoleAdmin}, incidentID, models.StatusResolved, "", models.SeverityHigh)

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, models.SeverityHigh, incident.Severity)
}

func TestUpdateStatus_ResolvedToResolvedMergesNotes(t *testing.T) {
	// Подготовка
	service, repoMock, _, _, _ := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	existing := &models.Incident{
		ID:            incidentID,
		Status:        models.StatusResolved,
		InternalNotes: "старая заметка",
	}

	// Ожидания: заметки пишутся, но событий нет
	repoMock.EXPECT().GetByID(ctx, incidentID).Return(existing, nil).Times(1)
	repoMock.EXPECT().Update(ctx, existing).Return(nil).Times(1)
	repoMock.EXPECT().InvalidateIncidentCache(ctx, incidentID).Return(nil).Times(1)

	// Действие
	incident, err := service.UpdateStatus(ctx, models.Actor{Role: models.RoleAdmin}, incidentID, models.StatusResolved, "новая заметка", "")

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, incident.Status)
	assert.Equal(t, "новая заметка", incident.InternalNotes)
}

func TestUpdateStatus_ResolvedToResolvedWithoutNotesIsNoOp(t *testing.T) {
	// Подготовка
	service, repoMock, _, _, _ := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	existing := &models.Incident{
		ID:     incidentID,
		Status: models.StatusResolved,
	}

	// Ожидания: только чтение
	repoMock.EXPECT().GetByID(ctx, incidentID).Return(existing, nil).Times(1)

	// Действие
	incident, err := service.UpdateStatus(ctx, models.Actor{Role: models.RoleAdmin}, incidentID, models.StatusResolved, "", "")

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, incident.Status)
}

func TestUpdateStatus_ResolvedNotesRequirePrivilegedActor(t *testing.T) {
	// Подготовка
	service, repoMock, _, _, _ := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	existing := &models.Incident{
		ID:            incidentID,
		Type:          models.IncidentFire,
		Status:        models.StatusResolved,
		AssignedTo:    []uuid.UUID{uuid.New()},
		InternalNotes: "закрыт после выезда",
	}
	// Ответчик аутентифицирован, но на этот инцидент не назначен
	actor := models.Actor{Role: models.RoleResponder, ResponderID: uuid.New()}

	// Ожидания: записи нет
	repoMock.EXPECT().GetByID(ctx, incidentID).Return(existing, nil).Times(1)

	// Действие
	incident, err := service.UpdateStatus(ctx, actor, incidentID, models.StatusResolved, "подмененные заметки", "")

	// Проверки
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Nil(t, incident)
	assert.Equal(t, "закрыт после выезда", existing.InternalNotes)
}

func TestUpdateStatus_VerifyViaStatusTriggersDispatch(t *testing.T) {
	// Подготовка
	service, repoMock, dispatchMock, busMock, webhookMock := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	existing := &models.Incident{
		ID:     incidentID,
		Type:   models.IncidentMedical,
		Status: models.StatusUnverified,
	}

	// Ожидания
	repoMock.EXPECT().GetByID(ctx, incidentID).Return(existing, nil).Times(1)
	repoMock.EXPECT().Update(ctx, existing).Return(nil).Times(1)
	repoMock.EXPECT().InvalidateIncidentCache(ctx, incidentID).Return(nil).Times(1)
	busMock.EXPECT().Broadcast(ctx, EventIncidentUpdate, gomock.Any()).Return(nil).Times(1)
	webhookMock.EXPECT().Publish(ctx, gomock.Any()).Return(nil).Times(1)
	dispatchMock.EXPECT().DispatchIncident(ctx, existing).Return(nil).Times(1)

	// Действие
	incident, err := service.UpdateStatus(ctx, models.Actor{Role: models.RoleAdmin}, incidentID, models.StatusVerified, "", "")

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, models.StatusVerified, incident.Status)
}

func TestGetIncident_Success_FromCache(t *testing.T) {
	// Подготовка
	service, repoMock, _, _, _ := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	expectedIncident := &models.Incident{
		ID:   incidentID,
		Type: models.IncidentFire,
	}

	// Ожидания
	repoMock.EXPECT().
		GetIncidentFromCache(ctx, incidentID).
		Return(expectedIncident, nil).
		Times(1)

	// Действие
	incident, err := service.GetIncident(ctx, incidentID)

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, expectedIncident, incident)
}

func TestGetIncident_Success_FromDB(t *testing.T) {
	// Подготовка
	service, repoMock, _, _, _ := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	expectedIncident := &models.Incident{
		ID:   incidentID,
		Type: models.IncidentAccident,
	}

	// Ожидания
	// 1. Промах кеша
	repoMock.EXPECT().
		GetIncidentFromCache(ctx, incidentID).
		Return(nil, nil).
		Times(1)

	// 2. Попадание в БД
	repoMock.EXPECT().
		GetByID(ctx, incidentID).
		Return(expectedIncident, nil).
		Times(1)

	// 3. Запись в кеш
	repoMock.EXPECT().
		SetIncidentCache(ctx, expectedIncident).
		Return(nil).
		Times(1)

	// Действие
	incident, err := service.GetIncident(ctx, incidentID)

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, expectedIncident, incident)
}

func TestGetIncident_NotFound(t *testing.T) {
	// Подготовка
	service, repoMock, _, _, _ := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()

	// Ожидания
	repoMock.EXPECT().GetIncidentFromCache(ctx, incidentID).Return(nil, nil).Times(1)
	repoMock.EXPECT().GetByID(ctx, incidentID).Return(nil, fmt.Errorf("repository: %w", ErrNotFound)).Times(1)

	// Действие
	incident, err := service.GetIncident(ctx, incidentID)

	// Проверки
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, incident)
}

func TestListIncidents_NormalizesPaging(t *testing.T) {
	// Подготовка
	service, repoMock, _, _, _ := newTestIncidentService(t)
	ctx := context.Background()
	expected := []*models.Incident{
		{ID: uuid.New(), Type: models.IncidentFire},
		{ID: uuid.New(), Type: models.IncidentMedical},
	}

	// Ожидания: некорректная пагинация приводится к значениям по умолчанию
	repoMock.EXPECT().ListIncidents(ctx, 1, 20).Return(expected, nil).Times(1)

	// Действие
	incidents, err := service.ListIncidents(ctx, 0, -5)

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, expected, incidents)
}
