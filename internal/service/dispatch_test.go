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

// newTestDispatchService — вспомогательная функция для создания сервиса диспетчеризации с моками.
func newTestDispatchService(t *testing.T) (*dispatchService, *mocks.MockIncidentRepository, *mocks.MockResponderRepository, *mocks.MockEventPublisher, *webhook_mocks.MockWebhookPublisher) {
	ctrl := gomock.NewController(t)
	incidentsMock := mocks.NewMockIncidentRepository(ctrl)
	respondersMock := mocks.NewMockResponderRepository(ctrl)
	busMock := mocks.NewMockEventPublisher(ctrl)
	webhookMock := webhook_mocks.NewMockWebhookPublisher(ctrl)

	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{}) // Отключаем вывод логов в тестах

	cfg := &config.Config{
		DedupRadiusMeters:    200,
		DedupWindow:          15 * time.Minute,
		DispatchRadiusMeters: 10000,
	}

	service := NewDispatchService(incidentsMock, respondersMock, logger, cfg, busMock, webhookMock)
	return service.(*dispatchService), incidentsMock, respondersMock, busMock, webhookMock
}

func TestDispatchIncident_AssignsEligibleResponders(t *testing.T) {
	// Подготовка
	service, incidentsMock, respondersMock, busMock, webhookMock := newTestDispatchService(t)
	ctx := context.Background()
	incident := &models.Incident{
		ID:        uuid.New(),
		Type:      models.IncidentFire,
		Status:    models.StatusVerified,
		Latitude:  55.7500,
		Longitude: 37.6100,
	}
	// Около 5 км к северу от инцидента
	near := &models.Responder{
		ID:        uuid.New(),
		Type:      models.ResponderFire,
		Latitude:  55.7950,
		Longitude: 37.6100,
		Active:    true,
	}
	// Около 17 км к северу - вне радиуса диспетчеризации
	far := &models.Responder{
		ID:        uuid.New(),
		Type:      models.ResponderFire,
		Latitude:  55.9000,
		Longitude: 37.6100,
		Active:    true,
	}

	// Ожидания
	respondersMock.EXPECT().
		FindActiveByTypes(ctx, nil).
		Return([]*models.Responder{near, far}, nil).
		Times(1)

	// Назначение перечитывает инцидент под замком
	incidentsMock.EXPECT().GetByID(ctx, incident.ID).Return(incident, nil).Times(1)
	incidentsMock.EXPECT().Update(ctx, incident).Return(nil).Times(1)
	incidentsMock.EXPECT().InvalidateIncidentCache(ctx, incident.ID).Return(nil).Times(1)
	busMock.EXPECT().Unicast(ctx, near.ID.String(), EventAssignmentNew, gomock.Any()).Return(nil).Times(1)
	webhookMock.EXPECT().Publish(ctx, gomock.Any()).Return(nil).Times(1)

	// Действие
	err := service.DispatchIncident(ctx, incident)

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{near.ID}, incident.AssignedTo)
}

func TestDispatchIncident_FireRespondsOnlyToFire(t *testing.T) {
	// Подготовка
	service, _, respondersMock, _, _ := newTestDispatchService(t)
	ctx := context.Background()
	incident := &models.Incident{
		ID:        uuid.New(),
		Type:      models.IncidentMedical,
		Status:    models.StatusVerified,
		Latitude:  55.75,
		Longitude: 37.61,
	}
	// Пожарный расчет рядом, но тип инцидента не его
	fire := &models.Responder{
		ID:        uuid.New(),
		Type:      models.ResponderFire,
		Latitude:  55.75,
		Longitude: 37.61,
		Active:    true,
	}

	// Ожидания: назначений нет, записи и событий нет
	respondersMock.EXPECT().
		FindActiveByTypes(ctx, nil).
		Return([]*models.Responder{fire}, nil).
		Times(1)

	// Действие
	err := service.DispatchIncident(ctx, incident)

	// Проверки
	require.NoError(t, err)
	assert.Empty(t, incident.AssignedTo)
}

func TestDispatchIncident_GeneralistsRespondToAnyType(t *testing.T) {
	// Подготовка
	service, incidentsMock, respondersMock, busMock, webhookMock := newTestDispatchService(t)
	ctx := context.Background()
	incident := &models.Incident{
		ID:        uuid.New(),
		Type:      models.IncidentMedical,
		Status:    models.StatusVerified,
		Latitude:  55.75,
		Longitude: 37.61,
	}
	police := &models.Responder{
		ID:        uuid.New(),
		Type:      models.ResponderPolice,
		Latitude:  55.75,
		Longitude: 37.61,
		Active:    true,
	}
	ambulance := &models.Responder{
		ID:        uuid.New(),
		Type:      models.ResponderAmbulance,
		Latitude:  55.76,
		Longitude: 37.62,
		Active:    true,
	}

	// Ожидания
	respondersMock.EXPECT().
		FindActiveByTypes(ctx, nil).
		Return([]*models.Responder{police, ambulance}, nil).
		Times(1)

	incidentsMock.EXPECT().GetByID(ctx, incident.ID).Return(incident, nil).Times(1)
	incidentsMock.EXPECT().Update(ctx, incident).Return(nil).Times(1)
	incidentsMock.EXPECT().InvalidateIncidentCache(ctx, incident.ID).Return(nil).Times(1)
	busMock.EXPECT().Unicast(ctx, police.ID.String(), EventAssignmentNew, gomock.Any()).Return(nil).Times(1)
	busMock.EXPECT().Unicast(ctx, ambulance.ID.String(), EventAssignmentNew, gomock.Any()).Return(nil).Times(1)
	webhookMock.EXPECT().Publish(ctx, gomock.Any()).Return(nil).Times(2)

	// Действие
	err := service.DispatchIncident(ctx, incident)

	// Проверки
	require.NoError(t, err)
	assert.Len(t, incident.AssignedTo, 2)
}

func TestDispatchIncident_SkipsUnverified(t *testing.T) {
	// Подготовка
	service, _, _, _, _ := newTestDispatchService(t)
	ctx := context.Background()
	incident := &models.Incident{
		ID:     uuid.New(),
		Type:   models.IncidentFire,
		Status: models.StatusUnverified,
	}

	// Действие: неверифицированный инцидент не диспетчеризуется
	err := service.DispatchIncident(ctx, incident)

	// Проверки
	require.NoError(t, err)
	assert.Empty(t, incident.AssignedTo)
}

func TestDispatchIncident_SkipsAlreadyAssigned(t *testing.T) {
	// Подготовка
	service, _, respondersMock, _, _ := newTestDispatchService(t)
	ctx := context.Background()
	responder := &models.Responder{
		ID:        uuid.New(),
		Type:      models.ResponderPolice,
		Latitude:  55.75,
		Longitude: 37.61,
		Active:    true,
	}
	incident := &models.Incident{
		ID:         uuid.New(),
		Type:       models.IncidentAccident,
		Status:     models.StatusVerified,
		Latitude:   55.75,
		Longitude:  37.61,
		AssignedTo: []uuid.UUID{responder.ID},
	}

	// Ожидания: повторного назначения и событий нет
	respondersMock.EXPECT().
		FindActiveByTypes(ctx, nil).
		Return([]*models.Responder{responder}, nil).
		Times(1)

	// Действие
	err := service.DispatchIncident(ctx, incident)

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{responder.ID}, incident.AssignedTo)
}

func TestDispatchIncident_ConcurrentWithBackfillIsAdditive(t *testing.T) {
	// Подготовка: диспетчеризация и регистрация нового ответчика соревнуются
	// за один инцидент, хранилище имитируется разделяемым состоянием
	service, incidentsMock, respondersMock, busMock, webhookMock := newTestDispatchService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	patrol := &models.Responder{
		ID:        uuid.New(),
		Type:      models.ResponderPolice,
		Latitude:  55.75,
		Longitude: 37.61,
		Active:    true,
	}
	newcomerID := uuid.New()
	newcomer := &models.Responder{
		Name:      "Патруль 7",
		Type:      models.ResponderPolice,
		Latitude:  55.76,
		Longitude: 37.62,
	}

	var storeMu sync.Mutex
	stored := &models.Incident{
		ID:        incidentID,
		Type:      models.IncidentAccident,
		Status:    models.StatusVerified,
		Latitude:  55.75,
		Longitude: 37.61,
	}
	snapshot := func() *models.Incident {
		storeMu.Lock()
		defer storeMu.Unlock()
		copied := *stored
		copied.AssignedTo = append([]uuid.UUID{}, stored.AssignedTo...)
		return &copied
	}

	// Ожидания
	respondersMock.EXPECT().
		FindActiveByTypes(gomock.Any(), nil).
		Return([]*models.Responder{patrol}, nil).
		Times(1)
	respondersMock.EXPECT().
		Create(gomock.Any(), newcomer).
		DoAndReturn(func(_ context.Context, r *models.Responder) error {
			r.ID = newcomerID
			return nil
		}).Times(1)
	incidentsMock.EXPECT().
		FindByStatus(gomock.Any(), models.StatusVerified).
		DoAndReturn(func(_ context.Context, _ models.IncidentStatus) ([]*models.Incident, error) {
			return []*models.Incident{snapshot()}, nil
		}).Times(1)
	incidentsMock.EXPECT().
		GetByID(gomock.Any(), incidentID).
		DoAndReturn(func(_ context.Context, _ uuid.UUID) (*models.Incident, error) {
			return snapshot(), nil
		}).Times(2)
	incidentsMock.EXPECT().
		Update(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, incident *models.Incident) error {
			storeMu.Lock()
			defer storeMu.Unlock()
			copied := *incident
			stored = &copied
			return nil
		}).Times(2)
	incidentsMock.EXPECT().InvalidateIncidentCache(gomock.Any(), incidentID).Return(nil).Times(2)
	busMock.EXPECT().Unicast(gomock.Any(), patrol.ID.String(), EventAssignmentNew, gomock.Any()).Return(nil).Times(1)
	busMock.EXPECT().Unicast(gomock.Any(), newcomerID.String(), EventAssignmentNew, gomock.Any()).Return(nil).Times(1)
	webhookMock.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	// Действие
	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		<-start
		assert.NoError(t, service.DispatchIncident(ctx, snapshot()))
	}()
	go func() {
		defer wg.Done()
		<-start
		_, err := service.RegisterResponder(ctx, newcomer)
		assert.NoError(t, err)
	}()
	close(start)
	wg.Wait()

	// Проверки: оба назначения сохранены, поздняя запись не затерла раннюю
	assert.Len(t, stored.AssignedTo, 2)
	assert.Contains(t, stored.AssignedTo, patrol.ID)
	assert.Contains(t, stored.AssignedTo, newcomerID)
}

func TestRegisterResponder_BackfillsVerifiedIncidents(t *testing.T) {
	// Подготовка
	service, incidentsMock, respondersMock, busMock, webhookMock := newTestDispatchService(t)
	ctx := context.Background()
	responderID := uuid.New()
	responder := &models.Responder{
		Name:      "Расчет 12",
		Type:      models.ResponderFire,
		Latitude:  55.7500,
		Longitude: 37.6100,
	}
	nearFire := &models.Incident{
		ID:        uuid.New(),
		Type:      models.IncidentFire,
		Status:    models.StatusVerified,
		Latitude:  55.7600,
		Longitude: 37.6100,
	}
	// Около 17 км - вне радиуса
	farFire := &models.Incident{
		ID:        uuid.New(),
		Type:      models.IncidentFire,
		Status:    models.StatusVerified,
		Latitude:  55.9000,
		Longitude: 37.6100,
	}
	// Рядом, но не пожар: пожарный расчет не универсал
	nearMedical := &models.Incident{
		ID:        uuid.New(),
		Type:      models.IncidentMedical,
		Status:    models.StatusVerified,
		Latitude:  55.7500,
		Longitude: 37.6100,
	}

	// Ожидания
	respondersMock.EXPECT().
		Create(ctx, responder).
		DoAndReturn(func(ctx context.Context, r *models.Responder) error {
			r.ID = responderID
			return nil
		}).Times(1)

	incidentsMock.EXPECT().
		FindByStatus(ctx, models.StatusVerified).
		Return([]*models.Incident{nearFire, farFire, nearMedical}, nil).
		Times(1)

	incidentsMock.EXPECT().GetByID(ctx, nearFire.ID).Return(nearFire, nil).Times(1)
	incidentsMock.EXPECT().Update(ctx, nearFire).Return(nil).Times(1)
	incidentsMock.EXPECT().InvalidateIncidentCache(ctx, nearFire.ID).Return(nil).Times(1)
	busMock.EXPECT().Unicast(ctx, responderID.String(), EventAssignmentNew, gomock.Any()).Return(nil).Times(1)
	webhookMock.EXPECT().Publish(ctx, gomock.Any()).Return(nil).Times(1)

	// Действие
	assigned, err := service.RegisterResponder(ctx, responder)

	// Проверки
	require.NoError(t, err)
	assert.True(t, responder.Active)
	require.Len(t, assigned, 1)
	assert.Equal(t, nearFire.ID, assigned[0].ID)
	assert.Equal(t, []uuid.UUID{responderID}, nearFire.AssignedTo)
	assert.Empty(t, nearMedical.AssignedTo)
}

func TestRegisterResponder_PartialFailureIsolation(t *testing.T) {
	// Подготовка
	service, incidentsMock, respondersMock, busMock, webhookMock := newTestDispatchService(t)
	ctx := context.Background()
	responderID := uuid.New()
	responder := &models.Responder{
		Name:      "Патруль 3",
		Type:      models.ResponderPolice,
		Latitude:  55.75,
		Longitude: 37.61,
	}
	first := &models.Incident{
		ID:        uuid.New(),
		Type:      models.IncidentAccident,
		Status:    models.StatusVerified,
		Latitude:  55.75,
		Longitude: 37.61,
	}
	second := &models.Incident{
		ID:        uuid.New(),
		Type:      models.IncidentOther,
		Status:    models.StatusVerified,
		Latitude:  55.76,
		Longitude: 37.62,
	}

	// Ожидания: сбой записи первого назначения не прерывает второе
	respondersMock.EXPECT().
		Create(ctx, responder).
		DoAndReturn(func(ctx context.Context, r *models.Responder) error {
			r.ID = responderID
			return nil
		}).Times(1)

	incidentsMock.EXPECT().
		FindByStatus(ctx, models.StatusVerified).
		Return([]*models.Incident{first, second}, nil).
		Times(1)

	incidentsMock.EXPECT().GetByID(ctx, first.ID).Return(first, nil).Times(1)
	incidentsMock.EXPECT().GetByID(ctx, second.ID).Return(second, nil).Times(1)
	incidentsMock.EXPECT().Update(ctx, first).Return(fmt.Errorf("connection reset")).Times(1)
	incidentsMock.EXPECT().Update(ctx, second).Return(nil).Times(1)
	incidentsMock.EXPECT().InvalidateIncidentCache(ctx, second.ID).Return(nil).Times(1)
	busMock.EXPECT().Unicast(ctx, responderID.String(), EventAssignmentNew, gomock.Any()).Return(nil).Times(1)
	webhookMock.EXPECT().Publish(ctx, gomock.Any()).Return(nil).Times(1)

	// Действие
	assigned, err := service.RegisterResponder(ctx, responder)

	// Проверки
	require.NoError(t, err)
	require.Len(t, assigned, 1)
	assert.Equal(t, second.ID, assigned[0].ID)
}

func TestRegisterResponder_InvalidCoordinates(t *testing.T) {
	// Подготовка
	service, _, _, _, _ := newTestDispatchService(t)
	ctx := context.Background()
	responder := &models.Responder{
		Name:      "Расчет 1",
		Type:      models.ResponderFire,
		Latitude:  200,
		Longitude: 37.61,
	}

	// Действие
	assigned, err := service.RegisterResponder(ctx, responder)

	// Проверки
	assert.ErrorIs(t, err, ErrInvalidLocation)
	assert.Nil(t, assigned)
}

func TestFindNearbyResponders_FiltersByDistance(t *testing.T) {
	// Подготовка
	service, _, respondersMock, _, _ := newTestDispatchService(t)
	ctx := context.Background()
	near := &models.Responder{
		ID:        uuid.New(),
		Type:      models.ResponderAmbulance,
		Latitude:  55.7600,
		Longitude: 37.6100,
		Active:    true,
	}
	far := &models.Responder{
		ID:        uuid.New(),
		Type:      models.ResponderAmbulance,
		Latitude:  55.9000,
		Longitude: 37.6100,
		Active:    true,
	}

	// Ожидания
	respondersMock.EXPECT().
		FindActiveByTypes(ctx, []models.ResponderType{models.ResponderAmbulance}).
		Return([]*models.Responder{near, far}, nil).
		Times(1)

	// Действие
	responders, err := service.FindNearbyResponders(ctx, []models.ResponderType{models.ResponderAmbulance}, 55.7500, 37.6100, 5)

	// Проверки
	require.NoError(t, err)
	require.Len(t, responders, 1)
	assert.Equal(t, near.ID, responders[0].ID)
}

func TestFindNearbyResponders_DefaultRadius(t *testing.T) {
	// Подготовка
	service, _, respondersMock, _, _ := newTestDispatchService(t)
	ctx := context.Background()
	// Около 5 км - внутри радиуса диспетчеризации по умолчанию
	responder := &models.Responder{
		ID:        uuid.New(),
		Type:      models.ResponderPolice,
		Latitude:  55.7950,
		Longitude: 37.6100,
		Active:    true,
	}

	// Ожидания
	respondersMock.EXPECT().
		FindActiveByTypes(ctx, nil).
		Return([]*models.Responder{responder}, nil).
		Times(1)

	// Действие: нулевой радиус заменяется радиусом диспетчеризации
	responders, err := service.FindNearbyResponders(ctx, nil, 55.7500, 37.6100, 0)

	// Проверки
	require.NoError(t, err)
	assert.Len(t, responders, 1)
}

func TestListAssignments_Success(t *testing.T) {
	// Подготовка
	service, incidentsMock, _, _, _ := newTestDispatchService(t)
	ctx := context.Background()
	responderID := uuid.New()
	expected := []*models.Incident{
		{ID: uuid.New(), Type: models.IncidentFire, AssignedTo: []uuid.UUID{responderID}},
	}

	// Ожидания
	incidentsMock.EXPECT().FindByAssignee(ctx, responderID).Return(expected, nil).Times(1)

	// Действие
	incidents, err := service.ListAssignments(ctx, responderID)

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, expected, incidents)
}

func TestGetResponder_NotFound(t *testing.T) {
	// Подготовка
	service, _, respondersMock, _, _ := newTestDispatchService(t)
	ctx := context.Background()
	responderID := uuid.New()

	// Ожидания
	respondersMock.EXPECT().GetByID(ctx, responderID).Return(nil, fmt.Errorf("repository: %w", ErrNotFound)).Times(1)

	// Действие
	responder, err := service.GetResponder(ctx, responderID)

	// Проверки
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, responder)
}
