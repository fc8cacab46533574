package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/emergency_dispatch_system/internal/config"
	"github.com/shenikar/emergency_dispatch_system/internal/models"
	"github.com/shenikar/emergency_dispatch_system/internal/webhook"
	"github.com/sirupsen/logrus"
)

// Имена доменных событий
const (
	EventIncidentNew    = "incident:new"
	EventIncidentUpdate = "incident:update"
	EventAssignmentNew  = "assignment:new"
)

// IncidentRepository определяет контракт для работы с хранилищем инцидентов
type IncidentRepository interface {
	Create(ctx context.Context, incident *models.Incident) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Incident, error)
	Update(ctx context.Context, incident *models.Incident) error
	ListIncidents(ctx context.Context, page, pageSize int) ([]*models.Incident, error)
	FindCandidates(ctx context.Context, incidentType models.IncidentType, since time.Time) ([]*models.Incident, error)
	FindByStatus(ctx context.Context, status models.IncidentStatus) ([]*models.Incident, error)
	FindByAssignee(ctx context.Context, responderID uuid.UUID) ([]*models.Incident, error)
	GetIncidentFromCache(ctx context.Context, id uuid.UUID) (*models.Incident, error)
	SetIncidentCache(ctx context.Context, incident *models.Incident) error
	InvalidateIncidentCache(ctx context.Context, id uuid.UUID) error
}

// ResponderRepository определяет контракт для работы с хранилищем ответчиков
type ResponderRepository interface {
	Create(ctx context.Context, responder *models.Responder) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Responder, error)
	FindActiveByTypes(ctx context.Context, types []models.ResponderType) ([]*models.Responder, error)
}

// EventPublisher - шина доставки доменных событий подключенным клиентам.
// Доставка best-effort: ошибки публикации логируются и не влияют на мутацию.
type EventPublisher interface {
	Broadcast(ctx context.Context, event string, payload any) error
	Unicast(ctx context.Context, responderID string, event string, payload any) error
}

// IncidentService определяет контракт бизнес-логики инцидентов
type IncidentService interface {
	SubmitReport(ctx context.Context, report *models.Report) (*models.Incident, bool, error)
	ApplyUpvote(ctx context.Context, incidentID uuid.UUID, deviceID string) (*models.Incident, error)
	VerifyIncident(ctx context.Context, actor models.Actor, incidentID uuid.UUID) (*models.Incident, error)
	UpdateStatus(ctx context.Context, actor models.Actor, incidentID uuid.UUID, status models.IncidentStatus, internalNotes string, severity models.Severity) (*models.Incident, error)
	GetIncident(ctx context.Context, id uuid.UUID) (*models.Incident, error)
	ListIncidents(ctx context.Context, page, pageSize int) ([]*models.Incident, error)
}

type incidentService struct {
	repo       IncidentRepository
	dispatcher DispatchService
	logger     *logrus.Logger
	cfg        *config.Config
	publisher  webhook.WebhookPublisher
	bus        EventPublisher
	locks      *keyedMutex
}

func NewIncidentService(repo IncidentRepository, dispatcher DispatchService, logger *logrus.Logger, cfg *config.Config, bus EventPublisher, publisher webhook.WebhookPublisher) IncidentService {
	return &incidentService{
		repo:       repo,
		dispatcher: dispatcher,
		logger:     logger,
		cfg:        cfg,
		publisher:  publisher,
		bus:        bus,
		locks:      newKeyedMutex(),
	}
}

// SubmitReport сливает сообщение в существующий открытый инцидент или создает новый.
// Возвращает инцидент и признак того, что произошло слияние.
// Последовательность "найти кандидатов - оценить - записать" сериализуется
// мьютексом отпечатка, чтобы два одновременных дубликата не породили два инцидента.
func (s *incidentService) SubmitReport(ctx context.Context, report *models.Report) (*models.Incident, bool, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service": "incident",
		"method":  "SubmitReport",
		"type":    report.Type,
	})
	log.Info("Processing incoming report")

	if err := validateCoordinates(report.Latitude, report.Longitude); err != nil {
		log.Warn("Report rejected: invalid coordinates")
		return nil, false, err
	}
	if report.DeviceID == "" {
		log.Warn("Report rejected: missing device id")
		return nil, false, ErrMissingDeviceID
	}
	if report.Severity == "" {
		report.Severity = models.SeverityLow
	}

	now := time.Now()
	unlock := s.locks.lock(fingerprintKey(report.Type, report.Latitude, report.Longitude, now))
	defer unlock()

	candidates, err := s.repo.FindCandidates(ctx, report.Type, now.Add(-s.cfg.DedupWindow))
	if err != nil {
		log.WithError(err).Error("Failed to query merge candidates")
		return nil, false, fmt.Errorf("service: could not query candidates: %w", err)
	}

	// Первый подошедший кандидат выигрывает; глобальный скоринг не выполняется
	for _, candidate := range candidates {
		if !isDuplicate(candidate, report, now, s.cfg.DedupRadiusMeters, s.cfg.DedupWindow) {
			continue
		}
		merged, voted, err := s.mergeReport(ctx, candidate.ID, report, log)
		if err != nil {
			return nil, false, err
		}
		if !voted {
			// Повторное сообщение с того же устройства: молчаливый no-op
			log.WithField("incident_id", merged.ID).Info("Duplicate report from same device, no merge")
			return merged, true, nil
		}
		log.WithFields(logrus.Fields{"incident_id": merged.ID, "upvotes": merged.Upvotes}).
			Info("Duplicate detected, confidence increased")
		return merged, true, nil
	}

	incident := &models.Incident{
		Type:        report.Type,
		Description: report.Description,
		Latitude:    report.Latitude,
		Longitude:   report.Longitude,
		Severity:    report.Severity,
		Status:      models.StatusUnverified,
		Upvotes:     1,
		Voters:      []string{report.DeviceID},
		AssignedTo:  []uuid.UUID{},
		Media:       report.Media,
	}
	if err := s.repo.Create(ctx, incident); err != nil {
		log.WithError(err).Error("Failed to create incident in repository")
		return nil, false, fmt.Errorf("service: could not create incident: %w", err)
	}

	s.publishIncident(ctx, EventIncidentNew, incident)
	log.WithField("incident_id", incident.ID).Info("New incident created")
	return incident, false, nil
}

// mergeReport учитывает голос сообщения в выбранном кандидате. Состояние
// кандидата перечитывается под замком инцидента: слияние не затирает
// параллельные голоса и назначения.
func (s *incidentService) mergeReport(ctx context.Context, incidentID uuid.UUID, report *models.Report, log *logrus.Entry) (*models.Incident, bool, error) {
	unlock := incidentLocks.lock(incidentID.String())
	defer unlock()

	incident, err := s.repo.GetByID(ctx, incidentID)
	if err != nil {
		log.WithError(err).Error("Failed to reread merge candidate")
		return nil, false, fmt.Errorf("service: could not merge report: %w", err)
	}
	incident.Normalize()

	if !applyVote(incident, report.DeviceID) {
		return incident, false, nil
	}
	if len(report.Media) > 0 {
		incident.Media = append(incident.Media, report.Media...)
	}
	if err := s.repo.Update(ctx, incident); err != nil {
		log.WithError(err).Error("Failed to persist merged incident")
		return nil, false, fmt.Errorf("service: could not merge report: %w", err)
	}
	s.invalidateCache(ctx, incident.ID)
	s.publishIncident(ctx, EventIncidentUpdate, incident)
	return incident, true, nil
}

// ApplyUpvote - явный голос гражданина за уже опубликованный инцидент.
// Повторный голос того же устройства - идемпотентный no-op без ошибки.
func (s *incidentService) ApplyUpvote(ctx context.Context, incidentID uuid.UUID, deviceID string) (*models.Incident, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service":     "incident",
		"method":      "ApplyUpvote",
		"incident_id": incidentID,
	})

	if deviceID == "" {
		return nil, ErrMissingDeviceID
	}

	// Параллельные голоса за один инцидент аддитивны: чтение-изменение-запись
	// выполняется под замком инцидента
	unlock := incidentLocks.lock(incidentID.String())
	defer unlock()

	incident, err := s.repo.GetByID(ctx, incidentID)
	if err != nil {
		log.WithError(err).Warn("Failed to get incident for upvote")
		return nil, fmt.Errorf("service: could not get incident: %w", err)
	}
	incident.Normalize()

	if !applyVote(incident, deviceID) {
		log.Info("Device already voted, upvote ignored")
		return incident, nil
	}

	if err := s.repo.Update(ctx, incident); err != nil {
		log.WithError(err).Error("Failed to persist upvote")
		return nil, fmt.Errorf("service: could not apply upvote: %w", err)
	}
	s.invalidateCache(ctx, incident.ID)
	s.publishIncident(ctx, EventIncidentUpdate, incident)

	log.WithField("upvotes", incident.Upvotes).Info("Upvote applied")
	return incident, nil
}

// VerifyIncident переводит инцидент в verified. Сама верификация считается
// сигналом доверия и добавляет один голос. После перехода запускается
// проактивная диспетчеризация подходящих ответчиков.
func (s *incidentService) VerifyIncident(ctx context.Context, actor models.Actor, incidentID uuid.UUID) (*models.Incident, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service":     "incident",
		"method":      "VerifyIncident",
		"incident_id": incidentID,
	})
	log.Info("Verifying incident")

	incident, err := s.verifyLocked(ctx, actor, incidentID, log)
	if err != nil {
		return nil, err
	}

	// Ошибка диспетчеризации не откатывает верификацию: запись в хранилище -
	// источник истины, назначения доберутся при регистрации ответчиков.
	// Замок инцидента к этому моменту освобожден, диспетчеризация берет его сама.
	if err := s.dispatcher.DispatchIncident(ctx, incident); err != nil {
		log.WithError(err).Error("Failed to dispatch responders for verified incident")
	}

	log.Info("Incident verified")
	return incident, nil
}

func (s *incidentService) verifyLocked(ctx context.Context, actor models.Actor, incidentID uuid.UUID, log *logrus.Entry) (*models.Incident, error) {
	unlock := incidentLocks.lock(incidentID.String())
	defer unlock()

	incident, err := s.repo.GetByID(ctx, incidentID)
	if err != nil {
		log.WithError(err).Warn("Failed to get incident for verification")
		return nil, fmt.Errorf("service: could not get incident: %w", err)
	}
	incident.Normalize()

	if err := CheckTransition(incident, models.StatusVerified, actor); err != nil {
		log.WithError(err).Warn("Verification rejected by lifecycle guard")
		return nil, err
	}

	incident.Status = models.StatusVerified
	incident.Upvotes++

	if err := s.repo.Update(ctx, incident); err != nil {
		log.WithError(err).Error("Failed to persist verification")
		return nil, fmt.Errorf("service: could not verify incident: %w", err)
	}
	s.invalidateCache(ctx, incident.ID)
	s.publishIncident(ctx, EventIncidentUpdate, incident)
	return incident, nil
}

// UpdateStatus выполняет переход статуса с необязательной перезаписью заметок
// и серьезности. Повторное разрешение уже разрешенного инцидента - no-op
// слияние заметок без дублирования событий.
func (s *incidentService) UpdateStatus(ctx context.Context, actor models.Actor, incidentID uuid.UUID, status models.IncidentStatus, internalNotes string, severity models.Severity) (*models.Incident, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service":     "incident",
		"method":      "UpdateStatus",
		"incident_id": incidentID,
		"status":      status,
	})
	log.Info("Updating incident status")

	incident, dispatchNeeded, err := s.updateStatusLocked(ctx, actor, incidentID, status, internalNotes, severity, log)
	if err != nil {
		return nil, err
	}

	if dispatchNeeded {
		if err := s.dispatcher.DispatchIncident(ctx, incident); err != nil {
			log.WithError(err).Error("Failed to dispatch responders for verified incident")
		}
	}

	log.Info("Incident status updated")
	return incident, nil
}

func (s *incidentService) updateStatusLocked(ctx context.Context, actor models.Actor, incidentID uuid.UUID, status models.IncidentStatus, internalNotes string, severity models.Severity, log *logrus.Entry) (*models.Incident, bool, error) {
	unlock := incidentLocks.lock(incidentID.String())
	defer unlock()

	incident, err := s.repo.GetByID(ctx, incidentID)
	if err != nil {
		log.WithError(err).Warn("Failed to get incident for status update")
		return nil, false, fmt.Errorf("service: could not get incident: %w", err)
	}
	incident.Normalize()

	if incident.Status == models.StatusResolved && status == models.StatusResolved {
		// Заметки разрешенного инцидента переписывают только администратор
		// или назначенный на него ответчик
		if actor.Role != models.RoleAdmin &&
			!(actor.Role == models.RoleResponder && incident.IsAssigned(actor.ResponderID)) {
			log.Warn("Notes update on resolved incident rejected: actor not privileged")
			return nil, false, ErrUnauthorized
		}
		if internalNotes == "" {
			return incident, false, nil
		}
		incident.InternalNotes = internalNotes
		if err := s.repo.Update(ctx, incident); err != nil {
			log.WithError(err).Error("Failed to persist notes on resolved incident")
			return nil, false, fmt.Errorf("service: could not update incident: %w", err)
		}
		s.invalidateCache(ctx, incident.ID)
		log.Info("Notes merged into resolved incident")
		return incident, false, nil
	}

	if err := CheckTransition(incident, status, actor); err != nil {
		log.WithError(err).Warn("Status update rejected by lifecycle guard")
		return nil, false, err
	}

	wasVerified := incident.Status == models.StatusVerified
	incident.Status = status
	if internalNotes != "" {
		// Заметки перезаписываются целиком, не дописываются
		incident.InternalNotes = internalNotes
	}
	if severity != "" && actor.Role == models.RoleAdmin {
		incident.Severity = severity
	}

	if err := s.repo.Update(ctx, incident); err != nil {
		log.WithError(err).Error("Failed to persist status update")
		return nil, false, fmt.Errorf("service: could not update incident: %w", err)
	}
	s.invalidateCache(ctx, incident.ID)
	s.publishIncident(ctx, EventIncidentUpdate, incident)

	return incident, status == models.StatusVerified && !wasVerified, nil
}

// GetIncident получает инцидент по ID: сначала кеш, затем БД
func (s *incidentService) GetIncident(ctx context.Context, id uuid.UUID) (*models.Incident, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service":     "incident",
		"method":      "GetIncident",
		"incident_id": id,
	})

	cached, err := s.repo.GetIncidentFromCache(ctx, id)
	if err != nil {
		log.WithError(err).Warn("Failed to read incident cache")
	}
	if cached != nil {
		cached.Normalize()
		return cached, nil
	}

	incident, err := s.repo.GetByID(ctx, id)
	if err != nil {
		log.WithError(err).Warn("Failed to get incident from repository")
		return nil, fmt.Errorf("service: could not get incident: %w", err)
	}
	incident.Normalize()

	if err := s.repo.SetIncidentCache(ctx, incident); err != nil {
		log.WithError(err).Warn("Failed to cache incident")
	}
	return incident, nil
}

// ListIncidents возвращает список инцидентов с пагинацией, новые первыми
func (s *incidentService) ListIncidents(ctx context.Context, page, pageSize int) ([]*models.Incident, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	log := s.logger.WithFields(logrus.Fields{
		"service":   "incident",
		"method":    "ListIncidents",
		"page":      page,
		"page_size": pageSize,
	})

	incidents, err := s.repo.ListIncidents(ctx, page, pageSize)
	if err != nil {
		log.WithError(err).Error("Failed to list incidents from repository")
		return nil, fmt.Errorf("service: could not list incidents: %w", err)
	}
	for _, incident := range incidents {
		incident.Normalize()
	}

	log.WithField("count", len(incidents)).Info("Incidents listed successfully")
	return incidents, nil
}

// publishIncident рассылает событие по шине и ставит его в очередь вебхуков.
// Сбои доставки логируются и глотаются: мутация уже зафиксирована в хранилище.
func (s *incidentService) publishIncident(ctx context.Context, event string, incident *models.Incident) {
	if err := s.bus.Broadcast(ctx, event, incident); err != nil {
		s.logger.WithError(err).WithField("event", event).Warn("Failed to broadcast incident event")
	}
	if err := s.publisher.Publish(ctx, webhook.WebhookEvent{
		Event:     event,
		Timestamp: time.Now(),
		Incident:  incident,
	}); err != nil {
		s.logger.WithError(err).WithField("event", event).Warn("Failed to enqueue webhook event")
	}
}

func (s *incidentService) invalidateCache(ctx context.Context, id uuid.UUID) {
	if err := s.repo.InvalidateIncidentCache(ctx, id); err != nil {
		s.logger.WithError(err).WithField("incident_id", id).Warn("Failed to invalidate incident cache")
	}
}
