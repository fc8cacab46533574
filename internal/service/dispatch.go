package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/emergency_dispatch_system/internal/config"
	"github.com/shenikar/emergency_dispatch_system/internal/models"
	"github.com/shenikar/emergency_dispatch_system/internal/webhook"
	"github.com/shenikar/emergency_dispatch_system/pkg/geo"
	"github.com/sirupsen/logrus"
)

// DispatchService определяет контракт геозависимого назначения ответчиков
type DispatchService interface {
	RegisterResponder(ctx context.Context, responder *models.Responder) ([]*models.Incident, error)
	DispatchIncident(ctx context.Context, incident *models.Incident) error
	FindNearbyResponders(ctx context.Context, types []models.ResponderType, lat, lng, radiusKm float64) ([]*models.Responder, error)
	ListAssignments(ctx context.Context, responderID uuid.UUID) ([]*models.Incident, error)
	GetResponder(ctx context.Context, id uuid.UUID) (*models.Responder, error)
}

type dispatchService struct {
	incidents  IncidentRepository
	responders ResponderRepository
	logger     *logrus.Logger
	cfg        *config.Config
	bus        EventPublisher
	publisher  webhook.WebhookPublisher
}

func NewDispatchService(incidents IncidentRepository, responders ResponderRepository, logger *logrus.Logger, cfg *config.Config, bus EventPublisher, publisher webhook.WebhookPublisher) DispatchService {
	return &dispatchService{
		incidents:  incidents,
		responders: responders,
		logger:     logger,
		cfg:        cfg,
		bus:        bus,
		publisher:  publisher,
	}
}

// eligible - предикат пригодности ответчика для инцидента.
// Пожарные расчеты выезжают только на пожары; полиция и скорая - универсалы.
func (s *dispatchService) eligible(responder *models.Responder, incident *models.Incident) bool {
	if incident.Status != models.StatusVerified {
		return false
	}
	if responder.Type == models.ResponderFire && incident.Type != models.IncidentFire {
		return false
	}
	distance := geo.DistanceMeters(responder.Latitude, responder.Longitude, incident.Latitude, incident.Longitude)
	return distance <= s.cfg.DispatchRadiusMeters
}

// RegisterResponder создает ответчика и ретроактивно назначает его на
// подходящие verified-инциденты. Сбой назначения на один инцидент не
// прерывает назначение на остальные.
func (s *dispatchService) RegisterResponder(ctx context.Context, responder *models.Responder) ([]*models.Incident, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service": "dispatch",
		"method":  "RegisterResponder",
		"name":    responder.Name,
		"type":    responder.Type,
	})
	log.Info("Registering responder")

	if err := validateCoordinates(responder.Latitude, responder.Longitude); err != nil {
		log.Warn("Registration rejected: invalid coordinates")
		return nil, err
	}

	responder.Active = true
	if err := s.responders.Create(ctx, responder); err != nil {
		log.WithError(err).Error("Failed to create responder in repository")
		return nil, fmt.Errorf("service: could not create responder: %w", err)
	}

	verified, err := s.incidents.FindByStatus(ctx, models.StatusVerified)
	if err != nil {
		log.WithError(err).Error("Failed to load verified incidents for backfill")
		return nil, fmt.Errorf("service: could not load verified incidents: %w", err)
	}

	assigned := make([]*models.Incident, 0)
	for _, candidate := range verified {
		candidate.Normalize()
		if !s.eligible(responder, candidate) || candidate.IsAssigned(responder.ID) {
			continue
		}
		incident, newly, err := s.assign(ctx, candidate.ID, []*models.Responder{responder})
		if err != nil {
			// Изоляция частичного сбоя: остальные инциденты все равно обрабатываются
			log.WithError(err).WithField("incident_id", candidate.ID).Error("Failed to persist assignment, skipping incident")
			continue
		}
		if len(newly) == 0 {
			continue
		}
		s.publishAssignment(ctx, responder.ID, incident)
		assigned = append(assigned, incident)
	}

	log.WithFields(logrus.Fields{"responder_id": responder.ID, "assigned": len(assigned)}).
		Info("Responder registered and backfilled")
	return assigned, nil
}

// DispatchIncident назначает на verified-инцидент всех уже зарегистрированных
// подходящих ответчиков. Вызывается при верификации.
func (s *dispatchService) DispatchIncident(ctx context.Context, incident *models.Incident) error {
	log := s.logger.WithFields(logrus.Fields{
		"service":     "dispatch",
		"method":      "DispatchIncident",
		"incident_id": incident.ID,
	})

	if incident.Status != models.StatusVerified {
		return nil
	}

	responders, err := s.responders.FindActiveByTypes(ctx, nil)
	if err != nil {
		log.WithError(err).Error("Failed to load responders for dispatch")
		return fmt.Errorf("service: could not load responders: %w", err)
	}

	incident.Normalize()
	candidates := make([]*models.Responder, 0)
	for _, responder := range responders {
		if !s.eligible(responder, incident) || incident.IsAssigned(responder.ID) {
			continue
		}
		candidates = append(candidates, responder)
	}

	if len(candidates) == 0 {
		return nil
	}

	updated, newlyAssigned, err := s.assign(ctx, incident.ID, candidates)
	if err != nil {
		log.WithError(err).Error("Failed to persist dispatch assignments")
		return fmt.Errorf("service: could not persist assignments: %w", err)
	}
	*incident = *updated

	for _, responder := range newlyAssigned {
		s.publishAssignment(ctx, responder.ID, updated)
	}

	log.WithField("assigned", len(newlyAssigned)).Info("Responders dispatched to incident")
	return nil
}

// assign захватывает замок инцидента, перечитывает его состояние и добавляет
// тех кандидатов, которые остаются пригодными и еще не назначены. Назначения
// аддитивны: параллельная диспетчеризация и ретроактивное назначение не
// затирают друг друга. Возвращает свежий инцидент и фактически добавленных.
func (s *dispatchService) assign(ctx context.Context, incidentID uuid.UUID, candidates []*models.Responder) (*models.Incident, []*models.Responder, error) {
	unlock := incidentLocks.lock(incidentID.String())
	defer unlock()

	incident, err := s.incidents.GetByID(ctx, incidentID)
	if err != nil {
		return nil, nil, err
	}
	incident.Normalize()

	newly := make([]*models.Responder, 0, len(candidates))
	for _, responder := range candidates {
		if !s.eligible(responder, incident) || incident.IsAssigned(responder.ID) {
			continue
		}
		incident.AssignedTo = append(incident.AssignedTo, responder.ID)
		newly = append(newly, responder)
	}
	if len(newly) == 0 {
		return incident, nil, nil
	}

	if err := s.incidents.Update(ctx, incident); err != nil {
		return nil, nil, err
	}
	s.invalidateCache(ctx, incident.ID)
	return incident, newly, nil
}

// FindNearbyResponders - read-only выборка ответчиков в радиусе от точки.
// Назначений не создает, к конечному автомату диспетчеризации не относится.
func (s *dispatchService) FindNearbyResponders(ctx context.Context, types []models.ResponderType, lat, lng, radiusKm float64) ([]*models.Responder, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service": "dispatch",
		"method":  "FindNearbyResponders",
	})

	if err := validateCoordinates(lat, lng); err != nil {
		return nil, err
	}
	if radiusKm <= 0 {
		radiusKm = s.cfg.DispatchRadiusMeters / 1000
	}

	responders, err := s.responders.FindActiveByTypes(ctx, types)
	if err != nil {
		log.WithError(err).Error("Failed to load responders")
		return nil, fmt.Errorf("service: could not load responders: %w", err)
	}

	nearby := make([]*models.Responder, 0)
	for _, responder := range responders {
		if geo.DistanceMeters(lat, lng, responder.Latitude, responder.Longitude) <= radiusKm*1000 {
			nearby = append(nearby, responder)
		}
	}

	log.WithField("count", len(nearby)).Info("Nearby responders found")
	return nearby, nil
}

// ListAssignments возвращает инциденты, на которые назначен ответчик
func (s *dispatchService) ListAssignments(ctx context.Context, responderID uuid.UUID) ([]*models.Incident, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service":      "dispatch",
		"method":       "ListAssignments",
		"responder_id": responderID,
	})

	incidents, err := s.incidents.FindByAssignee(ctx, responderID)
	if err != nil {
		log.WithError(err).Error("Failed to list assignments from repository")
		return nil, fmt.Errorf("service: could not list assignments: %w", err)
	}
	for _, incident := range incidents {
		incident.Normalize()
	}
	return incidents, nil
}

// GetResponder возвращает ответчика по ID
func (s *dispatchService) GetResponder(ctx context.Context, id uuid.UUID) (*models.Responder, error) {
	responder, err := s.responders.GetByID(ctx, id)
	if err != nil {
		s.logger.WithError(err).WithField("responder_id", id).Warn("Failed to get responder")
		return nil, fmt.Errorf("service: could not get responder: %w", err)
	}
	return responder, nil
}

// publishAssignment отправляет адресное событие в приватный канал ответчика
func (s *dispatchService) publishAssignment(ctx context.Context, responderID uuid.UUID, incident *models.Incident) {
	if err := s.bus.Unicast(ctx, responderID.String(), EventAssignmentNew, incident); err != nil {
		s.logger.WithError(err).WithField("responder_id", responderID).Warn("Failed to unicast assignment event")
	}
	if err := s.publisher.Publish(ctx, webhook.WebhookEvent{
		Event:     EventAssignmentNew,
		Timestamp: time.Now(),
		Incident:  incident,
	}); err != nil {
		s.logger.WithError(err).Warn("Failed to enqueue assignment webhook")
	}
}

func (s *dispatchService) invalidateCache(ctx context.Context, id uuid.UUID) {
	if err := s.incidents.InvalidateIncidentCache(ctx, id); err != nil {
		s.logger.WithError(err).WithField("incident_id", id).Warn("Failed to invalidate incident cache")
	}
}
