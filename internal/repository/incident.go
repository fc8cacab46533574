package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shenikar/emergency_dispatch_system/internal/models"
	"github.com/shenikar/emergency_dispatch_system/internal/service"
)

const incidentColumns = `
	id,
	type,
	description,
	latitude,
	longitude,
	severity,
	status,
	upvotes,
	voters,
	assigned_to,
	media,
	internal_notes,
	created_at,
	updated_at`

type IncidentRepository struct {
	db          *pgxpool.Pool
	redisClient *redis.Client
}

// storageErr помечает инфраструктурный сбой хранилища, сохраняя исходную причину
func storageErr(msg string, err error) error {
	return fmt.Errorf("%s: %w: %w", msg, service.ErrStorageUnavailable, err)
}

func NewIncidentRepository(db *pgxpool.Pool, redisClient *redis.Client) service.IncidentRepository {
	return &IncidentRepository{
		db:          db,
		redisClient: redisClient,
	}
}

// scanIncident читает одну строку выборки в модель инцидента
func scanIncident(row pgx.Row) (*models.Incident, error) {
	incident := &models.Incident{}
	err := row.Scan(
		&incident.ID,
		&incident.Type,
		&incident.Description,
		&incident.Latitude,
		&incident.Longitude,
		&incident.Severity,
		&incident.Status,
		&incident.Upvotes,
		&incident.Voters,
		&incident.AssignedTo,
		&incident.Media,
		&incident.InternalNotes,
		&incident.CreatedAt,
		&incident.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return incident, nil
}

func collectIncidents(rows pgx.Rows) ([]*models.Incident, error) {
	defer rows.Close()

	incidents := make([]*models.Incident, 0)
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, storageErr("failed to scan incident row", err)
		}
		incidents = append(incidents, incident)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("error incidents iteration", err)
	}
	return incidents, nil
}

// Create создает новую запись об инциденте в бд
func (r *IncidentRepository) Create(ctx context.Context, incident *models.Incident) error {
	query := `
		INSERT INTO incidents (type, description, latitude, longitude, severity, status, upvotes, voters, assigned_to, media, internal_notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id, created_at, updated_at;
	`
	err := r.db.QueryRow(ctx, query,
		incident.Type,
		incident.Description,
		incident.Latitude,
		incident.Longitude,
		incident.Severity,
		incident.Status,
		incident.Upvotes,
		incident.Voters,
		incident.AssignedTo,
		incident.Media,
		incident.InternalNotes,
	).Scan(&incident.ID, &incident.CreatedAt, &incident.UpdatedAt)
	if err != nil {
		return storageErr("failed to create incident", err)
	}
	return nil
}

// GetByID возвращает инцидент по его UUID
func (r *IncidentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1;`

	incident, err := scanIncident(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("incident with id %s: %w", id, service.ErrNotFound)
		}
		return nil, storageErr("failed to get incident by id", err)
	}
	return incident, nil
}

// Update сохраняет измененные поля инцидента.
// Тип, координаты и created_at неизменяемы после создания.
func (r *IncidentRepository) Update(ctx context.Context, incident *models.Incident) error {
	query := `
		UPDATE incidents SET
			description = $1,
			severity = $2,
			status = $3,
			upvotes = $4,
			voters = $5,
			assigned_to = $6,
			media = $7,
			internal_notes = $8,
			updated_at = NOW()
		WHERE id = $9;
	`
	cmdTag, err := r.db.Exec(ctx, query,
		incident.Description,
		incident.Severity,
		incident.Status,
		incident.Upvotes,
		incident.Voters,
		incident.AssignedTo,
		incident.Media,
		incident.InternalNotes,
		incident.ID,
	)
	if err != nil {
		return storageErr("failed to update incident", err)
	}

	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("incident with id %s for update: %w", incident.ID, service.ErrNotFound)
	}
	return nil
}

// ListIncidents возвращает список инцидентов с пагинацией, новые первыми
func (r *IncidentRepository) ListIncidents(ctx context.Context, page, pageSize int) ([]*models.Incident, error) {
	offset := (page - 1) * pageSize

	query := `SELECT ` + incidentColumns + `
		FROM incidents
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2;`

	rows, err := r.db.Query(ctx, query, pageSize, offset)
	if err != nil {
		return nil, storageErr("failed to list incidents", err)
	}
	return collectIncidents(rows)
}

// FindCandidates возвращает открытые инциденты данного типа, созданные не
// раньше since, - кандидатов на слияние дубликата. Порядок выборки стабильный:
// старые первыми, правило "первое совпадение выигрывает" детерминировано.
func (r *IncidentRepository) FindCandidates(ctx context.Context, incidentType models.IncidentType, since time.Time) ([]*models.Incident, error) {
	query := `SELECT ` + incidentColumns + `
		FROM incidents
		WHERE type = $1 AND status <> 'resolved' AND created_at >= $2
		ORDER BY created_at ASC;`

	rows, err := r.db.Query(ctx, query, incidentType, since)
	if err != nil {
		return nil, storageErr("failed to find merge candidates", err)
	}
	return collectIncidents(rows)
}

// FindByStatus возвращает все инциденты в указанном статусе
func (r *IncidentRepository) FindByStatus(ctx context.Context, status models.IncidentStatus) ([]*models.Incident, error) {
	query := `SELECT ` + incidentColumns + `
		FROM incidents
		WHERE status = $1
		ORDER BY created_at DESC;`

	rows, err := r.db.Query(ctx, query, status)
	if err != nil {
		return nil, storageErr("failed to find incidents by status", err)
	}
	return collectIncidents(rows)
}

// FindByAssignee возвращает инциденты, на которые назначен ответчик
func (r *IncidentRepository) FindByAssignee(ctx context.Context, responderID uuid.UUID) ([]*models.Incident, error) {
	query := `SELECT ` + incidentColumns + `
		FROM incidents
		WHERE $1 = ANY(assigned_to)
		ORDER BY created_at DESC;`

	rows, err := r.db.Query(ctx, query, responderID)
	if err != nil {
		return nil, storageErr("failed to find incidents by assignee", err)
	}
	return collectIncidents(rows)
}

// GetIncidentFromCache пытается получить инцидент из Redis
func (r *IncidentRepository) GetIncidentFromCache(ctx context.Context, id uuid.UUID) (*models.Incident, error) {
	key := fmt.Sprintf("incident:%s", id.String())
	val, err := r.redisClient.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get incident from cache: %w", err)
	}

	incident := &models.Incident{}
	if err := json.Unmarshal(val, incident); err != nil {
		return nil, fmt.Errorf("failed to unmarshal incident from cache: %w", err)
	}
	return incident, nil
}

// SetIncidentCache сохраняет инцидент в Redis
func (r *IncidentRepository) SetIncidentCache(ctx context.Context, incident *models.Incident) error {
	key := fmt.Sprintf("incident:%s", incident.ID.String())
	val, err := json.Marshal(incident)
	if err != nil {
		return fmt.Errorf("failed to marshal incident for cache: %w", err)
	}
	// Устанавливаем срок жизни кэша, например, 5 минут
	if err := r.redisClient.Set(ctx, key, val, 5*time.Minute).Err(); err != nil {
		return fmt.Errorf("failed to set incident in cache: %w", err)
	}
	return nil
}

// InvalidateIncidentCache удаляет инцидент из Redis кэша
func (r *IncidentRepository) InvalidateIncidentCache(ctx context.Context, id uuid.UUID) error {
	key := fmt.Sprintf("incident:%s", id.String())
	if err := r.redisClient.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to invalidate incident cache: %w", err)
	}
	return nil
}
