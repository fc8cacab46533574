package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shenikar/emergency_dispatch_system/internal/models"
	"github.com/shenikar/emergency_dispatch_system/internal/service"
)

type ResponderRepository struct {
	db *pgxpool.Pool
}

func NewResponderRepository(db *pgxpool.Pool) service.ResponderRepository {
	return &ResponderRepository{db: db}
}

// Create создает новую запись об ответчике в бд
func (r *ResponderRepository) Create(ctx context.Context, responder *models.Responder) error {
	query := `
		INSERT INTO responders (name, type, latitude, longitude, active)
		VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at;
	`
	err := r.db.QueryRow(ctx, query,
		responder.Name,
		responder.Type,
		responder.Latitude,
		responder.Longitude,
		responder.Active,
	).Scan(&responder.ID, &responder.CreatedAt)
	if err != nil {
		return storageErr("failed to create responder", err)
	}
	return nil
}

// GetByID возвращает ответчика по его UUID
func (r *ResponderRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Responder, error) {
	responder := &models.Responder{}
	query := `
		SELECT id, name, type, latitude, longitude, active, created_at
		FROM responders
		WHERE id = $1;
	`
	err := r.db.QueryRow(ctx, query, id).Scan(
		&responder.ID,
		&responder.Name,
		&responder.Type,
		&responder.Latitude,
		&responder.Longitude,
		&responder.Active,
		&responder.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("responder with id %s: %w", id, service.ErrNotFound)
		}
		return nil, storageErr("failed to get responder by id", err)
	}
	return responder, nil
}

// FindActiveByTypes возвращает активных ответчиков указанных типов.
// Пустой список типов означает все типы.
func (r *ResponderRepository) FindActiveByTypes(ctx context.Context, types []models.ResponderType) ([]*models.Responder, error) {
	query := `
		SELECT id, name, type, latitude, longitude, active, created_at
		FROM responders
		WHERE active = TRUE AND (cardinality($1::text[]) = 0 OR type = ANY($1::text[]));
	`
	typeStrings := make([]string, 0, len(types))
	for _, t := range types {
		typeStrings = append(typeStrings, string(t))
	}

	rows, err := r.db.Query(ctx, query, typeStrings)
	if err != nil {
		return nil, storageErr("failed to find responders", err)
	}
	defer rows.Close()

	responders := make([]*models.Responder, 0)
	for rows.Next() {
		responder := &models.Responder{}
		err := rows.Scan(
			&responder.ID,
			&responder.Name,
			&responder.Type,
			&responder.Latitude,
			&responder.Longitude,
			&responder.Active,
			&responder.CreatedAt,
		)
		if err != nil {
			return nil, storageErr("failed to scan responder row", err)
		}
		responders = append(responders, responder)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("error responders iteration", err)
	}
	return responders, nil
}
