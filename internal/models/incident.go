package models

import (
	"time"

	"github.com/google/uuid"
)

// IncidentType - тип происшествия
type IncidentType string

const (
	IncidentAccident IncidentType = "accident"
	IncidentMedical  IncidentType = "medical"
	IncidentFire     IncidentType = "fire"
	IncidentOther    IncidentType = "other"
)

// Severity - серьезность происшествия
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// IncidentStatus - статус жизненного цикла инцидента
type IncidentStatus string

const (
	StatusUnverified IncidentStatus = "unverified"
	StatusVerified   IncidentStatus = "verified"
	StatusResolved   IncidentStatus = "resolved"
)

// Incident - единица дедупликации, верификации и диспетчеризации
type Incident struct {
	ID            uuid.UUID      `json:"id"`
	Type          IncidentType   `json:"type"`
	Description   string         `json:"description"`
	Latitude      float64        `json:"latitude"`
	Longitude     float64        `json:"longitude"`
	Severity      Severity       `json:"severity"`
	Status        IncidentStatus `json:"status"`
	Upvotes       int            `json:"upvotes"`
	Voters        []string       `json:"voters"`
	AssignedTo    []uuid.UUID    `json:"assigned_to"`
	Media         []string       `json:"media,omitempty"`
	InternalNotes string         `json:"internal_notes,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// HasVoter проверяет, голосовало ли устройство за этот инцидент
func (i *Incident) HasVoter(deviceID string) bool {
	for _, v := range i.Voters {
		if v == deviceID {
			return true
		}
	}
	return false
}

// IsAssigned проверяет, назначен ли ответчик на этот инцидент
func (i *Incident) IsAssigned(responderID uuid.UUID) bool {
	for _, id := range i.AssignedTo {
		if id == responderID {
			return true
		}
	}
	return false
}

// Normalize приводит легаси-записи без voters к пустым множествам.
// Исторический счетчик upvotes сохраняется как доверенный.
func (i *Incident) Normalize() {
	if i.Voters == nil {
		i.Voters = []string{}
	}
	if i.AssignedTo == nil {
		i.AssignedTo = []uuid.UUID{}
	}
	if i.Media == nil {
		i.Media = []string{}
	}
}
