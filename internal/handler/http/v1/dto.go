package v1

import (
	"time"

	"github.com/google/uuid"
)

// SubmitReportRequest DTO для подачи сообщения о происшествии
// @Description DTO для подачи сообщения о происшествии
type SubmitReportRequest struct {
	Type        string   `json:"type" validate:"required,oneof=accident medical fire other"`
	Description string   `json:"description" validate:"required"`
	Latitude    *float64 `json:"latitude" validate:"required,latitude"`
	Longitude   *float64 `json:"longitude" validate:"required,longitude"`
	Severity    string   `json:"severity" validate:"omitempty,oneof=low medium high"`
	Media       []string `json:"media,omitempty"`
	DeviceID    string   `json:"device_id" validate:"required"`
}

// UpvoteRequest DTO для явного голоса за инцидент
// @Description DTO для явного голоса за инцидент
type UpvoteRequest struct {
	DeviceID string `json:"device_id" validate:"required"`
}

// VerifyIncidentRequest DTO для верификации инцидента администратором
// @Description DTO для верификации инцидента администратором
type VerifyIncidentRequest struct {
	IncidentID string `json:"incident_id" validate:"required,uuid"`
}

// UpdateStatusRequest DTO для перевода статуса инцидента
// @Description DTO для перевода статуса инцидента
type UpdateStatusRequest struct {
	IncidentID    string `json:"incident_id" validate:"required,uuid"`
	Status        string `json:"status" validate:"required,oneof=unverified verified resolved"`
	InternalNotes string `json:"internal_notes,omitempty"`
	Severity      string `json:"severity" validate:"omitempty,oneof=low medium high"`
}

// AdminLoginRequest DTO для входа администратора
// @Description DTO для входа администратора
type AdminLoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RegisterResponderRequest DTO для регистрации ответчика
// @Description DTO для регистрации ответчика
type RegisterResponderRequest struct {
	Name      string   `json:"name" validate:"required,min=2,max=255"`
	Type      string   `json:"type" validate:"required,oneof=police ambulance fire"`
	Latitude  *float64 `json:"latitude" validate:"required,latitude"`
	Longitude *float64 `json:"longitude" validate:"required,longitude"`
	Token     string   `json:"token" validate:"required"`
}

// NearbyRespondersRequest DTO для поиска ответчиков рядом с точкой
// @Description DTO для поиска ответчиков рядом с точкой
type NearbyRespondersRequest struct {
	Types     []string `json:"types" validate:"omitempty,dive,oneof=police ambulance fire"`
	Latitude  *float64 `json:"latitude" validate:"required,latitude"`
	Longitude *float64 `json:"longitude" validate:"required,longitude"`
	RadiusKm  float64  `json:"radius_km" validate:"omitempty,gt=0"`
}

// IncidentResponse DTO для ответа с информацией об инциденте
// @Description DTO для ответа с информацией об инциденте
type IncidentResponse struct {
	ID            uuid.UUID   `json:"id"`
	Type          string      `json:"type"`
	Description   string      `json:"description"`
	Latitude      float64     `json:"latitude"`
	Longitude     float64     `json:"longitude"`
	Severity      string      `json:"severity"`
	Status        string      `json:"status"`
	Upvotes       int         `json:"upvotes"`
	AssignedTo    []uuid.UUID `json:"assigned_to"`
	Media         []string    `json:"media,omitempty"`
	InternalNotes string      `json:"internal_notes,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// ReportSubmissionResponse DTO для результата подачи сообщения
// @Description DTO для результата подачи сообщения
type ReportSubmissionResponse struct {
	Merged   bool             `json:"merged"`
	Incident IncidentResponse `json:"incident"`
}

// ResponderResponse DTO для ответа с информацией об ответчике
// @Description DTO для ответа с информацией об ответчике
type ResponderResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// RegisterResponderResponse DTO для результата регистрации ответчика
// @Description DTO для результата регистрации ответчика
type RegisterResponderResponse struct {
	Responder ResponderResponse  `json:"responder"`
	Assigned  []IncidentResponse `json:"assigned"`
}
