package models

import (
	"time"

	"github.com/google/uuid"
)

// ResponderType - тип службы реагирования
type ResponderType string

const (
	ResponderPolice    ResponderType = "police"
	ResponderAmbulance ResponderType = "ambulance"
	ResponderFire      ResponderType = "fire"
)

// Responder - диспетчеризуемая единица реагирования.
// Локация фиксируется на момент регистрации, живой трекинг не ведется.
type Responder struct {
	ID        uuid.UUID     `json:"id"`
	Name      string        `json:"name"`
	Type      ResponderType `json:"type"`
	Latitude  float64       `json:"latitude"`
	Longitude float64       `json:"longitude"`
	Active    bool          `json:"active"`
	CreatedAt time.Time     `json:"created_at"`
}
