package service

import (
	"fmt"
	"math"
	"time"

	"github.com/shenikar/emergency_dispatch_system/internal/models"
	"github.com/shenikar/emergency_dispatch_system/pkg/geo"
)

// isDuplicate - предикат слияния: кандидат того же типа считается дубликатом,
// если он ближе radiusMeters и создан не раньше, чем window назад.
// Временная проверка дублирует окно выборки из хранилища и выполняется независимо.
func isDuplicate(candidate *models.Incident, report *models.Report, now time.Time, radiusMeters float64, window time.Duration) bool {
	distance := geo.DistanceMeters(candidate.Latitude, candidate.Longitude, report.Latitude, report.Longitude)
	age := now.Sub(candidate.CreatedAt)
	if age < 0 {
		age = -age
	}
	return distance < radiusMeters && age < window
}

// applyVote идемпотентно учитывает голос устройства.
// Возвращает false без мутаций, если устройство уже голосовало.
func applyVote(incident *models.Incident, deviceID string) bool {
	if incident.HasVoter(deviceID) {
		return false
	}
	incident.Voters = append(incident.Voters, deviceID)
	incident.Upvotes++
	return true
}

const (
	// Геоячейка 0.01 градуса - около 1.1 км по широте
	fingerprintCellDegrees = 0.01
	fingerprintTimeBucket  = 5 * time.Minute
)

// fingerprintKey строит ключ взаимоисключения для последовательности
// "найти кандидатов - оценить - записать": тип + геоячейка + временная корзина.
// Отчеты по разные стороны границы ячейки попадают под разные ключи и
// сериализуются только выборкой из хранилища.
func fingerprintKey(incidentType models.IncidentType, lat, lng float64, now time.Time) string {
	cellLat := int(math.Floor(lat / fingerprintCellDegrees))
	cellLng := int(math.Floor(lng / fingerprintCellDegrees))
	bucket := now.Unix() / int64(fingerprintTimeBucket.Seconds())
	return fmt.Sprintf("%s:%d:%d:%d", incidentType, cellLat, cellLng, bucket)
}

