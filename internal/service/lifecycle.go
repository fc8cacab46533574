package service

import (
	"github.com/shenikar/emergency_dispatch_system/internal/models"
)

// adminTransitions - таблица допустимых переходов статуса для администратора.
// Переходы необратимы: verified -> unverified и resolved -> * отсутствуют.
var adminTransitions = map[models.IncidentStatus]map[models.IncidentStatus]bool{
	models.StatusUnverified: {
		models.StatusVerified: true,
		models.StatusResolved: true,
	},
	models.StatusVerified: {
		models.StatusResolved: true,
	},
	models.StatusResolved: {},
}

// CheckTransition проверяет, может ли actor перевести инцидент в статус target.
// Ответчик может закрывать только verified-инциденты, на которые он назначен.
func CheckTransition(incident *models.Incident, target models.IncidentStatus, actor models.Actor) error {
	switch actor.Role {
	case models.RoleAdmin:
		if !adminTransitions[incident.Status][target] {
			return ErrInvalidTransition
		}
		return nil
	case models.RoleResponder:
		if target != models.StatusResolved || incident.Status != models.StatusVerified {
			return ErrInvalidTransition
		}
		if !incident.IsAssigned(actor.ResponderID) {
			return ErrUnauthorized
		}
		return nil
	default:
		return ErrUnauthorized
	}
}
