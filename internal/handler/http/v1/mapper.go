package v1

import "github.com/shenikar/emergency_dispatch_system/internal/models"

// ReportFromDTO преобразует DTO подачи сообщения в доменную модель
func ReportFromDTO(dto SubmitReportRequest) *models.Report {
	return &models.Report{
		Type:        models.IncidentType(dto.Type),
		Description: dto.Description,
		Latitude:    *dto.Latitude,
		Longitude:   *dto.Longitude,
		Severity:    models.Severity(dto.Severity),
		Media:       dto.Media,
		DeviceID:    dto.DeviceID,
	}
}

// ModelToIncidentResponse преобразует доменную модель в DTO для ответа.
// Идентификаторы проголосовавших устройств наружу не отдаются.
func ModelToIncidentResponse(model *models.Incident) *IncidentResponse {
	return &IncidentResponse{
		ID:            model.ID,
		Type:          string(model.Type),
		Description:   model.Description,
		Latitude:      model.Latitude,
		Longitude:     model.Longitude,
		Severity:      string(model.Severity),
		Status:        string(model.Status),
		Upvotes:       model.Upvotes,
		AssignedTo:    model.AssignedTo,
		Media:         model.Media,
		InternalNotes: model.InternalNotes,
		CreatedAt:     model.CreatedAt,
		UpdatedAt:     model.UpdatedAt,
	}
}

// ModelsToIncidentResponses преобразует слайс моделей в слайс DTO
func ModelsToIncidentResponses(models []*models.Incident) []*IncidentResponse {
	responses := make([]*IncidentResponse, len(models))
	for i, model := range models {
		responses[i] = ModelToIncidentResponse(model)
	}
	return responses
}

// ModelToResponderResponse преобразует доменную модель ответчика в DTO
func ModelToResponderResponse(model *models.Responder) *ResponderResponse {
	return &ResponderResponse{
		ID:        model.ID,
		Name:      model.Name,
		Type:      string(model.Type),
		Latitude:  model.Latitude,
		Longitude: model.Longitude,
		Active:    model.Active,
		CreatedAt: model.CreatedAt,
	}
}

// ModelsToResponderResponses преобразует слайс моделей ответчиков в слайс DTO
func ModelsToResponderResponses(models []*models.Responder) []*ResponderResponse {
	responses := make([]*ResponderResponse, len(models))
	for i, model := range models {
		responses[i] = ModelToResponderResponse(model)
	}
	return responses
}
