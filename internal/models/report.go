package models

// Report - входящее сообщение гражданина до дедупликации.
// Не персистится: либо сливается в существующий инцидент, либо порождает новый.
type Report struct {
	Type        IncidentType
	Description string
	Latitude    float64
	Longitude   float64
	Severity    Severity
	Media       []string
	DeviceID    string
}
