package service

import "errors"

// Ошибки доменного слоя. Хендлеры сопоставляют их с HTTP-кодами через errors.Is.
var (
	// ErrInvalidLocation - координаты отсутствуют или вне допустимого диапазона
	ErrInvalidLocation = errors.New("invalid location")

	// ErrMissingDeviceID - сообщение или голос без идентификатора устройства
	ErrMissingDeviceID = errors.New("missing device id")

	// ErrNotFound - инцидент или ответчик с указанным id не существует
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition - недопустимый переход статуса жизненного цикла
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrUnauthorized - роль вызывающего не дает права на операцию
	ErrUnauthorized = errors.New("unauthorized")

	// ErrStorageUnavailable - хранилище недоступно; ретраи остаются за вызывающим
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// validateCoordinates проверяет, что координаты заданы и лежат в допустимых пределах
func validateCoordinates(lat, lng float64) error {
	if lat != lat || lng != lng { // NaN
		return ErrInvalidLocation
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return ErrInvalidLocation
	}
	return nil
}
