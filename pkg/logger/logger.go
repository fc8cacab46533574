package logger

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// New создает логгер с уровнем и форматом из конфигурации.
// По умолчанию вывод JSON; формат "text" включает человекочитаемый вывод
// для локальной разработки.
func New(logLevel, logFormat string) *logrus.Logger {
	log := logrus.New()

	if logFormat == "text" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	}

	log.SetOutput(os.Stdout)

	// Уровень логирования
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel // Уровень по умолчанию, если передан некорректный
	}
	log.SetLevel(level)
	return log
}
