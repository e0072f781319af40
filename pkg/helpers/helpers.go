package helpers

import (
	uuid "github.com/satori/go.uuid"
)

func GenerateCorrelationID() string {
	return uuid.NewV4().String()
}
