package logger

import (
	"go.uber.org/zap"
)

// New builds the process logger. Development config for the dev env,
// production JSON everywhere else.
func New(env string) (*zap.Logger, error) {
	if env == "dev" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
