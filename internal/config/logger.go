package config

import (
	"go.uber.org/zap"
)

// NewLogger builds the process logger from application.log_level and
// monitoring.logging.
func (c *Config) NewLogger() (*zap.Logger, error) {
	var config zap.Config

	switch c.Application.LogLevel {
	case "debug":
		config = zap.NewDevelopmentConfig()
	case "warn":
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		config = zap.NewProductionConfig()
	}

	switch c.Monitoring.Logging.Format {
	case "console":
		config.Encoding = "console"
	case "json":
		config.Encoding = "json"
	}

	output := c.Monitoring.Logging.Output
	if output == "" {
		output = "stdout"
	}
	config.OutputPaths = []string{output}
	config.ErrorOutputPaths = []string{"stderr"}

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("app", c.Application.Name)), nil
}
