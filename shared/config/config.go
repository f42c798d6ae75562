// shared/config/config.go
package config

import (
	"net/url"
	"os"
)

// CommonConfig holds infrastructure details used by MULTIPLE services.
type CommonConfig struct {
	// Database (PostgreSQL) config
	DB_USER     string
	DB_PASSWORD string
	DB_NAME     string
	DB_HOST     string
	DB_PORT     string
	DB_SSLMODE  string
	// Kafka config
	KAFKA_TOPIC  string
	KAFKA_BROKER string
	// RabbitMQ config
	RABBITMQ_USER     string
	RABBITMQ_PASSWORD string
	RABBITMQ_HOST     string
	RABBITMQ_PORT     string
	// Redis config
	REDIS_ADDR     string
	REDIS_PASSWORD string
}

// LoadCommonConfig returns the shared infrastructure config read from the environment.
func LoadCommonConfig() *CommonConfig {
	return &CommonConfig{
		DB_USER:     os.Getenv("DB_USER"),
		DB_PASSWORD: os.Getenv("DB_PASSWORD"),
		DB_HOST:     os.Getenv("DB_HOST"),
		DB_PORT:     os.Getenv("DB_PORT"),
		DB_NAME:     os.Getenv("DB_NAME"),
		DB_SSLMODE:  os.Getenv("DB_SSLMODE"),

		KAFKA_TOPIC:  os.Getenv("KAFKA_TOPIC"),
		KAFKA_BROKER: os.Getenv("KAFKA_BROKER"),

		RABBITMQ_USER:     os.Getenv("RABBITMQ_USER"),
		RABBITMQ_PASSWORD: os.Getenv("RABBITMQ_PASSWORD"),
		RABBITMQ_HOST:     os.Getenv("RABBITMQ_HOST"),
		RABBITMQ_PORT:     os.Getenv("RABBITMQ_PORT"),

		REDIS_ADDR:     os.Getenv("REDIS_ADDR"),
		REDIS_PASSWORD: os.Getenv("REDIS_PASSWORD"),
	}
}

// HasDatabase reports whether enough DB settings exist to build a connection string.
func (c *CommonConfig) HasDatabase() bool {
	return c.DB_HOST != "" && c.DB_NAME != ""
}

// GetDBURL formats the config into a PostgreSQL connection string
func (c *CommonConfig) GetDBURL() string {
	sslMode := c.DB_SSLMODE
	if sslMode == "" {
		sslMode = "disable"
	}
	port := c.DB_PORT
	if port == "" {
		port = "5432"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DB_USER, c.DB_PASSWORD),
		Host:     c.DB_HOST + ":" + port,
		Path:     "/" + c.DB_NAME,
		RawQuery: "sslmode=" + sslMode,
	}
	return u.String()
}

// GetRabbitMQURL formats the config into a RabbitMQ connection string.
// Standard host and port are used when missing.
func (c *CommonConfig) GetRabbitMQURL() string {
	host := c.RABBITMQ_HOST
	if host == "" {
		host = "localhost"
	}
	port := c.RABBITMQ_PORT
	if port == "" {
		port = "5672"
	}

	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(c.RABBITMQ_USER, c.RABBITMQ_PASSWORD),
		Host:   host + ":" + port,
		Path:   "/",
	}
	return u.String()
}
