package config

import (
	"fmt"
	"os"
	"strings"
)

type Config struct {
	SocketURL string
	ServerURL string
	DBFile    string
	Username  string
	Password  string
}

func Load() (*Config, error) {
	serverURL := getEnv("PARLEY_SERVER_URL", "http://localhost:8080")

	cfg := &Config{
		SocketURL: getEnv("PARLEY_SOCKET_URL", socketURLFor(serverURL)),
		ServerURL: serverURL,
		DBFile:    getEnv("PARLEY_DB", "parley.db"),
		Username:  os.Getenv("PARLEY_USERNAME"),
		Password:  os.Getenv("PARLEY_PASSWORD"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if !strings.HasPrefix(c.SocketURL, "ws://") && !strings.HasPrefix(c.SocketURL, "wss://") {
		return fmt.Errorf("PARLEY_SOCKET_URL must use the ws or wss scheme")
	}

	if !strings.HasPrefix(c.ServerURL, "http://") && !strings.HasPrefix(c.ServerURL, "https://") {
		return fmt.Errorf("PARLEY_SERVER_URL must use the http or https scheme")
	}

	return nil
}

// socketURLFor derives the websocket endpoint from the HTTP base URL.
func socketURLFor(serverURL string) string {
	socket := strings.Replace(serverURL, "http", "ws", 1)
	return strings.TrimSuffix(socket, "/") + "/ws"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
