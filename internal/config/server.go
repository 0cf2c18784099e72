package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type ServerConfig struct {
	PostgresDSN string `env:"POSTGRES_DSN,required,notEmpty"`
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`

	// EngineCommand launches the external battle simulator, one process per
	// room, speaking its line protocol over stdin/stdout.
	EngineCommand string `env:"ENGINE_COMMAND" envDefault:"pokemon-showdown simulate-battle"`

	ReconnectGraceSeconds int `env:"RECONNECT_GRACE_SECONDS" envDefault:"120"`
	RoomCleanupSeconds    int `env:"ROOM_CLEANUP_DELAY_SECONDS" envDefault:"60"`
}

func LoadServer() (ServerConfig, error) {
	var cfg ServerConfig
	err := env.Parse(&cfg)
	return cfg, err
}

func (c ServerConfig) ReconnectGrace() time.Duration {
	if c.ReconnectGraceSeconds <= 0 {
		return 120 * time.Second
	}
	return time.Duration(c.ReconnectGraceSeconds) * time.Second
}

func (c ServerConfig) RoomCleanupDelay() time.Duration {
	if c.RoomCleanupSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.RoomCleanupSeconds) * time.Second
}
