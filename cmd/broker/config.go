package main

import "time"

type Config struct {
	Host            string        `env:"HOST,default=0.0.0.0"`
	Port            int           `env:"PORT,default=8080"`
	LogLevel        string        `env:"LOG_LEVEL,default=INFO"`
	SendBuffer      int           `env:"SEND_BUFFER,default=256"`
	ReapInterval    time.Duration `env:"REAP_INTERVAL,default=5s"`
	StaleAfter      time.Duration `env:"STALE_AFTER,default=30s"`
	RestartInterval time.Duration `env:"RESTART_INTERVAL,default=200ms"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=5s"`
}
