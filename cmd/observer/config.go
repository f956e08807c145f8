package main

import "time"

type Config struct {
	BrokerURL       string        `env:"BROKER_URL,default=ws://localhost:8080/ws"`
	Room            string        `env:"ROOM,default=main"`
	UserID          string        `env:"USER_ID"`
	DisplayName     string        `env:"DISPLAY_NAME,default=observer"`
	AvatarRef       string        `env:"AVATAR_REF"`
	LogLevel        string        `env:"LOG_LEVEL,default=WARN"`
	RefreshInterval time.Duration `env:"REFRESH_INTERVAL,default=2s"`
}
