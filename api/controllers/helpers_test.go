package controllers

import (
	"context"

	"github.com/angelmondragon/smmhub-backend/pkg/config"
)

type okPinger struct{}

func (okPinger) Ping(context.Context) error { return nil }

func testAppConfig() *config.Config {
	return &config.Config{App: config.AppConfig{Env: "test"}}
}
