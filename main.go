package main

import (
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/anicoll/homehub-integration/cmd"
)

func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:   "homehub-controller",
		Usage:  "headless client for the homehub platform",
		Action: cmd.HubCommand,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "hub-url",
				EnvVars: []string{"HUB_URL"},
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "hub-email",
				EnvVars: []string{"HUB_EMAIL"},
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "hub-password",
				EnvVars: []string{"HUB_PASSWORD"},
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "token-file",
				EnvVars: []string{"HUB_TOKEN_FILE"},
				Value:   "",
			},
			&cli.BoolFlag{
				Name:    "hub-ssl",
				EnvVars: []string{"HUB_SSL"},
				Value:   false,
			},
			&cli.StringFlag{
				Name:    "mqtt-host",
				EnvVars: []string{"MQTT_HOST"},
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "mqtt-user",
				EnvVars: []string{"MQTT_USER"},
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "mqtt-pass",
				EnvVars: []string{"MQTT_PASS"},
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "database-url",
				EnvVars: []string{"DATABASE_URL"},
				Value:   "",
			},
			&cli.StringFlag{
				Name:    "migrations-folder",
				EnvVars: []string{"MIGRATIONS_FOLDER"},
				Value:   "",
			},
			&cli.DurationFlag{
				Name:    "refresh-interval",
				EnvVars: []string{"REFRESH_INTERVAL"},
				Value:   5 * time.Minute,
			},
			&cli.StringFlag{
				Name:    "log-level",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "INFO",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
