package main

import (
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/feedbax/dispatch"
	"github.com/feedbax/dispatch-example/feedback"
	"github.com/feedbax/dispatch/cron"
	"github.com/feedbax/dispatch/cron/echocron"
	"github.com/feedbax/dispatch/ingest"
	"github.com/feedbax/dispatch/ingest/echoingest"
	"github.com/labstack/echo/v4"
)

func main() {
	store, err := dispatch.NewStore(
		dispatch.WithSQLiteDB("dispatchdb"),
	)
	checkErr(err)

	defer store.Close()

	logger := slog.Default()

	registry := dispatch.NewRegistry()

	err = registry.Register("feedback.created",
		feedback.NewNotifyTeam(logger),
		feedback.NewIndexPost(logger),
	)
	checkErr(err)

	proc := dispatch.NewProcessor(store, registry)

	runner := dispatch.NewRunner(proc,
		dispatch.WithPollInterval(30*time.Second),
		dispatch.WithWake(store.Appended()),
	)

	runner.Start()

	defer runner.Stop()

	secret := os.Getenv("CRON_SECRET")
	if secret == "" {
		log.Fatal("CRON_SECRET must be set")
	}

	e := echo.New()

	e.POST("/api/events", echoingest.Wrap(ingest.New(store)))
	e.POST("/api/cron/process-events", echocron.Wrap(cron.New(proc, secret)))

	log.Fatal(e.Start(":8080"))
}

func checkErr(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
