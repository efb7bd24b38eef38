package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/amankumarsingh77/media-downloader/internal/config"
	"github.com/amankumarsingh77/media-downloader/internal/feed"
	"github.com/amankumarsingh77/media-downloader/pkg/logger"
	"github.com/amankumarsingh77/media-downloader/pkg/utils"
)

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "api server base url")
	token := flag.String("token", os.Getenv("DOWNLOADS_TOKEN"), "bearer token")
	owner := flag.String("owner", "", "mint a token for this owner with -secret instead of -token")
	secret := flag.String("secret", os.Getenv("SERVER_JWTSECRETKEY"), "jwt secret used with -owner")
	wait := flag.Duration("wait", 25*time.Second, "long-poll wait per request")
	flag.Parse()

	if *token == "" && *owner != "" {
		var err error
		if *token, err = utils.GenerateJWTToken(*owner, *secret); err != nil {
			log.Fatalf("generate token: %v", err)
		}
	}
	if *token == "" {
		log.Fatal("either -token or -owner with -secret is required")
	}

	appLogger := logger.NewApiLogger(&config.Config{Logger: config.Logger{Encoding: "console", Level: "warn"}})
	appLogger.InitLogger()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client := feed.NewClient(*serverURL, *token, *wait, appLogger)
	view := feed.NewView()
	if err := client.Follow(ctx, view, render); err != nil && ctx.Err() == nil {
		log.Fatalf("follow: %v", err)
	}
}

func render(view *feed.View) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "\n-- sequence %d --\n", view.Sequence())
	fmt.Fprintln(w, "ID\tSTATUS\tPROGRESS\tSPEED\tETA\tTITLE")
	for _, d := range view.Jobs() {
		title := d.Title
		if title == "" {
			title = d.SourceURL
		}
		status := string(d.Status)
		if d.ErrorMessage != "" {
			status += " (" + d.ErrorMessage + ")"
		}
		fmt.Fprintf(w, "%s\t%s\t%d%%\t%s\t%s\t%s\n", d.ID.String()[:8], status, d.Progress, d.DownloadSpeed, d.ETA, title)
	}
	w.Flush()
}
