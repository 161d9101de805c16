// Command trace-plot renders the motor, line and state traces of a recorded
// run from a rescuebot tick journal.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/banshee-data/rescuebot/internal/db"
)

func main() {
	dbPath := flag.String("db", "rescuebot.db", "path to the tick journal")
	runID := flag.String("run", "", "run ID to plot (default: latest run)")
	outDir := flag.String("out", "plots", "directory for the PNG files")
	list := flag.Bool("list", false, "list recorded runs and exit")
	flag.Parse()

	if _, err := os.Stat(*dbPath); err != nil {
		log.Fatalf("journal %s not accessible: %v", *dbPath, err)
	}
	journal, err := db.Open(*dbPath)
	if err != nil {
		log.Fatalf("open journal: %v", err)
	}
	defer journal.Close()

	ctx := context.Background()
	if *list {
		runs, err := journal.Runs(ctx, 0)
		if err != nil {
			log.Fatalf("list runs: %v", err)
		}
		for _, r := range runs {
			end := "running"
			if r.EndedAt != nil {
				end = r.EndedAt.Sub(r.StartedAt).Round(1e6).String()
			}
			log.Printf("%s  %s  %-8s  %s", r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), r.Mode, end)
		}
		return
	}

	id := *runID
	if id == "" {
		if id, err = journal.LatestRunID(ctx); err != nil {
			log.Fatalf("latest run: %v", err)
		}
	}
	ticks, err := journal.Ticks(ctx, id)
	if err != nil {
		log.Fatalf("load ticks: %v", err)
	}
	if len(ticks) == 0 {
		log.Fatalf("run %s has no ticks", id)
	}

	files, err := renderTrace(ticks, *outDir, id)
	if err != nil {
		log.Fatalf("render: %v", err)
	}
	s := summarise(ticks)
	log.Printf("run %s: %d ticks over %s, motor L %.0f±%.0f R %.0f±%.0f, line seen %.0f%%",
		id, s.Ticks, s.Duration, s.MeanL, s.StdL, s.MeanR, s.StdR, 100*s.LineFraction)
	for _, f := range files {
		log.Printf("wrote %s", f)
	}
}
