package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	"github.com/joho/godotenv"
	"github.com/locomotiv/locomotiv_core/internal/fixtures"
	"github.com/locomotiv/locomotiv_core/internal/markers"
	"github.com/locomotiv/locomotiv_core/internal/models"
	"github.com/locomotiv/locomotiv_core/internal/movement"
	"github.com/locomotiv/locomotiv_core/internal/store"
)

func main() {
	layoutPath := flag.String("layout", "", "Path to a layout directory or ZIP file (default: built-in layout)")
	interval := flag.Duration("interval", 0, "Time between two block advances (default: TICK_INTERVAL or 2s)")
	dashboard := flag.Bool("dashboard", false, "Show a live table instead of logging marker moves")

	flag.Parse()

	_ = godotenv.Load()

	cfg := movement.LoadConfigFromEnv()
	if *interval > 0 {
		cfg.TickInterval = *interval
	}

	var snapshot *models.Layout
	var err error
	if *layoutPath == "" {
		snapshot, err = fixtures.Default()
	} else {
		snapshot, err = fixtures.LoadPath(*layoutPath)
	}
	if err != nil {
		log.Fatalf("Failed to load layout: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	layout := store.NewLayout()
	layout.Load(snapshot)

	board := markers.NewBoard()
	var sink movement.MarkerSink = board
	if !*dashboard {
		sink = markers.Fanout{board, logSink{layout: layout}}
	}

	engine := movement.NewEngine(ctx, layout, sink, cfg)
	dispatcher := movement.NewDispatcher(engine, layout)

	if *dashboard {
		if err := ui.Init(); err != nil {
			log.Fatalf("termui init: %v", err)
		}
		defer ui.Close()
		log.SetOutput(io.Discard)
	}

	started, err := dispatcher.StartAllWithRoutes(ctx)
	if err != nil {
		log.Fatalf("Dispatch failed: %v", err)
	}
	log.Printf("✓ Dispatched %d trains, one block every %v", started, cfg.TickInterval)

	if *dashboard {
		runDashboard(ctx, cancel, engine, layout, cfg.TickInterval)
	} else {
		waitIdle(ctx, engine, cfg.TickInterval)
	}

	engine.StopAll(context.Background())
	log.Printf("Simulation finished: %v", layout.Stats())
}

// waitIdle blocks until every train has arrived or ctx ends
func waitIdle(ctx context.Context, engine *movement.Engine, interval time.Duration) {
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Interrupted")
			return
		case <-ticker.C:
			if !engine.Scheduler().Running() {
				return
			}
		}
	}
}

// logSink logs every marker change with the train's station situation
type logSink struct {
	layout *store.Layout
}

func (s logSink) UpsertMarker(trainID int64, at models.Positioned) {
	lat, lon := at.Coordinates()
	log.Printf("train %d -> (%.5f, %.5f)", trainID, lat, lon)
}

func (s logSink) RemoveMarker(trainID int64) {
	train, err := s.layout.FindTrainByID(context.Background(), trainID)
	if err != nil {
		log.Printf("train %d removed", trainID)
		return
	}
	log.Printf("train %d arrived, now %s", trainID, train.State)
}

func runDashboard(ctx context.Context, cancel context.CancelFunc, engine *movement.Engine, layout *store.Layout, interval time.Duration) {
	table := widgets.NewTable()
	table.Title = "Movements"
	table.TextStyle = ui.NewStyle(ui.ColorWhite)
	table.RowSeparator = false
	table.SetRect(0, 0, 100, 20)

	status := widgets.NewParagraph()
	status.Title = "Yard"
	status.SetRect(0, 20, 100, 24)

	render := func() {
		table.Rows = snapshotRows(engine.Snapshot())
		stats := layout.Stats()
		status.Text = fmt.Sprintf("moving %d | occupied blocks %d/%d | q to quit",
			len(engine.ActiveTrainIDs()), stats["occupied_blocks"], stats["blocks"])
		ui.Render(table, status)
	}
	render()

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	events := ui.PollEvents()

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-events:
			if e.ID == "q" || e.ID == "<C-c>" {
				cancel()
				return
			}
		case <-ticker.C:
			render()
		}
	}
}

// snapshotRows lays out movements as table rows, header first
func snapshotRows(views []movement.MovementView) [][]string {
	rows := [][]string{{"train", "route", "block", "step", "progress", "position"}}
	for _, v := range views {
		rows = append(rows, []string{
			fmt.Sprint(v.TrainID),
			fmt.Sprintf("%d %s", v.RouteID, v.RouteName),
			fmt.Sprint(v.BlockID),
			fmt.Sprintf("%d/%d", v.BlockIndex+1, v.BlockCount),
			fmt.Sprintf("%.0f%%", v.Progress*100),
			fmt.Sprintf("%.5f, %.5f", v.Lat, v.Lon),
		})
	}
	return rows
}
