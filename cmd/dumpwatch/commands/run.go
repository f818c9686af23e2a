package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mdcvision/dumpwatch/internal/config"
	"github.com/mdcvision/dumpwatch/internal/server"
	"github.com/mdcvision/dumpwatch/pkg/ai"
	"github.com/mdcvision/dumpwatch/pkg/db"
	"github.com/mdcvision/dumpwatch/pkg/errors"
	"github.com/mdcvision/dumpwatch/pkg/station"
	"github.com/mdcvision/dumpwatch/pkg/storage"
	"github.com/mdcvision/dumpwatch/pkg/stream"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the monitoring service for all configured stations",
	RunE:  runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "config invalid")
	}
	if err := ensureDirectories(cfg.SQLitePath, cfg.ResultsDir); err != nil {
		return err
	}

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	factory := db.FactoryInfo{
		FactoryID:      cfg.FactoryID,
		FactoryName:    cfg.FactoryName,
		MillingProcess: cfg.MillingProcess,
		TotalDumps:     cfg.TotalDumps,
	}
	if err := repo.SeedFactory(factory); err != nil {
		return err
	}
	if err := seedCameras(repo, cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var infer station.Inference
	if cfg.AIEnabled {
		detector, err := ai.NewPlateDetector(cfg.PlateModelPath, cfg.OCRModelPath, cfg.PlateConfidence)
		if err != nil {
			return errors.Wrap(err, "plate model init failed")
		}
		defer detector.Close()

		classifier, err := ai.NewCaneClassifier(cfg.CaneModelPath, cfg.PlateConfidence)
		if err != nil {
			return errors.Wrap(err, "cane model init failed")
		}
		defer classifier.Close()

		svc := ai.NewService(detector, classifier)
		go svc.Run(ctx)
		infer = svc
	}

	var archiver station.Archiver
	if cfg.S3Bucket != "" {
		uploader, err := storage.NewUploader(ctx, cfg.S3Bucket, cfg.S3Region, cfg.FactoryID)
		if err != nil {
			slog.Warn("archival_disabled", "error", err)
		} else {
			archiver = uploader
		}
	}

	var views []server.StationView
	var supervisors []*stream.Supervisor
	for id := 1; id <= cfg.TotalDumps; id++ {
		cameras, err := repo.CamerasForDump(id)
		if err != nil {
			return errors.Wrapf(err, "cameras for dump %d", id)
		}

		sup := stream.NewSupervisor()
		for role, cam := range cameras {
			sup.Add(role, sourceFor(cfg, cam.URL), nil)
		}
		sup.Start(ctx)
		go drainEvents(ctx, sup)

		st := station.New(station.Config{
			DumpID:           id,
			Frames:           sup,
			Inference:        infer,
			Repo:             repo,
			Factory:          factory,
			ResultsDir:       cfg.ResultsDir,
			AIEnabled:        cfg.AIEnabled,
			AnalysisInterval: cfg.AnalysisInterval,
			Archiver:         archiver,
		})
		go st.Run(ctx)

		views = append(views, st)
		supervisors = append(supervisors, sup)
	}

	srv := server.New(cfg.ServerAddr, views)
	err = srv.Run(ctx)

	for _, sup := range supervisors {
		sup.Wait()
	}
	slog.Info("service_stopped")
	return err
}

// seedCameras registers the per-station stream URLs. Recorder channel
// numbering follows the site convention: camera pairs per dump, front on
// the odd hundred, top on the next.
func seedCameras(repo *db.Repository, cfg *config.Config) error {
	for id := 1; id <= cfg.TotalDumps; id++ {
		front := cameraURL(cfg, 101+(id-1)*200)
		top := cameraURL(cfg, 201+(id-1)*200)
		if err := repo.SeedCamera(id, db.RoleFront, front); err != nil {
			return err
		}
		if err := repo.SeedCamera(id, db.RoleTop, top); err != nil {
			return err
		}
	}
	return nil
}

func cameraURL(cfg *config.Config, channel int) string {
	if cfg.Testing || cfg.RTSPBase == "" {
		return cfg.ClipPath
	}
	return fmt.Sprintf("%s/Streaming/Channels/%d", cfg.RTSPBase, channel)
}

func sourceFor(cfg *config.Config, url string) stream.Source {
	if cfg.Testing || cfg.RTSPBase == "" {
		return stream.NewClipSource(url)
	}
	return stream.NewRTSPSource(url)
}

// drainEvents releases preview frames nobody consumes; the status API
// pulls its own copies via Latest.
func drainEvents(ctx context.Context, sup *stream.Supervisor) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sup.Events():
			if ev.Kind == stream.EventFrame {
				ev.Frame.Close()
			}
		}
	}
}
