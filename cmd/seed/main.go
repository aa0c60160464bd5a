package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"taskloom/internal/config"
	"taskloom/internal/database"
	"taskloom/internal/logging"
	"taskloom/internal/models"
	"taskloom/internal/services"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// knowledgeWriter is implemented by the SQL and Mongo knowledge stores
type knowledgeWriter interface {
	services.KnowledgeStore
	SaveItem(ctx context.Context, item models.KnowledgeItem) error
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: seed <fixture.yaml>")
		os.Exit(2)
	}

	if err := godotenv.Load(); err != nil {
		logrus.Debugf("No .env file loaded: %v", err)
	}
	logging.Init()
	cfg := config.Load()

	seed, err := loadSeedFile(os.Args[1])
	if err != nil {
		logrus.Fatalf("❌ %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	store, saveProject, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logrus.Fatalf("❌ %v", err)
	}
	defer closeStore()

	for _, project := range seed.Projects {
		if err := saveProject(ctx, project.ID, project.Name); err != nil {
			logrus.Fatalf("❌ Failed to save project %s: %v", project.ID, err)
		}
		for _, item := range project.Items {
			if err := store.SaveItem(ctx, item.toModel(project.ID)); err != nil {
				logrus.Fatalf("❌ Failed to save item %s: %v", item.ID, err)
			}
		}
		logrus.Infof("✅ Seeded project %s with %d items", project.ID, len(project.Items))
	}

	// Print the default preview of every seeded project as a smoke check
	previews := services.NewContextPreviewService(store, nil, nil, nil)
	for _, project := range seed.Projects {
		preview, err := previews.BuildPreview(ctx, project.ID, previews.DefaultOptions())
		if err != nil {
			logrus.Fatalf("❌ Failed to build preview for %s: %v", project.ID, err)
		}
		fmt.Println(preview.Markdown())
	}
}

func openStore(ctx context.Context, cfg *config.Config) (knowledgeWriter, func(context.Context, string, string) error, func(), error) {
	switch cfg.KnowledgeBackend {
	case "mongo":
		db, err := database.NewMongoDB(cfg.MongoURI)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := db.Initialize(ctx); err != nil {
			return nil, nil, nil, err
		}
		store := services.NewMongoKnowledgeStore(db)
		return store, store.SaveProject, func() { _ = db.Close(context.Background()) }, nil
	default:
		db, err := database.New(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := db.Initialize(); err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		store := services.NewSQLKnowledgeStore(db)
		saveProject := func(ctx context.Context, id, name string) error {
			return store.SaveProject(ctx, id, name, time.Now())
		}
		return store, saveProject, func() { db.Close() }, nil
	}
}
