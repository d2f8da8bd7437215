package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/renderparity/internal/services"
)

var (
	compareInstance *services.CompareFunction
	once            sync.Once
	initErr         error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.CloudEvent("CompareOnUpload", compareOnUpload)
}

// main is required by the Go Functions Framework.
func main() {}

// compareOnUpload is the Cloud Function entry point for GCS finalize events.
func compareOnUpload(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		compareInstance, initErr = services.NewCompareFunction(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent services.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	return compareInstance.Process(ctx, gcsEvent)
}
