package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"

	"github.com/Lllllllleong/renderparity/internal/models"
)

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// HistoryRecorder stores one RunRecord per harness run.
type HistoryRecorder struct {
	client     *firestore.Client
	collection string
}

func NewHistoryRecorder(client *firestore.Client, collection string) *HistoryRecorder {
	return &HistoryRecorder{client: client, collection: collection}
}

// Record adds rec to the collection and returns the new document ID.
func (h *HistoryRecorder) Record(ctx context.Context, rec models.RunRecord) (string, error) {
	docRef, _, err := h.client.Collection(h.collection).Add(ctx, rec)
	if err != nil {
		return "", fmt.Errorf("failed to record run: %w", err)
	}
	return docRef.ID, nil
}

// StoredRun is a RunRecord together with its document ID.
type StoredRun struct {
	ID     string
	Record models.RunRecord
}

// FindBySourceHash returns every recorded run for the PDF with content hash sha.
func (h *HistoryRecorder) FindBySourceHash(ctx context.Context, sha string) ([]StoredRun, error) {
	docs, err := h.client.Collection(h.collection).Where("sourceSha256", "==", sha).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query run history: %w", err)
	}
	runs := make([]StoredRun, 0, len(docs))
	for _, doc := range docs {
		var rec models.RunRecord
		if err := doc.DataTo(&rec); err != nil {
			return nil, fmt.Errorf("failed to decode run %s: %w", doc.Ref.ID, err)
		}
		runs = append(runs, StoredRun{ID: doc.Ref.ID, Record: rec})
	}
	return runs, nil
}
