package gcp

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/Lllllllleong/marksreconciler/internal/models"
)

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
// It centralizes client creation for all services.
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

// FirestoreLedger records reconciliation runs in a Firestore collection.
type FirestoreLedger struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreLedger opens the run ledger for projectID.
func NewFirestoreLedger(ctx context.Context, projectID, collection string) (*FirestoreLedger, error) {
	client, err := NewFirestoreClient(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if collection == "" {
		collection = "reconciliationRuns"
	}
	return &FirestoreLedger{client: client, collection: collection}, nil
}

func (l *FirestoreLedger) Close() error {
	return l.client.Close()
}

// FindApplied looks for an earlier successful run of the same gradesheet
// into the same store field.
func (l *FirestoreLedger) FindApplied(ctx context.Context, fileHash, storeURI, targetField string) (string, bool, error) {
	docs, err := l.client.Collection(l.collection).
		Where("fileHash", "==", fileHash).
		Where("storeUri", "==", storeURI).
		Where("targetField", "==", targetField).
		Where("status", "==", models.RunStatusApplied).
		Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return "", false, fmt.Errorf("failed to query for earlier runs: %w", err)
	}
	if len(docs) > 0 {
		return docs[0].Ref.ID, true, nil
	}
	return "", false, nil
}

// Begin stores a new run in RUNNING state and returns its ID.
func (l *FirestoreLedger) Begin(ctx context.Context, run *models.Run) (string, error) {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	run.Status = models.RunStatusRunning
	docRef, _, err := l.client.Collection(l.collection).Add(ctx, run)
	if err != nil {
		return "", fmt.Errorf("failed to create run document: %w", err)
	}
	return docRef.ID, nil
}

// Finish records the final status of a run.
func (l *FirestoreLedger) Finish(ctx context.Context, runID, status string, report *models.UpdateReport, errDetails string) error {
	updates := []firestore.Update{
		{Path: "status", Value: status},
	}
	if report != nil {
		updates = append(updates, firestore.Update{Path: "report", Value: report})
	}
	if errDetails != "" {
		updates = append(updates, firestore.Update{Path: "errorDetails", Value: errDetails})
	}
	_, err := l.client.Collection(l.collection).Doc(runID).Update(ctx, updates)
	return err
}

// SetExecution links a run to the workflow execution it triggered.
func (l *FirestoreLedger) SetExecution(ctx context.Context, runID, executionID string) error {
	_, err := l.client.Collection(l.collection).Doc(runID).Update(ctx, []firestore.Update{
		{Path: "workflowExecutionId", Value: executionID},
	})
	return err
}
