package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/zelara-ai/zelara-plant/internal/kindwise"
)

func newTestRepository(t *testing.T) *IdentificationRepository {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}

	repo := NewIdentificationRepository(db)
	if err := repo.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return repo
}

func sampleResult() *kindwise.Result {
	probability := 0.955
	return &kindwise.Result{
		PlantName:        "Ficus lyrata",
		CommonNames:      []string{"Fiddle Leaf Fig"},
		Probability:      &probability,
		Taxonomy:         map[string]string{"kingdom": "Plantae", "family": "Moraceae"},
		IdentificationID: "tok-abc123",
		IsPlant:          true,
		Created:          "2024-09-21T12:34:56Z",
	}
}

func TestCreateStartsInProcessing(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	id, err := repo.Create(ctx)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected a non-empty id")
	}

	record, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if record.Status != StatusProcessing {
		t.Fatalf("expected Processing, got %s", record.Status)
	}
	if record.Result != nil || record.ErrorMessage != "" {
		t.Fatalf("expected a bare record, got result=%v error=%q", record.Result, record.ErrorMessage)
	}
}

func TestCompleteRoundTripsResult(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	id, err := repo.Create(ctx)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := repo.Complete(ctx, id, sampleResult()); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	record, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if record.Status != StatusCompleted {
		t.Fatalf("expected Completed, got %s", record.Status)
	}
	if record.ErrorMessage != "" {
		t.Fatalf("expected no error message, got %q", record.ErrorMessage)
	}
	if record.Result == nil {
		t.Fatal("expected a persisted result")
	}
	if record.Result.PlantName != "Ficus lyrata" {
		t.Fatalf("unexpected plant name: %s", record.Result.PlantName)
	}
	if len(record.Result.CommonNames) != 1 || record.Result.CommonNames[0] != "Fiddle Leaf Fig" {
		t.Fatalf("unexpected common names: %v", record.Result.CommonNames)
	}
	if record.Result.Taxonomy["family"] != "Moraceae" {
		t.Fatalf("unexpected taxonomy: %v", record.Result.Taxonomy)
	}
	if record.Result.Probability == nil || *record.Result.Probability != 0.955 {
		t.Fatalf("unexpected probability: %v", record.Result.Probability)
	}
}

func TestFailRecordsMessage(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	id, err := repo.Create(ctx)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := repo.Fail(ctx, id, "not a valid image"); err != nil {
		t.Fatalf("fail failed: %v", err)
	}

	record, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if record.Status != StatusError {
		t.Fatalf("expected Error, got %s", record.Status)
	}
	if record.ErrorMessage != "not a valid image" {
		t.Fatalf("unexpected message: %q", record.ErrorMessage)
	}
	if record.Result != nil {
		t.Fatalf("expected no result, got %v", record.Result)
	}
}

func TestTerminalTransitionIsOneWay(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	id, err := repo.Create(ctx)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.Complete(ctx, id, sampleResult()); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	if err := repo.Fail(ctx, id, "late failure"); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("expected ErrAlreadyTerminal, got %v", err)
	}
	if err := repo.Complete(ctx, id, &kindwise.Result{PlantName: "Other"}); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("expected ErrAlreadyTerminal, got %v", err)
	}

	record, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if record.Status != StatusCompleted || record.Result == nil || record.Result.PlantName != "Ficus lyrata" {
		t.Fatalf("terminal record was overwritten: %+v", record)
	}
}

func TestTransitionUnknownIDReturnsNotFound(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	if err := repo.Complete(ctx, "missing", sampleResult()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := repo.Fail(ctx, "missing", "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListReturnsAllRecords(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	first, err := repo.Create(ctx)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	second, err := repo.Create(ctx)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.Complete(ctx, second, sampleResult()); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	records, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	seen := map[string]Status{}
	for _, record := range records {
		seen[record.ID] = record.Status
	}
	if seen[first] != StatusProcessing || seen[second] != StatusCompleted {
		t.Fatalf("unexpected statuses: %v", seen)
	}
}
