package seed

import (
	"context"
	"encoding/json"
	"io"

	"go.uber.org/zap"

	"github.com/unieasy/places-cli/internal/places"
	"github.com/unieasy/places-cli/internal/store"
)

// Outcome is the result of reconciling one record.
type Outcome int

const (
	OutcomeInserted Outcome = iota
	OutcomeUpdated
	OutcomeSkipped
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeUpdated:
		return "updated"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "error"
	}
}

// PlaceStore is the part of store.Store the reconciler needs.
type PlaceStore interface {
	IsProtected(ctx context.Context, externalID string) (bool, error)
	Exists(ctx context.Context, externalID string) (bool, error)
	UpsertPlace(ctx context.Context, rec *places.Record) (store.WriteResult, error)
}

// Preview actions.
const (
	ActionInsert = "insert"
	ActionUpdate = "update"
	ActionSkip   = "skip"
)

// Preview is the dry-run line emitted per record.
type Preview struct {
	ExternalID string  `json:"google_place_id"`
	Name       string  `json:"name"`
	Category   string  `json:"category"`
	SubType    string  `json:"type"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	Action     string  `json:"action"`
}

// Reconciler writes records while leaving protected rows alone.
type Reconciler struct {
	store   PlaceStore
	preview *json.Encoder
}

// NewReconciler creates a Reconciler. Dry-run previews are written to preview
// as one JSON object per line; a nil writer discards them.
func NewReconciler(st PlaceStore, preview io.Writer) *Reconciler {
	if preview == nil {
		preview = io.Discard
	}
	return &Reconciler{store: st, preview: json.NewEncoder(preview)}
}

// Upsert reconciles rec with the stored row of the same google_place_id.
// Storage failures are logged and reported as OutcomeError.
func (r *Reconciler) Upsert(ctx context.Context, rec *places.Record, dryRun bool) Outcome {
	log := zap.L().With(
		zap.String("category", string(rec.Category)),
		zap.String("google_place_id", rec.ExternalID),
	)

	protected, err := r.store.IsProtected(ctx, rec.ExternalID)
	if err != nil {
		// The upsert guard still refuses to touch protected rows.
		log.Warn("protection check failed, treating as unprotected", zap.Error(err))
		protected = false
	}
	if protected {
		log.Debug("skipping protected place", zap.String("name", rec.Name))
		if dryRun {
			r.emit(rec, ActionSkip, log)
		}
		return OutcomeSkipped
	}

	if dryRun {
		exists, err := r.store.Exists(ctx, rec.ExternalID)
		if err != nil {
			log.Warn("existence probe failed, previewing as insert", zap.Error(err))
			exists = false
		}
		if exists {
			r.emit(rec, ActionUpdate, log)
			return OutcomeUpdated
		}
		r.emit(rec, ActionInsert, log)
		return OutcomeInserted
	}

	res, err := r.store.UpsertPlace(ctx, rec)
	if err != nil {
		log.Error("upsert failed", zap.String("name", rec.Name), zap.Error(err))
		return OutcomeError
	}
	switch res {
	case store.WriteInserted:
		return OutcomeInserted
	case store.WriteUpdated:
		return OutcomeUpdated
	default:
		log.Info("row became protected before write, left unchanged")
		return OutcomeSkipped
	}
}

func (r *Reconciler) emit(rec *places.Record, action string, log *zap.Logger) {
	err := r.preview.Encode(Preview{
		ExternalID: rec.ExternalID,
		Name:       rec.Name,
		Category:   string(rec.Category),
		SubType:    rec.SubType,
		Lat:        rec.Lat,
		Lng:        rec.Lng,
		Action:     action,
	})
	if err != nil {
		log.Warn("write preview failed", zap.Error(err))
	}
}
