package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arturpaehn/carlynx-sub002/models"
	"github.com/arturpaehn/carlynx-sub002/storage"
	"github.com/arturpaehn/carlynx-sub002/utils"
)

// Outcome says what the importer did with one record.
type Outcome int

const (
	OutcomeInserted Outcome = iota + 1
	OutcomeUpdated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeUpdated:
		return "updated"
	}
	return "unknown"
}

// Importer upserts normalized external listings keyed by (source, external_id).
//
// Imports of the same key are serialized inside one process. Two processes
// importing the same key can still race, and the later write wins.
type Importer struct {
	store  storage.ListingStore
	logger *utils.Logger
	locks  *utils.KeyedMutex
	now    func() time.Time
}

// NewImporter creates an Importer writing to store.
func NewImporter(store storage.ListingStore, logger *utils.Logger) *Importer {
	return &Importer{
		store:  store,
		logger: logger,
		locks:  utils.NewKeyedMutex(),
		now:    time.Now,
	}
}

// ImportOne inserts l when its key is unknown, otherwise refreshes the
// mutable fields of the stored record. It never deletes.
func (im *Importer) ImportOne(ctx context.Context, l *models.Listing) (Outcome, error) {
	if !l.External() || l.ExternalID == "" {
		return 0, fmt.Errorf("importer: %q has no import key", l.Title)
	}

	unlock := im.locks.Lock(l.Key().String())
	defer unlock()

	now := im.now().UTC()

	existing, err := im.store.FindByKey(ctx, l.Key())
	switch {
	case errors.Is(err, storage.ErrNotFound):
		rec := *l
		rec.ID = 0
		rec.IsActive = true
		rec.CreatedAt = now
		rec.UpdatedAt = now
		id, err := im.store.Insert(ctx, &rec)
		if err != nil {
			return 0, fmt.Errorf("importer: insert %s: %w", l.Key(), err)
		}
		l.ID = id
		return OutcomeInserted, nil

	case err != nil:
		return 0, fmt.Errorf("importer: lookup %s: %w", l.Key(), err)
	}

	existing.Price = l.Price
	existing.Mileage = l.Mileage
	existing.Images = l.Images
	existing.UpdatedAt = now
	if err := im.store.UpdateImported(ctx, existing); err != nil {
		return 0, fmt.Errorf("importer: update %s: %w", l.Key(), err)
	}
	l.ID = existing.ID
	return OutcomeUpdated, nil
}

// Import upserts a batch for one source. A failed record is logged and
// counted; the batch carries on. With deactivateStale set, listings of
// source that were not part of this batch are marked inactive afterwards,
// but only when every record in the batch made it in.
func (im *Importer) Import(ctx context.Context, source string, listings []*models.Listing, deactivateStale bool) *models.ImportReport {
	report := &models.ImportReport{
		RunID:     uuid.NewString(),
		Source:    source,
		StartedAt: im.now(),
	}
	im.logger.Info("[importer] Run %s: importing %d %s listings", report.RunID, len(listings), source)

	seen := make([]string, 0, len(listings))
	for _, l := range listings {
		if ctx.Err() != nil {
			im.logger.Warn("[importer] Run %s cancelled: %v", report.RunID, ctx.Err())
			report.Failed += len(listings) - report.Inserted - report.Updated - report.Failed
			break
		}

		outcome, err := im.ImportOne(ctx, l)
		if err != nil {
			report.Failed++
			im.logger.Warn("[importer] %v", err)
			continue
		}
		seen = append(seen, l.ExternalID)

		switch outcome {
		case OutcomeInserted:
			report.Inserted++
		case OutcomeUpdated:
			report.Updated++
		}
		im.logger.Debug("[importer] %s %s", outcome, l.Key())
	}

	if deactivateStale {
		switch {
		case report.Failed > 0:
			im.logger.Warn("[importer] Skipping stale deactivation for %s: %d records failed", source, report.Failed)
		case len(seen) == 0:
			im.logger.Warn("[importer] Skipping stale deactivation for %s: nothing imported", source)
		default:
			n, err := im.store.DeactivateMissing(ctx, source, seen)
			if err != nil {
				im.logger.Error("[importer] Stale deactivation for %s failed: %v", source, err)
			} else {
				report.Deactivated = n
			}
		}
	}

	report.FinishedAt = im.now()
	im.logger.Info("[importer] Run %s done: inserted %d, updated %d, failed %d, deactivated %d",
		report.RunID, report.Inserted, report.Updated, report.Failed, report.Deactivated)
	return report
}
