package holding

import (
	"context"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"agrivest/internal/models"
)

// Holding is one holder's total (liquid + locked) tokens at a snapshot instant.
type Holding struct {
	HolderID string `json:"holder_id"`
	Tokens   int64  `json:"tokens"`
}

// Snapshot is a consistent read of every positive holding in a project.
// Holdings are ordered by holder id.
type Snapshot struct {
	ProjectID   uint      `json:"project_id"`
	AsOf        time.Time `json:"as_of"`
	Holdings    []Holding `json:"holdings"`
	TotalTokens int64     `json:"total_tokens"`
}

// Current reads the project's holdings as committed, on the caller's
// transaction, and stamps them with at. Balance rows are share-locked so
// concurrent transfers wait for the caller to commit. The journal is not
// consulted, so a clock that disagrees with the one that wrote it cannot move
// the result.
func (r *Registry) Current(tx *gorm.DB, projectID uint, at time.Time) (*Snapshot, error) {
	totals, err := currentTotals(tx, projectID)
	if err != nil {
		return nil, err
	}
	return buildSnapshot(projectID, at.UTC(), totals), nil
}

// Snapshot reads the project's holdings at asOf on the caller's transaction.
// Journal deltas recorded after asOf are subtracted from the current totals.
func (r *Registry) Snapshot(tx *gorm.DB, projectID uint, asOf time.Time) (*Snapshot, error) {
	asOf = asOf.UTC()
	totals, err := currentTotals(tx, projectID)
	if err != nil {
		return nil, err
	}

	type delta struct {
		HolderID string
		Delta    int64
	}
	var later []delta
	err = tx.Model(&models.TokenMovement{}).
		Select("holder_id, SUM(total_delta) AS delta").
		Where("project_id = ? AND occurred_at > ?", projectID, asOf).
		Group("holder_id").
		Scan(&later).Error
	if err != nil {
		return nil, err
	}
	for _, d := range later {
		totals[d.HolderID] -= d.Delta
		if totals[d.HolderID] < 0 {
			log.WithFields(log.Fields{
				"project_id": projectID,
				"holder_id":  d.HolderID,
				"as_of":      asOf,
				"tokens":     totals[d.HolderID],
			}).Warn("> journal replay produced a negative holding")
		}
	}
	return buildSnapshot(projectID, asOf, totals), nil
}

func currentTotals(tx *gorm.DB, projectID uint) (map[string]int64, error) {
	var balances []models.TokenBalance
	err := tx.Clauses(clause.Locking{Strength: "SHARE"}).
		Where("project_id = ?", projectID).
		Order("holder_id").
		Find(&balances).Error
	if err != nil {
		return nil, err
	}
	totals := make(map[string]int64, len(balances))
	for _, b := range balances {
		totals[b.HolderID] = b.TotalTokens
	}
	return totals, nil
}

func buildSnapshot(projectID uint, asOf time.Time, totals map[string]int64) *Snapshot {
	snap := &Snapshot{ProjectID: projectID, AsOf: asOf}
	for holderID, tokens := range totals {
		if tokens <= 0 {
			continue
		}
		snap.Holdings = append(snap.Holdings, Holding{HolderID: holderID, Tokens: tokens})
		snap.TotalTokens += tokens
	}
	sort.Slice(snap.Holdings, func(i, j int) bool {
		return snap.Holdings[i].HolderID < snap.Holdings[j].HolderID
	})
	return snap
}

// SnapshotAt runs Snapshot in its own transaction.
func (r *Registry) SnapshotAt(ctx context.Context, projectID uint, asOf time.Time) (*Snapshot, error) {
	var snap *Snapshot
	err := r.uow.Do(ctx, func(tx *gorm.DB) error {
		var err error
		snap, err = r.Snapshot(tx, projectID, asOf)
		return err
	})
	return snap, err
}
