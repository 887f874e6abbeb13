package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/feed"
	"gorm.io/gorm"
)

// SnapshotRecord persists the snapshot produced by one synchronization round.
type SnapshotRecord struct {
	RecordID         int64  `gorm:"column:record_id;primaryKey;autoIncrement"`
	RoundID          string `gorm:"column:round_id;size:64;not null;uniqueIndex"`
	UserCount        int    `gorm:"column:user_count;not null"`
	PostCount        int    `gorm:"column:post_count;not null"`
	VoteCount        int    `gorm:"column:vote_count;not null"`
	PayloadJSON      string `gorm:"column:payload_json;type:text;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (SnapshotRecord) TableName() string {
	return "snapshot_records"
}

// SnapshotStore keeps the most recent round results in SQL.
type SnapshotStore struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewSnapshotStore constructs a SnapshotStore over a migrated database.
func NewSnapshotStore(db *gorm.DB, clock func() time.Time) (*SnapshotStore, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	if clock == nil {
		clock = time.Now
	}
	return &SnapshotStore{db: db, clock: clock}, nil
}

// Latest returns the most recently saved snapshot.
func (store *SnapshotStore) Latest(ctx context.Context) (feed.Snapshot, bool, error) {
	var record SnapshotRecord
	err := store.db.WithContext(ctx).Order("record_id DESC").Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return feed.Snapshot{}, false, nil
	}
	if err != nil {
		return feed.Snapshot{}, false, err
	}
	var snapshot feed.Snapshot
	if err := json.Unmarshal([]byte(record.PayloadJSON), &snapshot); err != nil {
		return feed.Snapshot{}, false, err
	}
	return snapshot, true, nil
}

// Save stores snapshot under roundID and keeps only the newest retain records.
func (store *SnapshotStore) Save(ctx context.Context, roundID string, snapshot feed.Snapshot, retain int) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	record := SnapshotRecord{
		RoundID:          roundID,
		UserCount:        len(snapshot.Users),
		PostCount:        len(snapshot.Posts),
		VoteCount:        len(snapshot.Votes),
		PayloadJSON:      string(payload),
		CreatedAtSeconds: store.clock().UTC().Unix(),
	}
	return store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		if retain < 1 {
			return nil
		}
		var keep []int64
		if err := tx.Model(&SnapshotRecord{}).Order("record_id DESC").Limit(retain).Pluck("record_id", &keep).Error; err != nil {
			return err
		}
		return tx.Where("record_id NOT IN ?", keep).Delete(&SnapshotRecord{}).Error
	})
}

// Count returns the number of stored rounds.
func (store *SnapshotStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := store.db.WithContext(ctx).Model(&SnapshotRecord{}).Count(&count).Error
	return count, err
}
