package storage

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/feed"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	queryAddressIndex = "address = ? AND log_index = ?"
	queryAddress      = "address = ?"
)

var errMissingDatabase = errors.New("storage: database handle is required")

// LogEntry stores one append-only log entry.
type LogEntry struct {
	EntryID          int64  `gorm:"column:entry_id;primaryKey;autoIncrement"`
	Address          string `gorm:"column:address;size:190;not null;uniqueIndex:idx_log_entries_address_index,priority:1"`
	LogIndex         int    `gorm:"column:log_index;not null;uniqueIndex:idx_log_entries_address_index,priority:2"`
	Kind             string `gorm:"column:kind;size:32;not null;default:''"`
	PayloadJSON      string `gorm:"column:payload_json;type:text;not null"`
	WrittenAtSeconds int64  `gorm:"column:written_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (LogEntry) TableName() string {
	return "log_entries"
}

// LogStoreConfig describes the dependencies of a LogStore.
type LogStoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// LogStore is a Backend persisted in a SQL database through GORM.
type LogStore struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewLogStore constructs a LogStore. The log_entries table must already be migrated.
func NewLogStore(cfg LogStoreConfig) (*LogStore, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogStore{db: cfg.Database, clock: clock, logger: logger}, nil
}

// FindUpdate loads and decodes the entry at (address, index).
func (store *LogStore) FindUpdate(ctx context.Context, address string, index int) (feed.Update, error) {
	if err := validateIndex(index); err != nil {
		return nil, err
	}
	var entry LogEntry
	err := store.db.WithContext(ctx).
		Select("payload_json").
		Where(queryAddressIndex, address, index).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return feed.DecodeUpdate([]byte(entry.PayloadJSON)), nil
}

// AddUpdate writes update at index. Occupied indices are never overwritten.
func (store *LogStore) AddUpdate(ctx context.Context, identity feed.Identity, index int, update feed.Update) error {
	payload, err := feed.EncodeUpdate(update)
	if err != nil {
		return err
	}
	return store.PutRaw(ctx, identity.Address, index, payload)
}

// PutRaw stores payload verbatim at (address, index).
func (store *LogStore) PutRaw(ctx context.Context, address string, index int, payload []byte) error {
	if err := validateIndex(index); err != nil {
		return err
	}
	entry := LogEntry{
		Address:          address,
		LogIndex:         index,
		Kind:             string(feed.DecodeUpdate(payload).Kind()),
		PayloadJSON:      string(payload),
		WrittenAtSeconds: store.clock().UTC().Unix(),
	}
	result := store.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&entry)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrIndexTaken
	}
	store.logger.Debug("log entry stored",
		zap.String("address", address),
		zap.Int("index", index),
		zap.String("kind", entry.Kind))
	return nil
}

// LogLength counts the entries stored for address.
func (store *LogStore) LogLength(ctx context.Context, address string) (int64, error) {
	var count int64
	if err := store.db.WithContext(ctx).Model(&LogEntry{}).Where(queryAddress, address).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
