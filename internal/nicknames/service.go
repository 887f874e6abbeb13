// Package nicknames stores display names for identities. Names decorate read
// responses only and never enter a synchronized snapshot.
package nicknames

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/hexnews/backend/internal/feed"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrInvalidNick indicates an empty or oversized nickname.
	ErrInvalidNick     = errors.New("nicknames: invalid nick")
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

const (
	opServiceNew = "nicknames.service.new"
	opSet        = "nicknames.set"
	opApply      = "nicknames.apply"
)

// ServiceError carries a stable error code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// ServiceConfig describes the dependencies of the nickname service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service persists nicknames and caches lookups by address.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
	cache  sync.Map
}

// NewService constructs the nickname service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, now: clock, logger: logger}, nil
}

// Set assigns nick to address, replacing any previous name.
func (s *Service) Set(ctx context.Context, address, nick string) error {
	normalizedAddress, err := feed.NormalizeAddress(address)
	if err != nil {
		return newServiceError(opSet, "invalid_address", err)
	}
	nick = normalize(nick)
	if nick == "" || utf8.RuneCountInString(nick) > maxNickLength {
		return newServiceError(opSet, "invalid_nick", ErrInvalidNick)
	}

	now := s.now().UTC()
	record := Nickname{Address: normalizedAddress, Nick: nick, CreatedAt: now, UpdatedAt: now}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoUpdates: clause.AssignmentColumns([]string{"nick", "updated_at"}),
	}).Create(&record).Error
	if err != nil {
		s.logError(opSet, "upsert_failed", err, zap.String("address", normalizedAddress))
		return newServiceError(opSet, "upsert_failed", err)
	}
	s.cache.Store(normalizedAddress, nick)
	return nil
}

// Lookup returns the nickname registered for address.
func (s *Service) Lookup(ctx context.Context, address string) (string, bool, error) {
	if cached, ok := s.cache.Load(address); ok {
		nick, _ := cached.(string)
		return nick, nick != "", nil
	}
	var record Nickname
	err := s.db.WithContext(ctx).Where("address = ?", address).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	s.cache.Store(address, record.Nick)
	return record.Nick, true, nil
}

// Apply returns a copy of users with Nick filled from the store. Users
// without a registered nickname keep whatever Nick they carried.
func (s *Service) Apply(ctx context.Context, users []feed.User) ([]feed.User, error) {
	decorated := make([]feed.User, len(users))
	copy(decorated, users)

	missing := make([]string, 0)
	for _, user := range users {
		if _, ok := s.cache.Load(user.Address); !ok {
			missing = append(missing, user.Address)
		}
	}
	if len(missing) > 0 {
		var records []Nickname
		if err := s.db.WithContext(ctx).Where("address IN ?", missing).Find(&records).Error; err != nil {
			s.logError(opApply, "select_failed", err, zap.Int("addresses", len(missing)))
			return nil, newServiceError(opApply, "select_failed", err)
		}
		for _, record := range records {
			s.cache.Store(record.Address, record.Nick)
		}
	}

	for i := range decorated {
		if cached, ok := s.cache.Load(decorated[i].Address); ok {
			if nick, _ := cached.(string); nick != "" {
				decorated[i].Nick = nick
			}
		}
	}
	return decorated, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("nicknames service error", attrs...)
}
