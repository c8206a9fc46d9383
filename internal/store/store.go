package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"fund-connect/internal/apperr"
	"fund-connect/internal/logging"
	"fund-connect/internal/model"
)

const sqlitePrefix = "sqlite://"

// pgInsufficientPrivilege is returned by Postgres when a row-level security
// policy rejects a statement.
const pgInsufficientPrivilege = "42501"

type Store struct {
	db *gorm.DB
}

type Options struct {
	MaxOpenConns int
	Logger       *slog.Logger
}

// Open connects to the database named by dsn. A "sqlite://" prefix selects
// SQLite; anything else is handed to the Postgres driver.
func Open(ctx context.Context, dsn string, opts Options) (*Store, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, sqlitePrefix) {
		dialector = sqlite.Open(strings.TrimPrefix(dsn, sqlitePrefix))
	} else {
		dialector = postgres.Open(dsn)
	}

	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}

	db, err := gorm.Open(dialector, gormConfig(log))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get underlying sql.DB: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
		sqlDB.SetMaxIdleConns(max(1, opts.MaxOpenConns/5))
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info("database connected", "driver", dialector.Name())
	return New(db), nil
}

// gormConfig routes gorm's query log through slog. Parameters are left out
// of logged SQL and lookups that find nothing are not logged as errors.
func gormConfig(log *slog.Logger) *gorm.Config {
	return &gorm.Config{
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
		Logger: logger.NewSlogLogger(log.With("component", "gorm"), logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			ParameterizedQueries:      true,
		}),
	}
}

// New wraps an existing gorm handle. The handle should be opened with
// TranslateError enabled so constraint violations map to domain errors.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates every table the service needs.
func (s *Store) Migrate(ctx context.Context) error {
	err := s.db.WithContext(ctx).AutoMigrate(
		&model.Agent{},
		&model.Investor{},
		&model.Profile{},
		&model.Fund{},
		&model.Interest{},
		&model.Conversation{},
		&model.Message{},
	)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// translate maps driver and gorm errors onto the service error taxonomy.
// what names the resource for not-found and conflict messages.
func translate(err error, what string) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return apperr.NotFound(what, err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return apperr.Conflict(what+" already exists", err)
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return apperr.NotFound("Referenced record", err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgInsufficientPrivilege {
		return apperr.Forbidden("Not permitted", err)
	}
	return apperr.Internal("Database error", err)
}
