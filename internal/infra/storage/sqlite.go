package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"equity_go/internal/domain"
)

// busyTimeoutMS lets a writer wait for the lock instead of failing with SQLITE_BUSY.
const busyTimeoutMS = 5000

// newGormLogger logs slow queries and real errors. Misses are expected (first buy
// of a symbol, sell without holdings), so they are not logged.
func newGormLogger(w io.Writer) logger.Interface {
	return logger.New(log.New(w, "\r\n", log.LstdFlags), logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

// Storage is the SQLite-backed ledger of accounts, positions and trades.
type Storage struct {
	db *gorm.DB
}

var _ domain.Ledger = (*Storage)(nil)

// NewStorage opens (or creates) the ledger at path. An empty path resolves to the OS config dir.
func NewStorage(path string) (*Storage, error) {
	dbPath := path
	if dbPath == "" {
		var err error
		dbPath, err = getDBPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve DB path: %w", err)
		}
	}

	// Ensure directory exists
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)", dbPath, busyTimeoutMS)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: newGormLogger(os.Stdout),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite has one writer; a single connection serializes transactions in-process.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	// Auto Migration
	if err := db.AutoMigrate(&domain.Account{}, &domain.Position{}, &domain.TradeRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// Close releases the underlying connection.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// getDBPath resolves the database file path based on OS
func getDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "EquiChain", "data", "ledger.db"), nil
}

// ======================================================================================
// Transactional Operations
// ======================================================================================

// WithAccount runs fn inside one database transaction scoped to accountID.
// Any error returned by fn rolls back every write made through tx.
func (s *Storage) WithAccount(ctx context.Context, accountID string, fn func(tx domain.LedgerTx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&ledgerTx{db: tx, accountID: accountID})
	})
}

// ledgerTx must only touch db (the transaction handle), never the root connection,
// or it would wait forever on the single pooled connection.
type ledgerTx struct {
	db        *gorm.DB
	accountID string
}

func (t *ledgerTx) Account() (*domain.Account, error) {
	var a domain.Account
	err := t.db.First(&a, "id = ?", t.accountID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (t *ledgerTx) SaveAccount(a *domain.Account) error {
	a.VerifyInvariant()
	return t.db.Save(a).Error
}

func (t *ledgerTx) Position(symbol string) (*domain.Position, error) {
	var p domain.Position
	err := t.db.First(&p, "account_id = ? AND symbol = ?", t.accountID, symbol).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // No position is not an error
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *ledgerTx) SavePosition(p *domain.Position) error {
	if p.AccountID == "" {
		p.AccountID = t.accountID
	}
	return t.db.Save(p).Error
}

func (t *ledgerTx) DeletePosition(p *domain.Position) error {
	return t.db.Delete(p).Error
}

func (t *ledgerTx) AppendTrade(tr *domain.TradeRecord) error {
	if tr.AccountID == "" {
		tr.AccountID = t.accountID
	}
	return t.db.Create(tr).Error
}

// ======================================================================================
// Account Operations
// ======================================================================================

// CreateAccount inserts a new account. Fails if the ID is taken.
func (s *Storage) CreateAccount(ctx context.Context, a *domain.Account) error {
	return s.db.WithContext(ctx).Create(a).Error
}

// GetAccount retrieves an account or domain.ErrNotFound.
func (s *Storage) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	return findAccount(s.db.WithContext(ctx), accountID)
}

// Snapshot reads the account, its positions and its newest trades in one
// transaction, so a trade committing in between cannot be half visible.
func (s *Storage) Snapshot(ctx context.Context, accountID string, tradeLimit int) (domain.AccountSnapshot, error) {
	var snap domain.AccountSnapshot
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		acct, err := findAccount(tx, accountID)
		if err != nil {
			return err
		}
		positions, err := findPositions(tx, accountID)
		if err != nil {
			return fmt.Errorf("list positions: %w", err)
		}
		trades, err := findTrades(tx, accountID, tradeLimit)
		if err != nil {
			return fmt.Errorf("recent trades: %w", err)
		}
		snap = domain.AccountSnapshot{Account: *acct, Positions: positions, Trades: trades}
		return nil
	})
	return snap, err
}

func findAccount(db *gorm.DB, accountID string) (*domain.Account, error) {
	var a domain.Account
	err := db.First(&a, "id = ?", accountID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ======================================================================================
// Position & Trade Operations
// ======================================================================================

// GetPosition returns the account's position in symbol, or nil if none.
func (s *Storage) GetPosition(ctx context.Context, accountID, symbol string) (*domain.Position, error) {
	var p domain.Position
	err := s.db.WithContext(ctx).First(&p, "account_id = ? AND symbol = ?", accountID, symbol).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPositions returns all open positions of an account ordered by symbol.
func (s *Storage) ListPositions(ctx context.Context, accountID string) ([]domain.Position, error) {
	return findPositions(s.db.WithContext(ctx), accountID)
}

// RecentTrades returns the newest trades first.
func (s *Storage) RecentTrades(ctx context.Context, accountID string, limit int) ([]domain.TradeRecord, error) {
	return findTrades(s.db.WithContext(ctx), accountID, limit)
}

func findPositions(db *gorm.DB, accountID string) ([]domain.Position, error) {
	var positions []domain.Position
	err := db.Where("account_id = ?", accountID).
		Order("symbol asc").
		Find(&positions).Error
	return positions, err
}

func findTrades(db *gorm.DB, accountID string, limit int) ([]domain.TradeRecord, error) {
	var trades []domain.TradeRecord
	err := db.Where("account_id = ?", accountID).
		Order("seq desc").
		Limit(limit).
		Find(&trades).Error
	return trades, err
}
