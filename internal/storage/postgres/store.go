package postgres

import (
	"context"
	"sync"

	"gorm.io/gorm"

	"github.com/jkaninda/grcpilot/internal/storage"
)

// Store implements storage.Store on a *gorm.DB.
// It lazily creates sub-store repositories. The same type backs SQLite,
// which opens its own connection and passes it to NewGormStore.
type Store struct {
	db     *gorm.DB
	driver string
	ping   func(context.Context) error
	close  func() error

	mu             sync.Mutex
	tenants        storage.TenantStore
	usage          storage.UsageStore
	risks          storage.RiskStore
	controls       storage.ControlStore
	frameworks     storage.FrameworkStore
	evidence       storage.EvidenceStore
	integrations   storage.IntegrationStore
	pendingActions storage.PendingActionStore
	audit          storage.AuditStore
}

// NewStore wraps an existing DB as a unified Store.
func NewStore(pgDB *DB) *Store {
	return &Store{
		db:     pgDB.GormDB(),
		driver: storage.DriverPostgres,
		ping:   pgDB.Ping,
		close:  pgDB.Close,
	}
}

// NewGormStore builds a Store over any GORM connection sharing these models.
func NewGormStore(db *gorm.DB, driver string) *Store {
	return &Store{db: db, driver: driver}
}

func (s *Store) Migrate(_ context.Context) error {
	return autoMigrate(s.db)
}

func (s *Store) Ping(ctx context.Context) error {
	if s.ping != nil {
		return s.ping(ctx)
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	if s.close != nil {
		return s.close()
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Driver() string {
	return s.driver
}

// GormDB returns the underlying GORM DB for direct access when needed.
func (s *Store) GormDB() *gorm.DB {
	return s.db
}

// WithTx binds a fresh Store to a transaction. Nested calls use savepoints.
func (s *Store) WithTx(ctx context.Context, fn func(tx storage.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, driver: s.driver})
	})
}

// --- Sub-store accessors ---

func (s *Store) Tenants() storage.TenantStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tenants == nil {
		s.tenants = NewTenantRepository(s.db)
	}
	return s.tenants
}

func (s *Store) Usage() storage.UsageStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usage == nil {
		s.usage = NewUsageRepository(s.db)
	}
	return s.usage
}

func (s *Store) Risks() storage.RiskStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.risks == nil {
		s.risks = NewRiskRepository(s.db)
	}
	return s.risks
}

func (s *Store) Controls() storage.ControlStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.controls == nil {
		s.controls = NewControlRepository(s.db)
	}
	return s.controls
}

func (s *Store) Frameworks() storage.FrameworkStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frameworks == nil {
		s.frameworks = NewFrameworkRepository(s.db)
	}
	return s.frameworks
}

func (s *Store) Evidence() storage.EvidenceStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.evidence == nil {
		s.evidence = NewEvidenceRepository(s.db)
	}
	return s.evidence
}

func (s *Store) Integrations() storage.IntegrationStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.integrations == nil {
		s.integrations = NewIntegrationRepository(s.db)
	}
	return s.integrations
}

func (s *Store) PendingActions() storage.PendingActionStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingActions == nil {
		s.pendingActions = NewPendingActionRepository(s.db)
	}
	return s.pendingActions
}

func (s *Store) Audit() storage.AuditStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audit == nil {
		s.audit = NewAuditRepository(s.db)
	}
	return s.audit
}

var _ storage.Store = (*Store)(nil)
