package database

import (
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/pkg/errors"
)

// MigrationLogger adapts ectologger to migrate.Logger.
type MigrationLogger struct {
	ectologger.Logger
}

func (l MigrationLogger) Verbose() bool {
	return true
}

func (l MigrationLogger) Printf(format string, v ...any) {
	l.Infof(strings.TrimSuffix(format, "\n"), v...)
}

type MigrationConfig struct {
	Version      uint
	Force        int
	AutoRollback bool // On a dirty failure, force the schema back to the previous version
}

// MigrationService applies the embedded migrations to a postgres or sqlite database.
type MigrationService struct {
	config *MigrationConfig
	logger ectologger.Logger
	source fs.FS
	dir    string
}

func NewMigrationService(logger ectologger.Logger, source fs.FS, dir string, config *MigrationConfig) *MigrationService {
	if config == nil {
		config = &MigrationConfig{}
	}
	return &MigrationService{
		config: config,
		logger: logger,
		source: source,
		dir:    dir,
	}
}

func (ms *MigrationService) Migrate(db DB) error {
	driver, err := ms.driverFor(db)
	if err != nil {
		return err
	}

	src, err := iofs.New(ms.source, ms.dir)
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("failed to read migrations from %s", ms.dir))
	}

	// m is never closed; closing it would close the shared pool.
	m, err := migrate.NewWithInstance("iofs", src, db.DriverName(), driver)
	if err != nil {
		ms.logger.WithError(err).Error("Failed to create migrate instance")
		return errors.Wrap(err, "failed to create migrate instance")
	}
	m.Log = MigrationLogger{Logger: ms.logger}

	return ms.run(m)
}

func (ms *MigrationService) driverFor(db DB) (migratedb.Driver, error) {
	switch db.DriverName() {
	case DriverPostgres:
		return postgres.WithInstance(db.SQL(), &postgres.Config{})
	case DriverSQLite:
		return sqlite.WithInstance(db.SQL(), &sqlite.Config{})
	default:
		return nil, fmt.Errorf("no migration driver for %s", db.DriverName())
	}
}

func (ms *MigrationService) run(m *migrate.Migrate) error {
	if ms.config.Force != 0 {
		if err := m.Force(ms.config.Force); err != nil {
			ms.logger.WithError(err).Errorf("Failed to force database to version %d", ms.config.Force)
			return err
		}
	}

	version, _, versionErr := m.Version()
	if versionErr != nil && versionErr != migrate.ErrNilVersion {
		ms.logger.WithError(versionErr).Error("Failed to get current migration version")
	}

	done := make(chan struct{})
	go ms.logProgress(done)

	start := time.Now()
	var migrationErr error
	if ms.config.Version != 0 {
		migrationErr = m.Migrate(ms.config.Version)
	} else {
		migrationErr = m.Up()
	}
	close(done)

	ms.logger.Infof("Database migrations completed in %v", time.Since(start))

	return ms.handleMigrationError(m, migrationErr, version)
}

func (ms *MigrationService) logProgress(done <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	dots := 0
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			dots = (dots + 1) % 4
			ms.logger.Debugf("Executing database migrations%s", strings.Repeat(".", dots))
		}
	}
}

func (ms *MigrationService) handleMigrationError(m *migrate.Migrate, err error, previousVersion uint) error {
	if err == nil {
		ms.logger.Info("Successfully applied migrations")
		return nil
	}
	if err == migrate.ErrNoChange {
		ms.logger.Info("No new migrations to apply")
		return nil
	}

	// The recorded version is newer than any embedded migration, usually after a rollback deploy.
	if strings.Contains(err.Error(), "no migration found for version") {
		latest, latestErr := ms.latestVersion()
		if latestErr != nil {
			return errors.Wrap(latestErr, "failed to get latest migration version")
		}
		ms.logger.Warnf("No migration found for version %d. Forcing database to version %d", previousVersion, latest)
		return m.Force(latest)
	}

	ms.logger.WithError(err).Errorf("Migration failed with error: %v", err)

	version, dirty, versionErr := m.Version()
	if versionErr != nil && versionErr != migrate.ErrNilVersion {
		ms.logger.WithError(versionErr).Error("Failed to get current migration version")
		return err
	}

	if ms.config.AutoRollback && dirty {
		target := int(previousVersion)
		if target == 0 && version > 0 {
			target = int(version) - 1
		}
		ms.logger.Warnf("Database is dirty at version %d. Reverting to version %d", version, target)
		if forceErr := m.Force(target); forceErr != nil {
			ms.logger.WithError(forceErr).Errorf("Failed to force database to version %d", target)
			return forceErr
		}
	}

	// The original error is returned even after a revert so the service refuses to start.
	return err
}

var migrationFilePattern = regexp.MustCompile(`^(\d+)_.*\.up\.sql$`)

func (ms *MigrationService) latestVersion() (int, error) {
	entries, err := fs.ReadDir(ms.source, ms.dir)
	if err != nil {
		return 0, err
	}

	var versions []int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matches := migrationFilePattern.FindStringSubmatch(entry.Name())
		if len(matches) < 2 {
			continue
		}
		version, err := strconv.Atoi(matches[1])
		if err != nil {
			return 0, err
		}
		versions = append(versions, version)
	}

	if len(versions) == 0 {
		return 0, fmt.Errorf("no migration files found in %s", ms.dir)
	}

	sort.Ints(versions)
	return versions[len(versions)-1], nil
}
