package repomanager

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/wagate/internal/server/repositories/contacts"
	"github.com/dmitrijs2005/wagate/internal/server/repositories/devices"
	"github.com/dmitrijs2005/wagate/internal/server/repositories/jobs"
	"github.com/dmitrijs2005/wagate/internal/server/repositories/messages"
	"github.com/dmitrijs2005/wagate/internal/server/repositories/sessions"
	"github.com/pressly/goose/v3"
)

func newDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return db, mock
}

func TestManagers_ImplementInterface(t *testing.T) {
	var _ RepositoryManager = NewPostgresRepositoryManager()
	var _ RepositoryManager = NewInMemoryRepositoryManager()
}

func TestFactories_ReturnConcreteRepos(t *testing.T) {
	db, _ := newDB(t)
	defer db.Close()

	m := NewPostgresRepositoryManager()

	if _, ok := m.Sessions(db).(*sessions.PostgresRepository); !ok {
		t.Fatal("Sessions() wrong type")
	}
	if _, ok := m.Devices(db).(*devices.PostgresRepository); !ok {
		t.Fatal("Devices() wrong type")
	}
	if _, ok := m.Messages(db).(*messages.PostgresRepository); !ok {
		t.Fatal("Messages() wrong type")
	}
	if _, ok := m.Contacts(db).(*contacts.PostgresRepository); !ok {
		t.Fatal("Contacts() wrong type")
	}
	if _, ok := m.Jobs(db).(*jobs.PostgresRepository); !ok {
		t.Fatal("Jobs() wrong type")
	}
}

func TestInMemoryManager_SharesStateAcrossHandles(t *testing.T) {
	db, _ := newDB(t)
	defer db.Close()

	m := NewInMemoryRepositoryManager()
	if m.Sessions(db) != m.Sessions(nil) {
		t.Fatal("in-memory manager must return the same repository for any DBTX")
	}
	if err := m.RunMigrations(context.Background(), db); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}
}

func TestRunMigrations_Success(t *testing.T) {
	db, _ := newDB(t)
	defer db.Close()

	orig := gooseUpContext
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		if dir != "." {
			return errors.New("unexpected dir")
		}
		if len(opts) != 0 {
			return errors.New("unexpected opts")
		}
		return nil
	}
	defer func() { gooseUpContext = orig }()

	m := &PostgresRepositoryManager{}
	if err := m.RunMigrations(context.Background(), db); err != nil {
		t.Fatalf("RunMigrations error: %v", err)
	}
}

func TestRunMigrations_Error(t *testing.T) {
	db, _ := newDB(t)
	defer db.Close()

	orig := gooseUpContext
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return errors.New("boom")
	}
	defer func() { gooseUpContext = orig }()

	m := &PostgresRepositoryManager{}
	if err := m.RunMigrations(context.Background(), db); err == nil || err.Error() != "boom" {
		t.Fatalf("expected boom, got %v", err)
	}
}
