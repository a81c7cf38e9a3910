package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/wagate/internal/dbx"
	"github.com/dmitrijs2005/wagate/internal/server/repositories/contacts"
	"github.com/dmitrijs2005/wagate/internal/server/repositories/devices"
	"github.com/dmitrijs2005/wagate/internal/server/repositories/jobs"
	"github.com/dmitrijs2005/wagate/internal/server/repositories/messages"
	"github.com/dmitrijs2005/wagate/internal/server/repositories/sessions"
)

// InMemoryRepositoryManager ignores the DBTX and always returns the same
// map-backed repositories, so a transaction sees the same data as the pool.
// Fields are exported for tests that need to seed or inspect state.
type InMemoryRepositoryManager struct {
	SessionsRepo *sessions.InMemoryRepository
	DevicesRepo  *devices.InMemoryRepository
	MessagesRepo *messages.InMemoryRepository
	ContactsRepo *contacts.InMemoryRepository
	JobsRepo     *jobs.InMemoryRepository
}

func NewInMemoryRepositoryManager() *InMemoryRepositoryManager {
	return &InMemoryRepositoryManager{
		SessionsRepo: sessions.NewInMemoryRepository(),
		DevicesRepo:  devices.NewInMemoryRepository(),
		MessagesRepo: messages.NewInMemoryRepository(),
		ContactsRepo: contacts.NewInMemoryRepository(),
		JobsRepo:     jobs.NewInMemoryRepository(),
	}
}

func (m *InMemoryRepositoryManager) RunMigrations(context.Context, *sql.DB) error {
	return nil
}

func (m *InMemoryRepositoryManager) Sessions(dbx.DBTX) sessions.Repository { return m.SessionsRepo }
func (m *InMemoryRepositoryManager) Devices(dbx.DBTX) devices.Repository   { return m.DevicesRepo }
func (m *InMemoryRepositoryManager) Messages(dbx.DBTX) messages.Repository { return m.MessagesRepo }
func (m *InMemoryRepositoryManager) Contacts(dbx.DBTX) contacts.Repository { return m.ContactsRepo }
func (m *InMemoryRepositoryManager) Jobs(dbx.DBTX) jobs.Repository         { return m.JobsRepo }
