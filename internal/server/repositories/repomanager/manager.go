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

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Sessions(db dbx.DBTX) sessions.Repository
	Devices(db dbx.DBTX) devices.Repository
	Messages(db dbx.DBTX) messages.Repository
	Contacts(db dbx.DBTX) contacts.Repository
	Jobs(db dbx.DBTX) jobs.Repository
}
