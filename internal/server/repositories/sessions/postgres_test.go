package sessions

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/wagate/internal/common"
	"github.com/dmitrijs2005/wagate/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

const upsertQ = `(?s)^INSERT\s+INTO\s+sessions\s*\(device_id,\s*filename,\s*data\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3\)\s*ON\s+CONFLICT\s*\(device_id,\s*filename\)\s*DO\s+UPDATE\s+SET\s+data\s*=\s*EXCLUDED\.data,\s*updated_at\s*=\s*now\(\)\s*$`

func TestUpsert_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(upsertQ).
		WithArgs("d1", "creds", "aa:bb").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Upsert(context.Background(), &models.SessionRecord{DeviceID: "d1", Filename: "creds", Data: "aa:bb"}); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpsert_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(upsertQ).WillReturnError(errors.New("db down"))

	err := repo.Upsert(context.Background(), &models.SessionRecord{DeviceID: "d1", Filename: "creds", Data: "x"})
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

const findQ = `(?s)^SELECT\s+device_id,\s*filename,\s*data,\s*updated_at\s+FROM\s+sessions\s+WHERE\s+device_id\s*=\s*\$1\s+AND\s+filename\s*=\s*\$2\s*$`

func TestFind_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(findQ).
		WithArgs("d1", "creds").
		WillReturnRows(sqlmock.NewRows([]string{"device_id", "filename", "data", "updated_at"}).
			AddRow("d1", "creds", "aa:bb", now))

	got, err := repo.Find(context.Background(), "d1", "creds")
	if err != nil {
		t.Fatalf("Find error: %v", err)
	}
	if got.Data != "aa:bb" || got.Filename != "creds" {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestFind_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(findQ).WithArgs("d1", "creds").WillReturnError(sql.ErrNoRows)

	_, err := repo.Find(context.Background(), "d1", "creds")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want common.ErrorNotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^DELETE\s+FROM\s+sessions\s+WHERE\s+device_id\s*=\s*\$1\s+AND\s+filename\s*=\s*\$2$`).
		WithArgs("d1", "pre-key-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Delete(context.Background(), "d1", "pre-key-1"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
}

func TestDeleteAll(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^DELETE\s+FROM\s+sessions\s+WHERE\s+device_id\s*=\s*\$1$`).
		WithArgs("d1").
		WillReturnError(errors.New("boom"))

	err := repo.DeleteAll(context.Background(), "d1")
	if err == nil || !regexp.MustCompile(`db error: .*boom`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestListDeviceIDs(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^SELECT\s+device_id\s+FROM\s+sessions\s+WHERE\s+filename\s*=\s*\$1\s+ORDER\s+BY\s+device_id\s*$`).
		WithArgs("creds").
		WillReturnRows(sqlmock.NewRows([]string{"device_id"}).AddRow("d1").AddRow("d2"))

	ids, err := repo.ListDeviceIDs(context.Background(), "creds")
	if err != nil {
		t.Fatalf("ListDeviceIDs error: %v", err)
	}
	if len(ids) != 2 || ids[0] != "d1" || ids[1] != "d2" {
		t.Fatalf("unexpected ids: %v", ids)
	}
}

func TestInMemoryRepository(t *testing.T) {
	ctx := context.Background()
	r := NewInMemoryRepository()

	_ = r.Upsert(ctx, &models.SessionRecord{DeviceID: "d1", Filename: "creds", Data: "1"})
	_ = r.Upsert(ctx, &models.SessionRecord{DeviceID: "d1", Filename: "pre-key-1", Data: "2"})
	_ = r.Upsert(ctx, &models.SessionRecord{DeviceID: "d2", Filename: "pre-key-1", Data: "3"})

	ids, _ := r.ListDeviceIDs(ctx, "creds")
	if len(ids) != 1 || ids[0] != "d1" {
		t.Fatalf("unexpected ids: %v", ids)
	}

	_ = r.DeleteAll(ctx, "d1")
	if r.Count("d1") != 0 || r.Count("d2") != 1 {
		t.Fatalf("DeleteAll removed the wrong rows")
	}
	if _, err := r.Find(ctx, "d1", "creds"); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want not found, got %v", err)
	}
}
