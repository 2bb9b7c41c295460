package camera

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/psds-microservice/homecam-relay/internal/errs"
	"github.com/psds-microservice/homecam-relay/internal/model"
)

func newMockDirectory(t *testing.T) (*GormDirectory, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Discard,
	})
	if err != nil {
		t.Fatalf("gorm open: %v", err)
	}
	return NewGormDirectory(db), mock
}

func expectations(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

func TestGormDirectoryOwner(t *testing.T) {
	ctx := context.Background()
	dir, mock := newMockDirectory(t)

	mock.ExpectQuery(`SELECT \* FROM "cameras" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "owner_user_id"}).AddRow("cam-1", "Hall", "owner"))
	owner, err := dir.Owner(ctx, "cam-1")
	if err != nil || owner != "owner" {
		t.Fatalf("expected owner, got %q err=%v", owner, err)
	}

	mock.ExpectQuery(`SELECT \* FROM "cameras" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "owner_user_id"}))
	if _, err := dir.Owner(ctx, "cam-x"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected missing row to map to not found, got %v", err)
	}

	mock.ExpectQuery(`SELECT \* FROM "cameras"`).
		WillReturnError(errors.New("connection reset"))
	_, err = dir.Owner(ctx, "cam-1")
	if err == nil || errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("driver errors must not look like not found, got %v", err)
	}
	expectations(t, mock)
}

func TestGormDirectoryIsAuthorized(t *testing.T) {
	ctx := context.Background()
	dir, mock := newMockDirectory(t)
	cameraRow := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "name", "owner_user_id"}).AddRow("cam-1", "Hall", "owner")
	}

	// владелец: без запроса к camera_permissions
	mock.ExpectQuery(`SELECT \* FROM "cameras"`).WillReturnRows(cameraRow())
	if ok, err := dir.IsAuthorized(ctx, "owner", "cam-1"); err != nil || !ok {
		t.Fatalf("owner must be authorized, got %v err=%v", ok, err)
	}

	mock.ExpectQuery(`SELECT \* FROM "cameras"`).WillReturnRows(cameraRow())
	mock.ExpectQuery(`SELECT count\(\*\) FROM "camera_permissions" WHERE camera_id = \$1 AND user_id = \$2`).
		WithArgs("cam-1", "v1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	if ok, err := dir.IsAuthorized(ctx, "v1", "cam-1"); err != nil || !ok {
		t.Fatalf("granted viewer must be authorized, got %v err=%v", ok, err)
	}

	mock.ExpectQuery(`SELECT \* FROM "cameras"`).WillReturnRows(cameraRow())
	mock.ExpectQuery(`SELECT count\(\*\) FROM "camera_permissions"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	if ok, err := dir.IsAuthorized(ctx, "stranger", "cam-1"); err != nil || ok {
		t.Fatalf("stranger must be refused, got %v err=%v", ok, err)
	}

	mock.ExpectQuery(`SELECT \* FROM "cameras"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "owner_user_id"}))
	if ok, err := dir.IsAuthorized(ctx, "v1", "cam-x"); err != nil || ok {
		t.Fatalf("unknown camera must be refused without error, got %v err=%v", ok, err)
	}
	expectations(t, mock)
}

func TestGormDirectoryWritesAreUpserts(t *testing.T) {
	ctx := context.Background()
	dir, mock := newMockDirectory(t)

	mock.ExpectExec(`INSERT INTO "cameras" .* ON CONFLICT \("id"\) DO UPDATE SET "name"="excluded"\."name","updated_at"="excluded"\."updated_at"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := dir.SaveCamera(ctx, model.Camera{ID: "cam-1", Name: "Hall", OwnerUserID: "owner"}); err != nil {
		t.Fatalf("save camera: %v", err)
	}

	mock.ExpectExec(`INSERT INTO "camera_permissions" .* ON CONFLICT DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := dir.GrantAccess(ctx, "cam-1", "v1"); err != nil {
		t.Fatalf("grant access: %v", err)
	}
	expectations(t, mock)
}
