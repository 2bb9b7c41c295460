package camera

import (
	"context"
	"errors"
	"testing"

	"github.com/psds-microservice/homecam-relay/internal/errs"
	"github.com/psds-microservice/homecam-relay/internal/model"
)

func TestMemoryDirectoryOwnershipAndGrants(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()

	if _, err := dir.Owner(ctx, "cam-1"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected unknown camera to be not found, got %v", err)
	}
	if err := dir.SaveCamera(ctx, model.Camera{ID: "cam-1", Name: "Hall", OwnerUserID: "owner"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	_ = dir.SaveCamera(ctx, model.Camera{ID: "cam-1", Name: "Hall 2", OwnerUserID: "intruder"})
	owner, err := dir.Owner(ctx, "cam-1")
	if err != nil || owner != "owner" {
		t.Fatalf("expected first owner to stick, got %q err=%v", owner, err)
	}

	if ok, _ := dir.IsAuthorized(ctx, "owner", "cam-1"); !ok {
		t.Fatalf("owner must be authorized")
	}
	if ok, _ := dir.IsAuthorized(ctx, "v1", "cam-1"); ok {
		t.Fatalf("viewer must not be authorized before grant")
	}
	_ = dir.GrantAccess(ctx, "cam-1", "v1")
	if ok, _ := dir.IsAuthorized(ctx, "v1", "cam-1"); !ok {
		t.Fatalf("viewer must be authorized after grant")
	}
	if ok, _ := dir.IsAuthorized(ctx, "v1", "cam-2"); ok {
		t.Fatalf("grant must not leak to other cameras")
	}
}
