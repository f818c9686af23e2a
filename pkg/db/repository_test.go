package db

import (
	"path/filepath"
	"testing"
	"time"
)

func testRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "dumpwatch.db"))
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestRepository_SessionLifecycle(t *testing.T) {
	repo := testRepo(t)

	start := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	id, err := repo.CreateSession(2, start)
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	s, err := repo.GetSession(id)
	if err != nil {
		t.Fatalf("failed to get session: %v", err)
	}
	if s.Status != StatusOpen || s.DumpID != 2 {
		t.Errorf("unexpected session: %+v", s)
	}

	plate := "12-3456"
	status := StatusComplete
	end := start.Add(90 * time.Second).Format(timeFormat)
	merged := "/data/results/MERGED_2_abcd1234.jpg"
	err = repo.UpdateSession(id, SessionUpdate{
		EndTime:         &end,
		PlateNumber:     &plate,
		Status:          &status,
		MergedImagePath: &merged,
	})
	if err != nil {
		t.Fatalf("failed to update session: %v", err)
	}

	s, _ = repo.GetSession(id)
	if s.Status != StatusComplete || s.PlateNumber != plate || s.MergedImagePath != merged {
		t.Errorf("update not applied: %+v", s)
	}
}

func TestRepository_UpdateMissingSession(t *testing.T) {
	repo := testRepo(t)
	status := StatusIncomplete
	if err := repo.UpdateSession("no-such-uuid", SessionUpdate{Status: &status}); err == nil {
		t.Fatal("expected error updating a missing session")
	}
}

func TestRepository_LogImageKeepsFirst(t *testing.T) {
	repo := testRepo(t)
	id, _ := repo.CreateSession(1, time.Now())

	if err := repo.LogImage(id, "IMAGE_1", "/data/results/a.jpg"); err != nil {
		t.Fatalf("failed to log image: %v", err)
	}
	if err := repo.LogImage(id, "IMAGE_1", "/data/results/b.jpg"); err != nil {
		t.Fatalf("duplicate log should not error: %v", err)
	}

	images, err := repo.SessionImages(id)
	if err != nil {
		t.Fatalf("failed to query images: %v", err)
	}
	if len(images) != 1 || images[0].FilePath != "/data/results/a.jpg" {
		t.Errorf("expected the first record to win, got %+v", images)
	}
}

func TestRepository_Cameras(t *testing.T) {
	repo := testRepo(t)

	if err := repo.SeedCamera(1, RoleFront, "rtsp://cam/101"); err != nil {
		t.Fatalf("failed to seed camera: %v", err)
	}
	if err := repo.SeedCamera(1, RoleTop, "rtsp://cam/201"); err != nil {
		t.Fatalf("failed to seed camera: %v", err)
	}
	// reseeding the same role replaces the URL
	if err := repo.SeedCamera(1, RoleTop, "rtsp://cam/202"); err != nil {
		t.Fatalf("failed to reseed camera: %v", err)
	}

	cameras, err := repo.CamerasForDump(1)
	if err != nil {
		t.Fatalf("failed to query cameras: %v", err)
	}
	if len(cameras) != 2 {
		t.Fatalf("expected 2 cameras, got %d", len(cameras))
	}
	if cameras[RoleTop].URL != "rtsp://cam/202" {
		t.Errorf("top camera URL not replaced: %+v", cameras[RoleTop])
	}
}

func TestRepository_FactorySeed(t *testing.T) {
	repo := testRepo(t)

	info, err := repo.Factory()
	if err != nil {
		t.Fatalf("failed to query factory: %v", err)
	}
	if info != nil {
		t.Fatalf("expected no factory before seeding, got %+v", info)
	}

	seed := FactoryInfo{FactoryID: "USN-01", FactoryName: "Usina Norte", MillingProcess: "2026/27", TotalDumps: 4}
	if err := repo.SeedFactory(seed); err != nil {
		t.Fatalf("failed to seed factory: %v", err)
	}

	info, _ = repo.Factory()
	if info == nil || *info != seed {
		t.Errorf("factory mismatch: got %+v, want %+v", info, seed)
	}
}

func TestRepository_CountsAndPrune(t *testing.T) {
	repo := testRepo(t)

	old := time.Now().AddDate(0, 0, -40)
	recent := time.Now()

	oldID, _ := repo.CreateSession(1, old)
	repo.LogImage(oldID, "IMAGE_1", "/data/results/old.jpg")
	repo.LogTransition(oldID, "EMPTY_IDLE", "TRUCK_IN")

	recentID, _ := repo.CreateSession(1, recent)
	status := StatusComplete
	repo.UpdateSession(recentID, SessionUpdate{Status: &status})

	counts, err := repo.SessionCounts()
	if err != nil {
		t.Fatalf("failed to count sessions: %v", err)
	}
	if counts[StatusOpen] != 1 || counts[StatusComplete] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}

	removed, err := repo.PruneSessions(time.Now().AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("failed to prune: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 pruned session, got %d", removed)
	}
	if s, _ := repo.GetSession(oldID); s != nil {
		t.Errorf("old session should be gone, got %+v", s)
	}
	if imgs, _ := repo.SessionImages(oldID); len(imgs) != 0 {
		t.Errorf("old session images should be gone, got %+v", imgs)
	}
}
