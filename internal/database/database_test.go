package database

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testDB(t *testing.T) *Database {
	t.Helper()
	db, err := New(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return db
}

func testPhoto(ihash string) *Photo {
	return &Photo{
		IHash:       ihash,
		Moment:      time.Date(2021, 6, 12, 15, 4, 5, 0, time.UTC),
		Filename:    "IMG_0001.jpg",
		Path:        "a/b",
		Width:       4000,
		Height:      3000,
		Size:        2_500_000,
		GPSRef:      "NE0",
		Access:      1,
		Orientation: 1,
	}
}

func hashFor(seed byte) string {
	return strings.Repeat(string([]byte{'a' + seed%6}), 40)
}

func TestCreateAndGetPhoto(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	photo := testPhoto(hashFor(0))
	if err := db.CreatePhoto(ctx, photo); err != nil {
		t.Fatalf("CreatePhoto: %v", err)
	}
	if photo.ID == 0 {
		t.Fatal("CreatePhoto did not assign an id")
	}

	got, err := db.GetPhoto(ctx, photo.ID)
	if err != nil {
		t.Fatalf("GetPhoto: %v", err)
	}
	if got == nil {
		t.Fatal("GetPhoto returned nil for existing row")
	}
	if got.IHash != photo.IHash || got.Filename != photo.Filename {
		t.Errorf("GetPhoto = %+v, want fields of %+v", got, photo)
	}
	if !got.Moment.Equal(photo.Moment) {
		t.Errorf("Moment = %v, want %v", got.Moment, photo.Moment)
	}
	if got.Lat != nil || got.Lng != nil {
		t.Errorf("expected nil coordinates, got %v/%v", got.Lat, got.Lng)
	}

	byHash, err := db.GetPhotoByHash(ctx, photo.IHash)
	if err != nil {
		t.Fatalf("GetPhotoByHash: %v", err)
	}
	if byHash == nil || byHash.ID != photo.ID {
		t.Errorf("GetPhotoByHash = %+v, want id %d", byHash, photo.ID)
	}

	missing, err := db.GetPhoto(ctx, 99999)
	if err != nil {
		t.Fatalf("GetPhoto missing: %v", err)
	}
	if missing != nil {
		t.Errorf("GetPhoto for absent id = %+v, want nil", missing)
	}
}

func TestCreatePhotoDuplicateHash(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	first := testPhoto(hashFor(1))
	if err := db.CreatePhoto(ctx, first); err != nil {
		t.Fatalf("CreatePhoto: %v", err)
	}

	second := testPhoto(hashFor(1))
	second.Filename = "IMG_0002.jpg"
	err := db.CreatePhoto(ctx, second)
	if !errors.Is(err, ErrDuplicateHash) {
		t.Fatalf("CreatePhoto duplicate = %v, want ErrDuplicateHash", err)
	}

	id, err := db.FindPhotoByHash(ctx, first.IHash)
	if err != nil {
		t.Fatalf("FindPhotoByHash: %v", err)
	}
	if id != first.ID {
		t.Errorf("FindPhotoByHash = %d, want %d", id, first.ID)
	}
}

func TestFindPhotoByHashAbsent(t *testing.T) {
	db := testDB(t)

	id, err := db.FindPhotoByHash(context.Background(), hashFor(2))
	if err != nil {
		t.Fatalf("FindPhotoByHash: %v", err)
	}
	if id != 0 {
		t.Errorf("FindPhotoByHash = %d, want 0 for absent hash", id)
	}
}

func TestCameraLifecycle(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	found, err := db.FindCamera(ctx, "Canon", "EOS 5D")
	if err != nil {
		t.Fatalf("FindCamera: %v", err)
	}
	if found != nil {
		t.Fatalf("FindCamera = %+v, want nil before create", found)
	}

	id, err := db.CreateCamera(ctx, "Canon", "EOS 5D")
	if err != nil {
		t.Fatalf("CreateCamera: %v", err)
	}

	// Creating the same pair again resolves to the existing row.
	again, err := db.CreateCamera(ctx, "Canon", "EOS 5D")
	if err != nil {
		t.Fatalf("CreateCamera repeat: %v", err)
	}
	if again != id {
		t.Errorf("CreateCamera repeat = %d, want %d", again, id)
	}

	found, err = db.FindCamera(ctx, "Canon", "EOS 5D")
	if err != nil {
		t.Fatalf("FindCamera: %v", err)
	}
	if found == nil || found.ID != id {
		t.Errorf("FindCamera = %+v, want id %d", found, id)
	}
}

func TestUpdatePhotoLocation(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	photo := testPhoto(hashFor(3))
	if err := db.CreatePhoto(ctx, photo); err != nil {
		t.Fatalf("CreatePhoto: %v", err)
	}

	// Wrong hash: the guard must reject the update.
	updated, err := db.UpdatePhotoLocation(ctx, photo.ID, hashFor(4), 46.5, 25.5)
	if err != nil {
		t.Fatalf("UpdatePhotoLocation: %v", err)
	}
	if updated {
		t.Error("update with mismatched hash reported success")
	}

	updated, err = db.UpdatePhotoLocation(ctx, photo.ID, photo.IHash, 46.5, 25.5)
	if err != nil {
		t.Fatalf("UpdatePhotoLocation: %v", err)
	}
	if !updated {
		t.Fatal("update with matching id+hash reported no rows")
	}

	got, err := db.GetPhoto(ctx, photo.ID)
	if err != nil {
		t.Fatalf("GetPhoto: %v", err)
	}
	if got.Lat == nil || *got.Lat != 46.5 || got.Lng == nil || *got.Lng != 25.5 {
		t.Errorf("coordinates = %v/%v, want 46.5/25.5", got.Lat, got.Lng)
	}
}

func TestDeletePhoto(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	photo := testPhoto(hashFor(5))
	if err := db.CreatePhoto(ctx, photo); err != nil {
		t.Fatalf("CreatePhoto: %v", err)
	}

	deleted, err := db.DeletePhoto(ctx, photo.ID)
	if err != nil {
		t.Fatalf("DeletePhoto: %v", err)
	}
	if !deleted {
		t.Fatal("DeletePhoto reported no rows for existing photo")
	}

	deleted, err = db.DeletePhoto(ctx, photo.ID)
	if err != nil {
		t.Fatalf("DeletePhoto repeat: %v", err)
	}
	if deleted {
		t.Error("DeletePhoto reported success for absent id")
	}
}

func TestGeotaggedAndNoGPSListings(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	lat, lng := 46.5, 25.5
	tagged := testPhoto(strings.Repeat("1", 40))
	tagged.Lat, tagged.Lng = &lat, &lng
	tagged.Moment = time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := db.CreatePhoto(ctx, tagged); err != nil {
		t.Fatalf("CreatePhoto tagged: %v", err)
	}

	untagged := testPhoto(strings.Repeat("2", 40))
	untagged.Moment = time.Date(2021, 2, 1, 0, 0, 0, 0, time.UTC)
	if err := db.CreatePhoto(ctx, untagged); err != nil {
		t.Fatalf("CreatePhoto untagged: %v", err)
	}

	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	stop := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)

	geotagged, err := db.GetGeotaggedPhotos(ctx, start, stop)
	if err != nil {
		t.Fatalf("GetGeotaggedPhotos: %v", err)
	}
	if len(geotagged) != 1 || geotagged[0].ID != tagged.ID {
		t.Errorf("GetGeotaggedPhotos = %+v, want only the tagged photo", geotagged)
	}
	if geotagged[0].Lat != lat || geotagged[0].Lng != lng {
		t.Errorf("coordinates = %v/%v, want %v/%v", geotagged[0].Lat, geotagged[0].Lng, lat, lng)
	}

	nogps, err := db.GetPhotosWithoutGPS(ctx, start, stop)
	if err != nil {
		t.Fatalf("GetPhotosWithoutGPS: %v", err)
	}
	if len(nogps) != 1 || nogps[0].ID != untagged.ID {
		t.Errorf("GetPhotosWithoutGPS = %+v, want only the untagged photo", nogps)
	}

	// A window before both photos returns nothing.
	early, err := db.GetGeotaggedPhotos(ctx, start, time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("GetGeotaggedPhotos: %v", err)
	}
	if len(early) != 0 {
		t.Errorf("early window returned %d photos, want 0", len(early))
	}
}

func TestGetStats(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	cameraID, err := db.CreateCamera(ctx, "Canon", "EOS 5D")
	if err != nil {
		t.Fatalf("CreateCamera: %v", err)
	}

	withCamera := testPhoto(strings.Repeat("3", 40))
	withCamera.CameraID = &cameraID
	if err := db.CreatePhoto(ctx, withCamera); err != nil {
		t.Fatalf("CreatePhoto: %v", err)
	}

	withoutCamera := testPhoto(strings.Repeat("4", 40))
	if err := db.CreatePhoto(ctx, withoutCamera); err != nil {
		t.Fatalf("CreatePhoto: %v", err)
	}

	stats, err := db.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("GetStats returned %d rows, want 2", len(stats))
	}

	byID := make(map[int64]PhotoStat)
	for _, s := range stats {
		byID[s.ID] = s
	}
	if s := byID[withCamera.ID]; s.Make == nil || *s.Make != "Canon" {
		t.Errorf("stats make = %v, want Canon", s.Make)
	}
	if s := byID[withoutCamera.ID]; s.Make != nil {
		t.Errorf("stats make for camera-less photo = %v, want nil", s.Make)
	}
}

func TestPing(t *testing.T) {
	db := testDB(t)
	if err := db.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
