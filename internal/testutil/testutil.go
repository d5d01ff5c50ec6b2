// Package testutil provides a migrated SQLite database and raw fixture
// inserts for package tests. It depends only on the database layer so any
// package can use it without import cycles.
package testutil

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/nerrad567/facility-review-core/internal/infrastructure/database"
	_ "github.com/nerrad567/facility-review-core/migrations" // registers the schema
)

// DefaultWindowStart and DefaultWindowEnd bound facilities inserted by Facility.
const (
	DefaultWindowStart = "2025-01-01T00:00:00+00:00"
	DefaultWindowEnd   = "2025-12-31T23:59:59+00:00"
)

// OpenDB returns a migrated database in a per-test temp directory.
func OpenDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(t.Context()); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}
	return db
}

// Admin inserts an admin with an unusable password hash.
func Admin(t *testing.T, db *sql.DB, loginID string) int64 {
	t.Helper()
	return insert(t, db,
		`INSERT INTO admins (login_id, password_hash, created_at) VALUES (?, 'x', '2025-01-01T00:00:00Z')`,
		loginID)
}

// Customer inserts a customer owned by adminID with no console credentials.
func Customer(t *testing.T, db *sql.DB, adminID int64, name string) int64 {
	t.Helper()
	return insert(t, db,
		`INSERT INTO customers (customer_name, admin_id) VALUES (?, ?)`,
		name, adminID)
}

// Facility inserts a facility with the default window.
func Facility(t *testing.T, db *sql.DB, customerID int64, name string) int64 {
	t.Helper()
	return FacilityWithWindow(t, db, customerID, name, DefaultWindowStart, DefaultWindowEnd)
}

// FacilityWithWindow inserts a facility with an explicit window. The values
// are stored verbatim so tests can insert unparsable timestamps.
func FacilityWithWindow(t *testing.T, db *sql.DB, customerID int64, name, start, end string) int64 {
	t.Helper()
	return insert(t, db,
		`INSERT INTO facilities (customer_id, facility_name, prefecture, municipality, effective_start_utc, effective_end_utc)
		 VALUES (?, ?, 'Tokyo', 'Minato', ?, ?)`,
		customerID, name, start, end)
}

// DeviceType inserts a device type with a sample image.
func DeviceType(t *testing.T, db *sql.DB, name string) int64 {
	t.Helper()
	return insert(t, db,
		`INSERT INTO device_types (name, sample_image) VALUES (?, 'data:image/png;base64,c2FtcGxl')`,
		name)
}

// Device inserts a device in INITIAL_STATE.
func Device(t *testing.T, db *sql.DB, facilityID, deviceTypeID int64, name string) int64 {
	t.Helper()
	return insert(t, db,
		`INSERT INTO devices (device_id, device_name, facility_id, device_type_id) VALUES (?, ?, ?, ?)`,
		"console-"+name, name, facilityID, deviceTypeID)
}

// Review inserts a review row directly, bypassing the state machine.
func Review(t *testing.T, db *sql.DB, deviceID, facilityID, customerID int64, result int, createdAt int64) int64 {
	t.Helper()
	return insert(t, db,
		`INSERT INTO reviews (device_id, facility_id, customer_id, result, created_at_utc, last_updated_at_utc)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		deviceID, facilityID, customerID, result, createdAt, createdAt)
}

// Fixture is a fully linked admin/customer/facility/device set.
type Fixture struct {
	AdminID      int64
	CustomerID   int64
	FacilityID   int64
	DeviceTypeID int64
	DeviceID     int64
}

// Seed inserts one Fixture. The suffix keeps names unique across calls.
func Seed(t *testing.T, db *sql.DB, suffix string) Fixture {
	t.Helper()
	var f Fixture
	f.AdminID = Admin(t, db, "admin-"+suffix)
	f.CustomerID = Customer(t, db, f.AdminID, "Customer "+suffix)
	f.FacilityID = Facility(t, db, f.CustomerID, "Facility "+suffix)
	f.DeviceTypeID = DeviceType(t, db, "Camera "+suffix)
	f.DeviceID = Device(t, db, f.FacilityID, f.DeviceTypeID, "device-"+suffix)
	return f
}

func insert(t *testing.T, db *sql.DB, query string, args ...any) int64 {
	t.Helper()
	res, err := db.Exec(query, args...)
	if err != nil {
		t.Fatalf("fixture insert: %v", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("fixture insert id: %v", err)
	}
	return id
}
