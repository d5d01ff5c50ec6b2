package facility

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/nerrad567/facility-review-core/internal/secrets"
)

// Repository defines the catalogue persistence operations.
type Repository interface {
	CreateCustomer(ctx context.Context, c *Customer, creds ConsoleCredentials) error
	GetCustomer(ctx context.Context, id int64) (*Customer, error)
	ListCustomersByAdmin(ctx context.Context, adminID int64) ([]Customer, error)
	ConsoleCredentials(ctx context.Context, customerID int64) (ConsoleCredentials, error)
	StoredCredentials(ctx context.Context, customerID int64) (ConsoleCredentials, error)
	UpdateConsoleCredentials(ctx context.Context, customerID int64, creds ConsoleCredentials) error

	CreateFacilityType(ctx context.Context, ft *FacilityType) error
	ListFacilityTypes(ctx context.Context, adminID int64) ([]FacilityType, error)

	CreateFacility(ctx context.Context, f *Facility) error
	UpdateFacility(ctx context.Context, f *Facility) error
	GetFacility(ctx context.Context, id int64) (*Facility, error)
	GetFacilityForCustomer(ctx context.Context, id, customerID int64) (*Facility, error)
	ListFacilities(ctx context.Context, customerID int64, ids []int64) ([]Facility, error)
	CountDevices(ctx context.Context, facilityID int64) (int, error)

	CreateDeviceType(ctx context.Context, dt *DeviceType) error
	GetDeviceType(ctx context.Context, id int64) (*DeviceType, error)
	UpdateSampleImage(ctx context.Context, deviceTypeID int64, image string) error

	CreateDevice(ctx context.Context, d *Device) error
	UpdateDevice(ctx context.Context, d *Device) error
	GetDevice(ctx context.Context, id int64) (*Device, error)
	ListDevicesByFacility(ctx context.Context, facilityID int64) ([]Device, error)
	ListDevicesByCustomer(ctx context.Context, customerID int64) ([]Device, error)
}

// SQLiteRepository implements Repository using SQLite. Console credentials
// pass through the secrets context on the way in and out.
type SQLiteRepository struct {
	db      *sql.DB
	secrets *secrets.Context
}

// NewRepository creates a SQLite-backed catalogue repository.
func NewRepository(db *sql.DB, sc *secrets.Context) *SQLiteRepository {
	return &SQLiteRepository{db: db, secrets: sc}
}

// --- customers ---

// CreateCustomer inserts a customer and its encrypted console credentials.
// ClientID, ClientSecret and ApplicationID are encrypted; the URLs are not.
func (r *SQLiteRepository) CreateCustomer(ctx context.Context, c *Customer, creds ConsoleCredentials) error {
	sealed, err := r.seal(creds)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO customers (customer_name, admin_id, client_id, client_secret, auth_url, base_url, application_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.Name, c.AdminID, sealed[0], sealed[1], creds.AuthURL, creds.BaseURL, sealed[2],
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateCustomerName
		}
		return fmt.Errorf("creating customer: %w", err)
	}
	c.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading customer id: %w", err)
	}
	return nil
}

// seal encrypts ClientID, ClientSecret and ApplicationID, in that order.
func (r *SQLiteRepository) seal(creds ConsoleCredentials) ([3]string, error) {
	var sealed [3]string
	for i, v := range []string{creds.ClientID, creds.ClientSecret, creds.ApplicationID} {
		enc, err := r.secrets.Encrypt(v)
		if err != nil {
			return sealed, fmt.Errorf("encrypting console credentials: %w", err)
		}
		sealed[i] = enc
	}
	return sealed, nil
}

// UpdateConsoleCredentials replaces a customer's console credentials.
func (r *SQLiteRepository) UpdateConsoleCredentials(ctx context.Context, customerID int64, creds ConsoleCredentials) error {
	sealed, err := r.seal(creds)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE customers SET client_id = ?, client_secret = ?, auth_url = ?, base_url = ?, application_id = ?
		 WHERE id = ?`,
		sealed[0], sealed[1], creds.AuthURL, creds.BaseURL, sealed[2], customerID,
	)
	if err != nil {
		return fmt.Errorf("updating console credentials: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating console credentials: %w", err)
	}
	if n == 0 {
		return ErrCustomerNotFound
	}
	return nil
}

// GetCustomer retrieves a customer by ID.
func (r *SQLiteRepository) GetCustomer(ctx context.Context, id int64) (*Customer, error) {
	var c Customer
	err := r.db.QueryRowContext(ctx,
		`SELECT id, customer_name, admin_id FROM customers WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &c.AdminID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCustomerNotFound
		}
		return nil, fmt.Errorf("getting customer: %w", err)
	}
	return &c, nil
}

// ListCustomersByAdmin returns the customers owned by an admin, by name.
func (r *SQLiteRepository) ListCustomersByAdmin(ctx context.Context, adminID int64) ([]Customer, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, customer_name, admin_id FROM customers WHERE admin_id = ? ORDER BY customer_name ASC`, adminID)
	if err != nil {
		return nil, fmt.Errorf("listing customers: %w", err)
	}
	defer rows.Close()

	customers := []Customer{}
	for rows.Next() {
		var c Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.AdminID); err != nil {
			return nil, fmt.Errorf("scanning customer: %w", err)
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating customers: %w", err)
	}
	return customers, nil
}

// ConsoleCredentials returns a customer's decrypted console credentials,
// failing with ErrIncompleteCredentials when any required field is empty.
func (r *SQLiteRepository) ConsoleCredentials(ctx context.Context, customerID int64) (ConsoleCredentials, error) {
	creds, err := r.StoredCredentials(ctx, customerID)
	if err != nil {
		return ConsoleCredentials{}, err
	}
	if !creds.Complete() {
		return ConsoleCredentials{}, ErrIncompleteCredentials
	}
	return creds, nil
}

// StoredCredentials returns whatever console credentials are stored for a
// customer, decrypted, complete or not.
func (r *SQLiteRepository) StoredCredentials(ctx context.Context, customerID int64) (ConsoleCredentials, error) {
	var sealedID, sealedSecret, sealedApp string
	var creds ConsoleCredentials
	err := r.db.QueryRowContext(ctx,
		`SELECT client_id, client_secret, auth_url, base_url, application_id FROM customers WHERE id = ?`, customerID,
	).Scan(&sealedID, &sealedSecret, &creds.AuthURL, &creds.BaseURL, &sealedApp)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ConsoleCredentials{}, ErrCustomerNotFound
		}
		return ConsoleCredentials{}, fmt.Errorf("getting console credentials: %w", err)
	}

	for _, f := range []struct {
		dst    *string
		sealed string
	}{
		{&creds.ClientID, sealedID},
		{&creds.ClientSecret, sealedSecret},
		{&creds.ApplicationID, sealedApp},
	} {
		plain, err := r.secrets.Decrypt(f.sealed)
		if err != nil {
			return ConsoleCredentials{}, fmt.Errorf("%w: %w", ErrInvalidCredentialData, err)
		}
		*f.dst = plain
	}
	return creds, nil
}

// --- facility types ---

// CreateFacilityType inserts a facility type owned by ft.AdminID.
func (r *SQLiteRepository) CreateFacilityType(ctx context.Context, ft *FacilityType) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO facility_types (admin_id, name) VALUES (?, ?)`, ft.AdminID, ft.Name)
	if err != nil {
		return fmt.Errorf("creating facility type: %w", err)
	}
	ft.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading facility type id: %w", err)
	}
	return nil
}

// ListFacilityTypes returns an admin's facility types, oldest first.
func (r *SQLiteRepository) ListFacilityTypes(ctx context.Context, adminID int64) ([]FacilityType, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, admin_id FROM facility_types WHERE admin_id = ? ORDER BY id ASC`, adminID)
	if err != nil {
		return nil, fmt.Errorf("listing facility types: %w", err)
	}
	defer rows.Close()

	types := []FacilityType{}
	for rows.Next() {
		var ft FacilityType
		if err := rows.Scan(&ft.ID, &ft.Name, &ft.AdminID); err != nil {
			return nil, fmt.Errorf("scanning facility type: %w", err)
		}
		types = append(types, ft)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating facility types: %w", err)
	}
	return types, nil
}

// --- facilities ---

const facilityColumns = `id, customer_id, facility_type_id, facility_name, prefecture, municipality,
	effective_start_utc, effective_end_utc`

// CreateFacility inserts a facility after validating its window.
func (r *SQLiteRepository) CreateFacility(ctx context.Context, f *Facility) error {
	if err := r.validateFacility(ctx, f); err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO facilities (customer_id, facility_type_id, facility_name, prefecture, municipality,
			effective_start_utc, effective_end_utc)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.CustomerID, nullInt64(f.FacilityTypeID), f.Name, f.Prefecture, f.Municipality,
		f.EffectiveStart, f.EffectiveEnd,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateFacilityName
		}
		return fmt.Errorf("creating facility: %w", err)
	}
	f.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading facility id: %w", err)
	}
	return nil
}

// UpdateFacility rewrites a facility's mutable fields, including its window.
func (r *SQLiteRepository) UpdateFacility(ctx context.Context, f *Facility) error {
	if err := r.validateFacility(ctx, f); err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE facilities SET customer_id = ?, facility_type_id = ?, facility_name = ?, prefecture = ?,
			municipality = ?, effective_start_utc = ?, effective_end_utc = ?
		 WHERE id = ?`,
		f.CustomerID, nullInt64(f.FacilityTypeID), f.Name, f.Prefecture, f.Municipality,
		f.EffectiveStart, f.EffectiveEnd, f.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateFacilityName
		}
		return fmt.Errorf("updating facility: %w", err)
	}

	rows, _ := res.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrFacilityNotFound
	}
	return nil
}

func (r *SQLiteRepository) validateFacility(ctx context.Context, f *Facility) error {
	start, end, err := f.Window()
	if err != nil {
		return err
	}
	if !start.Before(end) {
		return fmt.Errorf("%w: start must precede end", ErrInvalidWindow)
	}

	if _, err := r.GetCustomer(ctx, f.CustomerID); err != nil {
		return err
	}

	if f.FacilityTypeID != nil {
		var id int64
		err := r.db.QueryRowContext(ctx, `SELECT id FROM facility_types WHERE id = ?`, *f.FacilityTypeID).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrFacilityTypeNotFound
		}
		if err != nil {
			return fmt.Errorf("checking facility type: %w", err)
		}
	}
	return nil
}

// GetFacility retrieves a facility by ID.
func (r *SQLiteRepository) GetFacility(ctx context.Context, id int64) (*Facility, error) {
	return r.getFacility(ctx, `SELECT `+facilityColumns+` FROM facilities WHERE id = ?`, id)
}

// GetFacilityForCustomer retrieves a facility only if it belongs to customerID.
func (r *SQLiteRepository) GetFacilityForCustomer(ctx context.Context, id, customerID int64) (*Facility, error) {
	return r.getFacility(ctx, `SELECT `+facilityColumns+` FROM facilities WHERE id = ? AND customer_id = ?`, id, customerID)
}

func (r *SQLiteRepository) getFacility(ctx context.Context, query string, args ...any) (*Facility, error) {
	f, err := scanFacility(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrFacilityNotFound
		}
		return nil, fmt.Errorf("getting facility: %w", err)
	}
	return f, nil
}

// ListFacilities returns a customer's facilities ordered by ID. A non-empty
// ids restricts the result to those facilities.
func (r *SQLiteRepository) ListFacilities(ctx context.Context, customerID int64, ids []int64) ([]Facility, error) {
	query := `SELECT ` + facilityColumns + ` FROM facilities WHERE customer_id = ?`
	args := []any{customerID}
	if len(ids) > 0 {
		query += ` AND id IN (` + placeholders(len(ids)) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}
	query += ` ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing facilities: %w", err)
	}
	defer rows.Close()

	facilities := []Facility{}
	for rows.Next() {
		f, err := scanFacility(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning facility: %w", err)
		}
		facilities = append(facilities, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating facilities: %w", err)
	}
	return facilities, nil
}

// CountDevices returns the number of devices installed at a facility.
func (r *SQLiteRepository) CountDevices(ctx context.Context, facilityID int64) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM devices WHERE facility_id = ?`, facilityID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting devices: %w", err)
	}
	return n, nil
}

// --- device types ---

// CreateDeviceType inserts a device type.
func (r *SQLiteRepository) CreateDeviceType(ctx context.Context, dt *DeviceType) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO device_types (name, sample_image) VALUES (?, ?)`, dt.Name, dt.SampleImage)
	if err != nil {
		return fmt.Errorf("creating device type: %w", err)
	}
	dt.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading device type id: %w", err)
	}
	return nil
}

// GetDeviceType retrieves a device type by ID.
func (r *SQLiteRepository) GetDeviceType(ctx context.Context, id int64) (*DeviceType, error) {
	var dt DeviceType
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, sample_image FROM device_types WHERE id = ?`, id,
	).Scan(&dt.ID, &dt.Name, &dt.SampleImage)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceTypeNotFound
		}
		return nil, fmt.Errorf("getting device type: %w", err)
	}
	return &dt, nil
}

// UpdateSampleImage replaces a device type's reference image.
func (r *SQLiteRepository) UpdateSampleImage(ctx context.Context, deviceTypeID int64, image string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE device_types SET sample_image = ? WHERE id = ?`, image, deviceTypeID)
	if err != nil {
		return fmt.Errorf("updating reference image: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating reference image: %w", err)
	}
	if n == 0 {
		return ErrDeviceTypeNotFound
	}
	return nil
}

// --- devices ---

const deviceColumns = `id, device_id, device_name, facility_id, device_type_id, result`

// CreateDevice inserts a device in INITIAL_STATE.
func (r *SQLiteRepository) CreateDevice(ctx context.Context, d *Device) error {
	d.Result = InitialState
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO devices (device_id, device_name, facility_id, device_type_id, result) VALUES (?, ?, ?, ?, ?)`,
		d.ConsoleID, d.Name, d.FacilityID, d.DeviceTypeID, d.Result,
	)
	if err != nil {
		return fmt.Errorf("creating device: %w", err)
	}
	d.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading device id: %w", err)
	}
	return nil
}

// UpdateDevice rewrites a device's fields. Moving a device to another
// facility or device type resets its result to INITIAL_STATE; reviews from
// the old placement no longer describe it.
func (r *SQLiteRepository) UpdateDevice(ctx context.Context, d *Device) error {
	current, err := r.GetDevice(ctx, d.ID)
	if err != nil {
		return err
	}

	d.Result = current.Result
	if current.FacilityID != d.FacilityID || current.DeviceTypeID != d.DeviceTypeID {
		d.Result = InitialState
	}

	_, err = r.db.ExecContext(ctx,
		`UPDATE devices SET device_id = ?, device_name = ?, facility_id = ?, device_type_id = ?, result = ? WHERE id = ?`,
		d.ConsoleID, d.Name, d.FacilityID, d.DeviceTypeID, d.Result, d.ID,
	)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}
	return nil
}

// GetDevice retrieves a device by ID.
func (r *SQLiteRepository) GetDevice(ctx context.Context, id int64) (*Device, error) {
	d, err := scanDevice(r.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("getting device: %w", err)
	}
	return d, nil
}

// ListDevicesByFacility returns a facility's devices ordered by ID.
func (r *SQLiteRepository) ListDevicesByFacility(ctx context.Context, facilityID int64) ([]Device, error) {
	return r.listDevices(ctx, `SELECT `+deviceColumns+` FROM devices WHERE facility_id = ? ORDER BY id ASC`, facilityID)
}

// ListDevicesByCustomer returns every device across a customer's facilities.
func (r *SQLiteRepository) ListDevicesByCustomer(ctx context.Context, customerID int64) ([]Device, error) {
	return r.listDevices(ctx,
		`SELECT d.id, d.device_id, d.device_name, d.facility_id, d.device_type_id, d.result
		 FROM devices d JOIN facilities f ON f.id = d.facility_id
		 WHERE f.customer_id = ? ORDER BY d.id ASC`, customerID)
}

func (r *SQLiteRepository) listDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	defer rows.Close()

	devices := []Device{}
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// --- scanning helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func scanFacility(s scanner) (*Facility, error) {
	var f Facility
	var typeID sql.NullInt64
	if err := s.Scan(&f.ID, &f.CustomerID, &typeID, &f.Name, &f.Prefecture, &f.Municipality,
		&f.EffectiveStart, &f.EffectiveEnd); err != nil {
		return nil, err
	}
	if typeID.Valid {
		f.FacilityTypeID = &typeID.Int64
	}
	return &f, nil
}

func scanDevice(s scanner) (*Device, error) {
	var d Device
	if err := s.Scan(&d.ID, &d.ConsoleID, &d.Name, &d.FacilityID, &d.DeviceTypeID, &d.Result); err != nil {
		return nil, err
	}
	return &d, nil
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// isUniqueViolation checks if a SQLite error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
