package bridge

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/tinkerforge2mqtt/internal/devices"
)

// timestampLayout is fixed width so last_seen sorts correctly as text.
// RFC3339Nano trims trailing zeros and would order ".5Z" before "Z".
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// InventoryRecord is one row of the device inventory.
type InventoryRecord struct {
	UID              string
	DeviceIdentifier uint16
	ConnectedUID     string
	Position         string
	FirmwareVersion  string
	HardwareVersion  string
	Supported        bool
	FirstSeen        time.Time
	LastSeen         time.Time
	SeenCount        int
}

// Inventory passively records every device seen on the hardware link. It
// is a devices.Observer; the registry calls it for every enumeration.
//
// The database must have the devices table created (see migrations).
//
// Thread Safety: All methods are safe for concurrent use.
type Inventory struct {
	db     *sql.DB
	logger Logger

	upsertStmt *sql.Stmt
	stmtMu     sync.Mutex

	closed bool
	mu     sync.RWMutex
}

var _ devices.Observer = (*Inventory)(nil)

// NewInventory creates an inventory on db.
func NewInventory(db *sql.DB) *Inventory {
	return &Inventory{db: db, logger: noopLogger{}}
}

// SetLogger sets the logger for the inventory.
func (inv *Inventory) SetLogger(logger Logger) {
	inv.logger = logger
}

// Start prepares the upsert statement. Must be called before recording.
func (inv *Inventory) Start() error {
	inv.stmtMu.Lock()
	defer inv.stmtMu.Unlock()

	if inv.upsertStmt != nil {
		return nil
	}

	stmt, err := inv.db.Prepare(`
		INSERT INTO devices (uid, device_identifier, connected_uid, position,
			firmware_version, hardware_version, supported, first_seen, last_seen, seen_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(uid) DO UPDATE SET
			device_identifier = excluded.device_identifier,
			connected_uid = excluded.connected_uid,
			position = excluded.position,
			firmware_version = excluded.firmware_version,
			hardware_version = excluded.hardware_version,
			supported = excluded.supported,
			last_seen = excluded.last_seen,
			seen_count = seen_count + 1
	`)
	if err != nil {
		return fmt.Errorf("preparing device upsert statement: %w", err)
	}
	inv.upsertStmt = stmt
	inv.logger.Debug("device inventory started")
	return nil
}

// Stop releases the prepared statement. Recording becomes a no-op.
func (inv *Inventory) Stop() {
	inv.mu.Lock()
	inv.closed = true
	inv.mu.Unlock()

	inv.stmtMu.Lock()
	defer inv.stmtMu.Unlock()
	if inv.upsertStmt != nil {
		inv.upsertStmt.Close()
		inv.upsertStmt = nil
	}
}

// DeviceSeen records a sighting. Disconnect events are not sightings.
func (inv *Inventory) DeviceSeen(desc devices.Descriptor, kind devices.EnumerationType, supported bool) {
	if kind == devices.Disconnected {
		return
	}
	inv.Record(desc, supported, time.Now())
}

// HandlersChanged is part of devices.Observer; the inventory ignores it.
func (inv *Inventory) HandlersChanged(int) {}

// Record upserts desc with a sighting at now.
func (inv *Inventory) Record(desc devices.Descriptor, supported bool, now time.Time) {
	inv.mu.RLock()
	closed := inv.closed
	inv.mu.RUnlock()
	if closed {
		return
	}

	inv.stmtMu.Lock()
	stmt := inv.upsertStmt
	inv.stmtMu.Unlock()
	if stmt == nil {
		return
	}

	ts := now.UTC().Format(timestampLayout)
	position := ""
	if desc.Position != 0 {
		position = string(rune(desc.Position))
	}
	_, err := stmt.Exec(
		desc.UID,
		desc.DeviceIdentifier,
		desc.ConnectedUID,
		position,
		devices.FormatVersion(desc.FirmwareVersion),
		devices.FormatVersion(desc.HardwareVersion),
		supported,
		ts,
		ts,
	)
	if err != nil {
		inv.logger.Error("recording device", "uid", desc.UID, "error", err)
	}
}

// List returns every recorded device, most recently seen first.
func (inv *Inventory) List(ctx context.Context) ([]InventoryRecord, error) {
	inv.mu.RLock()
	closed := inv.closed
	inv.mu.RUnlock()
	if closed {
		return nil, ErrInventoryClosed
	}

	rows, err := inv.db.QueryContext(ctx, `
		SELECT uid, device_identifier, connected_uid, position, firmware_version,
			hardware_version, supported, first_seen, last_seen, seen_count
		FROM devices
		ORDER BY last_seen DESC, uid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var records []InventoryRecord
	for rows.Next() {
		var (
			rec         InventoryRecord
			first, last string
		)
		if err := rows.Scan(&rec.UID, &rec.DeviceIdentifier, &rec.ConnectedUID, &rec.Position,
			&rec.FirmwareVersion, &rec.HardwareVersion, &rec.Supported, &first, &last, &rec.SeenCount); err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		rec.FirstSeen = inv.parseTimestamp(rec.UID, "first_seen", first)
		rec.LastSeen = inv.parseTimestamp(rec.UID, "last_seen", last)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Observers fans registry events out to several observers.
type Observers []devices.Observer

// DeviceSeen forwards to every observer.
func (o Observers) DeviceSeen(desc devices.Descriptor, kind devices.EnumerationType, supported bool) {
	for _, obs := range o {
		obs.DeviceSeen(desc, kind, supported)
	}
}

// HandlersChanged forwards to every observer.
func (o Observers) HandlersChanged(count int) {
	for _, obs := range o {
		obs.HandlersChanged(count)
	}
}

// parseTimestamp reads a stored timestamp, logging and returning the zero
// time when the value is unreadable.
func (inv *Inventory) parseTimestamp(uid, column, value string) time.Time {
	t, err := time.Parse(timestampLayout, value)
	if err != nil {
		inv.logger.Warn("unreadable inventory timestamp", "uid", uid, "column", column, "value", value, "error", err)
		return time.Time{}
	}
	return t
}
