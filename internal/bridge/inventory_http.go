package bridge

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/tinkerforge2mqtt/internal/devices"
)

// inventoryDevice is the JSON view of an InventoryRecord.
type inventoryDevice struct {
	UID              string    `json:"uid"`
	Model            string    `json:"model"`
	DeviceIdentifier uint16    `json:"device_identifier"`
	ConnectedUID     string    `json:"connected_uid"`
	Position         string    `json:"position"`
	FirmwareVersion  string    `json:"firmware_version"`
	HardwareVersion  string    `json:"hardware_version"`
	Supported        bool      `json:"supported"`
	FirstSeen        time.Time `json:"first_seen"`
	LastSeen         time.Time `json:"last_seen"`
	SeenCount        int       `json:"seen_count"`
}

type errorResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// Routes returns a read-only HTTP view of the inventory:
//
//	GET /       every device, most recently seen first
//	GET /{uid}  one device, 404 if never seen
func (inv *Inventory) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/", inv.handleList)
	r.Get("/{uid}", inv.handleGet)
	return r
}

func (inv *Inventory) handleList(w http.ResponseWriter, r *http.Request) {
	records, err := inv.List(r.Context())
	if err != nil {
		inv.writeListError(w, err)
		return
	}

	out := make([]inventoryDevice, 0, len(records))
	for _, rec := range records {
		out = append(out, toInventoryDevice(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": out,
		"count":   len(out),
	})
}

func (inv *Inventory) handleGet(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")

	records, err := inv.List(r.Context())
	if err != nil {
		inv.writeListError(w, err)
		return
	}
	for _, rec := range records {
		if rec.UID == uid {
			writeJSON(w, http.StatusOK, toInventoryDevice(rec))
			return
		}
	}
	writeJSON(w, http.StatusNotFound, errorResponse{Status: http.StatusNotFound, Message: "device not found"})
}

func (inv *Inventory) writeListError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrInventoryClosed) {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Status: http.StatusServiceUnavailable, Message: "inventory closed"})
		return
	}
	inv.logger.Error("listing inventory", "error", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Status: http.StatusInternalServerError, Message: "failed to list devices"})
}

func toInventoryDevice(rec InventoryRecord) inventoryDevice {
	return inventoryDevice{
		UID:              rec.UID,
		Model:            devices.ModelName(rec.DeviceIdentifier),
		DeviceIdentifier: rec.DeviceIdentifier,
		ConnectedUID:     rec.ConnectedUID,
		Position:         rec.Position,
		FirmwareVersion:  rec.FirmwareVersion,
		HardwareVersion:  rec.HardwareVersion,
		Supported:        rec.Supported,
		FirstSeen:        rec.FirstSeen,
		LastSeen:         rec.LastSeen,
		SeenCount:        rec.SeenCount,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // Best-effort write; the client may have gone away
	json.NewEncoder(w).Encode(v)
}
