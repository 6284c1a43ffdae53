package event

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const legacyPrefix = "legacy-"

// NewClientID returns a globally unique id for an event created at now:
// the creation instant in milliseconds followed by a random suffix. No
// coordination with other devices is needed.
func NewClientID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%d-%s", now.UnixMilli(), suffix[:20])
}

// DedupKey is the identity used everywhere events are compared: the
// client id, or for legacy events without one, LegacyKey.
func DedupKey(ev Event) string {
	if ev.ClientID != "" {
		return ev.ClientID
	}
	return LegacyKey(ev)
}

// LegacyKey derives a stable key for events written before client ids
// existed, from (kind, primary entity id, timestamp). It is a compatibility
// shim only; every event created by this build carries a client id.
func LegacyKey(ev Event) string {
	h := sha256.New()
	h.Write([]byte(ev.Kind))
	h.Write([]byte{0x00})
	h.Write([]byte(PrimaryID(ev)))
	h.Write([]byte{0x00})
	if !ev.Timestamp.IsZero() {
		h.Write([]byte(ev.Timestamp.Format(time.RFC3339Nano)))
	}
	return legacyPrefix + hex.EncodeToString(h.Sum(nil))[:32]
}

// IsLegacyKey reports whether key was produced by LegacyKey.
func IsLegacyKey(key string) bool {
	return strings.HasPrefix(key, legacyPrefix)
}

// PrimaryID returns the id of the entity an event acts on, or "" for
// kinds that act on the garden as a whole.
func PrimaryID(ev Event) string {
	if len(ev.Body) == 0 {
		return ""
	}
	var ref struct {
		PlantID string `json:"plant_id"`
	}
	if err := json.Unmarshal(ev.Body, &ref); err != nil {
		return ""
	}
	return ref.PlantID
}
