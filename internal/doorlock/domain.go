package doorlock

import (
	"errors"
	"time"
)

// DeviceStatus is the health status of a door controller.
type DeviceStatus string

const (
	DeviceOnline  DeviceStatus = "online"
	DeviceOffline DeviceStatus = "offline"
)

var (
	// ErrNotFound indicates the card or device does not exist.
	ErrNotFound = errors.New("doorlock: not found")
	// ErrUnknownDevice is returned when an authorization list names a device that does not exist.
	ErrUnknownDevice = errors.New("doorlock: unknown device")
)

// Card is an RFID credential owned by a user.
type Card struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	UserID    *int64    `json:"userId"`
	Frozen    bool      `json:"frozen"`
	Disabled  bool      `json:"disabled"`
	Tag       string    `json:"tag"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Device is a network-connected door controller.
type Device struct {
	ID         int64        `json:"id"`
	Name       string       `json:"name"`
	TokenHash  string       `json:"-"`
	Status     DeviceStatus `json:"status"`
	LastSeenAt *time.Time   `json:"lastSeenAt"`
	TTLSeconds int          `json:"ttlSeconds"`
	CreatedAt  time.Time    `json:"createdAt"`
	UpdatedAt  time.Time    `json:"updatedAt"`
}

// Expired reports whether the heartbeat window has lapsed at now.
func (d Device) Expired(now time.Time) bool {
	if d.LastSeenAt == nil {
		return false
	}
	return d.LastSeenAt.Add(time.Duration(d.TTLSeconds) * time.Second).Before(now)
}

// Owner is the user a card belongs to.
type Owner struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"displayName"`
	Nickname    string `json:"nickname,omitempty"`
}

// DeviceRef is the device projection embedded in card views.
type DeviceRef struct {
	ID     int64        `json:"id"`
	Name   string       `json:"name"`
	Status DeviceStatus `json:"status"`
}

// CardWithRelations is the denormalized card view.
type CardWithRelations struct {
	Card
	Owner             *Owner      `json:"owner"`
	AuthorizedDevices []DeviceRef `json:"authorizedDevices"`
}

// CardCredential is the narrow projection used on the RFID hot path.
type CardCredential struct {
	ID       int64
	Label    string
	OwnerID  *int64
	Frozen   bool
	Disabled bool
}

// Credential is one entry of the list a device should recognize.
type Credential struct {
	Name string `json:"name"`
	UID  string `json:"uid"`
}

// CardFilter narrows FetchCards. Nil fields do not filter.
type CardFilter struct {
	UserID   *int64
	DeviceID *int64
	Frozen   *bool
	Disabled *bool
	Search   string
	Limit    int
}

// CardStateInput changes the freeze/disable switches of a card. Nil fields are left untouched.
type CardStateInput struct {
	Frozen   *bool `json:"frozen"`
	Disabled *bool `json:"disabled"`
}

// Telemetry is the health report carried by a device ping.
type Telemetry struct {
	FirmwareVersion string          `json:"firmwareVersion,omitempty"`
	FreeHeap        int64           `json:"freeHeap,omitempty"`
	TotalHeap       int64           `json:"totalHeap,omitempty"`
	FreeStorage     int64           `json:"freeStorage,omitempty"`
	TotalStorage    int64           `json:"totalStorage,omitempty"`
	Uptime          int64           `json:"uptime,omitempty"`
	Errors          map[string]bool `json:"errors,omitempty"`
}

// Empty reports whether no telemetry field is set.
func (t Telemetry) Empty() bool {
	return t.FirmwareVersion == "" && t.FreeHeap == 0 && t.TotalHeap == 0 &&
		t.FreeStorage == 0 && t.TotalStorage == 0 && t.Uptime == 0 && len(t.Errors) == 0
}
