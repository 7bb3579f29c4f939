// Package protocol speaks the door controller message contract: it decodes
// telemetry and RFID events, decides admit/deny, and encodes commands.
package protocol

import (
	"encoding/json"

	"github.com/campusgate/doorlock/internal/doorlock"
)

// Inbound message type discriminators.
const (
	TypePing     = "ping"
	TypeCardRead = "card-read"
)

// Device channel push types.
const (
	TypeSyncDatabase = "sync-database"
	TypeOpenDoor     = "open-door"
	TypeUpdate       = "update"
)

// Envelope carries the discriminator of an inbound message.
type Envelope struct {
	Type string `json:"type"`
}

// CardRead is the payload of an rfid event. Authorized is the device's own
// verdict and is never trusted.
type CardRead struct {
	Type       string `json:"type,omitempty"`
	Tag        string `json:"tag" validate:"required"`
	Name       string `json:"name,omitempty"`
	Authorized *bool  `json:"authorized,omitempty"`
}

// Ping is device health telemetry.
type Ping struct {
	Type string `json:"type"`
	doorlock.Telemetry
}

// Action is the verdict sent back on the command topic.
type Action string

const (
	ActionOpen Action = "open"
	ActionDeny Action = "deny"
)

// Command is published on <ns>/doorlock/<id>/command.
type Command struct {
	Action  Action `json:"action"`
	Message string `json:"message"`
}

// ChannelMessage is a server to device push over the device channel.
type ChannelMessage struct {
	Type string                `json:"type"`
	DB   []doorlock.Credential `json:"db,omitempty"`
	Name string                `json:"name,omitempty"`
	URL  string                `json:"url,omitempty"`
}

// SyncDatabase builds the credential list push. A nil list is sent as [].
func SyncDatabase(creds []doorlock.Credential) ChannelMessage {
	if creds == nil {
		creds = []doorlock.Credential{}
	}
	return ChannelMessage{Type: TypeSyncDatabase, DB: creds}
}

// OpenDoor builds a door-open push with an optional display name.
func OpenDoor(name string) ChannelMessage {
	return ChannelMessage{Type: TypeOpenDoor, Name: name}
}

// Update builds a firmware update push with an optional OTA url.
func Update(url string) ChannelMessage {
	return ChannelMessage{Type: TypeUpdate, URL: url}
}

// MarshalJSON keeps db present on sync-database even when empty.
func (m ChannelMessage) MarshalJSON() ([]byte, error) {
	type plain ChannelMessage
	if m.Type == TypeSyncDatabase {
		db := m.DB
		if db == nil {
			db = []doorlock.Credential{}
		}
		return json.Marshal(struct {
			Type string                `json:"type"`
			DB   []doorlock.Credential `json:"db"`
		}{Type: m.Type, DB: db})
	}
	return json.Marshal(plain(m))
}
