// Package bridge holds the data model shared across the ingest/router/
// delivery pipeline: the persisted BridgePair and MessageMap entities, and
// the transient CanonicalEvent/DeliveryJob shapes that flow through the
// queues.
package bridge

import "time"

// EventType identifies what kind of change a CanonicalEvent describes.
type EventType string

const (
	MsgCreate EventType = "MSG_CREATE"
	MsgUpdate EventType = "MSG_UPDATE"
	MsgDelete EventType = "MSG_DELETE"
)

// Platform identifies one of the two sides of a bridge.
type Platform string

const (
	PlatformA Platform = "A" // Discord
	PlatformB Platform = "B" // Slack
)

// Author is the display identity a message should appear to come from.
type Author struct {
	Name   string
	Avatar string // resolved URL, empty if unknown
}

// Attachment is copied verbatim from the source platform; re-upload is out
// of scope, only metadata is forwarded.
type Attachment struct {
	URL         string
	Filename    string
	ContentType string
	Size        int64
}

// Source identifies where a CanonicalEvent originated.
type Source struct {
	Platform  Platform
	MessageID string
	ChannelID string
	GuildID   string // optional, empty if not applicable
}

// CanonicalEvent is the platform-agnostic representation the Normalizer
// produces and the ingest queue carries.
type CanonicalEvent struct {
	Type        EventType
	Content     string
	Author      Author
	Source      Source
	Attachments []Attachment
	Timestamp   int64 // epoch milliseconds
}

// Variant is the explicit delivery-job shape RouterWorker selects at enqueue
// time, replacing re-derivation of intent inside DeliveryWorker (design note
// "Dynamic job shape").
type Variant string

const (
	CreateWithWebhook Variant = "CREATE_WITH_WEBHOOK"
	CreateFallback    Variant = "CREATE_FALLBACK"
	UpdateDirect      Variant = "UPDATE_DIRECT"
	UpdateWorkaround  Variant = "UPDATE_WORKAROUND"
	Delete            Variant = "DELETE"
)

// DeliveryJob is the transient unit of work a delivery queue carries.
type DeliveryJob struct {
	Event              CanonicalEvent
	Variant            Variant
	BridgePairID       string
	TargetPlatform     Platform
	TargetChannelID    string
	TargetGuildID      string
	TargetWebhookID    string
	TargetWebhookToken string
	SyncUploads        bool
}

// BridgePair is the persisted link between one channel on Platform A and one
// on Platform B. Unique on (AChannelID, BChannelID).
type BridgePair struct {
	ID            string `gorm:"primaryKey"`
	AChannelID    string `gorm:"index:idx_bridge_pair_channels,unique"`
	AGuildID      string
	BChannelID    string `gorm:"index:idx_bridge_pair_channels,unique"`
	BGuildID      string
	AWebhookID    string
	AWebhookToken string
	BWebhookID    string
	BWebhookToken string
	IsActive      bool
	SyncUploads   bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (BridgePair) TableName() string { return "bridge_pairs" }

// HasWebhook reports whether side has webhook credentials on file.
func (b *BridgePair) HasWebhook(side Platform) bool {
	if side == PlatformA {
		return b.AWebhookID != "" && b.AWebhookToken != ""
	}
	return b.BWebhookID != "" && b.BWebhookToken != ""
}

// Channel returns the channel/guild id pair for side.
func (b *BridgePair) Channel(side Platform) (channelID, guildID string) {
	if side == PlatformA {
		return b.AChannelID, b.AGuildID
	}
	return b.BChannelID, b.BGuildID
}

// Other returns the platform on the opposite side of side.
func Other(side Platform) Platform {
	if side == PlatformA {
		return PlatformB
	}
	return PlatformA
}

// MessageMap is the persisted identity mapping that lets edits/deletes find
// the message they must act on. No row means the original create was never
// successfully bridged.
type MessageMap struct {
	ID             string `gorm:"primaryKey"`
	PairID         string `gorm:"index:idx_message_map_lookup,unique"`
	SourcePlatform Platform `gorm:"index:idx_message_map_lookup,unique"`
	SourceMsgID    string `gorm:"index:idx_message_map_lookup,unique"`
	DestPlatform   Platform
	DestMsgID      string
	CreatedAt      time.Time
}

func (MessageMap) TableName() string { return "message_maps" }
