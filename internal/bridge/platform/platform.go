// Package platform defines the PlatformAdapter contract every concrete chat
// platform implements, generalizing pkg/communication/chat's Send-only
// Sender interface into connect/disconnect, an inbound event source, webhook
// CRUD, webhook send/edit/delete, and a platform-native fallback send.
package platform

import (
	"context"
)

// Webhook is the credential pair returned by webhook creation/lookup.
type Webhook struct {
	ID    string
	Token string
}

// Impersonate carries the display identity a fallback send should present.
type Impersonate struct {
	Name      string
	AvatarURL string
}

// EventHandler receives normalized-ready raw events from the adapter's
// gateway connection. kind is one of "message", "messageUpdate",
// "messageDelete"; raw is a normalize.DiscordRaw or normalize.SlackRaw value
// depending on the adapter.
type EventHandler func(ctx context.Context, kind string, raw interface{})

// Adapter is the capability every concrete platform client implements.
type Adapter interface {
	// Connect establishes the gateway/API session.
	Connect(ctx context.Context, token string) error
	// Disconnect tears the session down.
	Disconnect() error

	// OnEvent registers the sink for inbound message/messageUpdate/
	// messageDelete events. Exactly one handler is supported; Connect must
	// be called after OnEvent so no events are missed.
	OnEvent(handler EventHandler)

	CreateWebhook(ctx context.Context, channelID, name string) (*Webhook, error)
	FetchWebhook(ctx context.Context, channelID string) (*Webhook, error)

	// SendWebhook impersonates username/avatarURL. It returns the created
	// message id if the platform's API returns one synchronously; an empty
	// id with a nil error means the send succeeded but no id was captured
	// (downstream edits/deletes for that message become no-ops).
	SendWebhook(ctx context.Context, webhookID, token, channelID, content, username, avatarURL string) (messageID string, err error)
	// EditWebhookMessage reports false (no error) when the platform has no
	// supported way to edit an impersonated post — the caller falls back to
	// the edit-workaround.
	EditWebhookMessage(ctx context.Context, webhookID, token, messageID, content string) (ok bool, err error)
	DeleteWebhookMessage(ctx context.Context, webhookID, token, messageID string) (ok bool, err error)

	// SendMessage is the fallback path for targets without webhook
	// credentials: a platform-native send with best-effort impersonation.
	SendMessage(ctx context.Context, channelID, content string, impersonate *Impersonate) (messageID string, err error)
	EditMessage(ctx context.Context, channelID, messageID, content string) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
}
