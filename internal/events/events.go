// Package events is the catalog of queues and event types carried on the bus.
package events

// Queue names.
const (
	QueueTelegramEvents      = "telegram_events"
	QueueGatewayEvents       = "gateway_events"
	QueueQuartermasterEvents = "quartermaster_events"
)

// Event and command types, versioned v1.
const (
	TypeTelegramRaw = "events.telegram.raw"

	TypeVideoReady = "events.dl.video.ready"
	TypeAudioReady = "events.dl.audio.ready"

	TypeVideoDownload = "commands.media.video_download"
	TypeAudioDownload = "commands.media.audio_download"

	TypeGatewayReply            = "commands.gateway.reply"
	TypeGatewayMessageUpdate    = "commands.gateway.message-update"
	TypeGatewayDownloadsCleanup = "commands.gateway.downloads-cleanup"
	TypeGatewayGrace            = "commands.gateway.grace"
	TypeGatewaySmite            = "commands.gateway.smite"
)

// OptimisticReplyKey is the persistence key under which the worker's
// "processing" reply is recorded so the gateway can delete it later.
const OptimisticReplyKey = "optimistic_reply"
