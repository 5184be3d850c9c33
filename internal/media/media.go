// Package media downloads source media for staging. The Downloader interface
// is the boundary the worker depends on; the default implementation shells
// out to yt-dlp.
package media

import (
	"context"
	"errors"
)

// Kind selects the download mode.
type Kind string

const (
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
)

// ErrUnsupportedSource marks URLs the downloader cannot handle. The worker
// reports it to the user instead of retrying.
var ErrUnsupportedSource = errors.New("unsupported media source")

// Result describes a finished download on local disk.
type Result struct {
	Path        string
	Extension   string // includes the dot, e.g. ".mp4"
	ContentType string
	Filename    string // friendly name for the attachment header
}

// Downloader fetches a media URL to local disk.
type Downloader interface {
	Download(ctx context.Context, url string, kind Kind) (Result, error)
}
