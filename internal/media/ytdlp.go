package media

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/zxeenu/heavy-telegram-bot/internal/staging"
)

// YTDLP shells out to the yt-dlp binary. Files land in OutputDir named by the
// sha256 of the normalized source URL, so repeated downloads of the same
// resource reuse the file on disk.
type YTDLP struct {
	Binary    string
	OutputDir string
}

// NewYTDLP creates a downloader writing into outputDir.
func NewYTDLP(outputDir string) *YTDLP {
	return &YTDLP{
		Binary:    "yt-dlp",
		OutputDir: outputDir,
	}
}

// Download fetches the URL and returns the local file. Video downloads are
// remuxed to mp4, audio extractions to mp3.
func (y *YTDLP) Download(ctx context.Context, url string, kind Kind) (Result, error) {
	if err := os.MkdirAll(y.OutputDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("failed to create output dir: %w", err)
	}

	normalized, err := staging.NormalizeURL(url)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnsupportedSource, err)
	}
	stem := staging.HashURL(normalized)

	if existing, ok := y.existing(stem); ok {
		slog.InfoContext(ctx, "Reusing previously downloaded file", "path", existing)
		return y.result(existing)
	}

	template := filepath.Join(y.OutputDir, stem+".%(ext)s")
	args := []string{"--no-playlist", "-o", template}
	switch kind {
	case KindAudio:
		args = append(args, "-x", "--audio-format", "mp3")
	default:
		args = append(args, "-f", "best", "--remux-video", "mp4")
	}
	args = append(args, url)

	cmd := exec.CommandContext(ctx, y.Binary, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		slog.WarnContext(ctx, "yt-dlp failed", "url", url, "output", truncate(string(output), 400))
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupportedSource, url)
	}

	path, ok := y.existing(stem)
	if !ok {
		return Result{}, fmt.Errorf("%w: yt-dlp produced no file for %s", ErrUnsupportedSource, url)
	}
	return y.result(path)
}

// existing finds a previously downloaded file for the hash stem, if any.
func (y *YTDLP) existing(stem string) (string, bool) {
	matches, err := filepath.Glob(filepath.Join(y.OutputDir, stem+".*"))
	if err != nil || len(matches) == 0 {
		return "", false
	}
	return matches[0], true
}

func (y *YTDLP) result(path string) (Result, error) {
	ext := filepath.Ext(path)
	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return Result{
		Path:        path,
		Extension:   ext,
		ContentType: contentType,
		Filename:    filepath.Base(path),
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "") + "..."
}
