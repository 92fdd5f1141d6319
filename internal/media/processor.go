// Package media assembles generated clips with the ffmpeg CLI.
package media

import "context"

// Processor concatenates and inspects video files.
type Processor interface {
	// JoinVideos concatenates clips in order into output. It tries a stream
	// copy first and re-encodes with libx264/aac when the codecs differ.
	JoinVideos(ctx context.Context, videoPaths []string, output string) error

	// Duration returns the length of a media file in seconds.
	Duration(ctx context.Context, path string) (float64, error)
}
