package analysis

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/hapticdef/hapticdef/internal/schedule"
)

// Frame is a still sampled from the uploaded video at a whole second.
type Frame struct {
	Second int
	Path   string
}

func (f Frame) Timestamp() string {
	return schedule.FormatTimestamp(f.Second)
}

// FrameExtractor samples stills from videoPath into outDir.
type FrameExtractor func(ctx context.Context, videoPath, outDir string, maxFrames int) ([]Frame, error)

// ExtractFrames writes one JPEG per second of video with ffmpeg.
func ExtractFrames(ctx context.Context, videoPath, outDir string, maxFrames int) ([]Frame, error) {
	args := []string{
		"-i", videoPath,
		"-vf", "fps=1,scale=512:-2",
		"-q:v", "5",
	}
	if maxFrames > 0 {
		args = append(args, "-frames:v", strconv.Itoa(maxFrames))
	}
	args = append(args, "-y", filepath.Join(outDir, "frame_%05d.jpg"))

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: %w: %s", err, string(output))
	}
	return listFrames(outDir)
}

// listFrames maps frame_00001.jpg to second 0, frame_00002.jpg to second 1 and so on.
func listFrames(dir string) ([]Frame, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame dir: %w", err)
	}

	var frames []Frame
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "frame_") || !strings.HasSuffix(name, ".jpg") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "frame_"), ".jpg"))
		if err != nil || n < 1 {
			continue
		}
		frames = append(frames, Frame{Second: n - 1, Path: filepath.Join(dir, name)})
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i].Second < frames[j].Second })

	if len(frames) == 0 {
		return nil, fmt.Errorf("no frames extracted")
	}
	return frames, nil
}
