package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
)

// ffmpegSource shells out to ffmpeg and reads an MJPEG byte stream off its
// stdout. One process per connection; Close kills it. RTSP, V4L2 and looped
// local video all reduce to the same pipe, only the input arguments differ.
type ffmpegSource struct {
	inputArgs []string

	cmd *exec.Cmd
	out io.ReadCloser
	br  *bufio.Reader
}

func newRTSPSource(cfg Config) *ffmpegSource {
	return &ffmpegSource{inputArgs: []string{
		"-rtsp_transport", "tcp",
		"-i", rtspURL(cfg),
	}}
}

func newUSBSource(cfg Config) *ffmpegSource {
	device := cfg.StreamPath
	if device == "" {
		device = "/dev/video" + strconv.Itoa(cfg.Port)
	}
	return &ffmpegSource{inputArgs: []string{
		"-f", "v4l2",
		"-i", device,
	}}
}

func newLocalVideoSource(cfg Config) *ffmpegSource {
	// -re paces the file at native speed, -stream_loop keeps it running.
	return &ffmpegSource{inputArgs: []string{
		"-re",
		"-stream_loop", "-1",
		"-i", cfg.StreamPath,
	}}
}

func (s *ffmpegSource) Open(ctx context.Context) error {
	args := append([]string{"-nostdin", "-loglevel", "error"}, s.inputArgs...)
	args = append(args,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"pipe:1",
	)
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}
	s.cmd = cmd
	s.out = out
	s.br = bufio.NewReaderSize(out, 256<<10)
	return nil
}

func (s *ffmpegSource) ReadFrame(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.br == nil {
		return nil, errors.New("source not open")
	}
	data, err := readJPEG(s.br)
	if err != nil {
		return nil, err
	}
	return frameFromJPEG(data)
}

func (s *ffmpegSource) Close() error {
	if s.cmd == nil {
		return nil
	}
	s.out.Close()
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	// ffmpeg exits non-zero after a kill. Not an error here.
	s.cmd.Wait()
	s.cmd = nil
	s.out = nil
	s.br = nil
	return nil
}

// readJPEG scans a concatenated MJPEG byte stream for the next complete
// image, from the SOI marker (FF D8) through the EOI marker (FF D9).
func readJPEG(br *bufio.Reader) ([]byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != 0xFF {
			continue
		}
		nxt, err := br.ReadByte()
		if err != nil {
			return nil, err
		}
		if nxt != 0xD8 {
			continue
		}
		frame := make([]byte, 2, 64<<10)
		frame[0], frame[1] = 0xFF, 0xD8
		for {
			b, err := br.ReadByte()
			if err != nil {
				return nil, err
			}
			frame = append(frame, b)
			if b == 0xD9 && frame[len(frame)-2] == 0xFF {
				return frame, nil
			}
			if len(frame) > maxFrameBytes {
				return nil, fmt.Errorf("frame exceeds %d bytes", maxFrameBytes)
			}
		}
	}
}
