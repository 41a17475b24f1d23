package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"iter"
	"math"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/patrickhyd4/ai-voice-interviewer/internal/audio"
	"github.com/patrickhyd4/ai-voice-interviewer/internal/protocol"
)

type options struct {
	baseURL  string
	wavPath  string
	toneMS   int
	frameMS  int
	realtime float64
	prompt   string
	replies  int
	timeout  time.Duration
	outDir   string
	verbose  bool
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "relayprobe: %v\n", err)
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "relayprobe: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var cfg options
	var timeoutMS int
	fs := flag.NewFlagSet("relayprobe", flag.ContinueOnError)
	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "relay base URL")
	fs.StringVar(&cfg.wavPath, "wav", "", "WAV file to stream (default: a synthetic tone)")
	fs.IntVar(&cfg.toneMS, "tone-ms", 2000, "length of the synthetic tone when -wav is not set")
	fs.IntVar(&cfg.frameMS, "frame-ms", 20, "audio frame size in milliseconds")
	fs.Float64Var(&cfg.realtime, "realtime", 1.0, "frame pacing multiplier (1.0=realtime, 2.0=2x)")
	fs.StringVar(&cfg.prompt, "prompt", "", "typed prompt sent as a userSpeech envelope after the audio")
	fs.IntVar(&cfg.replies, "replies", 1, "number of audio replies to wait for")
	fs.IntVar(&timeoutMS, "timeout-ms", 30000, "overall timeout waiting for replies in milliseconds")
	fs.StringVar(&cfg.outDir, "out", ".", "directory for received audio payloads")
	fs.BoolVar(&cfg.verbose, "verbose", true, "print every envelope")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.frameMS < 10 || cfg.frameMS > 2000 {
		return options{}, fmt.Errorf("frame-ms must be in [10,2000]")
	}
	if cfg.realtime <= 0 {
		return options{}, fmt.Errorf("realtime must be > 0")
	}
	if cfg.replies < 0 {
		cfg.replies = 0
	}
	if timeoutMS < 1000 {
		timeoutMS = 1000
	}
	cfg.timeout = time.Duration(timeoutMS) * time.Millisecond
	return cfg, nil
}

func run(ctx context.Context, cfg options) error {
	samples, sampleRate, err := loadSamples(cfg)
	if err != nil {
		return fmt.Errorf("prepare audio: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	wsURL, err := relayWSURL(cfg.baseURL)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	audioCh := make(chan int, 16)
	readErrCh := make(chan error, 1)
	go readLoop(conn, cfg, audioCh, readErrCh)

	framer := audio.NewFramer(sampleRate, cfg.frameMS)
	pace := time.Duration(float64(time.Duration(cfg.frameMS)*time.Millisecond) / cfg.realtime)
	sent := 0
	for frame := range framer.Frames(samples) {
		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			return fmt.Errorf("send frame %d: %w", sent+1, err)
		}
		sent++
		select {
		case err := <-readErrCh:
			return fmt.Errorf("relay closed while streaming: %w", err)
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pace):
		}
	}
	if cfg.verbose {
		fmt.Printf("relayprobe: streamed %d frames at %dHz\n", sent, sampleRate)
	}

	if strings.TrimSpace(cfg.prompt) != "" {
		msg := protocol.ControlEnvelope{Type: protocol.TypeUserSpeech, Text: cfg.prompt}
		if err := conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("send prompt: %w", err)
		}
	}

	got := 0
	for got < cfg.replies {
		select {
		case <-audioCh:
			got++
		case err := <-readErrCh:
			return fmt.Errorf("relay closed after %d replies: %w", got, err)
		case <-ctx.Done():
			return fmt.Errorf("waiting for replies: %w", ctx.Err())
		}
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "probe done"),
		time.Now().Add(time.Second))
	if cfg.verbose {
		fmt.Printf("relayprobe: received %d audio replies\n", got)
	}
	return nil
}

func readLoop(conn *websocket.Conn, cfg options, audioCh chan<- int, readErrCh chan<- error) {
	n := 0
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				err = fmt.Errorf("close %d %q", closeErr.Code, closeErr.Text)
			}
			readErrCh <- err
			return
		}

		ev, err := protocol.ParseServerEvent(data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "relayprobe: bad envelope: %v\n", err)
			continue
		}
		switch e := ev.(type) {
		case protocol.Transcript:
			if cfg.verbose {
				fmt.Printf("transcript final=%t: %s\n", e.IsFinal, e.Text)
			}
		case protocol.AIResponse:
			fmt.Printf("ai: %s\n", e.Text)
		case protocol.ErrorEvent:
			fmt.Fprintf(os.Stderr, "relayprobe: error envelope: %s\n", e.Message)
		case protocol.Audio:
			n++
			path := filepath.Join(cfg.outDir, fmt.Sprintf("reply-%02d%s", n, audioExt(e.Payload)))
			if err := os.WriteFile(path, e.Payload, 0o644); err != nil {
				fmt.Fprintf(os.Stderr, "relayprobe: write %s: %v\n", path, err)
			} else if cfg.verbose {
				fmt.Printf("audio: %d bytes -> %s\n", len(e.Payload), path)
			}
			select {
			case audioCh <- n:
			default:
			}
		}
	}
}

func loadSamples(cfg options) (iter.Seq[float32], int, error) {
	if cfg.wavPath == "" {
		return toneSamples(cfg.toneMS, audio.DefaultSampleRate), audio.DefaultSampleRate, nil
	}
	data, err := os.ReadFile(cfg.wavPath)
	if err != nil {
		return nil, 0, err
	}
	clip, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, 0, err
	}
	return audio.SamplesFromPCM16LE(clip.PCM), clip.SampleRate, nil
}

// toneSamples yields a quiet 440Hz sine for ms milliseconds.
func toneSamples(ms, sampleRate int) iter.Seq[float32] {
	total := ms * sampleRate / 1000
	return func(yield func(float32) bool) {
		for i := range total {
			v := 0.2 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate))
			if !yield(float32(v)) {
				return
			}
		}
	}
}

func relayWSURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/voice/session/ws"
	return u.String(), nil
}

func audioExt(payload []byte) string {
	switch {
	case bytes.HasPrefix(payload, []byte("RIFF")):
		return ".wav"
	case bytes.HasPrefix(payload, []byte("ID3")), len(payload) > 1 && payload[0] == 0xFF && payload[1]&0xE0 == 0xE0:
		return ".mp3"
	default:
		return ".bin"
	}
}
