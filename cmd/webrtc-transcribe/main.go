// Command webrtc-transcribe joins a meeting as a bot participant, records the
// remote audio into a single mixed track, transcribes it, and prints one JSON
// record describing the session.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/oklog/run"
	"github.com/spf13/cobra"

	"github.com/Agasper/WebRTCTranscribe/internal/capture"
	"github.com/Agasper/WebRTCTranscribe/internal/config"
	"github.com/Agasper/WebRTCTranscribe/internal/logging"
	"github.com/Agasper/WebRTCTranscribe/internal/output"
	"github.com/Agasper/WebRTCTranscribe/internal/platform"
	"github.com/Agasper/WebRTCTranscribe/internal/session"
	"github.com/Agasper/WebRTCTranscribe/internal/transcribe"
	"github.com/Agasper/WebRTCTranscribe/internal/version"
)

type options struct {
	outputPath string
	language   string
	name       string
	fakeVideo  bool
	headed     bool
	debug      bool
	keepAudio  bool
}

func main() {
	opts := &options{}

	root := &cobra.Command{
		Use:           "webrtc-transcribe <meeting-url>",
		Short:         "Record and transcribe a video meeting unattended",
		Version:       version.Version,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(args[0], opts)
		},
	}

	flags := root.Flags()
	flags.StringVarP(&opts.outputPath, "output", "o", "", "write the JSON record to a file instead of stdout")
	flags.StringVarP(&opts.language, "language", "l", "ru", "expected meeting language (hint for transcription)")
	flags.StringVar(&opts.name, "name", "Transcriber Bot", "display name shown to other participants")
	flags.BoolVar(&opts.fakeVideo, "fake-video", false, "publish a placeholder media track so the bot appears active")
	flags.BoolVar(&opts.headed, "headed", false, "diagnostic mode; has no effect on recording")
	flags.BoolVar(&opts.debug, "debug", false, "enable debug logging")
	flags.BoolVar(&opts.keepAudio, "keep-audio", false, "keep the recorded audio as a WAV file next to the output")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(session.ExitCode(err))
	}
}

// runSession wires the components and drives one complete session. The error
// it returns carries the exit code via session.ExitCode.
func runSession(meetingURL string, opts *options) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logging.Init(opts.debug || cfg.LogLevel == "debug")
	defer logging.Shutdown()

	logging.Info(logging.CategoryApp, "webrtc-transcribe %s starting url=%s language=%s", version.Version, meetingURL, opts.language)
	if opts.headed {
		logging.Info(logging.CategoryApp, "headed mode requested; recording behavior is unchanged")
	}

	mixer := capture.NewMixer(capture.Config{})
	defer mixer.Close()

	room := platform.NewRoom(platform.Config{
		ServerURL:       cfg.LiveKitURL,
		APIKey:          cfg.LiveKitAPIKey,
		APISecret:       cfg.LiveKitAPISecret,
		DisplayName:     opts.name,
		PublishPresence: opts.fakeVideo,
	}, mixer)

	pipeline := transcribe.NewPipeline(
		transcribe.Config{
			SilenceThresholdDB: cfg.SilenceThresholdDB,
			SilenceMinDuration: cfg.SilenceDuration,
		},
		transcribe.NewFFmpegTrimmer(cfg.FFmpegPath),
		transcribe.NewGroqService(cfg.GroqAPIKey),
	)

	controller := session.NewController(session.Config{
		URL:                 meetingURL,
		Language:            opts.language,
		WaitingRoomTimeout:  cfg.WaitingRoomTimeout,
		EmptyMeetingTimeout: cfg.EmptyMeetingTimeout,
		AloneWait:           cfg.AloneWait,
	}, room, session.NewRecordingSession(mixer), pipeline)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		result *session.Result
		runErr error
	)
	var g run.Group
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))
	g.Add(func() error {
		result, runErr = controller.Run(ctx)
		return runErr
	}, func(error) {
		cancel()
	})

	groupErr := g.Run()

	var sig run.SignalError
	if errors.As(groupErr, &sig) {
		logging.Info(logging.CategoryApp, "received %s, shutting down", sig.Signal)
	}

	if result != nil {
		if opts.keepAudio && result.Audio.ChunkCount > 0 {
			if path, err := saveAudio(opts.outputPath, result.Audio); err != nil {
				logging.Warning(logging.CategoryApp, "failed to keep audio: %v", err)
			} else {
				logging.Info(logging.CategoryApp, "recorded audio kept at %s", path)
			}
		}
		if err := emit(opts.outputPath, output.Assemble(*result)); err != nil {
			return err
		}
	}
	return runErr
}

// emit writes the record to the output file, or stdout when no path is set.
func emit(path string, rec output.Record) error {
	if path == "" {
		return output.Write(os.Stdout, rec)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()
	if err := output.Write(f, rec); err != nil {
		return err
	}
	logging.Info(logging.CategoryApp, "output written to %s", path)
	return nil
}

// saveAudio writes the exported recording next to the output file, or into
// the temp directory when output goes to stdout.
func saveAudio(outputPath string, blob capture.Blob) (string, error) {
	dir := os.TempDir()
	if outputPath != "" {
		dir = filepath.Dir(outputPath)
	}
	path := filepath.Join(dir, "recording-"+uuid.NewString()[:8]+".wav")
	if err := os.WriteFile(path, blob.Bytes, 0o644); err != nil {
		return "", fmt.Errorf("write audio file: %w", err)
	}
	return path, nil
}
