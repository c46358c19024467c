package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	logrus "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/ytget/hls-downloader/internal/config"
	"github.com/ytget/hls-downloader/internal/engine"
	"github.com/ytget/hls-downloader/internal/fetch"
	"github.com/ytget/hls-downloader/internal/logging"
	"github.com/ytget/hls-downloader/internal/model"
	"github.com/ytget/hls-downloader/internal/mux"
	"github.com/ytget/hls-downloader/internal/playlist"
)

// Version is set during build via -ldflags "-X main.version=X.Y.Z"
var version = "dev"

const (
	AppName = "hls-downloader"

	FlagOutput    = "output"
	FlagDir       = "dir"
	FlagParallel  = "parallel"
	FlagFormat    = "format"
	FlagReferer   = "referer"
	FlagUserAgent = "user-agent"
	FlagRateLimit = "rate-limit"
	FlagLogLevel  = "log-level"
	FlagFFmpeg    = "ffmpeg"

	DefaultOutputName = "stream"
	RequestTimeout    = 64 * time.Second
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     AppName + " <playlist-url>",
		Short:   "Download HLS streams into a single local file",
		Long:    "Resolves an HLS playlist, downloads its segments in parallel,\ndecrypts AES-128 content and assembles the result into one file.",
		Version: version,
		Args:    cobra.ExactArgs(1),
		RunE:    run,

		SilenceUsage: true,
	}

	cmd.Flags().StringP(FlagOutput, "o", "", "Output file name without extension (defaults to the playlist name)")
	cmd.Flags().StringP(FlagDir, "d", "", "Directory to place the output file in")
	cmd.Flags().IntP(FlagParallel, "p", 0, "Parallel segment downloads (1-16)")
	cmd.Flags().StringP(FlagFormat, "f", "", "Container format: ts, mp4, mkv, webm")
	cmd.Flags().String(FlagReferer, "", "Referer header to send with every request")
	cmd.Flags().String(FlagUserAgent, "", "User-Agent header override")
	cmd.Flags().Float64(FlagRateLimit, 0, "Politeness limit in requests per second (0 disables)")
	cmd.Flags().String(FlagLogLevel, "", "Log verbosity: panic, fatal, error, warn, info, debug, trace")
	cmd.Flags().String(FlagFFmpeg, "", "Path to the ffmpeg binary used for remuxing")

	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	fs := afero.NewOsFs()

	settings := config.NewSettings(fs)
	if configDir, err := os.UserConfigDir(); err == nil {
		if err := settings.Load(filepath.Join(configDir, AppName)); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}

	logLevel := settings.GetLogLevel()
	if v, _ := cmd.Flags().GetString(FlagLogLevel); v != "" {
		logLevel = v
	}
	logging.Setup(logLevel, os.Stderr)

	req, err := buildRequest(cmd, args[0], settings)
	if err != nil {
		return err
	}

	rateLimit := settings.GetRateLimit()
	if cmd.Flags().Changed(FlagRateLimit) {
		rateLimit, _ = cmd.Flags().GetFloat64(FlagRateLimit)
	}

	client := fetch.NewClient(fetch.Options{
		Timeout:           RequestTimeout,
		RequestsPerSecond: rateLimit,
		UserAgent:         req.UserAgent,
		Referer:           req.Referer,
	})

	assembler := mux.NewAssembler(fs)
	if ffmpegPath, _ := cmd.Flags().GetString(FlagFFmpeg); ffmpegPath != "" {
		assembler.SetFFmpegPath(ffmpegPath)
	}

	svc := engine.NewService(fs, client, playlist.NewResolver(client), assembler)

	job, events, err := svc.Submit(req)
	if err != nil {
		return err
	}

	cancelOnInterrupt(svc, job.ID)

	return renderEvents(events)
}

// buildRequest merges flags over configured defaults into one job request
func buildRequest(cmd *cobra.Command, url string, settings *config.Settings) (model.JobRequest, error) {
	name, _ := cmd.Flags().GetString(FlagOutput)
	if name == "" {
		name = outputNameFromURL(url)
	}

	dir, _ := cmd.Flags().GetString(FlagDir)
	if dir == "" {
		dir = settings.GetDownloadDirectory()
	}

	format := settings.GetOutputFormat()
	if v, _ := cmd.Flags().GetString(FlagFormat); v != "" {
		parsed, err := model.ParseFormat(v)
		if err != nil {
			return model.JobRequest{}, err
		}
		format = parsed
	}

	parallel, _ := cmd.Flags().GetInt(FlagParallel)
	if parallel == 0 {
		parallel = settings.GetMaxParallelDownloads()
	}

	referer, _ := cmd.Flags().GetString(FlagReferer)
	if referer == "" {
		referer = settings.GetReferer()
	}

	userAgent, _ := cmd.Flags().GetString(FlagUserAgent)
	if userAgent == "" {
		userAgent = settings.GetUserAgent()
	}

	return model.JobRequest{
		URL: url,
		Output: model.OutputSpec{
			FileName:  name,
			Directory: dir,
			Format:    format,
		},
		Concurrency: parallel,
		Referer:     referer,
		UserAgent:   userAgent,
	}, nil
}

// outputNameFromURL derives a file name from the playlist URL path
func outputNameFromURL(url string) string {
	base := filepath.Base(url)
	if i := strings.IndexByte(base, '?'); i >= 0 {
		base = base[:i]
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." || base == "/" {
		return DefaultOutputName
	}
	return base
}

// cancelOnInterrupt requests job cancellation on the first SIGINT/SIGTERM
func cancelOnInterrupt(svc engine.Engine, jobID string) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signals
		logrus.Warn("interrupt received, cancelling")
		_ = svc.Cancel(jobID)
	}()
}

// renderEvents consumes the job's event stream until the terminal event,
// driving a progress bar for segment completion
func renderEvents(events <-chan model.Event) error {
	var bar *progressbar.ProgressBar

	for ev := range events {
		switch ev.Kind {
		case model.EventProgress:
			if bar == nil && ev.Total > 0 {
				bar = newProgressBar(ev.Total)
			}
			if bar != nil {
				_ = bar.Set(ev.Ready)
			}
		case model.EventLog:
			// Log lines already reach stderr through the service logger

		case model.EventFinished:
			if bar != nil {
				_ = bar.Finish()
				fmt.Println()
			}
			fmt.Printf("Saved to %s\n", ev.Path)
			return nil
		case model.EventFailed:
			return fmt.Errorf("download failed: %s", ev.Reason)
		case model.EventCancelled:
			return fmt.Errorf("download cancelled")
		}
	}

	return fmt.Errorf("event stream closed without a terminal event")
}

func newProgressBar(total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription("downloading"),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(50),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}))
}
