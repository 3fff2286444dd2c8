package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/AllenChen-Xingan/nvda-vision/internal/adapter"
	"github.com/AllenChen-Xingan/nvda-vision/internal/capture"
	"github.com/AllenChen-Xingan/nvda-vision/internal/config"
	"github.com/AllenChen-Xingan/nvda-vision/internal/engine"
	"github.com/AllenChen-Xingan/nvda-vision/internal/pipeline"
	"github.com/AllenChen-Xingan/nvda-vision/internal/process"
	"github.com/AllenChen-Xingan/nvda-vision/internal/server"
	"github.com/AllenChen-Xingan/nvda-vision/internal/store"
	"github.com/AllenChen-Xingan/nvda-vision/internal/tray"
	"github.com/AllenChen-Xingan/nvda-vision/internal/vision"
)

const version = "0.1.0"

func main() {
	// .env is optional; environment variables win either way
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "visiond",
		Short: "Screen recognition daemon with cached model inference",
	}

	root.AddCommand(serveCmd(), recognizeCmd(), cacheCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var withTray bool
	var standingConsent bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the recognition daemon with the local HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New()
			if err != nil {
				return err
			}

			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			events := server.NewEventHub()

			// The daemon has no dialog to ask per-request; consent is the
			// operator's standing grant via --cloud-consent or the tray
			// checkbox.
			var cloudConsent atomic.Bool
			cloudConsent.Store(standingConsent)
			consent := cloudConsent.Load

			eng, err := buildEngine(cfg, events.Notify, consent)
			if err != nil {
				return err
			}
			defer eng.Unload()

			controller := pipeline.New(pipeline.Config{
				Capturer:      activeCapturer(cfg),
				Store:         st,
				Engine:        eng,
				Processor:     process.New(cfg.ConfidenceThreshold),
				CacheTTL:      cfg.CacheTTL,
				MaxEntries:    cfg.CacheMaxEntries,
				Timeout:       cfg.InferenceTimeout,
				ProgressDelay: cfg.ProgressDelay,
			})
			defer controller.Cleanup()

			// Periodic cleanup of expired cache entries
			stopCleanup := make(chan struct{})
			defer close(stopCleanup)
			go func() {
				ticker := time.NewTicker(cfg.CleanupInterval)
				defer ticker.Stop()
				for {
					select {
					case <-stopCleanup:
						return
					case <-ticker.C:
						if n, err := st.Cache().CleanupExpired(); err != nil {
							log.Printf("Cache cleanup failed: %v", err)
						} else if n > 0 {
							log.Printf("Cleaned up %d expired cache entries", n)
						}
					}
				}
			}()

			srv := server.New(server.Config{
				Store:      st,
				Controller: controller,
				Events:     events,
			})

			errCh := make(chan error, 1)
			go func() {
				log.Printf("Starting server on %s", cfg.ListenAddr)
				errCh <- srv.ListenAndServe(cfg.ListenAddr)
			}()

			if withTray {
				tr := tray.New()
				tr.SetCloudEnabled(standingConsent)
				tr.OnCloudToggle(func(enabled bool) {
					cloudConsent.Store(enabled)
					log.Printf("Cloud fallback consent: %v", enabled)
				})
				tr.OnRecognize(func() {
					controller.RecognizeAsync(pipeline.Callbacks{
						OnComplete: func(result *vision.Result) {
							tr.SetLastResult(fmt.Sprintf("%d elements (%s)", result.ElementCount(), result.Status))
						},
					})
				})
				tr.OnClearCache(func() {
					if err := st.Cache().Clear(); err != nil {
						log.Printf("Clear cache failed: %v", err)
					}
				})
				tr.OnQuit(func() {
					controller.Cleanup()
				})
				tr.Run() // blocks until quit
				return nil
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			select {
			case err := <-errCh:
				return err
			case <-sigCh:
				log.Printf("Shutting down")
				return nil
			}
		},
	}

	cmd.Flags().BoolVar(&withTray, "tray", false, "show a system tray icon")
	cmd.Flags().BoolVar(&standingConsent, "cloud-consent", false,
		"grant standing consent for cloud fallback (requires VISIOND_ENABLE_CLOUD)")
	return cmd
}

func recognizeCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "recognize",
		Short: "Recognize a screenshot once and print the elements",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}

			cfg, err := config.New()
			if err != nil {
				return err
			}

			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			eng, err := buildEngine(cfg, logNotifier, promptConsent)
			if err != nil {
				return err
			}
			defer eng.Unload()

			processor := process.New(cfg.ConfidenceThreshold)
			controller := pipeline.New(pipeline.Config{
				Capturer:      capture.NewFileCapturer(file),
				Store:         st,
				Engine:        eng,
				Processor:     processor,
				CacheTTL:      cfg.CacheTTL,
				MaxEntries:    cfg.CacheMaxEntries,
				Timeout:       cfg.InferenceTimeout,
				ProgressDelay: cfg.ProgressDelay,
			})
			defer controller.Cleanup()

			done := make(chan error, 1)
			controller.RecognizeAsync(pipeline.Callbacks{
				OnComplete: func(result *vision.Result) {
					fmt.Println(processor.Summary(result))
					for i := range result.Elements {
						fmt.Printf("  %s\n", processor.SpeechText(&result.Elements[i]))
					}
					done <- nil
				},
				OnError: func(err error) {
					done <- err
				},
				OnProgress: func(elapsed time.Duration) {
					fmt.Printf("Recognizing, %.0f seconds elapsed...\n", elapsed.Seconds())
				},
			})

			return <-done
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "path to the screenshot image")
	return cmd
}

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the recognition cache",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "stats",
			Short: "Print cache statistics",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.New()
				if err != nil {
					return err
				}
				st, err := openStore(cfg)
				if err != nil {
					return err
				}
				defer st.Close()

				stats, err := st.Cache().Stats()
				if err != nil {
					return err
				}
				fmt.Printf("Screenshots: %d\n", stats.ScreenshotCount)
				fmt.Printf("Results:     %d\n", stats.EntryCount)
				fmt.Printf("Elements:    %d\n", stats.ElementCount)
				fmt.Printf("Total hits:  %d\n", stats.TotalHits)
				fmt.Printf("Hit rate:    %.1f%%\n", stats.HitRate*100)
				return nil
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Empty the recognition cache",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.New()
				if err != nil {
					return err
				}
				st, err := openStore(cfg)
				if err != nil {
					return err
				}
				defer st.Close()

				if err := st.Cache().Clear(); err != nil {
					return err
				}
				fmt.Println("Cache cleared")
				return nil
			},
		},
	)

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the visiond version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("visiond %s\n", version)
		},
	}
}

func openStore(cfg config.Config) (*store.Store, error) {
	if err := os.MkdirAll(cfg.CacheDir, 0755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	return store.New(filepath.Join(cfg.CacheDir, "recognition_cache.db"))
}

func buildEngine(cfg config.Config, notify engine.Notifier, consent engine.ConsentFunc) (*engine.Engine, error) {
	detected, err := adapter.Detect(adapter.DetectConfig{
		ModelDir:    cfg.ModelDir,
		Python:      cfg.Python,
		CloudKey:    cfg.CloudKey,
		CloudURL:    cfg.CloudURL,
		CloudModel:  cfg.CloudModel,
		EnableCloud: cfg.EnableCloud,
	})
	if err != nil {
		return nil, err
	}

	eng := engine.New(engine.Config{
		Primary:     detected.Primary,
		Backups:     detected.Backups,
		Cloud:       detected.Cloud,
		EnableCloud: cfg.EnableCloud,
		Notify:      notify,
		Consent:     consent,
	})

	if err := eng.Load(); err != nil {
		return nil, fmt.Errorf("load models: %w", err)
	}
	return eng, nil
}

// activeCapturer returns the capturer for the daemon. Screen capture itself
// is platform-specific and provided externally; the daemon reads the path of
// the most recent capture from VISIOND_CAPTURE_FILE.
func activeCapturer(cfg config.Config) capture.Capturer {
	path := os.Getenv("VISIOND_CAPTURE_FILE")
	if path == "" {
		path = filepath.Join(cfg.CacheDir, "last_capture.png")
	}
	return capture.NewFileCapturer(path)
}

func logNotifier(message string) {
	log.Printf("%s", message)
}

// promptConsent asks on stdin for per-invocation permission to upload the
// screenshot to the cloud API. Defaults to no.
func promptConsent() bool {
	fmt.Print("Local models failed. Allow uploading the screenshot to the cloud API? [y/N] ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
