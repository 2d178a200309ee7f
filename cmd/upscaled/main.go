package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"upscaled/internal/common/fsutil"
	"upscaled/internal/config"
	"upscaled/internal/device"
	"upscaled/internal/engine"
	"upscaled/internal/httpapi"
	"upscaled/internal/upscaler"
	"upscaled/internal/weights"
)

func main() {
	// Flags with environment variable defaults
	defaultAddr := ":8080"
	if v := os.Getenv("UPSCALED_ADDR"); v != "" {
		defaultAddr = v
	}
	addr := flag.String("addr", defaultAddr, "HTTP listen address, e.g. :8080")
	cfgPath := flag.String("config", "", "Optional config file (yaml, json or toml)")
	weightsDir := flag.String("weights-dir", "", "Directory for cached model weights (default: temp dir)")
	defaultModel := flag.String("default-model", "RealESRGAN_x4plus", "Model id used when a request omits one")
	maxResolution := flag.Int("max-resolution", 1024, "Longest accepted input side in pixels; larger inputs are downscaled")
	tileSize := flag.Int("tile-size", 512, "Inference tile edge length; 0 disables tiling")
	tilePad := flag.Int("tile-pad", 32, "Overlap in pixels between neighbouring tiles")
	prePad := flag.Int("pre-pad", 10, "Replicated border around the whole image")
	quality := flag.Int("quality", 95, "Encode quality for lossy output formats")
	requestTimeout := flag.Int("request-timeout-s", 60, "Wall-clock ceiling per request in seconds")
	cleanupInterval := flag.Int("cleanup-interval-s", 3600, "Scratch file sweep interval in seconds")
	flag.Parse()

	log := zerolog.New(os.Stderr).With().Timestamp().Str("svc", "upscaled").Logger()

	if *cfgPath != "" {
		fileCfg, err := config.Load(*cfgPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", *cfgPath).Msg("failed to load config")
		}
		applyFileConfig(fileCfg, addr, weightsDir, defaultModel, maxResolution,
			tileSize, tilePad, prePad, quality, requestTimeout, cleanupInterval)
		if fileCfg.MaxUploadMB > 0 {
			httpapi.SetMaxBodyBytes(int64(fileCfg.MaxUploadMB) << 20)
		}
	}

	store, err := weights.NewStore(*weightsDir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open weight store")
	}

	budget := engine.TileBudget{TileSize: *tileSize, TilePad: *tilePad, PrePad: *prePad}
	cache := upscaler.NewCache(device.NewSelector(), store, nil, budget, log)
	svc := upscaler.NewService(cache, upscaler.ServiceConfig{
		MaxResolution: *maxResolution,
		Quality:       *quality,
		Timeout:       time.Duration(*requestTimeout) * time.Second,
		DefaultModel:  *defaultModel,
	}, log)
	defer svc.Close()

	baseCtx, stopBase := context.WithCancel(context.Background())
	defer stopBase()
	httpapi.SetBaseContext(baseCtx)
	httpapi.SetLogger(log)

	mux := httpapi.NewMux(svc)
	srv := &http.Server{Addr: *addr, Handler: mux}

	// Periodically wipe request scratch files spooled by multipart parsing
	// and partial downloads left by interrupted weight fetches.
	go janitor(baseCtx, log, store.Dir(), time.Duration(*cleanupInterval)*time.Second)

	go func() {
		log.Info().Str("addr", *addr).Str("weights_dir", store.Dir()).Msg("upscaled listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown (Ctrl+C / SIGTERM)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	stopBase()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown error")
	}
}

// applyFileConfig overlays config-file values onto flags the user did not
// set explicitly. Flags win over the file, the file wins over defaults.
func applyFileConfig(cfg config.Config, addr, weightsDir, defaultModel *string,
	maxResolution, tileSize, tilePad, prePad, quality, requestTimeout, cleanupInterval *int) {
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if !set["addr"] && cfg.Addr != "" {
		*addr = cfg.Addr
	}
	if !set["weights-dir"] && cfg.WeightsDir != "" {
		*weightsDir = cfg.WeightsDir
	}
	if !set["default-model"] && cfg.DefaultModel != "" {
		*defaultModel = cfg.DefaultModel
	}
	if !set["max-resolution"] && cfg.MaxResolution > 0 {
		*maxResolution = cfg.MaxResolution
	}
	if !set["tile-size"] && cfg.TileSize != 0 {
		*tileSize = cfg.TileSize
	}
	if !set["tile-pad"] && cfg.TilePad > 0 {
		*tilePad = cfg.TilePad
	}
	if !set["pre-pad"] && cfg.PrePad > 0 {
		*prePad = cfg.PrePad
	}
	if !set["quality"] && cfg.EncodeQuality > 0 {
		*quality = cfg.EncodeQuality
	}
	if !set["request-timeout-s"] && cfg.RequestTimeoutS > 0 {
		*requestTimeout = cfg.RequestTimeoutS
	}
	if !set["cleanup-interval-s"] && cfg.CleanupIntervalS > 0 {
		*cleanupInterval = cfg.CleanupIntervalS
	}
}

// janitor sweeps multipart scratch files left in the OS temp directory by
// aborted requests (Go names them multipart-*) and partial weight downloads
// that never completed their rename.
func janitor(ctx context.Context, log zerolog.Logger, weightsDir string, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			removed := 0
			if n, err := fsutil.SweepDir(os.TempDir(), "multipart-", interval); err == nil {
				removed += n
			}
			if n, err := fsutil.SweepDir(weightsDir, ".part-", interval); err == nil {
				removed += n
			}
			if removed > 0 {
				log.Info().Int("removed", removed).Msg("scratch sweep")
			}
		}
	}
}
