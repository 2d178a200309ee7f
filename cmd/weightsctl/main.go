// weightsctl primes and checks the shared weight cache used by upscaled.
// It is a batch tool: each model is processed independently and the run
// reports per-model success or failure, exiting non-zero if any failed.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"upscaled/internal/registry"
	"upscaled/internal/weights"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	var weightsDir string
	var timeoutS int

	root := &cobra.Command{
		Use:           "weightsctl",
		Short:         "Manage the upscaled model weight cache",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&weightsDir, "weights-dir", "", "weight cache directory (default: temp dir)")
	root.PersistentFlags().IntVar(&timeoutS, "timeout-s", 600, "per-model fetch timeout in seconds")

	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the supported models",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, m := range registry.Builtin() {
				fmt.Printf("%-30s %dx  %s\n", m.ID, m.Arch.Scale, m.URL)
			}
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "prefetch [model...]",
		Short: "Download weights into the cache (all models when none given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := weights.NewStore(weightsDir, log)
			if err != nil {
				return err
			}
			return forEachModel(args, func(cfg registry.ModelConfig) error {
				ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(timeoutS)*time.Second)
				defer cancel()
				path, err := store.Resolve(ctx, cfg)
				if err != nil {
					return err
				}
				log.Info().Str("model", cfg.ID).Str("path", path).Msg("cached")
				return nil
			}, log)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "verify [model...]",
		Short: "Structurally check cached weight files (all models when none given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := weights.NewStore(weightsDir, log)
			if err != nil {
				return err
			}
			return forEachModel(args, func(cfg registry.ModelConfig) error {
				path := store.Path(cfg.ID)
				if err := verifyArtifact(path); err != nil {
					return err
				}
				log.Info().Str("model", cfg.ID).Str("path", path).Msg("ok")
				return nil
			}, log)
		},
	})

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("weightsctl failed")
		os.Exit(1)
	}
}

// forEachModel runs fn for the named models (or all of them), collecting
// failures so one bad model does not stop the batch.
func forEachModel(ids []string, fn func(registry.ModelConfig) error, log zerolog.Logger) error {
	if len(ids) == 0 {
		ids = registry.IDs()
	}
	failed := 0
	for _, id := range ids {
		cfg, ok := registry.Lookup(id)
		if !ok {
			log.Error().Str("model", id).Msg("unknown model")
			failed++
			continue
		}
		if err := fn(cfg); err != nil {
			log.Error().Str("model", id).Err(err).Msg("failed")
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d models failed", failed, len(ids))
	}
	return nil
}

// ONNX artifacts are serialized protobuf ModelProto messages; the first
// field is the ir_version varint, so a valid file starts with tag 0x08.
const onnxVersionTag = 0x08

// minArtifactBytes guards against truncated downloads; the smallest of the
// three networks is tens of megabytes.
const minArtifactBytes = 1 << 20

func verifyArtifact(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("not cached: %w", err)
	}
	if info.Size() < minArtifactBytes {
		return fmt.Errorf("artifact too small: %d bytes", info.Size())
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var head [1]byte
	if _, err := f.Read(head[:]); err != nil {
		return err
	}
	if head[0] != onnxVersionTag {
		return fmt.Errorf("not an ONNX model (leading byte 0x%02x)", head[0])
	}
	return nil
}
