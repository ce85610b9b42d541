// Package main is the entry point for the scored CLI.
// scored runs the scoring engine against local files: it scores a
// performance against a reference, extracts reference rhythm patterns, and
// batch-scores directories of takes through the worker pool.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/Krichev/karaoke/internal/config"
	"github.com/Krichev/karaoke/internal/engine"
	"github.com/Krichev/karaoke/internal/types"
)

// Version is set at build time via ldflags
var Version = "dev"

// Flags holds the parsed command line
type Flags struct {
	ConfigPath string
	DataDir    string
	Verbose    bool

	Mode         string
	Audio        string
	Reference    string
	Challenge    string
	Fingerprints bool
	SilenceDB    float64
	MinInterval  float64
	ToleranceMs  float64
	MinScore     uint
	BatchDir     string
}

func main() {
	flags := parseFlags()

	level := slog.LevelInfo
	if flags.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Debug("scored starting", "version", Version, "mode", flags.Mode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, logger, flags); err != nil {
		logger.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func parseFlags() *Flags {
	flags := &Flags{}

	flag.StringVar(&flags.ConfigPath, "config", "", "Configuration file (default: ~/.config/scored/config.json)")
	flag.StringVar(&flags.DataDir, "data", "", "Data directory for the pattern store (default: ~/.local/share/scored)")
	flag.BoolVar(&flags.Verbose, "verbose", false, "Enable verbose logging")

	flag.StringVar(&flags.Mode, "mode", "score", "Operation: score, extract, or batch")
	flag.StringVar(&flags.Audio, "audio", "", "Performance audio file")
	flag.StringVar(&flags.Reference, "reference", "", "Reference audio file")
	flag.StringVar(&flags.Challenge, "challenge", "SINGING", "Challenge type: SINGING, SOUND_MATCH, RHYTHM_REPEAT, RHYTHM_CREATION")
	flag.BoolVar(&flags.Fingerprints, "fingerprints", false, "Attach per-beat sound fingerprints when extracting")
	flag.Float64Var(&flags.SilenceDB, "silence-db", types.SilenceDefaultDB, "Silence threshold in dBFS for onset detection")
	flag.Float64Var(&flags.MinInterval, "min-interval", types.DefaultMinOnsetIntervalMs, "Minimum onset interval in ms")
	flag.Float64Var(&flags.ToleranceMs, "tolerance", 0, "Per-beat tolerance in ms (0 = derive from the reference)")
	flag.UintVar(&flags.MinScore, "min-score", 0, "Pass threshold for RHYTHM_REPEAT (0 = always pass; other challenges always pass)")
	flag.StringVar(&flags.BatchDir, "dir", "", "Directory of performance takes for batch mode")
	flag.Parse()

	if flags.ConfigPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			flags.ConfigPath = filepath.Join(home, ".config", "scored", "config.json")
		}
	}
	if flags.DataDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			flags.DataDir = filepath.Join(home, ".local", "share", "scored")
		} else {
			flags.DataDir = "."
		}
	}

	return flags
}

func run(ctx context.Context, logger *slog.Logger, flags *Flags) error {
	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return err
	}
	if flags.DataDir != "" {
		cfg.DataDir = flags.DataDir
	}

	orchestrator := engine.NewOrchestrator(logger, cfg)

	switch flags.Mode {
	case "score":
		return runScore(ctx, logger, orchestrator, cfg, flags)
	case "extract":
		return runExtract(ctx, orchestrator, cfg, flags)
	case "batch":
		return runBatch(ctx, logger, orchestrator, cfg, flags)
	default:
		return fmt.Errorf("unknown mode %q", flags.Mode)
	}
}

// runScore scores one performance against the reference.
func runScore(ctx context.Context, logger *slog.Logger, orchestrator *engine.Orchestrator, cfg *config.Config, flags *Flags) error {
	if flags.Audio == "" {
		return fmt.Errorf("score mode requires -audio")
	}

	challenge := types.ParseChallenge(flags.Challenge)
	reference, err := buildReference(ctx, orchestrator, cfg, flags, challenge)
	if err != nil {
		return err
	}

	progress := func(pct uint8, msg string) {
		logger.Info("progress", "percent", pct, "message", msg)
	}

	result, err := orchestrator.Score(ctx, engine.ScoreRequest{
		Audio:     types.FromPath(flags.Audio),
		Reference: reference,
		Challenge: challenge,
		Opts:      scoreOptions(flags),
	}, progress)
	if err != nil {
		logger.Error("scoring failed", "message", engine.FailureMessage(err))
		return err
	}

	return printJSON(result)
}

// runExtract extracts a rhythm pattern from the reference, consulting the
// pattern store first.
func runExtract(ctx context.Context, orchestrator *engine.Orchestrator, cfg *config.Config, flags *Flags) error {
	source := flags.Reference
	if source == "" {
		source = flags.Audio
	}
	if source == "" {
		return fmt.Errorf("extract mode requires -reference or -audio")
	}

	store, err := engine.NewPatternStore(cfg.DataDir)
	if err != nil {
		return err
	}

	if pattern, ok := store.Get(source); ok && (!flags.Fingerprints || pattern.SoundSimilarityEnabled) {
		return printJSON(pattern)
	}

	pattern, err := orchestrator.ExtractRhythmPattern(ctx, types.FromPath(source), flags.SilenceDB, flags.MinInterval, flags.Fingerprints)
	if err != nil {
		return err
	}
	if err := store.Put(source, pattern); err != nil {
		return err
	}

	return printJSON(pattern)
}

// runBatch scores every audio file in a directory against the reference
// through the worker pool.
func runBatch(ctx context.Context, logger *slog.Logger, orchestrator *engine.Orchestrator, cfg *config.Config, flags *Flags) error {
	if flags.BatchDir == "" {
		return fmt.Errorf("batch mode requires -dir")
	}

	challenge := types.ParseChallenge(flags.Challenge)
	reference, err := buildReference(ctx, orchestrator, cfg, flags, challenge)
	if err != nil {
		return err
	}

	takes, err := listAudioFiles(flags.BatchDir)
	if err != nil {
		return err
	}
	if len(takes) == 0 {
		return fmt.Errorf("no audio files in %s", flags.BatchDir)
	}

	var mu sync.Mutex
	var done sync.WaitGroup
	results := make(map[string]engine.Performance, len(takes))

	pool := engine.NewPool(logger, orchestrator, engine.PoolConfig{
		Workers:    cfg.Pool.Workers,
		QueueDepth: len(takes),
		OnResult: func(perf engine.Performance) {
			mu.Lock()
			results[perf.ID] = perf
			mu.Unlock()
			done.Done()
		},
	})
	if err := pool.Start(ctx); err != nil {
		return err
	}

	names := make(map[string]string, len(takes))
	for _, take := range takes {
		done.Add(1)
		id, err := pool.Submit(engine.ScoreRequest{
			Audio:     types.FromPath(take),
			Reference: reference,
			Challenge: challenge,
			Opts:      scoreOptions(flags),
		}, nil)
		if err != nil {
			done.Done()
			logger.Warn("submit failed", "file", take, "error", err)
			continue
		}
		names[id] = take
	}

	done.Wait()
	pool.Close()

	for id, perf := range results {
		line := map[string]any{
			"file":  names[id],
			"state": perf.State,
		}
		if perf.Result != nil {
			line["overallScore"] = perf.Result.OverallScore
			line["feedback"] = perf.Result.Feedback
		} else {
			line["message"] = perf.ProcessingMessage
		}
		if err := printJSON(line); err != nil {
			logger.Warn("print result", "error", err)
		}
	}

	status := pool.Status()
	logger.Info("batch complete", "completed", status.Completed, "failed", status.Failed)
	return nil
}

// buildReference assembles the reference bundle: the reference audio, plus
// an extracted (and cached) pattern for the rhythm-repeat challenge.
func buildReference(ctx context.Context, orchestrator *engine.Orchestrator, cfg *config.Config, flags *Flags, challenge types.ChallengeType) (types.ReferenceBundle, error) {
	var reference types.ReferenceBundle
	if flags.Reference == "" {
		if challenge != types.ChallengeRhythmCreation {
			return reference, fmt.Errorf("challenge %s requires -reference", challenge)
		}
		return reference, nil
	}

	reference.Audio = types.FromPath(flags.Reference)

	if challenge == types.ChallengeRhythmRepeat {
		store, err := engine.NewPatternStore(cfg.DataDir)
		if err != nil {
			return reference, err
		}
		pattern, ok := store.Get(flags.Reference)
		if !ok || !pattern.SoundSimilarityEnabled {
			pattern, err = orchestrator.ExtractRhythmPattern(ctx, reference.Audio, flags.SilenceDB, flags.MinInterval, true)
			if err != nil {
				return reference, err
			}
			if err := store.Put(flags.Reference, pattern); err != nil {
				return reference, err
			}
		}
		reference.RhythmPattern = pattern
	}

	return reference, nil
}

func scoreOptions(flags *Flags) types.ScoreOptions {
	opts := types.ScoreOptions{}
	if flags.ToleranceMs > 0 {
		tol := flags.ToleranceMs
		opts.ToleranceMs = &tol
	}
	if flags.MinScore > 0 {
		threshold := uint32(flags.MinScore)
		opts.MinScore = &threshold
	}
	return opts
}

func listAudioFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".wav", ".mp3", ".ogg", ".m4a", ".aac":
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	return files, nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
