// Command synthv-batch renders a list of video prompts from a YAML file, one after another.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"synthv/pkg/artifact"
	"synthv/pkg/config"
	"synthv/pkg/credential"
	"synthv/pkg/generation"
	"synthv/pkg/llm"
	"synthv/pkg/llm/gemini"
	"synthv/pkg/llm/imageutil"
	"synthv/pkg/model"
	"synthv/pkg/request"
	"synthv/pkg/session"
	"synthv/pkg/tracker"
)

// BatchFile is the YAML input.
type BatchFile struct {
	Items []BatchEntry `yaml:"items"`
}

// BatchEntry is one prompt with an optional reference image path, relative to the batch file.
type BatchEntry struct {
	ID     string `yaml:"id"`
	Prompt string `yaml:"prompt"`
	Image  string `yaml:"image"`
}

// errBatchFailed marks a batch that ran but had failed items.
var errBatchFailed = errors.New("batch completed with errors")

type options struct {
	configPath string
	batchPath  string
	outDir     string
	key        string
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "configs/synthv.yaml", "Path to the config file")
	flag.StringVar(&opts.batchPath, "file", "batch.yaml", "Batch file with the prompts to render")
	flag.StringVar(&opts.outDir, "out", "out", "Directory the videos are written to")
	flag.StringVar(&opts.key, "key", "", "API key (defaults to GEMINI_API_KEY / API_KEY)")
	flag.Parse()

	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	fallback := credential.EnvSource{Keys: cfg.Gemini.EnvKeys}
	tr := tracker.New()
	dial := gemini.NewDialer(cfg.Gemini, cfg.Log.Prompts.Path, tr)

	if err := run(ctx, cfg, opts, dial, fallback, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, opts options, dial llm.Dialer, fallback credential.Source, stdout io.Writer) error {
	inputs, err := loadBatch(opts.batchPath, int64(cfg.Reference.MaxSize))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	reg := artifact.NewRegistry()
	jobs := &generation.Orchestrator{
		Dial:     dial,
		Fetcher:  &generation.Fetcher{Client: request.New(tracker.New(), cfg.Request.Timeout.Std()), Registry: reg},
		Registry: reg,
		Poller:   generation.NewPoller(cfg.Poll),
		Fallback: fallback,
	}
	coord := &generation.Coordinator{Jobs: jobs}

	sess := session.New(uuid.NewString(), reg)
	defer sess.Close()
	sess.SetCredential(opts.key)

	updates, cancel := sess.Subscribe()
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		printProgress(stdout, updates)
	}()

	res, err := coord.RunAll(ctx, sess, inputs)
	cancel()
	<-printed
	if err != nil {
		return fmt.Errorf("batch failed: %s", generation.UserMessage(err))
	}

	fmt.Fprintln(stdout)
	for _, o := range res.Outcomes {
		if o.Err != nil {
			fmt.Fprintf(stdout, "  %-20s FAILED  %s\n", o.ID, generation.UserMessage(o.Err))
			continue
		}
		path, err := writeVideo(reg, opts.outDir, o)
		if err != nil {
			slog.Error("Failed to write video", "id", o.ID, "error", err)
			fmt.Fprintf(stdout, "  %-20s FAILED  %v\n", o.ID, err)
			continue
		}
		fmt.Fprintf(stdout, "  %-20s OK      %s\n", o.ID, path)
	}
	fmt.Fprintln(stdout, res.Message)

	if !res.BatchSucceeded {
		return errBatchFailed
	}
	return nil
}

func printProgress(w io.Writer, updates <-chan model.GenerationState) {
	last := ""
	for st := range updates {
		if st.Message == last {
			continue
		}
		last = st.Message
		fmt.Fprintf(w, "[%3d%%] %s\n", st.Progress, st.Message)
	}
}

func writeVideo(reg *artifact.Registry, dir string, o generation.Outcome) (string, error) {
	if o.Artifact == nil || len(o.Artifact.Handles) == 0 {
		return "", errors.New("no video returned")
	}
	data, _, err := reg.Open(o.Artifact.Handles[0].ID)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, o.ID+".mp4")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// loadBatch reads the batch file and prepares each reference image.
func loadBatch(path string, maxRef int64) ([]model.BatchInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch file: %w", err)
	}
	var file BatchFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse batch file: %w", err)
	}

	base := filepath.Dir(path)
	inputs := make([]model.BatchInput, 0, len(file.Items))
	for i, it := range file.Items {
		if it.ID != "" && !validID(it.ID) {
			return nil, fmt.Errorf("item %d: id %q must be a plain file name", i+1, it.ID)
		}
		in := model.BatchInput{ID: it.ID, Prompt: it.Prompt}
		if it.Image != "" {
			imgPath := it.Image
			if !filepath.IsAbs(imgPath) {
				imgPath = filepath.Join(base, imgPath)
			}
			raw, err := os.ReadFile(imgPath)
			if err != nil {
				return nil, fmt.Errorf("item %d: failed to read image: %w", i+1, err)
			}
			ref, err := imageutil.PrepareReference(raw, maxRef)
			if err != nil {
				return nil, fmt.Errorf("item %d: %s: %w", i+1, it.Image, err)
			}
			in.Reference = ref
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}

// validID reports whether id can name a file directly inside the output directory.
func validID(id string) bool {
	return id != "." && id != ".." && !strings.ContainsAny(id, `/\`) && filepath.Base(id) == id
}
