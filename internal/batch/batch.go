// Package batch generates suggestion batches for many campaign briefs at once
// and writes each batch to a JSON file.
package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/manash/adcraft/pkg/models"
)

// Generator produces one suggestion batch for a campaign.
type Generator interface {
	GenerateSuggestions(ctx context.Context, in models.AdInput) []models.AdSuggestion
}

// Downloader saves a suggestion's image into a directory.
type Downloader interface {
	SaveSuggestionInDir(ctx context.Context, sug models.AdSuggestion, dir, prefix string) (string, error)
}

type Result struct {
	Index       int
	Label       string
	Path        string
	Suggestions []models.AdSuggestion
	Images      []string
	Error       error
	Duration    time.Duration
}

// WithImages counts suggestions that came back with a generated image.
func (r Result) WithImages() int {
	n := 0
	for _, s := range r.Suggestions {
		if s.HasImage() {
			n++
		}
	}
	return n
}

type Options struct {
	OutputDir      string
	Parallel       int
	StopOnError    bool
	DelayMs        int
	DownloadImages bool
}

type Processor struct {
	gen        Generator
	downloader Downloader
	out        io.Writer
	err        io.Writer
	outMu      sync.Mutex
	now        func() time.Time
}

// NewProcessor builds a Processor. downloader may be nil when images are
// never downloaded.
func NewProcessor(gen Generator, downloader Downloader, out, errOut io.Writer) *Processor {
	return &Processor{
		gen:        gen,
		downloader: downloader,
		out:        out,
		err:        errOut,
		now:        time.Now,
	}
}

func (p *Processor) printf(format string, args ...interface{}) {
	p.outMu.Lock()
	fmt.Fprintf(p.out, format, args...)
	p.outMu.Unlock()
}

func (p *Processor) errorf(format string, args ...interface{}) {
	p.outMu.Lock()
	fmt.Fprintf(p.err, format, args...)
	p.outMu.Unlock()
}

func (p *Processor) Process(ctx context.Context, briefs []Brief, opts *Options) ([]Result, error) {
	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	if opts.Parallel <= 1 {
		return p.processSequential(ctx, briefs, opts)
	}
	return p.processParallel(ctx, briefs, opts)
}

func (p *Processor) processSequential(ctx context.Context, briefs []Brief, opts *Options) ([]Result, error) {
	results := make([]Result, len(briefs))
	total := len(briefs)

	for i, brief := range briefs {
		select {
		case <-ctx.Done():
			return results, ctx.Err()
		default:
		}

		result := p.processBrief(ctx, brief, opts, i+1, total)
		results[i] = result

		if result.Error != nil && opts.StopOnError {
			return results, fmt.Errorf("stopped at brief %d: %w", i+1, result.Error)
		}

		if opts.DelayMs > 0 && i < len(briefs)-1 {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(time.Duration(opts.DelayMs) * time.Millisecond):
			}
		}
	}

	return results, nil
}

func (p *Processor) processParallel(ctx context.Context, briefs []Brief, opts *Options) ([]Result, error) {
	results := make([]Result, len(briefs))
	total := len(briefs)

	type job struct {
		index int
		brief Brief
	}

	jobs := make(chan job, len(briefs))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	workers := min(opts.Parallel, len(briefs))

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				select {
				case <-ctx.Done():
					return
				default:
				}

				result := p.processBrief(ctx, j.brief, opts, j.index+1, total)

				mu.Lock()
				results[j.index] = result
				if result.Error != nil && opts.StopOnError && firstErr == nil {
					firstErr = result.Error
				}
				stop := opts.StopOnError && firstErr != nil
				mu.Unlock()

				if stop {
					return
				}
			}
		}()
	}

	for i, brief := range briefs {
		mu.Lock()
		stop := opts.StopOnError && firstErr != nil
		mu.Unlock()
		if stop {
			break
		}
		jobs <- job{index: i, brief: brief}
	}
	close(jobs)

	wg.Wait()

	if firstErr != nil {
		return results, fmt.Errorf("batch stopped due to error: %w", firstErr)
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

// batchFile is the JSON document written per brief.
type batchFile struct {
	Brief       briefEntry            `json:"brief"`
	GeneratedAt time.Time             `json:"generatedAt"`
	Suggestions []models.AdSuggestion `json:"suggestions"`
}

func (p *Processor) processBrief(ctx context.Context, brief Brief, opts *Options, current, total int) Result {
	start := time.Now()
	result := Result{
		Index: brief.Index,
		Label: brief.Label(),
	}

	p.printf("[%d/%d] Generating: %q...\n", current, total, truncate(result.Label, 50))

	result.Suggestions = p.gen.GenerateSuggestions(ctx, brief.Input)

	doc := batchFile{
		Brief: briefEntry{
			Name:            brief.Name,
			Context:         brief.Input.Context,
			BrandGuidelines: brief.Input.BrandGuidelines,
			LandingPageURL:  brief.Input.LandingPageURL,
			TargetAudience:  brief.Input.Audience(),
			TopicArea:       brief.Input.Topic(),
			Image:           brief.Input.ImageFilename,
		},
		GeneratedAt: p.now().UTC(),
		Suggestions: result.Suggestions,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return p.fail(result, start, fmt.Errorf("encode failed: %w", err))
	}

	result.Path = filepath.Join(opts.OutputDir, generateFilename(brief.Index, result.Label))
	if err := os.WriteFile(result.Path, data, 0644); err != nil {
		return p.fail(result, start, fmt.Errorf("save failed: %w", err))
	}

	if opts.DownloadImages && p.downloader != nil {
		for _, s := range result.Suggestions {
			if !s.HasImage() {
				continue
			}
			prefix := fmt.Sprintf("%03d-%s", brief.Index, s.Platform)
			path, err := p.downloader.SaveSuggestionInDir(ctx, s, opts.OutputDir, prefix)
			if err != nil {
				// The URL is already in the batch file.
				p.errorf("       Warning: image download failed for %s: %v\n", s.Platform.DisplayName(), err)
				continue
			}
			result.Images = append(result.Images, path)
		}
	}

	result.Duration = time.Since(start)
	p.printf("       Saved: %s (%d suggestion(s), %d with image)\n", result.Path, len(result.Suggestions), result.WithImages())
	return result
}

func (p *Processor) fail(result Result, start time.Time, err error) Result {
	result.Error = err
	result.Duration = time.Since(start)
	p.errorf("       Error: %v\n", err)
	return result
}

func generateFilename(index int, label string) string {
	return fmt.Sprintf("%03d-%s.json", index, sanitizeLabel(label))
}

var windowsReservedNames = map[string]bool{
	"con": true, "prn": true, "aux": true, "nul": true,
	"com1": true, "com2": true, "com3": true, "com4": true,
	"com5": true, "com6": true, "com7": true, "com8": true, "com9": true,
	"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true,
	"lpt5": true, "lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9\s-]`)

func sanitizeLabel(label string) string {
	sanitized := unsafeChars.ReplaceAllString(label, "")
	sanitized = strings.ToLower(sanitized)
	sanitized = strings.Join(strings.Fields(sanitized), "-")
	sanitized = strings.TrimLeft(sanitized, "-")

	if len(sanitized) > 50 {
		sanitized = sanitized[:50]
	}
	sanitized = strings.TrimSuffix(sanitized, "-")

	if sanitized == "" {
		sanitized = "campaign"
	}

	if windowsReservedNames[sanitized] {
		sanitized = sanitized + "-ad"
	}

	return sanitized
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func (p *Processor) PrintSummary(results []Result) {
	var successful, failed, suggestions, withImages int
	var errors []Result

	for _, r := range results {
		if r.Error != nil {
			failed++
			errors = append(errors, r)
			continue
		}
		if r.Path == "" {
			continue
		}
		successful++
		suggestions += len(r.Suggestions)
		withImages += r.WithImages()
	}

	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, "Summary:")
	fmt.Fprintf(p.out, "  Successful: %d/%d briefs\n", successful, len(results))
	if failed > 0 {
		fmt.Fprintf(p.out, "  Failed: %d (see errors below)\n", failed)
	}
	fmt.Fprintf(p.out, "  Suggestions: %d (%d with image)\n", suggestions, withImages)

	if len(errors) > 0 {
		fmt.Fprintln(p.out)
		fmt.Fprintln(p.out, "Errors:")
		for _, e := range errors {
			fmt.Fprintf(p.out, "  [%d] %q: %v\n", e.Index, truncate(e.Label, 40), e.Error)
		}
	}
}
