package repl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/manash/adcraft/internal/display"
	"github.com/manash/adcraft/internal/image"
	"github.com/manash/adcraft/internal/session"
	"github.com/manash/adcraft/internal/suggestion"
	"github.com/manash/adcraft/internal/webhook"
	"github.com/manash/adcraft/pkg/models"
)

// SuggestionService produces suggestion batches and enhanced images.
type SuggestionService interface {
	GenerateSuggestions(ctx context.Context, in models.AdInput) []models.AdSuggestion
	EnhanceImage(ctx context.Context, req webhook.EnhanceRequest) (*webhook.EnhanceResult, error)
}

// ImageStore is the part of the image store the REPL reads and uploads to.
type ImageStore interface {
	UploadSourceImage(ctx context.Context, data []byte, filename string) (string, error)
	ListGeneratedImagesForSuggestion(ctx context.Context, suggestionID string) ([]*models.GeneratedImageRecord, error)
	ListRecentGeneratedImages(ctx context.Context, limit int) ([]*models.GeneratedImageRecord, error)
}

type REPL struct {
	in          io.Reader
	out         io.Writer
	err         io.Writer
	service     SuggestionService
	suggestions *suggestion.Set
	sessionMgr  *session.Manager
	images      ImageStore
	saver       *image.Saver
	displayer   *display.Displayer
	input       models.AdInput
	commands    map[string]Command
	running     bool

	userColor *color.Color
	aiColor   *color.Color
	dimColor  *color.Color
}

type Config struct {
	In          io.Reader
	Out         io.Writer
	Err         io.Writer
	Service     SuggestionService
	Suggestions *suggestion.Set
	SessionMgr  *session.Manager
	Images      ImageStore
	Saver       *image.Saver
	Displayer   *display.Displayer
}

func New(cfg *Config) *REPL {
	r := &REPL{
		in:          cfg.In,
		out:         cfg.Out,
		err:         cfg.Err,
		service:     cfg.Service,
		suggestions: cfg.Suggestions,
		sessionMgr:  cfg.SessionMgr,
		images:      cfg.Images,
		saver:       cfg.Saver,
		displayer:   cfg.Displayer,
		commands:    make(map[string]Command),
		userColor:   color.New(color.FgGreen, color.Bold),
		aiColor:     color.New(color.FgCyan, color.Bold),
		dimColor:    color.New(color.Faint),
	}
	r.registerCommands()
	return r
}

// NewNotifier prints background notices, such as failed history writes, to w.
func NewNotifier(w io.Writer) session.Notifier {
	var mu sync.Mutex
	errColor := color.New(color.FgRed)
	infoColor := color.New(color.FgYellow)
	return session.NotifierFunc(func(level session.NoticeLevel, message string) {
		mu.Lock()
		defer mu.Unlock()
		c := infoColor
		if level == session.NoticeError {
			c = errColor
		}
		c.Fprintf(w, "\n[notice] %s\n", message)
	})
}

func (r *REPL) Run(ctx context.Context) error {
	r.running = true
	r.printWelcome()

	scanner := bufio.NewScanner(r.in)
	for r.running {
		r.printPrompt()
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if err := r.execute(ctx, line); err != nil {
			fmt.Fprintf(r.err, "Error: %v\n", err)
		}
	}

	return scanner.Err()
}

func (r *REPL) execute(ctx context.Context, line string) error {
	name, rest, _ := strings.Cut(line, " ")
	cmdName := strings.ToLower(name)

	cmd, ok := r.commands[cmdName]
	if !ok {
		return fmt.Errorf("unknown command: %s (type 'help' for available commands)", cmdName)
	}

	if raw, ok := cmd.(RawCommand); ok {
		return raw.ExecuteRaw(ctx, r, strings.TrimSpace(rest))
	}
	return cmd.Execute(ctx, r, parseCommand(rest))
}

func (r *REPL) Stop() {
	r.running = false
}

func (r *REPL) printWelcome() {
	fmt.Fprintln(r.out, "adcraft interactive mode")
	fmt.Fprintln(r.out, "Set your campaign with 'input', then 'generate'. Type 'help' for commands, 'quit' to exit.")
	fmt.Fprintln(r.out)
}

func (r *REPL) printPrompt() {
	sel, ok := r.sessionMgr.Selected()
	if !ok {
		fmt.Fprint(r.out, "adcraft> ")
		return
	}
	fmt.Fprintf(r.out, "adcraft [%s: %s]> ", sel.Platform, truncate(sel.Headline, 30))
}

func (r *REPL) printMessage(m models.ChatMessage) {
	if m.Sender == models.SenderUser {
		r.userColor.Fprint(r.out, "You: ")
	} else {
		r.aiColor.Fprint(r.out, "AI:  ")
	}
	fmt.Fprintln(r.out, m.Content)
	if m.ImageURL != "" {
		r.dimColor.Fprintf(r.out, "     Image: %s\n", m.ImageURL)
	}
}

func (r *REPL) printMessages(msgs []models.ChatMessage) {
	for _, m := range msgs {
		r.printMessage(m)
	}
}

func parseCommand(line string) []string {
	var parts []string
	var current strings.Builder
	inQuotes := false
	quoteChar := rune(0)

	for _, ch := range line {
		switch {
		case ch == '"' || ch == '\'':
			if inQuotes && ch == quoteChar {
				inQuotes = false
				quoteChar = 0
			} else if !inQuotes {
				inQuotes = true
				quoteChar = ch
			} else {
				current.WriteRune(ch)
			}
		case ch == ' ' && !inQuotes:
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(ch)
		}
	}

	if current.Len() > 0 {
		parts = append(parts, current.String())
	}

	return parts
}
