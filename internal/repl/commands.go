package repl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/manash/adcraft/internal/display"
	"github.com/manash/adcraft/internal/session"
	"github.com/manash/adcraft/internal/webhook"
	"github.com/manash/adcraft/pkg/models"
)

type Command interface {
	Name() string
	Aliases() []string
	Description() string
	Usage() string
	Execute(ctx context.Context, r *REPL, args []string) error
}

// RawCommand receives the text after the command name unparsed, so quotes and
// apostrophes in free text survive.
type RawCommand interface {
	Command
	ExecuteRaw(ctx context.Context, r *REPL, text string) error
}

func allCommands() []Command {
	return []Command{
		&InputCommand{},
		&ImageCommand{},
		&GenerateCommand{},
		&ListCommand{},
		&SelectCommand{},
		&ChatCommand{},
		&TranscriptCommand{},
		&SaveCommand{},
		&DownloadCommand{},
		&ShowCommand{},
		&EnhanceCommand{},
		&HistoryCommand{},
		&RecentCommand{},
		&CloseCommand{},
		&ResetCommand{},
		&HelpCommand{},
		&QuitCommand{},
	}
}

func (r *REPL) registerCommands() {
	for _, cmd := range allCommands() {
		r.commands[cmd.Name()] = cmd
		for _, alias := range cmd.Aliases() {
			r.commands[alias] = cmd
		}
	}
}

// InputCommand edits the campaign form
type InputCommand struct{}

func (c *InputCommand) Name() string        { return "input" }
func (c *InputCommand) Aliases() []string   { return []string{"set"} }
func (c *InputCommand) Description() string { return "Show or set a campaign field" }
func (c *InputCommand) Usage() string {
	return "input [context|brand|landing|audience|topic <value>]"
}

func (c *InputCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	return c.ExecuteRaw(ctx, r, strings.Join(args, " "))
}

func (c *InputCommand) ExecuteRaw(_ context.Context, r *REPL, text string) error {
	if text == "" {
		c.show(r)
		return nil
	}

	field, value, _ := strings.Cut(text, " ")
	value = unquote(strings.TrimSpace(value))

	switch strings.ToLower(field) {
	case "context":
		r.input.Context = value
	case "brand", "brand_guidelines":
		r.input.BrandGuidelines = value
	case "landing", "url", "landing_page_url":
		r.input.LandingPageURL = value
	case "audience", "target_audience":
		r.input.TargetAudience = value
	case "topic", "topic_area":
		r.input.TopicArea = value
	default:
		return fmt.Errorf("unknown field: %s\nUsage: %s", field, c.Usage())
	}

	fmt.Fprintf(r.out, "Set %s.\n", strings.ToLower(field))
	return nil
}

func (c *InputCommand) show(r *REPL) {
	in := &r.input
	fmt.Fprintf(r.out, "Context:         %s\n", orDash(in.Context))
	fmt.Fprintf(r.out, "Brand:           %s\n", orDash(in.BrandGuidelines))
	fmt.Fprintf(r.out, "Landing page:    %s\n", orDash(in.LandingPageURL))
	fmt.Fprintf(r.out, "Target audience: %s\n", in.Audience())
	fmt.Fprintf(r.out, "Topic area:      %s\n", in.Topic())
	if in.HasImage() {
		fmt.Fprintf(r.out, "Image:           %s (%s)\n", in.ImageFilename, humanize.IBytes(uint64(len(in.Image))))
	} else {
		fmt.Fprintln(r.out, "Image:           -")
	}
}

// ImageCommand attaches a source image to the campaign
type ImageCommand struct{}

func (c *ImageCommand) Name() string        { return "image" }
func (c *ImageCommand) Aliases() []string   { return []string{"img"} }
func (c *ImageCommand) Description() string { return "Attach a source image (or 'clear')" }
func (c *ImageCommand) Usage() string       { return "image <path>|clear" }

func (c *ImageCommand) Execute(_ context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: %s", c.Usage())
	}

	if strings.ToLower(args[0]) == "clear" {
		r.input.Image = nil
		r.input.ImageFilename = ""
		fmt.Fprintln(r.out, "Image cleared.")
		return nil
	}

	path := args[0]
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}
	if info.Size() > models.MaxUploadBytes {
		return fmt.Errorf("%w: %s > %s", models.ErrImageTooLarge,
			humanize.IBytes(uint64(info.Size())), humanize.IBytes(models.MaxUploadBytes))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}
	mime, err := models.ValidateImageFile(data, models.MaxUploadBytes)
	if err != nil {
		return err
	}

	r.input.Image = data
	r.input.ImageFilename = info.Name()
	fmt.Fprintf(r.out, "Attached %s (%s, %s)\n", info.Name(), mime, humanize.IBytes(uint64(len(data))))
	return nil
}

// GenerateCommand requests a new suggestion batch
type GenerateCommand struct{}

func (c *GenerateCommand) Name() string        { return "generate" }
func (c *GenerateCommand) Aliases() []string   { return []string{"gen", "g"} }
func (c *GenerateCommand) Description() string { return "Generate ad suggestions from the campaign input" }
func (c *GenerateCommand) Usage() string       { return "generate" }

func (c *GenerateCommand) Execute(ctx context.Context, r *REPL, _ []string) error {
	if err := r.input.Validate(); err != nil {
		return err
	}

	if r.input.HasImage() && r.images != nil {
		url, err := r.images.UploadSourceImage(ctx, r.input.Image, r.input.ImageFilename)
		if err != nil {
			fmt.Fprintf(r.err, "Warning: failed to upload source image: %v\n", err)
		} else {
			fmt.Fprintf(r.out, "Uploaded source image: %s\n", url)
		}
	}

	fmt.Fprintln(r.out, "Generating suggestions...")
	batch := r.service.GenerateSuggestions(ctx, r.input)

	r.sessionMgr.Close()
	if err := r.suggestions.Load(batch); err != nil {
		return fmt.Errorf("invalid suggestions: %w", err)
	}

	fmt.Fprintf(r.out, "Generated %d suggestion(s).\n\n", len(batch))
	listSuggestions(r)
	return nil
}

// ListCommand shows the current suggestions by platform
type ListCommand struct{}

func (c *ListCommand) Name() string        { return "list" }
func (c *ListCommand) Aliases() []string   { return []string{"ls", "l"} }
func (c *ListCommand) Description() string { return "List suggestions grouped by platform" }
func (c *ListCommand) Usage() string       { return "list" }

func (c *ListCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	if r.suggestions.Len() == 0 {
		fmt.Fprintln(r.out, "No suggestions yet. Use 'generate' first.")
		return nil
	}
	listSuggestions(r)
	return nil
}

func listSuggestions(r *REPL) {
	all := r.suggestions.All()
	index := make(map[string]int, len(all))
	for i, s := range all {
		index[s.ID] = i + 1
	}
	selected := r.sessionMgr.SelectedID()
	parts := r.suggestions.Partition()

	for _, p := range models.ValidPlatforms() {
		group := parts[p]
		if len(group) == 0 {
			continue
		}
		fmt.Fprintf(r.out, "%s\n", p.DisplayName())
		for _, s := range group {
			marker := " "
			if s.ID == selected {
				marker = "*"
			}
			fmt.Fprintf(r.out, "%s %d. %s\n", marker, index[s.ID], s.Headline)
			fmt.Fprintf(r.out, "     %s\n", s.Description)
			fmt.Fprintf(r.out, "     Dimensions: %s\n", s.Dimensions)
			if s.HasImage() {
				fmt.Fprintf(r.out, "     Image: %s\n", s.GeneratedImageURL)
			} else {
				fmt.Fprintf(r.out, "     Image idea: %s\n", s.ImageRecommendation)
			}
		}
		fmt.Fprintln(r.out)
	}
}

// resolveSuggestion accepts a 1-based list number or a suggestion id.
func resolveSuggestion(r *REPL, ref string) (models.AdSuggestion, error) {
	if n, err := strconv.Atoi(ref); err == nil {
		all := r.suggestions.All()
		if n < 1 || n > len(all) {
			return models.AdSuggestion{}, fmt.Errorf("no suggestion #%d (have %d)", n, len(all))
		}
		return all[n-1], nil
	}
	s, ok := r.suggestions.Get(ref)
	if !ok {
		return models.AdSuggestion{}, fmt.Errorf("%w: %s", session.ErrSuggestionNotFound, ref)
	}
	return s, nil
}

// SelectCommand opens a refinement chat on a suggestion
type SelectCommand struct{}

func (c *SelectCommand) Name() string        { return "select" }
func (c *SelectCommand) Aliases() []string   { return []string{"sel", "open"} }
func (c *SelectCommand) Description() string { return "Select a suggestion to refine" }
func (c *SelectCommand) Usage() string       { return "select <number|id>" }

func (c *SelectCommand) Execute(_ context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: %s", c.Usage())
	}

	s, err := resolveSuggestion(r, args[0])
	if err != nil {
		return err
	}
	if err := r.sessionMgr.Select(s.ID); err != nil {
		return err
	}

	fmt.Fprintf(r.out, "Selected %s: %s\n", s.Platform.DisplayName(), s.Headline)
	if s.HasImage() {
		fmt.Fprintf(r.out, "Current image: %s\n", s.GeneratedImageURL)
	}
	fmt.Fprintln(r.out)
	r.printMessages(r.sessionMgr.Messages())
	return nil
}

// ChatCommand sends a refinement instruction
type ChatCommand struct{}

func (c *ChatCommand) Name() string        { return "chat" }
func (c *ChatCommand) Aliases() []string   { return []string{"say", "c"} }
func (c *ChatCommand) Description() string { return "Ask for a change to the selected image" }
func (c *ChatCommand) Usage() string       { return "chat <instruction>" }

func (c *ChatCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	return c.ExecuteRaw(ctx, r, strings.Join(args, " "))
}

func (c *ChatCommand) ExecuteRaw(ctx context.Context, r *REPL, text string) error {
	if text == "" {
		return fmt.Errorf("usage: %s", c.Usage())
	}

	before := len(r.sessionMgr.Messages())
	round, err := r.sessionMgr.Submit(ctx, text)
	if err != nil {
		if errors.Is(err, session.ErrNoImage) || errors.Is(err, session.ErrSuggestionNotFound) {
			r.printReplies(before)
			return nil
		}
		if errors.Is(err, session.ErrNoSelection) {
			return fmt.Errorf("%w - use 'select' first", err)
		}
		return err
	}

	fmt.Fprintln(r.out, "Refining image...")
	select {
	case <-round.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	r.printReplies(before)
	return nil
}

// printReplies prints the AI messages appended after the first before messages.
func (r *REPL) printReplies(before int) {
	msgs := r.sessionMgr.Messages()
	if before > len(msgs) {
		return
	}
	for _, m := range msgs[before:] {
		if m.Sender == models.SenderAI {
			r.printMessage(m)
		}
	}
}

// TranscriptCommand prints the conversation so far
type TranscriptCommand struct{}

func (c *TranscriptCommand) Name() string        { return "transcript" }
func (c *TranscriptCommand) Aliases() []string   { return []string{"t", "log"} }
func (c *TranscriptCommand) Description() string { return "Show the refinement conversation" }
func (c *TranscriptCommand) Usage() string       { return "transcript" }

func (c *TranscriptCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	msgs := r.sessionMgr.Messages()
	if len(msgs) == 0 {
		fmt.Fprintln(r.out, "No conversation. Use 'select' to start one.")
		return nil
	}
	r.printMessages(msgs)
	return nil
}

// SaveCommand records the current image in the image history
type SaveCommand struct{}

func (c *SaveCommand) Name() string        { return "save" }
func (c *SaveCommand) Aliases() []string   { return []string{"s"} }
func (c *SaveCommand) Description() string { return "Save the current image to the image history" }
func (c *SaveCommand) Usage() string       { return "save" }

func (c *SaveCommand) Execute(ctx context.Context, r *REPL, _ []string) error {
	id, err := r.sessionMgr.Save(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Saved image (record %s)\n", id)
	return nil
}

// ShowCommand previews an image inline
type ShowCommand struct{}

func (c *ShowCommand) Name() string        { return "show" }
func (c *ShowCommand) Aliases() []string   { return []string{"view"} }
func (c *ShowCommand) Description() string { return "Preview the selected (or given) suggestion's image" }
func (c *ShowCommand) Usage() string       { return "show [number|id]" }

func (c *ShowCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	var s models.AdSuggestion
	if len(args) > 0 {
		found, err := resolveSuggestion(r, args[0])
		if err != nil {
			return err
		}
		s = found
	} else {
		sel, ok := r.sessionMgr.Selected()
		if !ok {
			return fmt.Errorf("%w - use 'select' first or pass a number", session.ErrNoSelection)
		}
		s = sel
	}

	if !s.HasImage() {
		fmt.Fprintf(r.out, "No image yet. Image idea: %s\n", s.ImageRecommendation)
		return nil
	}

	err := r.displayer.ShowSuggestion(ctx, s)
	if errors.Is(err, display.ErrUnsupported) {
		fmt.Fprintf(r.out, "Image: %s\n", s.GeneratedImageURL)
		r.dimColor.Fprintln(r.out, "(inline preview needs a Kitty-compatible terminal)")
		return nil
	}
	return err
}

// DownloadCommand writes the current image to a local file
type DownloadCommand struct{}

func (c *DownloadCommand) Name() string        { return "download" }
func (c *DownloadCommand) Aliases() []string   { return []string{"dl"} }
func (c *DownloadCommand) Description() string { return "Download the current image to a file" }
func (c *DownloadCommand) Usage() string       { return "download [path]" }

func (c *DownloadCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	sel, ok := r.sessionMgr.Selected()
	if !ok {
		return fmt.Errorf("%w - use 'select' first", session.ErrNoSelection)
	}

	dest := ""
	if len(args) > 0 {
		dest = args[0]
	}

	path, err := r.saver.SaveSuggestion(ctx, sel, dest)
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	fmt.Fprintf(r.out, "Downloaded: %s\n", path)
	return nil
}

// EnhanceCommand runs the enhancement function on the current image
type EnhanceCommand struct{}

func (c *EnhanceCommand) Name() string        { return "enhance" }
func (c *EnhanceCommand) Aliases() []string   { return []string{"enh"} }
func (c *EnhanceCommand) Description() string { return "Enhance the current image for the target audience" }
func (c *EnhanceCommand) Usage() string       { return "enhance" }

func (c *EnhanceCommand) Execute(ctx context.Context, r *REPL, _ []string) error {
	sel, ok := r.sessionMgr.Selected()
	if !ok {
		return fmt.Errorf("%w - use 'select' first", session.ErrNoSelection)
	}
	if !sel.HasImage() {
		return session.ErrNoImage
	}

	fmt.Fprintln(r.out, "Enhancing image...")
	res, err := r.service.EnhanceImage(ctx, webhook.EnhanceRequest{
		ImageURL:       sel.GeneratedImageURL,
		TargetAudience: r.input.Audience(),
		TopicArea:      r.input.Topic(),
	})
	if err != nil {
		return err
	}

	if _, err := r.sessionMgr.ApplyImage(res.EnhancedImageURL, res.Prompt, "Enhance image"); err != nil {
		return err
	}
	msgs := r.sessionMgr.Messages()
	if len(msgs) > 0 {
		r.printMessage(msgs[len(msgs)-1])
	}
	return nil
}

// HistoryCommand lists stored versions of a suggestion's image
type HistoryCommand struct{}

func (c *HistoryCommand) Name() string        { return "history" }
func (c *HistoryCommand) Aliases() []string   { return []string{"h", "hist"} }
func (c *HistoryCommand) Description() string { return "List saved image versions of a suggestion" }
func (c *HistoryCommand) Usage() string       { return "history [number|id]" }

func (c *HistoryCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if r.images == nil {
		return session.ErrNoPersister
	}

	id := r.sessionMgr.SelectedID()
	if len(args) > 0 {
		s, err := resolveSuggestion(r, args[0])
		if err != nil {
			// Not in the current batch; treat it as a stored suggestion id.
			id = args[0]
		} else {
			id = s.ID
		}
	}
	if id == "" {
		return fmt.Errorf("usage: %s", c.Usage())
	}

	records, err := r.images.ListGeneratedImagesForSuggestion(ctx, id)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(r.out, "No saved images for this suggestion.")
		return nil
	}

	fmt.Fprintf(r.out, "Image history (%d version(s)):\n", len(records))
	for i, rec := range records {
		fmt.Fprintf(r.out, "  %d. %s  [%s]  %s\n", i+1, humanize.Time(rec.CreatedAt), orDash(rec.Metadata.Source), rec.ImageURL)
		if rec.ChatMessage != "" {
			fmt.Fprintf(r.out, "     Instruction: %s\n", truncate(rec.ChatMessage, 70))
		}
		if rec.Prompt != "" {
			fmt.Fprintf(r.out, "     Prompt: %s\n", truncate(rec.Prompt, 70))
		}
	}
	return nil
}

// RecentCommand lists the newest images across all suggestions
type RecentCommand struct{}

func (c *RecentCommand) Name() string        { return "recent" }
func (c *RecentCommand) Aliases() []string   { return []string{"r"} }
func (c *RecentCommand) Description() string { return "List recently saved images" }
func (c *RecentCommand) Usage() string       { return "recent [limit]" }

func (c *RecentCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if r.images == nil {
		return session.ErrNoPersister
	}

	limit := 10
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid limit: %s", args[0])
		}
		limit = n
	}

	records, err := r.images.ListRecentGeneratedImages(ctx, limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(r.out, "No saved images yet.")
		return nil
	}

	for _, rec := range records {
		fmt.Fprintf(r.out, "%-8s  %-8s  %-14s  %s\n",
			shortID(rec.SuggestionID), rec.Platform, humanize.Time(rec.CreatedAt), truncate(rec.Metadata.Headline, 40))
		fmt.Fprintf(r.out, "          %s\n", rec.ImageURL)
	}
	return nil
}

// CloseCommand ends the refinement chat
type CloseCommand struct{}

func (c *CloseCommand) Name() string        { return "close" }
func (c *CloseCommand) Aliases() []string   { return []string{"done"} }
func (c *CloseCommand) Description() string { return "Close the refinement chat" }
func (c *CloseCommand) Usage() string       { return "close" }

func (c *CloseCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	if !r.sessionMgr.HasSelection() {
		fmt.Fprintln(r.out, "No open chat.")
		return nil
	}
	r.sessionMgr.Close()
	fmt.Fprintln(r.out, "Chat closed.")
	return nil
}

// ResetCommand starts over
type ResetCommand struct{}

func (c *ResetCommand) Name() string        { return "reset" }
func (c *ResetCommand) Aliases() []string   { return []string{"startover"} }
func (c *ResetCommand) Description() string { return "Start over: clear input, suggestions and chat" }
func (c *ResetCommand) Usage() string       { return "reset" }

func (c *ResetCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	r.sessionMgr.Close()
	r.suggestions.Clear()
	r.input.Reset()
	fmt.Fprintln(r.out, "Started over.")
	return nil
}

// HelpCommand shows available commands
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Aliases() []string   { return []string{"?"} }
func (c *HelpCommand) Description() string { return "Show available commands" }
func (c *HelpCommand) Usage() string       { return "help" }

func (c *HelpCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	fmt.Fprintln(r.out, "Available commands:")
	fmt.Fprintln(r.out)

	for _, cmd := range allCommands() {
		aliases := ""
		if len(cmd.Aliases()) > 0 {
			aliases = fmt.Sprintf(" (%s)", strings.Join(cmd.Aliases(), ", "))
		}
		fmt.Fprintf(r.out, "  %-24s%s\n", cmd.Name()+aliases, cmd.Description())
		fmt.Fprintf(r.out, "  %-24sUsage: %s\n", "", cmd.Usage())
	}

	return nil
}

// QuitCommand exits the REPL
type QuitCommand struct{}

func (c *QuitCommand) Name() string        { return "quit" }
func (c *QuitCommand) Aliases() []string   { return []string{"exit", "q"} }
func (c *QuitCommand) Description() string { return "Exit interactive mode" }
func (c *QuitCommand) Usage() string       { return "quit" }

func (c *QuitCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	fmt.Fprintln(r.out, "Goodbye!")
	r.Stop()
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// unquote strips one pair of matching surrounding quotes.
func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
