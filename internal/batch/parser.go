package batch

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/manash/adcraft/pkg/models"
)

var ErrNoBriefs = errors.New("no briefs found in file")

// Brief is one campaign of a batch file.
type Brief struct {
	Index int
	Name  string
	Input models.AdInput
}

// Label names the brief in progress output and file names.
func (b Brief) Label() string {
	if b.Name != "" {
		return b.Name
	}
	return b.Input.Context
}

type briefEntry struct {
	Name            string `yaml:"name" json:"name,omitempty"`
	Context         string `yaml:"context" json:"context"`
	BrandGuidelines string `yaml:"brand_guidelines" json:"brand_guidelines,omitempty"`
	LandingPageURL  string `yaml:"landing_page_url" json:"landing_page_url,omitempty"`
	TargetAudience  string `yaml:"target_audience" json:"target_audience,omitempty"`
	TopicArea       string `yaml:"topic_area" json:"topic_area,omitempty"`
	Image           string `yaml:"image" json:"image,omitempty"`
}

// ParseFile reads briefs from a .yaml, .json or .txt file. Image paths are
// resolved relative to the file.
func ParseFile(path string) ([]Brief, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	baseDir := filepath.Dir(path)

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return ParseYAML(file, baseDir)
	case ".json":
		return ParseJSON(file, baseDir)
	case ".txt", "":
		return ParseText(file)
	default:
		return nil, fmt.Errorf("unsupported file format %q: use .yaml, .json or .txt", ext)
	}
}

// ParseText treats every non-empty, non-comment line as a campaign context.
func ParseText(r io.Reader) ([]Brief, error) {
	var briefs []Brief
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		briefs = append(briefs, Brief{
			Index: len(briefs) + 1,
			Input: models.AdInput{Context: line},
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(briefs) == 0 {
		return nil, ErrNoBriefs
	}
	return briefs, nil
}

func ParseYAML(r io.Reader, baseDir string) ([]Brief, error) {
	var entries []briefEntry
	if err := yaml.NewDecoder(r).Decode(&entries); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoBriefs
		}
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return toBriefs(entries, baseDir)
}

func ParseJSON(r io.Reader, baseDir string) ([]Brief, error) {
	var entries []briefEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	return toBriefs(entries, baseDir)
}

func toBriefs(entries []briefEntry, baseDir string) ([]Brief, error) {
	if len(entries) == 0 {
		return nil, ErrNoBriefs
	}

	briefs := make([]Brief, len(entries))
	for i, e := range entries {
		b := Brief{
			Index: i + 1,
			Name:  strings.TrimSpace(e.Name),
			Input: models.AdInput{
				Context:         strings.TrimSpace(e.Context),
				BrandGuidelines: e.BrandGuidelines,
				LandingPageURL:  e.LandingPageURL,
				TargetAudience:  e.TargetAudience,
				TopicArea:       e.TopicArea,
			},
		}

		if e.Image != "" {
			imgPath := e.Image
			if !filepath.IsAbs(imgPath) {
				imgPath = filepath.Join(baseDir, imgPath)
			}
			data, err := os.ReadFile(imgPath)
			if err != nil {
				return nil, fmt.Errorf("brief %d: failed to read image: %w", i+1, err)
			}
			b.Input.Image = data
			b.Input.ImageFilename = filepath.Base(imgPath)
		}

		if err := b.Input.Validate(); err != nil {
			return nil, fmt.Errorf("brief %d: %w", i+1, err)
		}
		briefs[i] = b
	}
	return briefs, nil
}
