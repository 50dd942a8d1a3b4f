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
)

// Item is one image queued for appraisal.
type Item struct {
	Index  int
	Source string
	Label  string
}

type listItem struct {
	Image string `json:"image" yaml:"image"`
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
}

// ParseFile reads a list of images. Plain text files hold one path or URL
// per line; .json and .yaml files hold a list of {image, label} objects.
// Relative paths are resolved against the directory of the list file.
func ParseFile(path string) ([]Item, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	var items []Item
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		items, err = ParseJSON(file)
	case ".yaml", ".yml":
		items, err = ParseYAML(file)
	case ".txt", ".list", "":
		items, err = ParseText(file)
	default:
		return nil, fmt.Errorf("unsupported file format %q: use .txt, .json or .yaml", ext)
	}
	if err != nil {
		return nil, err
	}

	base := filepath.Dir(path)
	for i := range items {
		items[i].Source = resolve(base, items[i].Source)
	}
	return items, nil
}

func resolve(base, source string) string {
	if isURL(source) || filepath.IsAbs(source) {
		return source
	}
	return filepath.Join(base, source)
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://")
}

func ParseText(r io.Reader) ([]Item, error) {
	var items []Item
	scanner := bufio.NewScanner(r)
	index := 0

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		index++
		items = append(items, Item{
			Index:  index,
			Source: line,
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	if len(items) == 0 {
		return nil, fmt.Errorf("no images found in file")
	}

	return items, nil
}

func ParseJSON(r io.Reader) ([]Item, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var list []listItem
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	return fromList(list)
}

func ParseYAML(r io.Reader) ([]Item, error) {
	var list []listItem
	if err := yaml.NewDecoder(r).Decode(&list); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return fromList(list)
}

func fromList(list []listItem) ([]Item, error) {
	if len(list) == 0 {
		return nil, fmt.Errorf("no images found in file")
	}

	items := make([]Item, len(list))
	for i, li := range list {
		if strings.TrimSpace(li.Image) == "" {
			return nil, fmt.Errorf("item %d has no image", i+1)
		}
		items[i] = Item{
			Index:  i + 1,
			Source: strings.TrimSpace(li.Image),
			Label:  li.Label,
		}
	}
	return items, nil
}

// FromArgs queues images given on the command line.
func FromArgs(sources []string) []Item {
	items := make([]Item, 0, len(sources))
	for _, s := range sources {
		if s = strings.TrimSpace(s); s != "" {
			items = append(items, Item{Index: len(items) + 1, Source: s})
		}
	}
	return items
}
