package corpus

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/memoria/internal/models"
)

// topicFile is the on-disk TOML shape for corpus extensions.
// Format:
//
//	[[topics]]
//	name = "Options"
//	keywords = ["option", "call", "put"]
//	  [[topics.items]]
//	  id = "corpus-options-1"
//	  title = "..."
//	  content = "..."
//	  item_type = "definition"
//	  relevance = 0.8
//
//	[[general]]
//	id = "..."
//	...
type topicFile struct {
	Topics []struct {
		Name     string     `toml:"name"`
		Keywords []string   `toml:"keywords"`
		Items    []itemToml `toml:"items"`
	} `toml:"topics"`
	General []itemToml `toml:"general"`
}

type itemToml struct {
	ID        string  `toml:"id"`
	Title     string  `toml:"title"`
	Content   string  `toml:"content"`
	ItemType  string  `toml:"item_type"`
	Relevance float64 `toml:"relevance"`
}

// LoadDir reads corpus extension files (*.toml) from a directory and returns
// provider options appending their topics and general items. Files load in
// lexical order so results stay deterministic across runs.
func LoadDir(dirPath string, logger arbor.ILogger) ([]Option, error) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus directory %s: %w", dirPath, err)
	}

	var opts []Option
	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}
		path := filepath.Join(dirPath, entry.Name())

		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn().Err(err).Str("file", path).Msg("Failed to read corpus file")
			continue
		}

		var file topicFile
		if err := toml.Unmarshal(data, &file); err != nil {
			logger.Warn().Err(err).Str("file", path).Msg("Failed to parse corpus file")
			continue
		}

		for _, t := range file.Topics {
			topic := Topic{Name: t.Name, Keywords: lowerAll(t.Keywords)}
			for _, it := range t.Items {
				topic.Items = append(topic.Items, toModel(it))
			}
			opts = append(opts, WithTopics(topic))
		}
		if len(file.General) > 0 {
			items := make([]models.KnowledgeItem, 0, len(file.General))
			for _, it := range file.General {
				items = append(items, toModel(it))
			}
			opts = append(opts, WithGeneralItems(items...))
		}
		loaded++
	}

	logger.Debug().Int("files", loaded).Str("dir", dirPath).Msg("Loaded corpus extensions")
	return opts, nil
}

func toModel(it itemToml) models.KnowledgeItem {
	rel := it.Relevance
	if rel <= 0 || rel > 1 {
		rel = 0.5
	}
	return models.KnowledgeItem{
		ID:        it.ID,
		Title:     it.Title,
		Content:   it.Content,
		ItemType:  it.ItemType,
		Source:    "offline-corpus",
		Relevance: rel,
		Timestamp: time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
	}
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
