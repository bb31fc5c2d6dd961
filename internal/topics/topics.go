// Package topics loads topic definitions from YAML configuration.
package topics

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"trender/internal/core"
	"trender/internal/logger"
)

// Defaults applied to topic fields left unset in the configuration.
const (
	DefaultCadenceMinutes = 60
	DefaultMaxPostsPerRun = 20
	DefaultBoostFactor    = 1.0
	DefaultMinScore       = 0.1
	DefaultPriority       = 1.0
)

type topicsFile struct {
	Topics []rawTopic `yaml:"topics"`
}

// rawTopic mirrors core.TopicConfig with pointer fields where absence and
// zero must be told apart.
type rawTopic struct {
	Name           string   `yaml:"name"`
	TopicKey       string   `yaml:"topic_key"`
	Key            string   `yaml:"key"` // Accepted alias for topic_key
	Queries        []string `yaml:"queries"`
	AllowDomains   []string `yaml:"allow_domains"`
	Lang           string   `yaml:"lang"`
	CadenceMinutes *int     `yaml:"cadence_minutes"`
	MaxPostsPerRun *int     `yaml:"max_posts_per_run"`
	Enabled        *bool    `yaml:"enabled"`
	BoostFactor    *float64 `yaml:"boost_factor"`
	MinScore       *float64 `yaml:"min_score"`
	Priority       *float64 `yaml:"priority"`
}

// Load reads topic configurations from a YAML file and returns the
// enabled ones with defaults applied. A missing file is not an error: it
// yields no topics, matching a deployment that simply has no topic runs
// configured. Topics without a name or queries are skipped.
func Load(path string) ([]core.TopicConfig, error) {
	log := logger.Get()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("path", path).Msg("Topics config file not found")
			return nil, nil
		}
		return nil, fmt.Errorf("reading topics config: %w", err)
	}

	var file topicsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing topics config: %w", err)
	}
	if len(file.Topics) == 0 {
		log.Warn().Str("path", path).Msg("No topics defined in config")
		return nil, nil
	}

	topics := make([]core.TopicConfig, 0, len(file.Topics))
	for _, raw := range file.Topics {
		topic, ok := normalize(raw)
		if !ok {
			log.Error().Str("name", raw.Name).Msg("Skipping invalid topic config")
			continue
		}
		if !topic.Enabled {
			log.Info().Str("topic", topic.TopicKey).Msg("Topic is disabled")
			continue
		}
		topics = append(topics, topic)
	}

	log.Info().Int("topics", len(topics)).Str("path", path).Msg("Loaded enabled topics")
	return topics, nil
}

// normalize applies defaults and derives the topic key. A topic without a
// name or any queries is invalid.
func normalize(raw rawTopic) (core.TopicConfig, bool) {
	if strings.TrimSpace(raw.Name) == "" || len(raw.Queries) == 0 {
		return core.TopicConfig{}, false
	}

	key := raw.TopicKey
	if key == "" {
		key = raw.Key
	}
	if key == "" {
		key = Slug(raw.Name)
	}

	topic := core.TopicConfig{
		Name:           raw.Name,
		TopicKey:       key,
		Queries:        raw.Queries,
		AllowDomains:   raw.AllowDomains,
		Lang:           raw.Lang,
		CadenceMinutes: DefaultCadenceMinutes,
		MaxPostsPerRun: DefaultMaxPostsPerRun,
		Enabled:        true,
		BoostFactor:    DefaultBoostFactor,
		MinScore:       DefaultMinScore,
		Priority:       DefaultPriority,
	}

	if raw.CadenceMinutes != nil && *raw.CadenceMinutes > 0 {
		topic.CadenceMinutes = *raw.CadenceMinutes
	}
	if raw.MaxPostsPerRun != nil && *raw.MaxPostsPerRun > 0 {
		topic.MaxPostsPerRun = *raw.MaxPostsPerRun
	}
	if raw.Enabled != nil {
		topic.Enabled = *raw.Enabled
	}
	if raw.BoostFactor != nil && *raw.BoostFactor > 0 {
		topic.BoostFactor = *raw.BoostFactor
	}
	if raw.MinScore != nil && *raw.MinScore >= 0 {
		topic.MinScore = *raw.MinScore
	}
	if raw.Priority != nil && *raw.Priority > 0 {
		topic.Priority = *raw.Priority
	}

	return topic, true
}

// Slug derives a topic key from a display name: lowercased with runs of
// non-alphanumeric characters collapsed to single underscores.
func Slug(name string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastUnderscore = false
		} else if !lastUnderscore {
			b.WriteRune('_')
			lastUnderscore = true
		}
	}
	return strings.TrimRight(b.String(), "_")
}
