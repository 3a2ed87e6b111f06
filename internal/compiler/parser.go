// Package compiler turns declarative YAML topic catalogs into registered
// topics. Activity definitions carry a type tag and an opaque config
// block; the tag is resolved through the typed factory registry, so there
// is no runtime type inspection anywhere in the path.
package compiler

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/colloquyhq/colloquy/internal/logging"
	"github.com/colloquyhq/colloquy/pkg/domain"
	"github.com/colloquyhq/colloquy/pkg/workflow"
)

type catalog struct {
	Topics []topicDef `yaml:"topics"`
}

type topicDef struct {
	Name       string        `yaml:"name"`
	Priority   int           `yaml:"priority"`
	Keywords   []string      `yaml:"keywords"`
	Activities []activityDef `yaml:"activities"`
}

type activityDef struct {
	ID     string         `yaml:"id"`
	Type   string         `yaml:"type"`
	Config map[string]any `yaml:"config"`
}

// Per-type config shapes, decoded with mapstructure.

type messageConfig struct {
	Text string `mapstructure:"text"`
}

type cardConfig struct {
	CardID     string         `mapstructure:"card_id"`
	RenderMode string         `mapstructure:"render_mode"`
	Document   map[string]any `mapstructure:"document"`
	Prefill    []string       `mapstructure:"prefill"`
}

type decisionRule struct {
	When   string `mapstructure:"when"`
	Equals any    `mapstructure:"equals"`
	Then   any    `mapstructure:"then"`
}

type decisionConfig struct {
	Key     string         `mapstructure:"key"`
	Rules   []decisionRule `mapstructure:"rules"`
	Default any            `mapstructure:"default"`
}

type triggerConfig struct {
	Topic    string `mapstructure:"topic"`
	TopicKey string `mapstructure:"topic_key"`
	Wait     bool   `mapstructure:"wait"`
}

// Compiler builds topics from catalog documents.
type Compiler struct {
	factories *workflow.FactoryRegistry
	logger    *slog.Logger
}

// New creates a compiler with the built-in activity types registered.
func New(logger *slog.Logger) *Compiler {
	if logger == nil {
		logger = logging.NewNop()
	}
	c := &Compiler{
		factories: workflow.NewFactoryRegistry(),
		logger:    logger,
	}
	c.registerBuiltins()
	return c
}

// Factories exposes the registry so hosts can add custom activity types
// before compiling.
func (c *Compiler) Factories() *workflow.FactoryRegistry {
	return c.factories
}

func (c *Compiler) registerBuiltins() {
	c.factories.Register("message", func(config map[string]any) (workflow.Factory, error) {
		var cfg messageConfig
		if err := decode(config, &cfg); err != nil {
			return nil, err
		}
		if cfg.Text == "" {
			return nil, fmt.Errorf("message activity requires text")
		}
		return workflow.NewMessage(cfg.Text), nil
	})

	c.factories.Register("card", func(config map[string]any) (workflow.Factory, error) {
		var cfg cardConfig
		if err := decode(config, &cfg); err != nil {
			return nil, err
		}
		card := domain.CardPayload{
			ID:         cfg.CardID,
			RenderMode: cfg.RenderMode,
			Document:   cfg.Document,
		}
		if len(cfg.Prefill) > 0 {
			return workflow.NewCardPrefilled(card, cfg.Prefill), nil
		}
		return workflow.NewCard(card), nil
	})

	c.factories.Register("decision", func(config map[string]any) (workflow.Factory, error) {
		var cfg decisionConfig
		if err := decode(config, &cfg); err != nil {
			return nil, err
		}
		if cfg.Key == "" {
			return nil, fmt.Errorf("decision activity requires key")
		}
		rules := cfg.Rules
		def := cfg.Default
		return workflow.NewDecision(cfg.Key, func(snapshot map[string]any) any {
			for _, r := range rules {
				if snapshot[r.When] == r.Equals {
					return r.Then
				}
			}
			return def
		}), nil
	})

	c.factories.Register("trigger", func(config map[string]any) (workflow.Factory, error) {
		var cfg triggerConfig
		if err := decode(config, &cfg); err != nil {
			return nil, err
		}
		switch {
		case cfg.Topic != "":
			return workflow.NewTrigger(cfg.Topic, cfg.Wait), nil
		case cfg.TopicKey != "":
			return workflow.NewTriggerFromContext(cfg.TopicKey, cfg.Wait), nil
		default:
			return nil, fmt.Errorf("trigger activity requires topic or topic_key")
		}
	})

	c.factories.Register("done", func(map[string]any) (workflow.Factory, error) {
		return workflow.NewDone(), nil
	})
}

// Compile parses a catalog document and builds its topics. The descriptor
// queue is assembled through a queue builder, so Reset re-resolves every
// factory from its config.
func (c *Compiler) Compile(data []byte) ([]*workflow.Topic, error) {
	var cat catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if len(cat.Topics) == 0 {
		return nil, fmt.Errorf("catalog defines no topics")
	}

	topics := make([]*workflow.Topic, 0, len(cat.Topics))
	for _, def := range cat.Topics {
		t, err := c.compileTopic(def)
		if err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	return topics, nil
}

// LoadFile compiles a catalog from disk.
func (c *Compiler) LoadFile(path string) ([]*workflow.Topic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return c.Compile(data)
}

func (c *Compiler) compileTopic(def topicDef) (*workflow.Topic, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("topic requires a name")
	}
	seen := make(map[string]struct{}, len(def.Activities))
	for _, a := range def.Activities {
		if a.ID == "" {
			return nil, fmt.Errorf("topic %s: activity requires an id", def.Name)
		}
		if _, dup := seen[a.ID]; dup {
			return nil, fmt.Errorf("topic %s: duplicate activity id %q", def.Name, a.ID)
		}
		seen[a.ID] = struct{}{}
		// Fail fast on unknown types and bad configs at compile time.
		if _, err := c.factories.Build(a.Type, a.Config); err != nil {
			return nil, fmt.Errorf("topic %s, activity %s: %w", def.Name, a.ID, err)
		}
	}

	defs := def.Activities
	name := def.Name
	builder := func(*workflow.Context) []workflow.Descriptor {
		queue := make([]workflow.Descriptor, 0, len(defs))
		for _, a := range defs {
			factory, err := c.factories.Build(a.Type, a.Config)
			if err != nil {
				// Validated at compile time; a failure here means a factory
				// was unregistered mid-session.
				c.logger.Error("activity factory vanished", "topic", name, "activity_id", a.ID, "err", err)
				continue
			}
			queue = append(queue, workflow.Descriptor{ID: a.ID, New: factory})
		}
		return queue
	}

	confidence := workflow.NoConfidence()
	if len(def.Keywords) > 0 {
		confidence = workflow.KeywordConfidence(def.Keywords...)
	}

	return workflow.NewTopic(def.Name,
		workflow.WithPriority(def.Priority),
		workflow.WithConfidence(confidence),
		workflow.WithQueueBuilder(builder),
		workflow.WithTopicLogger(c.logger),
	), nil
}

func decode(config map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(config); err != nil {
		return fmt.Errorf("invalid activity config: %w", err)
	}
	return nil
}
