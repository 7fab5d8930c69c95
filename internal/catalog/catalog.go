// Package catalog holds the named streams and tables queries read from,
// loaded from the "catalog" section of the configuration.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog/log"
	"github.com/tarungka/wiresql/internal/schema"
	"github.com/tarungka/wiresql/internal/serde"
)

var (
	ErrNotFound  = errors.New("catalog: not found")
	ErrDuplicate = errors.New("catalog: duplicate name")
	ErrKind      = errors.New("catalog: unknown kind")
)

// Kind tells streams from tables.
type Kind string

const (
	KindStream Kind = "stream"
	KindTable  Kind = "table"
)

// FieldConfig is one column as written in the configuration.
type FieldConfig struct {
	Name string `koanf:"name" json:"name"`
	Type string `koanf:"type" json:"type"`
}

// EntryConfig is one catalog entry as written in the configuration.
type EntryConfig struct {
	Name       string        `koanf:"name"`
	Kind       string        `koanf:"kind"`
	Topic      string        `koanf:"topic"`
	Key        string        `koanf:"key"`
	Format     string        `koanf:"format"`
	AvroSchema string        `koanf:"avro_schema"`
	Delimiter  string        `koanf:"delimiter"`
	Fields     []FieldConfig `koanf:"fields"`
}

// Source is a resolved catalog entry.
type Source struct {
	Name     string
	Kind     Kind
	Topic    string
	KeyField string
	Format   serde.Format
	Schema   *schema.Schema
	Encoder  serde.Encoder
	Decoder  serde.Decoder
}

// Catalog maps names, case-insensitively, to sources. It is safe for
// concurrent use.
type Catalog struct {
	mu      sync.RWMutex
	sources map[string]*Source
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{sources: make(map[string]*Source)}
}

// Load reads the "catalog" list from ko.
func Load(ko *koanf.Koanf) (*Catalog, error) {
	var entries []EntryConfig
	if err := ko.Unmarshal("catalog", &entries); err != nil {
		log.Err(err).Msg("error when un-marshaling catalog")
		return nil, err
	}
	c := New()
	for _, e := range entries {
		if _, err := c.Add(e); err != nil {
			return nil, err
		}
	}
	log.Debug().Int("entries", len(entries)).Msg("loaded catalog")
	return c, nil
}

// Add resolves e and registers it.
func (c *Catalog) Add(e EntryConfig) (*Source, error) {
	src, err := resolve(e)
	if err != nil {
		return nil, fmt.Errorf("catalog entry %q: %w", e.Name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	id := strings.ToUpper(src.Name)
	if _, exists := c.sources[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, src.Name)
	}
	c.sources[id] = src
	return src, nil
}

func resolve(e EntryConfig) (*Source, error) {
	if e.Name == "" {
		return nil, errors.New("missing name")
	}
	kind := Kind(strings.ToLower(e.Kind))
	switch kind {
	case "":
		kind = KindStream
	case KindStream, KindTable:
	default:
		return nil, fmt.Errorf("%w: %s", ErrKind, e.Kind)
	}
	topic := e.Topic
	if topic == "" {
		topic = e.Name
	}

	if len(e.Fields) == 0 {
		return nil, errors.New("no fields")
	}
	fields := make([]schema.Field, len(e.Fields))
	for i, fc := range e.Fields {
		t, err := schema.ParseType(fc.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", fc.Name, err)
		}
		fields[i] = schema.F(fc.Name, t)
	}
	s, err := schema.New(fields...)
	if err != nil {
		return nil, err
	}
	if e.Key != "" && !s.Has(e.Key) {
		return nil, fmt.Errorf("key %s: %w", e.Key, schema.ErrFieldNotFound)
	}
	if kind == KindTable && e.Key == "" {
		return nil, errors.New("a table needs a key field")
	}

	formatName := e.Format
	if formatName == "" {
		formatName = serde.FormatJSON.String()
	}
	format, err := serde.ParseFormat(formatName)
	if err != nil {
		return nil, err
	}
	avroSchema := e.AvroSchema
	if format == serde.FormatAvro && avroSchema == "" {
		if avroSchema, err = serde.AvroSchema(e.Name, s); err != nil {
			return nil, err
		}
	}
	enc, dec, err := serde.SelectByName(formatName, avroSchema, e.Delimiter, s)
	if err != nil {
		return nil, err
	}

	return &Source{
		Name:     e.Name,
		Kind:     kind,
		Topic:    topic,
		KeyField: e.Key,
		Format:   format,
		Schema:   s,
		Encoder:  enc,
		Decoder:  dec,
	}, nil
}

// Lookup returns the source called name, ignoring case.
func (c *Catalog) Lookup(name string) (*Source, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	src, ok := c.sources[strings.ToUpper(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return src, nil
}

// List returns every source sorted by name.
func (c *Catalog) List() []*Source {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Source, 0, len(c.sources))
	for _, src := range c.sources {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Description is the JSON view of a source served by the admin API.
type Description struct {
	Name   string        `json:"name"`
	Kind   Kind          `json:"kind"`
	Topic  string        `json:"topic"`
	Key    string        `json:"key,omitempty"`
	Format string        `json:"format"`
	Fields []FieldConfig `json:"fields"`
}

// Describe renders src for display.
func (src *Source) Describe() Description {
	fields := make([]FieldConfig, src.Schema.Len())
	for i, f := range src.Schema.Fields() {
		fields[i] = FieldConfig{Name: f.Name, Type: f.Type.String()}
	}
	return Description{
		Name:   src.Name,
		Kind:   src.Kind,
		Topic:  src.Topic,
		Key:    src.KeyField,
		Format: src.Format.String(),
		Fields: fields,
	}
}
