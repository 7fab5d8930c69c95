package query

import (
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog/log"
)

// Config is one query as written in the "queries" section of the
// configuration. Expressions use the generic form read by expr.Decode.
type Config struct {
	ID          string         `koanf:"id" json:"id,omitempty"`
	From        string         `koanf:"from" json:"from,omitempty"`
	Join        *JoinConfig    `koanf:"join" json:"join,omitempty"`
	Where       any            `koanf:"where" json:"where,omitempty"`
	Select      []SelectConfig `koanf:"select" json:"select,omitempty"`
	PartitionBy string         `koanf:"partition_by" json:"partition_by,omitempty"`
	Into        *IntoConfig    `koanf:"into" json:"into,omitempty"`
	Print       bool           `koanf:"print" json:"print,omitempty"`
	Partitions  int            `koanf:"partitions" json:"partitions,omitempty"`
}

// JoinConfig left joins the source with a catalog table. On names the
// source column matched against the table key; when empty the current
// record key is used.
type JoinConfig struct {
	Table string `koanf:"table" json:"table,omitempty"`
	On    string `koanf:"on" json:"on,omitempty"`
}

// SelectConfig is one output column. Type is optional and defaults to the
// type of Expr.
type SelectConfig struct {
	Name string `koanf:"name" json:"name,omitempty"`
	Type string `koanf:"type" json:"type,omitempty"`
	Expr any    `koanf:"expr" json:"expr,omitempty"`
}

// IntoConfig names the topic results are published to. Format defaults to
// the format of the source.
type IntoConfig struct {
	Topic      string `koanf:"topic" json:"topic,omitempty"`
	Format     string `koanf:"format" json:"format,omitempty"`
	AvroSchema string `koanf:"avro_schema" json:"avro_schema,omitempty"`
	Delimiter  string `koanf:"delimiter" json:"delimiter,omitempty"`
}

// LoadConfigs reads the "queries" list from ko.
func LoadConfigs(ko *koanf.Koanf) ([]Config, error) {
	var configs []Config
	if err := ko.Unmarshal("queries", &configs); err != nil {
		log.Err(err).Msg("error when un-marshaling queries")
		return nil, err
	}
	return configs, nil
}
