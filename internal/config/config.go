// Package config loads the csvtable configuration file.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"github.com/maruel/csvtable/internal/compress"
	"github.com/maruel/csvtable/internal/table"
	"gopkg.in/yaml.v3"
)

// Config is the content of the YAML configuration file.
type Config struct {
	Table       string               `yaml:"table" json:"table" validate:"required" jsonschema:"description=Name of the root map holding the table"`
	ColumnWidth uint32               `yaml:"column_width" json:"column_width" validate:"min=1" jsonschema:"description=Width of imported columns"`
	RowHeight   uint32               `yaml:"row_height" json:"row_height" validate:"min=1" jsonschema:"description=Height of imported rows"`
	Validation  table.ValidationMode `yaml:"validation" json:"validation" validate:"oneof=batch document" jsonschema:"enum=batch,enum=document"`
	Codec       string               `yaml:"codec" json:"codec" validate:"oneof=zstd lz4 s2 none" jsonschema:"enum=zstd,enum=lz4,enum=s2,enum=none"`
	Level       int                  `yaml:"level" json:"level" validate:"min=1,max=22" jsonschema:"description=zstd compression level"`
	Delimiter   string               `yaml:"delimiter" json:"delimiter" validate:"len=1" jsonschema:"description=CSV field delimiter"`
	PreviewRows int                  `yaml:"preview_rows" json:"preview_rows" validate:"min=0" jsonschema:"description=Number of rows printed after the import"`
	Seed        uint64               `yaml:"seed" json:"seed,omitempty" jsonschema:"description=Seed of the id generator; 0 is random"`
	StoreDir    string               `yaml:"store_dir" json:"store_dir,omitempty" jsonschema:"description=Directory of the persisted update log"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Table:       "csv-table",
		ColumnWidth: table.DefaultColumnWidth,
		RowHeight:   table.DefaultRowHeight,
		Validation:  table.ValidationBatch,
		Codec:       "zstd",
		Level:       compress.DefaultZstdLevel,
		Delimiter:   ",",
		PreviewRows: 10,
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // User-specified config path
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := c.Parse(data); err != nil {
		return nil, err
	}
	return c, nil
}

// Parse decodes YAML data over c and validates the result. Unknown keys are
// rejected.
func (c *Config) Parse(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return c.Validate()
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report the YAML key instead of the Go field name.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks every field.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Comma returns the delimiter as a rune.
func (c *Config) Comma() rune {
	for _, r := range c.Delimiter {
		return r
	}
	return ','
}

// Schema returns the JSON Schema of the configuration file.
func Schema() ([]byte, error) {
	r := jsonschema.Reflector{Anonymous: true, DoNotReference: true}
	s := r.Reflect(&Config{})
	return json.MarshalIndent(s, "", "  ")
}
