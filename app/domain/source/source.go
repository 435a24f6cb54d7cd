// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package source loads work items from JSON or YAML documents.
//
// Records are selected with a jq expression; each selected value must be an
// object carrying a serial field. The ordered work item ids come from a
// second, optional jq expression and default to the serials of the selected
// records. Ids without a matching record are kept so the processor can decide
// what to do with them.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/itchyny/gojq"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	config "github.com/cloudzero/cloudzero-syncer/app/config/syncer"
	"github.com/cloudzero/cloudzero-syncer/app/types"
)

var (
	ErrInvalidQuery    = errors.New("invalid jq expression")
	ErrInvalidDocument = errors.New("invalid input document")
	ErrNotAnObject     = errors.New("selected record is not an object")
)

// Format is the encoding of an input document.
type Format string

const (
	FormatAuto Format = ""
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath guesses the format from the file extension.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".json":
		return FormatJSON
	default:
		return FormatAuto
	}
}

// Batch is the ordered input of one processing job.
type Batch struct {
	Serials []string
	Records []types.Record
}

// Loader turns documents into batches.
type Loader struct {
	records     *gojq.Code
	ids         *gojq.Code
	serialField string
}

// NewLoader compiles the expressions of the source section.
func NewLoader(s config.Source) (*Loader, error) {
	records, err := compile(s.Query)
	if err != nil {
		return nil, err
	}

	l := &Loader{records: records, serialField: s.SerialField}
	if l.serialField == "" {
		l.serialField = config.DefaultSourceSerialField
	}
	if strings.TrimSpace(s.IDsQuery) != "" {
		if l.ids, err = compile(s.IDsQuery); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func compile(src string) (*gojq.Code, error) {
	if strings.TrimSpace(src) == "" {
		src = config.DefaultSourceQuery
	}
	query, err := gojq.Parse(src)
	if err != nil {
		return nil, errors.Join(ErrInvalidQuery, fmt.Errorf("%q: %w", src, err))
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, errors.Join(ErrInvalidQuery, fmt.Errorf("%q: %w", src, err))
	}
	return code, nil
}

// LoadFile reads and loads the document at path.
func (l *Loader) LoadFile(ctx context.Context, path string) (*Batch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open the input document: %w", err)
	}
	defer f.Close()
	return l.Load(ctx, f, FormatFromPath(path))
}

// Load decodes the document from r and selects the batch.
func (l *Loader) Load(ctx context.Context, r io.Reader, format Format) (*Batch, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read the input document: %w", err)
	}

	doc, err := decode(raw, format)
	if err != nil {
		return nil, err
	}

	values, err := run(ctx, l.records, doc)
	if err != nil {
		return nil, err
	}

	batch := &Batch{Records: make([]types.Record, 0, len(values))}
	skipped := 0
	for _, v := range values {
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, errors.Join(ErrNotAnObject, fmt.Errorf("got %T", v))
		}
		serial := scalarString(obj[l.serialField])
		if serial == "" {
			skipped++
			continue
		}
		data, err := json.Marshal(obj)
		if err != nil {
			return nil, fmt.Errorf("failed to encode record %s: %w", serial, err)
		}
		batch.Records = append(batch.Records, types.Record{Serial: serial, Data: data})
	}
	if skipped > 0 {
		log.Ctx(ctx).Warn().Int("skipped", skipped).Str("field", l.serialField).Msg("records without a serial were dropped")
	}

	if l.ids == nil {
		batch.Serials = make([]string, 0, len(batch.Records))
		for _, rec := range batch.Records {
			batch.Serials = append(batch.Serials, rec.Serial)
		}
		return batch, nil
	}

	ids, err := run(ctx, l.ids, doc)
	if err != nil {
		return nil, err
	}
	batch.Serials = make([]string, 0, len(ids))
	for _, v := range ids {
		if id := scalarString(v); id != "" {
			batch.Serials = append(batch.Serials, id)
		}
	}
	return batch, nil
}

// decode returns the document in the shape gojq expects. YAML is routed
// through JSON so timestamps and non-string keys become plain values.
func decode(raw []byte, format Format) (any, error) {
	if format == FormatAuto {
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
			format = FormatJSON
		} else {
			format = FormatYAML
		}
	}

	switch format {
	case FormatJSON:
		return decodeJSON(raw)
	case FormatYAML:
		var node yaml.Node
		if err := yaml.Unmarshal(raw, &node); err != nil {
			return nil, errors.Join(ErrInvalidDocument, err)
		}
		value, err := yamlValue(&node)
		if err != nil {
			return nil, errors.Join(ErrInvalidDocument, err)
		}
		data, err := json.Marshal(value)
		if err != nil {
			return nil, errors.Join(ErrInvalidDocument, err)
		}
		return decodeJSON(data)
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

var decimalInt = regexp.MustCompile(`^-?(0|[1-9][0-9]*)$`)

// yamlValue converts a node tree into JSON-shaped values. Decimal integers
// are kept as json.Number, timestamps as their source text.
func yamlValue(n *yaml.Node) (any, error) {
	switch n.Kind {
	case 0:
		return nil, nil
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}
		return yamlValue(n.Content[0])
	case yaml.AliasNode:
		return yamlValue(n.Alias)
	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := yamlValue(c)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case yaml.MappingNode:
		out := make(map[string]any, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i]
			if key.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: mapping keys must be scalars", key.Line)
			}
			v, err := yamlValue(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			out[key.Value] = v
		}
		return out, nil
	}

	switch n.ShortTag() {
	case "!!str", "!!timestamp", "!!binary":
		return n.Value, nil
	case "!!null":
		return nil, nil
	case "!!int":
		if decimalInt.MatchString(n.Value) {
			return json.Number(n.Value), nil
		}
	}
	var v any
	if err := n.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// decodeJSON keeps numbers as json.Number so long numeric serials survive
// unchanged.
func decodeJSON(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.Join(ErrInvalidDocument, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.Join(ErrInvalidDocument, errors.New("unexpected data after the document"))
	}
	return doc, nil
}

func run(ctx context.Context, code *gojq.Code, doc any) ([]any, error) {
	var out []any
	iter := code.RunWithContext(ctx, doc)
	for {
		v, ok := iter.Next()
		if !ok {
			return out, nil
		}
		if err, ok := v.(error); ok {
			var halt *gojq.HaltError
			if errors.As(err, &halt) && halt.Value() == nil {
				return out, nil
			}
			return nil, fmt.Errorf("jq evaluation failed: %w", err)
		}
		out = append(out, v)
	}
}

func scalarString(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case *big.Int:
		return x.String()
	case json.Number:
		return x.String()
	default:
		return ""
	}
}
