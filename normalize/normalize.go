// Package normalize builds querycache.Normalizers for JSON list responses.
// Raw pages may be []byte, string or json.RawMessage. Parsing walks the
// document with jsonparser; item fields keep numbers as json.Number so
// counter patches preserve integer values.
package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/buger/jsonparser"

	"github.com/unkn0wn-root/querycache"
)

var (
	ErrUnsupportedRaw = errors.New("normalize: unsupported raw page type")
	ErrMissingCursor  = errors.New("normalize: hasMore without a next cursor")
)

type config struct {
	items   []string
	cursor  []string
	hasMore []string
	idField string
	kind    string
}

type Option func(*config)

// WithItemsPath sets the JSON path of the item array.
func WithItemsPath(path ...string) Option { return func(c *config) { c.items = path } }

// WithCursorPath sets the JSON path of the next cursor.
func WithCursorPath(path ...string) Option { return func(c *config) { c.cursor = path } }

// WithHasMorePath sets the JSON path of the hasMore flag (HasMoreObject only).
func WithHasMorePath(path ...string) Option { return func(c *config) { c.hasMore = path } }

// WithIDField names the item field holding the id; default "id".
func WithIDField(name string) Option { return func(c *config) { c.idField = name } }

// WithKind stamps items with kind. Left empty, the engine uses the query's
// kind.
func WithKind(kind string) Option { return func(c *config) { c.kind = kind } }

func build(defaults config, opts []Option) config {
	c := defaults
	for _, o := range opts {
		o(&c)
	}
	if c.idField == "" {
		c.idField = "id"
	}
	return c
}

// CursorString handles {"items": [...], "nextCursor": "..." | null}. A missing
// or null cursor ends the list.
func CursorString(opts ...Option) querycache.Normalizer {
	c := build(config{items: []string{"items"}, cursor: []string{"nextCursor"}}, opts)
	return func(raw any) (querycache.PageResult, error) {
		data, err := bytesOf(raw)
		if err != nil {
			return querycache.PageResult{}, err
		}
		items, err := c.parseItems(data)
		if err != nil {
			return querycache.PageResult{}, err
		}
		cur, err := stringAt(data, c.cursor)
		if err != nil {
			return querycache.PageResult{}, err
		}
		return querycache.PageResult{Items: items, NextCursor: cur}, nil
	}
}

// HasMoreObject handles
// {"items": [...], "pagination": {"hasMore": bool, "nextCursor": "..."}}.
// hasMore=false ends the list whatever the cursor says; hasMore=true without
// a cursor is an error. A missing hasMore falls back to cursor presence.
func HasMoreObject(opts ...Option) querycache.Normalizer {
	c := build(config{
		items:   []string{"items"},
		cursor:  []string{"pagination", "nextCursor"},
		hasMore: []string{"pagination", "hasMore"},
	}, opts)
	return func(raw any) (querycache.PageResult, error) {
		data, err := bytesOf(raw)
		if err != nil {
			return querycache.PageResult{}, err
		}
		items, err := c.parseItems(data)
		if err != nil {
			return querycache.PageResult{}, err
		}
		cur, err := stringAt(data, c.cursor)
		if err != nil {
			return querycache.PageResult{}, err
		}
		more, err := jsonparser.GetBoolean(data, c.hasMore...)
		switch {
		case errors.Is(err, jsonparser.KeyPathNotFoundError):
		case err != nil:
			return querycache.PageResult{}, fmt.Errorf("normalize: hasMore: %w", err)
		case !more:
			cur = nil
		case cur == nil:
			return querycache.PageResult{}, ErrMissingCursor
		}
		return querycache.PageResult{Items: items, NextCursor: cur}, nil
	}
}

func bytesOf(raw any) ([]byte, error) {
	switch v := raw.(type) {
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedRaw, raw)
	}
}

func (c config) parseItems(data []byte) ([]querycache.Entity, error) {
	var (
		items []querycache.Entity
		first error
	)
	_, err := jsonparser.ArrayEach(data, func(value []byte, dt jsonparser.ValueType, _ int, err error) {
		if first != nil {
			return
		}
		if err != nil {
			first = err
			return
		}
		if dt != jsonparser.Object {
			first = fmt.Errorf("normalize: item %d is %s, want object", len(items), dt)
			return
		}
		ent, err := c.parseEntity(value)
		if err != nil {
			first = fmt.Errorf("normalize: item %d: %w", len(items), err)
			return
		}
		items = append(items, ent)
	}, c.items...)
	if err != nil {
		return nil, fmt.Errorf("normalize: items: %w", err)
	}
	return items, first
}

func (c config) parseEntity(obj []byte) (querycache.Entity, error) {
	ent := querycache.Entity{Kind: c.kind, Fields: make(map[string]any)}
	err := jsonparser.ObjectEach(obj, func(key, value []byte, dt jsonparser.ValueType, _ int) error {
		name, err := jsonparser.ParseString(key)
		if err != nil {
			return err
		}
		v, err := decodeValue(value, dt)
		if err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
		ent.Fields[name] = v
		return nil
	})
	if err != nil {
		return querycache.Entity{}, err
	}
	switch id := ent.Fields[c.idField].(type) {
	case string:
		ent.ID = id
	case json.Number:
		ent.ID = id.String()
	}
	if ent.ID == "" {
		return querycache.Entity{}, fmt.Errorf("missing %q", c.idField)
	}
	return ent, nil
}

func decodeValue(value []byte, dt jsonparser.ValueType) (any, error) {
	switch dt {
	case jsonparser.String:
		return jsonparser.ParseString(value)
	case jsonparser.Number:
		return json.Number(value), nil
	case jsonparser.Boolean:
		return jsonparser.ParseBoolean(value)
	case jsonparser.Null:
		return nil, nil
	case jsonparser.Object, jsonparser.Array:
		dec := json.NewDecoder(bytes.NewReader(value))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unexpected %s", dt)
	}
}

func stringAt(data []byte, path []string) (*string, error) {
	value, dt, _, err := jsonparser.Get(data, path...)
	if errors.Is(err, jsonparser.KeyPathNotFoundError) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("normalize: cursor: %w", err)
	}
	switch dt {
	case jsonparser.Null:
		return nil, nil
	case jsonparser.String:
		s, err := jsonparser.ParseString(value)
		if err != nil {
			return nil, fmt.Errorf("normalize: cursor: %w", err)
		}
		if s == "" {
			return nil, nil
		}
		return &s, nil
	case jsonparser.Number:
		s := string(value)
		return &s, nil
	default:
		return nil, fmt.Errorf("normalize: cursor is %s, want string", dt)
	}
}
