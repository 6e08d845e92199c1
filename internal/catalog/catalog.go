// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package catalog reads collector product files and writes enriched ones.
// A file is either a bare JSON array of products or an object with a
// "products" array; the shape and any other top-level fields survive a
// read and write unchanged.
package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/pdiddy/catalog-enricher/internal/cachestore"
	"github.com/pdiddy/catalog-enricher/pkg/types"
)

const productsKey = "products"

// File is a decoded product file.
type File struct {
	Products []*types.Product

	wrapped bool
	extra   map[string]json.RawMessage
}

// Decode reads a product file from r.
func Decode(r io.Reader) (*File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading products: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("product file is empty")
	}

	f := &File{}
	switch data[0] {
	case '[':
		if err := json.Unmarshal(data, &f.Products); err != nil {
			return nil, fmt.Errorf("decoding product array: %w", err)
		}
	case '{':
		if err := json.Unmarshal(data, &f.extra); err != nil {
			return nil, fmt.Errorf("decoding product file: %w", err)
		}
		raw, ok := f.extra[productsKey]
		if !ok {
			return nil, fmt.Errorf("product file has no %q array", productsKey)
		}
		if err := json.Unmarshal(raw, &f.Products); err != nil {
			return nil, fmt.Errorf("decoding %q: %w", productsKey, err)
		}
		delete(f.extra, productsKey)
		f.wrapped = true
	default:
		return nil, fmt.Errorf("product file must hold a JSON array or object")
	}

	for i, p := range f.Products {
		if p == nil {
			return nil, fmt.Errorf("product %d is null", i+1)
		}
	}
	return f, nil
}

// Load reads the product file at path.
func Load(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	return Decode(fh)
}

// Encode writes f as indented JSON in its original shape.
func (f *File) Encode(w io.Writer) error {
	var v any = f.Products
	if f.Products == nil {
		v = []*types.Product{}
	}
	if f.wrapped {
		out := make(map[string]any, len(f.extra)+1)
		for k, raw := range f.extra {
			out[k] = raw
		}
		out[productsKey] = v
		v = out
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// Save writes f to path atomically.
func (f *File) Save(path string) error {
	var buf bytes.Buffer
	if err := f.Encode(&buf); err != nil {
		return fmt.Errorf("encoding products: %w", err)
	}
	return cachestore.WriteFileAtomic(path, buf.Bytes())
}

// WithProducts returns a copy of f that holds products instead.
func (f *File) WithProducts(products []*types.Product) *File {
	return &File{Products: products, wrapped: f.wrapped, extra: f.extra}
}
