// Package seed loads catalog items and members from a YAML fixture file.
//
//	members:
//	  - id: ann@example.com
//	    name: Ann
//	items:
//	  - id: mug
//	    name: Mug
//	    price: 1000
//	    stock: 5
//	    image_url: https://img.example.com/mug.png
package seed

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ariefcatur/go-cart-orders/internal/domain"
	"gopkg.in/yaml.v3"
)

type Fixture struct {
	Members []Member `yaml:"members"`
	Items   []Item   `yaml:"items"`
}

type Member struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type Item struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Price    int64  `yaml:"price"`
	Stock    int    `yaml:"stock"`
	ImageURL string `yaml:"image_url"`
}

// Sink receives the fixture rows. Both stores implement it.
type Sink interface {
	UpsertMember(ctx context.Context, m domain.Member) error
	UpsertItem(ctx context.Context, it domain.Item) error
}

type txSink interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Result struct {
	Members int
	Items   int
}

func LoadFile(path string) (Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Fixture{}, err
	}
	f, err := Parse(data)
	if err != nil {
		return Fixture{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return f, nil
}

func Parse(data []byte) (Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Fixture{}, err
	}
	if err := f.Validate(); err != nil {
		return Fixture{}, err
	}
	return f, nil
}

// Validate rejects blank or duplicate ids and negative prices or stock.
func (f Fixture) Validate() error {
	var errs []error
	seen := map[string]bool{}
	for i, m := range f.Members {
		switch {
		case m.ID == "":
			errs = append(errs, fmt.Errorf("members[%d]: id is required", i))
		case seen["m:"+m.ID]:
			errs = append(errs, fmt.Errorf("members[%d]: duplicate id %q", i, m.ID))
		}
		seen["m:"+m.ID] = true
	}
	for i, it := range f.Items {
		switch {
		case it.ID == "":
			errs = append(errs, fmt.Errorf("items[%d]: id is required", i))
		case seen["i:"+it.ID]:
			errs = append(errs, fmt.Errorf("items[%d]: duplicate id %q", i, it.ID))
		}
		seen["i:"+it.ID] = true
		if it.Price < 0 || it.Stock < 0 {
			errs = append(errs, fmt.Errorf("items[%d]: price and stock must not be negative", i))
		}
	}
	return errors.Join(errs...)
}

// Apply upserts every row, in one transaction when the sink supports it.
func Apply(ctx context.Context, sink Sink, f Fixture) (Result, error) {
	var res Result
	apply := func(ctx context.Context) error {
		res = Result{}
		for _, m := range f.Members {
			if err := sink.UpsertMember(ctx, domain.Member{ID: m.ID, Name: m.Name}); err != nil {
				return fmt.Errorf("member %s: %w", m.ID, err)
			}
			res.Members++
		}
		for _, it := range f.Items {
			item := domain.Item{ID: it.ID, Name: it.Name, Price: it.Price, Stock: it.Stock, ImageURL: it.ImageURL}
			if err := sink.UpsertItem(ctx, item); err != nil {
				return fmt.Errorf("item %s: %w", it.ID, err)
			}
			res.Items++
		}
		return nil
	}
	var err error
	if tx, ok := sink.(txSink); ok {
		err = tx.WithTx(ctx, apply)
	} else {
		err = apply(ctx)
	}
	return res, err
}
