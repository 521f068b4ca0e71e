// Command replay rebuilds aggregate state from the event log.
//
//	replay -type Order -id <order-id>
//	replay -all [-after <sequence>] [-limit <n>]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/example/ec-event-sourcing/internal/bootstrap"
	"github.com/example/ec-event-sourcing/internal/config"
	"github.com/example/ec-event-sourcing/internal/domain/category"
	"github.com/example/ec-event-sourcing/internal/domain/inventory"
	"github.com/example/ec-event-sourcing/internal/domain/order"
	"github.com/example/ec-event-sourcing/internal/domain/product"
	"github.com/example/ec-event-sourcing/internal/infrastructure/store"
)

func main() {
	var (
		aggType = flag.String("type", "", "aggregate type: Category, Product, Inventory or Order")
		id      = flag.String("id", "", "aggregate id")
		all     = flag.Bool("all", false, "dump the global event log instead")
		after   = flag.Int64("after", 0, "with -all, start after this sequence")
		limit   = flag.Int("limit", 0, "with -all, maximum number of events (0 = no limit)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx := context.Background()
	events, closeStore, err := bootstrap.OpenEventStore(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer closeStore()

	if *all {
		err = dumpLog(ctx, os.Stdout, events, *after, *limit)
	} else {
		err = replay(ctx, os.Stdout, events, *aggType, *id)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func replay(ctx context.Context, w io.Writer, es store.EventStoreInterface, aggType, id string) error {
	if id == "" {
		return fmt.Errorf("-id is required")
	}

	var (
		state any
		found bool
		err   error
	)
	switch aggType {
	case category.AggregateType:
		state, found, err = category.NewRepository(es).Load(ctx, id)
	case product.AggregateType:
		state, found, err = product.NewRepository(es).Load(ctx, id)
	case inventory.AggregateType:
		state, found, err = inventory.NewRepository(es).Load(ctx, id)
	case order.AggregateType:
		state, found, err = order.NewRepository(es).Load(ctx, id)
	default:
		return fmt.Errorf("unknown aggregate type %q", aggType)
	}
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%s %s has no events", aggType, id)
	}
	return writeJSON(w, state)
}

func dumpLog(ctx context.Context, w io.Writer, es store.EventStoreInterface, after int64, limit int) error {
	events, err := es.GetAllEvents(ctx, after, limit)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
