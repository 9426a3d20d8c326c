// Package app wires the domain layers into the operations the CLI and the
// HTTP surface expose: managing subscriptions and archiving feed documents.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/feedvault/feedvault/domain/feed"
	"github.com/feedvault/feedvault/domain/stage"
	"github.com/feedvault/feedvault/domain/subscribe"
	"github.com/feedvault/feedvault/ports"
)

// SubscriptionsRoute places the subscription list at the archive root, one
// copy per session.
var SubscriptionsRoute = stage.Route{
	Type:    subscribe.ListType,
	Pattern: []string{"subscriptions.{session}.xml"},
}

// FeedsRoute places archived feeds under feeds/<feed id>/, one copy per
// session. The feed id is the hash of the feed's document URI.
var FeedsRoute = stage.Route{
	Type:    feed.FeedType,
	Pattern: []string{"feeds", "{0}", "{session}.xml"},
}

// ErrNotSubscribed is returned when an operation names a feed the archive
// does not carry.
var ErrNotSubscribed = errors.New("not subscribed")

// Archiver is the application service over one session's archive.
type Archiver struct {
	stage *stage.Stage
	clock ports.Clock
	log   zerolog.Logger
}

// New creates an Archiver over a stage.
func New(st *stage.Stage, clock ports.Clock, log zerolog.Logger) *Archiver {
	return &Archiver{
		stage: st,
		clock: clock,
		log:   log.With().Str("component", "archiver").Logger(),
	}
}

// Stage exposes the underlying stage, mainly for tests and the CLI.
func (a *Archiver) Stage() *stage.Stage { return a.stage }

// subscriptions reads the merged subscription list inside the transaction,
// creating an empty one the first time.
func (a *Archiver) subscriptions(ctx context.Context) (*subscribe.SubscriptionList, error) {
	el, err := a.stage.Read(ctx, SubscriptionsRoute)
	if errors.Is(err, ports.ErrNotFound) {
		return subscribe.NewSubscriptionList("Subscriptions", a.clock.Now()), nil
	}
	if err != nil {
		return nil, err
	}
	return subscribe.WrapSubscriptionList(el), nil
}

// SubscriptionList returns the merged subscription list across all sessions.
func (a *Archiver) SubscriptionList(ctx context.Context) (*subscribe.SubscriptionList, error) {
	var list *subscribe.SubscriptionList
	err := a.stage.Transact(ctx, func(ctx context.Context) error {
		var err error
		list, err = a.subscriptions(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

// Subscribe adds a feed to the subscription list, optionally inside a
// category (created as needed), and returns its archive feed id.
func (a *Archiver) Subscribe(ctx context.Context, label, feedURI, siteURI, category string) (string, error) {
	if feedURI == "" {
		return "", fmt.Errorf("app: feed URI is empty")
	}
	if label == "" {
		label = feedURI
	}
	err := a.stage.Transact(ctx, func(ctx context.Context) error {
		list, err := a.subscriptions(ctx)
		if err != nil {
			return err
		}
		now := a.clock.Now()
		set := list.Set()
		if category != "" {
			set = set.AddCategory(category, now).Set
		}
		set.Subscribe(label, feedURI, siteURI, now)
		return a.stage.Write(ctx, SubscriptionsRoute, list.Element())
	})
	if err != nil {
		return "", err
	}
	id := subscribe.FeedID(feedURI)
	a.log.Info().Str("feed", feedURI).Str("id", id).Msg("subscribed")
	return id, nil
}

// Unsubscribe tombstones the feed in the subscription list. The archived
// documents stay; only the subscription goes away.
func (a *Archiver) Unsubscribe(ctx context.Context, feedURI string) error {
	return a.stage.Transact(ctx, func(ctx context.Context) error {
		list, err := a.subscriptions(ctx)
		if err != nil {
			return err
		}
		if !unsubscribeAll(list.Set(), feedURI, a.clock) {
			return fmt.Errorf("app: %w: %s", ErrNotSubscribed, feedURI)
		}
		a.log.Info().Str("feed", feedURI).Msg("unsubscribed")
		return a.stage.Write(ctx, SubscriptionsRoute, list.Element())
	})
}

// unsubscribeAll tombstones the feed at the top level and in every category.
func unsubscribeAll(set subscribe.Set, feedURI string, clock ports.Clock) bool {
	found := set.Unsubscribe(feedURI, clock.Now())
	for _, cat := range set.Categories() {
		if unsubscribeAll(cat.Set, feedURI, clock) {
			found = true
		}
	}
	return found
}

// AddCategory creates (or revives) a top-level category.
func (a *Archiver) AddCategory(ctx context.Context, label string) error {
	if label == "" {
		return fmt.Errorf("app: category label is empty")
	}
	return a.stage.Transact(ctx, func(ctx context.Context) error {
		list, err := a.subscriptions(ctx)
		if err != nil {
			return err
		}
		list.Set().AddCategory(label, a.clock.Now())
		return a.stage.Write(ctx, SubscriptionsRoute, list.Element())
	})
}

// SaveFeed archives a fetched feed document under the id derived from its
// document URI. Merging with the previously archived copy keeps the reader's
// marks while the publisher's content wins.
func (a *Archiver) SaveFeed(ctx context.Context, feedURI string, f *feed.Feed) (string, error) {
	id := subscribe.FeedID(feedURI)
	err := a.stage.Transact(ctx, func(ctx context.Context) error {
		return a.stage.Write(ctx, FeedsRoute, f.Element(), id)
	})
	if err != nil {
		return "", err
	}
	a.log.Info().Str("feed", feedURI).Str("id", id).Msg("feed archived")
	return id, nil
}

// Feed returns the merged archived feed with the given id.
func (a *Archiver) Feed(ctx context.Context, id string) (*feed.Feed, error) {
	var f *feed.Feed
	err := a.stage.Transact(ctx, func(ctx context.Context) error {
		el, err := a.stage.Read(ctx, FeedsRoute, id)
		if err != nil {
			return err
		}
		f = feed.Wrap(el)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// FeedIDs lists the ids of every archived feed.
func (a *Archiver) FeedIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := a.stage.Transact(ctx, func(ctx context.Context) error {
		var err error
		ids, err = a.stage.Directory(FeedsRoute).Keys(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// MarkRead flips the read mark of one archived entry.
func (a *Archiver) MarkRead(ctx context.Context, feedID, entryID string, read bool) error {
	return a.markEntry(ctx, feedID, entryID, func(e *feed.Entry) {
		e.SetRead(read, a.clock.Now())
	})
}

// MarkStarred flips the starred mark of one archived entry.
func (a *Archiver) MarkStarred(ctx context.Context, feedID, entryID string, starred bool) error {
	return a.markEntry(ctx, feedID, entryID, func(e *feed.Entry) {
		e.SetStarred(starred, a.clock.Now())
	})
}

func (a *Archiver) markEntry(ctx context.Context, feedID, entryID string, mark func(*feed.Entry)) error {
	return a.stage.Transact(ctx, func(ctx context.Context) error {
		el, err := a.stage.Read(ctx, FeedsRoute, feedID)
		if err != nil {
			return err
		}
		f := feed.Wrap(el)
		entry := f.Entry(entryID)
		if entry == nil {
			return fmt.Errorf("app: entry %s not found in feed %s: %w", entryID, feedID, ports.ErrNotFound)
		}
		mark(entry)
		return a.stage.Write(ctx, FeedsRoute, f.Element(), feedID)
	})
}
