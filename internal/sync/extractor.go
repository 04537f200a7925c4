package sync

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"tap-auth0/internal/auth0"
	"tap-auth0/internal/config"
	"tap-auth0/internal/singer"
)

// Source returns pages of users from the remote API.
type Source interface {
	ListUsers(ctx context.Context, q auth0.UsersQuery) (*auth0.UsersPage, error)
}

// Sink receives Singer messages.
type Sink interface {
	WriteSchema(stream string, schema json.RawMessage, keyProperties []string) error
	WriteRecords(stream string, records []json.RawMessage) error
	WriteState(state *singer.State) error
}

// Result summarizes a finished extraction.
type Result struct {
	State   *singer.State
	Records int
	Pages   int
	Windows int
}

// Extractor runs one incremental pass over the users stream.
type Extractor struct {
	source    Source
	sink      Sink
	stream    singer.Stream
	perPage   int
	startDate string
	limit     int
}

func NewExtractor(source Source, sink Sink, cfg config.Config) *Extractor {
	perPage := cfg.PerPage
	if perPage == 0 {
		perPage = config.DefaultPerPage
	}
	return &Extractor{
		source:    source,
		sink:      sink,
		stream:    singer.Users,
		perPage:   perPage,
		startDate: cfg.StartDate,
		limit:     auth0.MaxSearchResults,
	}
}

// Extract pages through every user updated after the prior bookmark, emitting
// records as it goes. State is emitted each time the result cap forces a new
// window and once at the end; on error the last emitted state stands.
func (e *Extractor) Extract(ctx context.Context, prior *singer.State) (*Result, error) {
	stream := e.stream.Name
	key := e.stream.ReplicationKey

	watermark, ok := prior.Bookmark(stream, key)
	if !ok {
		watermark = e.startDate
	}
	if watermark == "" {
		return nil, fmt.Errorf("%w: start_date is required when no %s bookmark exists", config.ErrConfiguration, stream)
	}

	schema, err := singer.LoadSchema(stream)
	if err != nil {
		return nil, err
	}
	if err := e.sink.WriteSchema(stream, schema, e.stream.KeyProperties); err != nil {
		return nil, err
	}

	state := prior.WithCurrentlySyncing(stream)
	window := NewWindow(watermark, e.limit)
	result := &Result{Windows: 1}

	log.Info().
		Str("stream", stream).
		Str("filter", window.Filter).
		Int("per_page", e.perPage).
		Msg("Starting extraction")

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := e.source.ListUsers(ctx, auth0.UsersQuery{
			Page:    window.Page,
			PerPage: e.perPage,
			Sort:    auth0.SortBy(key, auth0.SortAscending),
			Query:   auth0.UpdatedAfter(key, window.Filter),
		})
		if err != nil {
			return nil, err
		}

		count := len(page.Users)
		if count > 0 {
			if err := e.sink.WriteRecords(stream, page.Users); err != nil {
				return nil, err
			}
		}
		result.Records += count
		result.Pages++

		var last string
		if count > 0 {
			last = gjson.GetBytes(page.Users[count-1], key).String()
			if last == "" {
				log.Warn().Str("stream", stream).Int("page", window.Page).Msg("Last record has no replication value")
			}
		}

		phase, err := window.Advance(count, page.Total, last)
		if err != nil {
			return nil, err
		}

		log.Info().
			Str("stream", stream).
			Int("page", window.Page).
			Int("records", count).
			Int("seen", window.Seen).
			Int("total", page.Total).
			Str("watermark", window.Watermark).
			Stringer("phase", phase).
			Msg("Processed page")

		switch phase {
		case WindowExhausted:
			state = state.WithBookmark(stream, key, window.Watermark)
			if err := e.sink.WriteState(state); err != nil {
				return nil, err
			}
			window.Reopen()
			result.Windows++
			log.Info().
				Str("stream", stream).
				Str("filter", window.Filter).
				Msg("Result cap reached, opening new window")

		case Terminated:
			state = state.WithBookmark(stream, key, window.Watermark).WithCurrentlySyncing("")
			if err := e.sink.WriteState(state); err != nil {
				return nil, err
			}
			result.State = state
			return result, nil
		}
	}
}
