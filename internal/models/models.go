// Package models keeps per-type identity maps of API records so every view
// of an app, category or rating shares one authoritative object.
package models

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/spf13/cast"

	"github.com/briangreenhill/storefront/internal/requests"
)

// ErrUnknownModel is returned for a type outside the allow-list.
var ErrUnknownModel = errors.New("unknown model")

// Record is one decoded API object.
type Record = map[string]any

// Fetcher issues the GET used when a record is not in the store.
type Fetcher func(url string) *requests.Request

// naturalKeys is the allow-list of model types and the field each is indexed by.
var naturalKeys = map[string]string{
	"app":        "slug",
	"category":   "slug",
	"collection": "slug",
	"rating":     "resource_uri",
}

// Store owns one Keyspace per allowed type.
type Store struct {
	fetch  Fetcher
	log    zerolog.Logger
	spaces map[string]*Keyspace
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// New creates an empty store. fetch is the default Fetcher for Get; it is
// usually the cache-aware client GET.
func New(fetch Fetcher, opts ...Option) *Store {
	s := &Store{fetch: fetch, log: zerolog.Nop(), spaces: make(map[string]*Keyspace)}
	for _, o := range opts {
		o(s)
	}
	for name, field := range naturalKeys {
		s.spaces[name] = &Keyspace{
			name:    name,
			field:   field,
			records: make(map[string]Record),
			store:   s,
		}
	}
	return s
}

// Type returns the keyspace for name.
func (s *Store) Type(name string) (*Keyspace, error) {
	ks, ok := s.spaces[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
	return ks, nil
}

// Names lists the allowed model types.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.spaces))
	for n := range s.spaces {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// PurgeAll empties every keyspace.
func (s *Store) PurgeAll() {
	for _, ks := range s.spaces {
		ks.Purge()
	}
	s.log.Debug().Msg("model store purged")
}

// Keyspace is the identity map of one model type.
type Keyspace struct {
	name    string
	field   string
	records map[string]Record
	store   *Store
}

// Name returns the model type.
func (k *Keyspace) Name() string { return k.name }

// KeyField returns the natural key field, e.g. "slug".
func (k *Keyspace) KeyField() string { return k.field }

// Len returns the number of stored records.
func (k *Keyspace) Len() int { return len(k.records) }

// KeyOf returns the natural key of rec.
func (k *Keyspace) KeyOf(rec Record) (string, bool) {
	raw, ok := rec[k.field]
	if !ok || raw == nil {
		return "", false
	}
	key, err := cast.ToStringE(raw)
	if err != nil || key == "" {
		return "", false
	}
	return key, true
}

// Cast stores a record, or every record of a list, under its natural key,
// overwriting what was there. Elements that are not records or carry no
// key are skipped. It returns the number of records stored.
func (k *Keyspace) Cast(v any) int {
	n := 0
	for _, rec := range records(v) {
		key, ok := k.KeyOf(rec)
		if !ok {
			k.store.log.Debug().Str("model", k.name).Msg("cast skipped record without natural key")
			continue
		}
		k.records[key] = rec
		n++
	}
	return n
}

// Uncast maps a record to the stored record with the same natural key, or a
// list to the list of stored records. Missing records map to nil.
func (k *Keyspace) Uncast(v any) any {
	switch t := v.(type) {
	case Record:
		return k.authoritative(t)
	case []Record:
		out := make([]Record, len(t))
		for i, rec := range t {
			out[i] = k.authoritative(rec)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, el := range t {
			rec, ok := el.(Record)
			if !ok {
				continue
			}
			if stored := k.authoritative(rec); stored != nil {
				out[i] = stored
			}
		}
		return out
	}
	return nil
}

func (k *Keyspace) authoritative(rec Record) Record {
	key, ok := k.KeyOf(rec)
	if !ok {
		return nil
	}
	return k.records[key]
}

// Get serves the record with natural key key from the store as an already
// resolved request marked Casted. Otherwise it calls fetch, or the store's
// default fetcher when fetch is nil.
func (k *Keyspace) Get(url, key string, fetch Fetcher) *requests.Request {
	if key != "" {
		if rec, ok := k.records[key]; ok {
			r := requests.Resolved(url, rec)
			r.Casted = true
			return r
		}
	}
	if fetch == nil {
		fetch = k.store.fetch
	}
	return fetch(url)
}

// Lookup returns the record stored under key.
func (k *Keyspace) Lookup(key string) (Record, bool) {
	rec, ok := k.records[key]
	return rec, ok
}

// LookupBy scans for the first record whose field equals value. Values are
// compared as strings, so numeric ids match their JSON form.
func (k *Keyspace) LookupBy(field string, value any) (Record, bool) {
	want := cast.ToString(value)
	keys := make([]string, 0, len(k.records))
	for key := range k.records {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		rec := k.records[key]
		if got, ok := rec[field]; ok && cast.ToString(got) == want {
			return rec, true
		}
	}
	return nil, false
}

// Purge empties the keyspace.
func (k *Keyspace) Purge() {
	k.records = make(map[string]Record)
}

func records(v any) []Record {
	switch t := v.(type) {
	case Record:
		return []Record{t}
	case []Record:
		return t
	case []any:
		out := make([]Record, 0, len(t))
		for _, el := range t {
			if rec, ok := el.(Record); ok {
				out = append(out, rec)
			}
		}
		return out
	}
	return nil
}
