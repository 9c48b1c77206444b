// Package mongostore implements docstore.Store on a MongoDB collection.
//
// Each record is one document whose _id is the record key and whose fields
// are the record attributes. mgo calls do not take a context, so callers
// bound them with docstore.WithTimeout.
package mongostore

import (
	"context"
	"regexp"
	"sort"
	"time"

	"github.com/juju/errors"
	"github.com/juju/mgo/v3"
	"github.com/juju/mgo/v3/bson"

	"github.com/nainya/metastore/pkg/docstore"
	metaerrors "github.com/nainya/metastore/pkg/errors"
)

const indexCollection = "fulltext_indexes"

// Config selects the server and the collection that holds the records.
type Config struct {
	URL        string
	Database   string
	Collection string
	Timeout    time.Duration
}

// Store is a docstore.Store backed by MongoDB.
type Store struct {
	session    *mgo.Session
	database   string
	collection string
}

var _ docstore.Store = (*Store)(nil)

// Open dials the server described by cfg.
func Open(cfg Config) (*Store, error) {
	info, err := mgo.ParseURL(cfg.URL)
	if err != nil {
		return nil, errors.Annotatef(err, "parse mongo url")
	}
	if cfg.Timeout > 0 {
		info.Timeout = cfg.Timeout
	}
	session, err := mgo.DialWithInfo(info)
	if err != nil {
		return nil, errors.Annotatef(metaerrors.Unavailable, "dial mongo: %v", err)
	}
	session.SetMode(mgo.Strong, true)

	db := cfg.Database
	if db == "" {
		db = info.Database
	}
	if db == "" {
		db = "metastore"
	}
	coll := cfg.Collection
	if coll == "" {
		coll = "records"
	}
	return &Store{session: session, database: db, collection: coll}, nil
}

// with runs fn on a copied session so concurrent calls use separate sockets.
func (s *Store) with(fn func(db *mgo.Database) error) error {
	session := s.session.Copy()
	defer session.Close()
	return fn(session.DB(s.database))
}

func (s *Store) CreateUnique(_ context.Context, key string, attrs map[string]any) error {
	doc := bson.M{"_id": key}
	for k, v := range attrs {
		doc[k] = v
	}
	return s.with(func(db *mgo.Database) error {
		err := db.C(s.collection).Insert(doc)
		if mgo.IsDup(err) {
			return errors.Annotatef(metaerrors.Conflict, "record %q already exists", key)
		}
		return wrap(err, "insert record %q", key)
	})
}

func (s *Store) Get(_ context.Context, key string) (docstore.Record, error) {
	var rec docstore.Record
	err := s.with(func(db *mgo.Database) error {
		var doc bson.M
		err := db.C(s.collection).FindId(key).One(&doc)
		if err == mgo.ErrNotFound {
			return errors.Annotatef(metaerrors.NotFound, "record %q", key)
		}
		if err != nil {
			return wrap(err, "get record %q", key)
		}
		rec, err = toRecord(doc)
		return err
	})
	return rec, err
}

func (s *Store) UpdateRaw(_ context.Context, key string, attrs map[string]any) error {
	set := bson.M{}
	for k, v := range attrs {
		set[k] = v
	}
	return s.with(func(db *mgo.Database) error {
		err := db.C(s.collection).UpdateId(key, bson.M{"$set": set})
		if err == mgo.ErrNotFound {
			return errors.Annotatef(metaerrors.NotFound, "record %q", key)
		}
		return wrap(err, "update record %q", key)
	})
}

func (s *Store) Query(_ context.Context, p docstore.Predicate) ([]docstore.Record, error) {
	filter := bson.M{}
	for k, v := range p {
		filter[k] = v
	}
	return s.find(filter)
}

func (s *Store) find(filter bson.M) ([]docstore.Record, error) {
	var out []docstore.Record
	err := s.with(func(db *mgo.Database) error {
		var docs []bson.M
		if err := db.C(s.collection).Find(filter).Sort("_id").All(&docs); err != nil {
			return wrap(err, "query records")
		}
		for _, doc := range docs {
			rec, err := toRecord(doc)
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

// CreateFulltextIndex records field and, when MongoDB can address it as a
// dotted path, builds a server side index on it.
func (s *Store) CreateFulltextIndex(_ context.Context, field string) error {
	return s.with(func(db *mgo.Database) error {
		if !docstore.Escaped(field) {
			if err := db.C(s.collection).EnsureIndex(mgo.Index{Key: []string{field}, Background: true}); err != nil {
				return wrap(err, "create index %q", field)
			}
		}
		_, err := db.C(indexCollection).UpsertId(field, bson.M{"$set": bson.M{"collection": s.collection}})
		return wrap(err, "record index %q", field)
	})
}

// FulltextSearch narrows candidates with a case-insensitive regular
// expression on the server, then applies the word-prefix matcher. Fields
// with dotted names are narrowed on their top-level attribute only.
func (s *Store) FulltextSearch(_ context.Context, field, term string) ([]string, error) {
	matcher := docstore.NewMatcher(term)
	filter := bson.M{field: bson.RegEx{Pattern: regexp.QuoteMeta(term), Options: "i"}}
	if docstore.Escaped(field) {
		filter = bson.M{docstore.SplitPath(field)[0]: bson.M{"$exists": true}}
	}
	recs, err := s.find(filter)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, rec := range recs {
		if matcher.Match(docstore.Lookup(rec.Attrs, field)) {
			keys = append(keys, rec.Key)
		}
	}
	return keys, nil
}

func (s *Store) FulltextIndexes(_ context.Context) ([]string, error) {
	fields := []string{}
	err := s.with(func(db *mgo.Database) error {
		var docs []struct {
			Field string `bson:"_id"`
		}
		if err := db.C(indexCollection).Find(bson.M{"collection": s.collection}).All(&docs); err != nil {
			return wrap(err, "list indexes")
		}
		for _, d := range docs {
			fields = append(fields, d.Field)
		}
		return nil
	})
	sort.Strings(fields)
	return fields, err
}

// DropAll removes every record and index entry. Used by tests.
func (s *Store) DropAll() error {
	return s.with(func(db *mgo.Database) error {
		if _, err := db.C(s.collection).RemoveAll(nil); err != nil {
			return wrap(err, "clear records")
		}
		_, err := db.C(indexCollection).RemoveAll(bson.M{"collection": s.collection})
		return wrap(err, "clear indexes")
	})
}

func (s *Store) Close() error {
	s.session.Close()
	return nil
}

func toRecord(doc bson.M) (docstore.Record, error) {
	key, _ := doc["_id"].(string)
	delete(doc, "_id")
	attrs, err := docstore.Normalize(doc)
	if err != nil {
		return docstore.Record{}, errors.Annotatef(err, "decode record %q", key)
	}
	return docstore.Record{Key: key, Attrs: attrs}, nil
}

// wrap returns nil for a nil err. Network failures map to Unavailable.
func wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*mgo.QueryError); !ok {
		if _, ok := err.(*mgo.LastError); !ok {
			return errors.Annotatef(metaerrors.Unavailable, format+": %v", append(args, err)...)
		}
	}
	return errors.Annotatef(err, format, args...)
}
