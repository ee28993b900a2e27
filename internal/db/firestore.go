package db

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig identifies the Firebase project holding the fleet data.
type FirestoreConfig struct {
	ProjectID       string
	CredentialsPath string
}

// ConnectFirestore initialises the Firebase app and returns its Firestore client.
func ConnectFirestore(ctx context.Context, cfg FirestoreConfig) (*firestore.Client, error) {
	var opts []option.ClientOption
	if cfg.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsPath))
	}

	var conf *firebase.Config
	if cfg.ProjectID != "" {
		conf = &firebase.Config{ProjectID: cfg.ProjectID}
	}
	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	return client, nil
}

// FirestoreBackend stores documents in Cloud Firestore. Document ids map to
// "_id"; atomic writes run as single-attempt transactions so that contention
// surfaces as ErrConflict.
type FirestoreBackend struct {
	client *firestore.Client
	log    *logrus.Entry
}

// NewFirestoreBackend wraps a Firestore client.
func NewFirestoreBackend(client *firestore.Client) *FirestoreBackend {
	return &FirestoreBackend{
		client: client,
		log:    logrus.WithFields(logrus.Fields{"component": "store", "backend": "firestore"}),
	}
}

func (b *FirestoreBackend) Insert(ctx context.Context, collection string, doc Document) (string, error) {
	coll := b.client.Collection(collection)
	ref := coll.NewDoc()
	if id, _ := doc["_id"].(string); id != "" {
		ref = coll.Doc(id)
	}
	if _, err := ref.Create(ctx, toFirestore(doc)); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return "", ErrAlreadyExists
		}
		return "", err
	}
	return ref.ID, nil
}

func (b *FirestoreBackend) Update(ctx context.Context, collection, id string, fields Fields, merge bool) error {
	ref := b.client.Collection(collection).Doc(id)
	data := toFirestore(fields)

	if merge {
		updates := make([]firestore.Update, 0, len(data))
		for k, v := range data {
			updates = append(updates, firestore.Update{Path: k, Value: v})
		}
		if len(updates) == 0 {
			return nil
		}
		_, err := ref.Update(ctx, updates)
		return mapFirestoreErr(err)
	}

	err := b.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(ref); err != nil {
			return err
		}
		return tx.Set(ref, data)
	})
	return mapFirestoreErr(err)
}

func (b *FirestoreBackend) Delete(ctx context.Context, collection, id string) error {
	_, err := b.client.Collection(collection).Doc(id).Delete(ctx, firestore.Exists)
	return mapFirestoreErr(err)
}

func (b *FirestoreBackend) Get(ctx context.Context, collection, id string) (Document, error) {
	snap, err := b.client.Collection(collection).Doc(id).Get(ctx)
	if err != nil {
		return nil, mapFirestoreErr(err)
	}
	return fromSnapshot(snap), nil
}

func (b *FirestoreBackend) Find(ctx context.Context, collection string, filter Filter) ([]Document, error) {
	snaps, err := b.query(collection, filter).Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	docs := make([]Document, 0, len(snaps))
	for _, snap := range snaps {
		docs = append(docs, fromSnapshot(snap))
	}
	return docs, nil
}

// Watch attaches a snapshot listener; its first snapshot is the initial state.
func (b *FirestoreBackend) Watch(ctx context.Context, collection string, filter Filter, onChange func([]Document)) (Subscription, error) {
	watchCtx, cancel := context.WithCancel(context.Background())
	sub := newSubscription(ctx, onChange, cancel)
	it := b.query(collection, filter).Snapshots(watchCtx)

	go func() {
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				if watchCtx.Err() == nil && !errors.Is(err, iterator.Done) {
					b.log.WithError(err).WithField("collection", collection).Error("snapshot listener failed")
					sub.fail(err)
				}
				return
			}
			snaps, err := snap.Documents.GetAll()
			if err != nil {
				if watchCtx.Err() == nil {
					sub.fail(err)
				}
				return
			}
			docs := make([]Document, 0, len(snaps))
			for _, s := range snaps {
				docs = append(docs, fromSnapshot(s))
			}
			sub.push(docs)
		}
	}()
	return sub, nil
}

func (b *FirestoreBackend) Atomic(ctx context.Context, collection, id string, fn MutateFunc) error {
	ref := b.client.Collection(collection).Doc(id)
	var fnErr error
	err := b.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var current Document
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return err
		default:
			current = fromSnapshot(snap)
		}

		fields, err := fn(current)
		if err != nil {
			fnErr = err
			return err
		}
		if fields == nil {
			return nil
		}
		if current == nil {
			fnErr = ErrNotFound
			return ErrNotFound
		}
		data := toFirestore(fields)
		updates := make([]firestore.Update, 0, len(data))
		for k, v := range data {
			updates = append(updates, firestore.Update{Path: k, Value: v})
		}
		return tx.Update(ref, updates)
	}, firestore.MaxAttempts(1))
	if fnErr != nil {
		return fnErr
	}
	return mapFirestoreErr(err)
}

func (b *FirestoreBackend) Close(ctx context.Context) error {
	return b.client.Close()
}

func (b *FirestoreBackend) query(collection string, filter Filter) firestore.Query {
	coll := b.client.Collection(collection)
	q := coll.Query
	for _, c := range filter.Conditions {
		path, value := c.Field, toFirestoreValue(c.Value)
		if path == "_id" {
			path = firestore.DocumentID
			value = docRefs(coll, c.Value)
		}
		q = q.Where(path, string(c.Op), value)
	}
	return q
}

func docRefs(coll *firestore.CollectionRef, v interface{}) interface{} {
	switch ids := v.(type) {
	case string:
		return coll.Doc(ids)
	case []interface{}:
		refs := make([]*firestore.DocumentRef, 0, len(ids))
		for _, id := range ids {
			if s, ok := id.(string); ok {
				refs = append(refs, coll.Doc(s))
			}
		}
		return refs
	}
	return v
}

func mapFirestoreErr(err error) error {
	switch status.Code(err) {
	case codes.OK:
		return err
	case codes.NotFound:
		return ErrNotFound
	case codes.Aborted, codes.FailedPrecondition:
		return ErrConflict
	case codes.AlreadyExists:
		return ErrAlreadyExists
	}
	return err
}

func fromSnapshot(snap *firestore.DocumentSnapshot) Document {
	doc := Document{}
	for k, v := range snap.Data() {
		doc[k] = v
	}
	doc["_id"] = snap.Ref.ID
	return doc
}

// toFirestore converts BSON-native values into types the Firestore client accepts.
func toFirestore(doc Document) map[string]interface{} {
	out := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		if k == "_id" || k == revField {
			continue
		}
		out[k] = toFirestoreValue(v)
	}
	return out
}

func toFirestoreValue(v interface{}) interface{} {
	switch val := v.(type) {
	case primitive.DateTime:
		return val.Time().UTC()
	case primitive.Timestamp:
		return primitive.DateTime(int64(val.T) * 1000).Time().UTC()
	case primitive.Null, primitive.Undefined:
		return nil
	case int32:
		return int64(val)
	case primitive.A:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = toFirestoreValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = toFirestoreValue(item)
		}
		return out
	case bson.M:
		return toFirestore(val)
	case map[string]interface{}:
		return toFirestore(val)
	case primitive.D:
		m := make(map[string]interface{}, len(val))
		for _, e := range val {
			m[e.Key] = toFirestoreValue(e.Value)
		}
		return m
	}
	return v
}
