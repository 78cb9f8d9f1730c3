package firestore

import (
	"context"

	"cloud.google.com/go/firestore"
)

type ToFirestoreFunc[T any] func(*T) map[string]interface{}
type FromFirestoreFunc[T any] func(map[string]interface{}) *T

type Collection[T any] struct {
	Ref           *firestore.CollectionRef
	ToFirestore   ToFirestoreFunc[T]
	FromFirestore FromFirestoreFunc[T]
}

func (c *Collection[T]) Doc(id string) *DocumentRef[T] {
	return &DocumentRef[T]{
		Ref:           c.Ref.Doc(id),
		ToFirestore:   c.ToFirestore,
		FromFirestore: c.FromFirestore,
	}
}

type DocumentRef[T any] struct {
	Ref           *firestore.DocumentRef
	ToFirestore   ToFirestoreFunc[T]
	FromFirestore FromFirestoreFunc[T]
}

func (d *DocumentRef[T]) ID() string {
	return d.Ref.ID
}

func (d *DocumentRef[T]) Get(ctx context.Context) (*T, error) {
	snap, err := d.Ref.Get(ctx)
	if err != nil {
		return nil, err
	}
	return d.FromFirestore(snap.Data()), nil
}

func (d *DocumentRef[T]) Set(ctx context.Context, data *T) error {
	_, err := d.Ref.Set(ctx, d.ToFirestore(data), firestore.MergeAll)
	return err
}

// GetTx reads the document inside a transaction. A missing document comes
// back as a NotFound status error.
func (d *DocumentRef[T]) GetTx(tx *firestore.Transaction) (*T, error) {
	snap, err := tx.Get(d.Ref)
	if err != nil {
		return nil, err
	}
	return d.FromFirestore(snap.Data()), nil
}

func (d *DocumentRef[T]) SetTx(tx *firestore.Transaction, data *T) error {
	return tx.Set(d.Ref, d.ToFirestore(data), firestore.MergeAll)
}

// MergeTx writes a partial map; keys must match the stored snake_case fields.
func (d *DocumentRef[T]) MergeTx(tx *firestore.Transaction, updates map[string]interface{}) error {
	return tx.Set(d.Ref, updates, firestore.MergeAll)
}
