package migrate_test

import (
	"testing"

	"github.com/itoxiq/triplit/clock"
	"github.com/itoxiq/triplit/kv"
	"github.com/itoxiq/triplit/migrate"
	"github.com/itoxiq/triplit/schema"
	"github.com/itoxiq/triplit/triple"
)

func newStore() *triple.Store {
	return triple.New(kv.NewMemStore(), clock.NewHLC("test"))
}

func TestCreateCollectionMigrationAppliesAndGates(t *testing.T) {
	s := newStore()

	m := migrate.Migration{
		Version: 1,
		Parent:  0,
		Up: []migrate.Op{{
			Kind:       migrate.OpCreateCollection,
			Collection: "todos",
			Attrs: schema.AttributeMap{
				"text": schema.String(),
			},
		}},
	}

	err := s.Transact(func(tx *triple.Tx) error {
		applied, err := migrate.Apply(tx, m, migrate.Up)
		if err != nil {
			return err
		}
		if !applied {
			t.Fatal("expected migration to apply against a fresh (version 0) schema")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transact: %v", err)
	}

	err = s.Transact(func(tx *triple.Tx) error {
		got, found, err := tx.ReadSchema()
		if err != nil {
			return err
		}
		if !found || got.Version != 1 {
			t.Fatalf("expected schema at version 1, got found=%v %+v", found, got)
		}
		if _, ok := got.Collections["todos"]; !ok {
			t.Fatal("expected todos collection to exist")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transact: %v", err)
	}

	// Re-applying the same up-migration should now be gated out: current
	// version is 1, migration.Parent is 0.
	err = s.Transact(func(tx *triple.Tx) error {
		applied, err := migrate.Apply(tx, m, migrate.Up)
		if err != nil {
			return err
		}
		if applied {
			t.Fatal("expected re-applying an already-applied migration to be skipped")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transact: %v", err)
	}
}

func TestRenameAttributeRewritesSchemaAndData(t *testing.T) {
	s := newStore()
	e, _ := triple.NewEntityID("todos", "t1")

	create := migrate.Migration{
		Version: 1, Parent: 0,
		Up: []migrate.Op{{
			Kind: migrate.OpCreateCollection, Collection: "todos",
			Attrs: schema.AttributeMap{"body": schema.String()},
		}},
	}
	rename := migrate.Migration{
		Version: 2, Parent: 1,
		Up: []migrate.Op{{
			Kind: migrate.OpRenameAttribute, Collection: "todos",
			Attribute: []string{"body"}, NewAttribute: []string{"text"},
		}},
	}

	err := s.Transact(func(tx *triple.Tx) error {
		if _, err := migrate.Apply(tx, create, migrate.Up); err != nil {
			return err
		}
		ts := tx.Clock().Now()
		return tx.Write([]triple.Triple{
			{E: e, A: triple.Path{triple.CollectionMarkerAttr}, V: "todos", T: ts},
			{E: e, A: triple.Path{"todos", "body"}, V: "buy milk", T: ts},
		})
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	err = s.Transact(func(tx *triple.Tx) error {
		applied, err := migrate.Apply(tx, rename, migrate.Up)
		if err != nil {
			return err
		}
		if !applied {
			t.Fatal("expected rename migration to apply")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("rename: %v", err)
	}

	err = s.Transact(func(tx *triple.Tx) error {
		got, _, err := tx.ReadSchema()
		if err != nil {
			return err
		}
		if _, ok := got.Collections["todos"].Schema["text"]; !ok {
			t.Fatal("expected schema to have renamed attribute 'text'")
		}
		if _, ok := got.Collections["todos"].Schema["body"]; ok {
			t.Fatal("expected old attribute 'body' to be gone from schema")
		}

		cur, found, err := tx.CurrentValue(e, triple.Path{"todos", "text"})
		if err != nil {
			return err
		}
		if !found || cur.V != "buy milk" {
			t.Fatalf("expected data to be rewritten to the new path, got found=%v %+v", found, cur)
		}

		old, found, err := tx.CurrentValue(e, triple.Path{"todos", "body"})
		if err != nil {
			return err
		}
		if !found || !old.Expired {
			t.Fatalf("expected old path to be tombstoned, got found=%v %+v", found, old)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestDropCollectionPurgesDataWhenRequested(t *testing.T) {
	s := newStore()
	e, _ := triple.NewEntityID("todos", "t1")

	create := migrate.Migration{
		Version: 1, Parent: 0,
		Up: []migrate.Op{{Kind: migrate.OpCreateCollection, Collection: "todos", Attrs: schema.AttributeMap{"body": schema.String()}}},
	}
	drop := migrate.Migration{
		Version: 2, Parent: 1,
		Up: []migrate.Op{{Kind: migrate.OpDropCollection, Collection: "todos", PurgeData: true}},
	}

	err := s.Transact(func(tx *triple.Tx) error {
		if _, err := migrate.Apply(tx, create, migrate.Up); err != nil {
			return err
		}
		ts := tx.Clock().Now()
		return tx.Write([]triple.Triple{
			{E: e, A: triple.Path{triple.CollectionMarkerAttr}, V: "todos", T: ts},
			{E: e, A: triple.Path{"todos", "body"}, V: "buy milk", T: ts},
		})
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	err = s.Transact(func(tx *triple.Tx) error {
		applied, err := migrate.Apply(tx, drop, migrate.Up)
		if err != nil {
			return err
		}
		if !applied {
			t.Fatal("expected drop migration to apply")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("drop: %v", err)
	}

	err = s.Transact(func(tx *triple.Tx) error {
		got, _, err := tx.ReadSchema()
		if err != nil {
			return err
		}
		if _, ok := got.Collections["todos"]; ok {
			t.Fatal("expected todos collection to be removed from schema")
		}
		cur, found, err := tx.CurrentValue(e, triple.Path{"todos", "body"})
		if err != nil {
			return err
		}
		if !found || !cur.Expired {
			t.Fatalf("expected purged data to be tombstoned, got found=%v %+v", found, cur)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
}
