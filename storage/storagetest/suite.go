// Package storagetest holds behaviour tests shared by every storage.Store
// implementation.
package storagetest

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/geanlabs/gravity/storage"
)

// Run exercises a fresh store produced by open.
func Run(t *testing.T, open func(t *testing.T) storage.Store) {
	t.Run("get_missing", func(t *testing.T) {
		s := open(t)
		if _, err := s.Get([]byte("nope")); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("Get missing key: got %v, want ErrNotFound", err)
		}
	})

	t.Run("update_commits", func(t *testing.T) {
		s := open(t)
		err := s.Update(func(w storage.Writer) error {
			if err := w.Set([]byte("a"), []byte("1")); err != nil {
				return err
			}
			// staged writes are visible inside the update
			v, err := w.Get([]byte("a"))
			if err != nil {
				return err
			}
			if !bytes.Equal(v, []byte("1")) {
				return fmt.Errorf("staged read: got %q", v)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
		v, err := s.Get([]byte("a"))
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !bytes.Equal(v, []byte("1")) {
			t.Fatalf("Get = %q, want %q", v, "1")
		}
	})

	t.Run("update_rolls_back", func(t *testing.T) {
		s := open(t)
		mustSet(t, s, "a", "1")

		boom := errors.New("boom")
		err := s.Update(func(w storage.Writer) error {
			if err := w.Set([]byte("a"), []byte("2")); err != nil {
				return err
			}
			if err := w.Set([]byte("b"), []byte("3")); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("Update error = %v, want boom", err)
		}
		v, _ := s.Get([]byte("a"))
		if !bytes.Equal(v, []byte("1")) {
			t.Fatalf("a = %q after rollback, want 1", v)
		}
		if _, err := s.Get([]byte("b")); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("b should not exist after rollback, got %v", err)
		}
	})

	t.Run("delete", func(t *testing.T) {
		s := open(t)
		mustSet(t, s, "a", "1")
		err := s.Update(func(w storage.Writer) error {
			if err := w.Delete([]byte("a")); err != nil {
				return err
			}
			if _, err := w.Get([]byte("a")); !errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("staged delete still visible: %v", err)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
		if _, err := s.Get([]byte("a")); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("deleted key: got %v", err)
		}
	})

	t.Run("iterate_prefix_ordered", func(t *testing.T) {
		s := open(t)
		mustSet(t, s, "x/2", "b")
		mustSet(t, s, "x/1", "a")
		mustSet(t, s, "x/3", "c")
		mustSet(t, s, "y/1", "z")

		var got []string
		err := s.Iterate([]byte("x/"), func(k, v []byte) error {
			got = append(got, string(k)+"="+string(v))
			return nil
		})
		if err != nil {
			t.Fatalf("Iterate: %v", err)
		}
		want := []string{"x/1=a", "x/2=b", "x/3=c"}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			t.Fatalf("Iterate = %v, want %v", got, want)
		}
	})

	t.Run("iterate_sees_staged", func(t *testing.T) {
		s := open(t)
		mustSet(t, s, "x/1", "a")
		mustSet(t, s, "x/2", "b")

		var got []string
		err := s.Update(func(w storage.Writer) error {
			if err := w.Delete([]byte("x/1")); err != nil {
				return err
			}
			if err := w.Set([]byte("x/0"), []byte("n")); err != nil {
				return err
			}
			return w.Iterate([]byte("x/"), func(k, _ []byte) error {
				got = append(got, string(k))
				return nil
			})
		})
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
		want := []string{"x/0", "x/2"}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			t.Fatalf("staged Iterate = %v, want %v", got, want)
		}
	})
}

func mustSet(t *testing.T, s storage.Store, key, value string) {
	t.Helper()
	err := s.Update(func(w storage.Writer) error {
		return w.Set([]byte(key), []byte(value))
	})
	if err != nil {
		t.Fatalf("set %s: %v", key, err)
	}
}
