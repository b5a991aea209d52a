package blob

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	fsStore, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("filesystem: %v", err)
	}
	return map[string]Store{
		"fs":     fsStore,
		"memory": NewMemory(),
		"s3":     NewMockS3ForTests(),
	}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			obj, err := s.Put(ctx, "run/a.csv", strings.NewReader("x,y\n1,2\n"), PutOptions{ContentType: "text/csv"})
			if err != nil {
				t.Fatalf("put: %v", err)
			}
			if obj.Key != "run/a.csv" || obj.Size != 8 {
				t.Fatalf("unexpected object %+v", obj)
			}
			if _, err := s.Put(ctx, "run/a.csv", strings.NewReader("again"), PutOptions{}); !errors.Is(err, ErrExists) {
				t.Fatalf("expected ErrExists, got %v", err)
			}
			got, err := ReadAll(ctx, s, "run/a.csv")
			if err != nil || string(got) != "x,y\n1,2\n" {
				t.Fatalf("read back %q, %v", got, err)
			}
			st, err := s.Stat(ctx, "run/a.csv")
			if err != nil || st.ContentType != "text/csv" {
				t.Fatalf("stat %+v, %v", st, err)
			}
			if _, err := s.Put(ctx, "run/b.json", bytes.NewReader([]byte("{}")), PutOptions{}); err != nil {
				t.Fatalf("put b: %v", err)
			}
			if _, err := s.Put(ctx, "other", bytes.NewReader([]byte("z")), PutOptions{}); err != nil {
				t.Fatalf("put other: %v", err)
			}
			list, err := s.List(ctx, "run/")
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(list) != 2 || list[0].Key != "run/a.csv" || list[1].Key != "run/b.json" {
				t.Fatalf("unexpected listing %+v", list)
			}
			if _, err := Replace(ctx, s, "run/a.csv", []byte("new"), PutOptions{}); err != nil {
				t.Fatalf("replace: %v", err)
			}
			if got, _ := ReadAll(ctx, s, "run/a.csv"); string(got) != "new" {
				t.Fatalf("replace kept %q", got)
			}
			ok, err := s.Delete(ctx, "run/a.csv")
			if err != nil || !ok {
				t.Fatalf("delete: %v %v", ok, err)
			}
			if ok, _ := s.Delete(ctx, "run/a.csv"); ok {
				t.Fatalf("second delete reported existing object")
			}
			if _, _, err := s.Get(ctx, "run/a.csv"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound from Get, got %v", err)
			}
			if _, err := s.Stat(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound from Stat, got %v", err)
			}
			if _, err := s.Put(ctx, "../escape", strings.NewReader("x"), PutOptions{}); err == nil {
				t.Fatalf("expected traversal key to be rejected")
			}
		})
	}
}

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		cfg  Config
		want Driver
	}{
		{Config{FSRoot: t.TempDir()}, DriverFilesystem},
		{Config{Driver: DriverFilesystem, FSRoot: t.TempDir()}, DriverFilesystem},
		{Config{Driver: DriverMemory}, DriverMemory},
		{Config{Driver: DriverS3, S3: S3Config{Bucket: "tables", Region: "eu-west-1", Endpoint: "http://localhost:9000", PathStyle: true}}, DriverS3},
	}
	for _, tc := range cases {
		s, err := Open(ctx, tc.cfg)
		if err != nil {
			t.Fatalf("open %q: %v", tc.cfg.Driver, err)
		}
		if s.Driver() != tc.want {
			t.Fatalf("driver %q, want %q", s.Driver(), tc.want)
		}
	}
	if _, err := Open(ctx, Config{Driver: "gcs"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
	if _, err := Open(ctx, Config{Driver: DriverS3}); err == nil {
		t.Fatalf("expected missing bucket error")
	}
}
