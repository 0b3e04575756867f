// Copyright 2025 The Dinoflash Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dinocore/tools/dinoflash/internal/hwver"
	"github.com/dinocore/tools/dinoflash/internal/image"
)

const buildsJSON = `[
	{"id": 1, "name": "B1", "created_at": "2024-01-01T00:00:00Z", "supported_versions": ["1.8.0", "1.9.1"]},
	{"id": "2", "name": "B2", "created_at": "2024-02-01T00:00:00Z", "supported_versions": ["1.9.1"]},
	{"id": 3, "name": "B3", "created_at": "2024-03-01T00:00:00Z", "supported_versions": ["1.9.10"]}
]`

type server struct {
	*httptest.Server
	mu    sync.Mutex
	paths []string
}

func newServer(t *testing.T, list string, files map[string]string) *server {
	s := new(server)
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.paths = append(s.paths, r.URL.Path)
		s.mu.Unlock()
		switch {
		case r.URL.Path == "/api/builds" || r.URL.Path == "/api/testing-builds":
			fmt.Fprint(w, list)
		case strings.HasSuffix(r.URL.Path, "/download"):
			data, ok := files[r.URL.Path]
			if !ok {
				http.NotFound(w, r)
				return
			}
			fmt.Fprint(w, data)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *server) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paths...)
}

func newClient(t *testing.T, s *server) *Client {
	t.Helper()
	c, err := NewClient(s.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func names(bs []Build) []string {
	var ns []string
	for _, b := range bs {
		ns = append(ns, b.Name)
	}
	return ns
}

func TestBuildJSON(t *testing.T) {
	var bs []Build
	if err := json.Unmarshal([]byte(buildsJSON), &bs); err != nil {
		t.Fatal(err)
	}
	want := []ID{"1", "2", "3"}
	for i, b := range bs {
		if b.ID != want[i] {
			t.Errorf("build %d: id = %q, want %q", i, b.ID, want[i])
		}
	}
	if !bs[0].Supports(hwver.MustParse("1.9.1")) || bs[2].Supports(hwver.MustParse("1.9.1")) {
		t.Error("Supports must match the exact version string")
	}
}

func TestSortNewest(t *testing.T) {
	bs := []Build{
		{ID: "10", Name: "a", CreatedAt: "2024-01-01T00:00:00Z"},
		{ID: "9", Name: "b", CreatedAt: "2024-01-01T00:00:00Z"},
		{ID: "1", Name: "c", CreatedAt: "1717200000"}, // 2024-06-01
		{ID: "x", Name: "d", CreatedAt: "2024-03-01T10:00:00+02:00"},
		{ID: "2", Name: "e", CreatedAt: "2024-02-01 12:00:00"},
	}
	SortNewest(bs)
	want := []string{"c", "d", "e", "b", "a"}
	if diff := cmp.Diff(want, names(bs)); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestTimestampCompare(t *testing.T) {
	tests := []struct {
		a, b Timestamp
		want int
	}{
		{"2024-01-01T00:00:00Z", "2024-01-01T01:00:00+01:00", 0},
		{"1704067200", "2024-01-01T00:00:00Z", 0},
		{"2024-01-02T00:00:00Z", "1704067200", 1},
		{"yesterday", "today", 1}, // not dates: string order
		{"", "2024-01-01T00:00:00Z", -1},
	}
	for _, tc := range tests {
		if got := tc.a.Compare(tc.b); got != tc.want {
			t.Errorf("%q.Compare(%q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestListCompatible(t *testing.T) {
	s := newServer(t, buildsJSON, nil)
	c := newClient(t, s)
	bs, err := c.ListCompatible(context.Background(), Production, hwver.MustParse("1.9.1"))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"B2", "B1"}, names(bs)); diff != "" {
		t.Errorf("builds mismatch (-want +got):\n%s", diff)
	}
	bs, err = c.ListCompatible(context.Background(), Testing, hwver.MustParse("2.0.0"))
	if err != nil || len(bs) != 0 {
		t.Errorf("ListCompatible(2.0.0) = %v, %v", bs, err)
	}
	want := []string{"/api/builds", "/api/testing-builds"}
	if diff := cmp.Diff(want, s.Paths()); diff != "" {
		t.Errorf("paths mismatch (-want +got):\n%s", diff)
	}
}

func TestFetch(t *testing.T) {
	files := make(map[string]string)
	for _, k := range image.Kinds {
		files["/api/builds/2/files/"+string(k)+"/download"] = "B2 " + string(k)
	}
	s := newServer(t, buildsJSON, files)
	c := newClient(t, s)
	set := image.Set{Dir: t.TempDir()}
	if err := os.WriteFile(set.Path(image.App), []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}
	b, err := c.Fetch(context.Background(), nil, Production, hwver.MustParse("1.9.1"), set)
	if err != nil {
		t.Fatal(err)
	}
	if b.Name != "B2" {
		t.Errorf("selected %s, want B2", b.Name)
	}
	for _, k := range image.Kinds {
		data, err := os.ReadFile(set.Path(k))
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != "B2 "+string(k) {
			t.Errorf("%s = %q", k.FileName(), data)
		}
	}
}

func TestFetchNoCompatible(t *testing.T) {
	s := newServer(t, buildsJSON, nil)
	set := image.Set{Dir: t.TempDir()}
	_, err := newClient(t, s).Fetch(context.Background(), nil, Production, hwver.MustParse("1.7.0"), set)
	var nc *NoCompatibleError
	if !errors.As(err, &nc) || nc.Version.String() != "1.7.0" {
		t.Fatalf("Fetch() = %v, want *NoCompatibleError", err)
	}
}

func TestFetchDownloadFails(t *testing.T) {
	files := map[string]string{
		"/api/testing-builds/2/files/bootloader/download": "boot",
	}
	s := newServer(t, buildsJSON, files)
	set := image.Set{Dir: t.TempDir()}
	_, err := newClient(t, s).Fetch(context.Background(), nil, Testing, hwver.MustParse("1.9.1"), set)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound {
		t.Fatalf("Fetch() = %v, want *StatusError 404", err)
	}
	if _, err := os.Stat(set.Path(image.Bootloader)); err != nil {
		t.Errorf("bootloader not kept: %v", err)
	}
	if err := set.Check(); err == nil {
		t.Error("incomplete set passes Check")
	}
}

func TestListStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Builds(context.Background(), Production)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusServiceUnavailable {
		t.Fatalf("Builds() = %v", err)
	}
}

func TestParseMode(t *testing.T) {
	for _, s := range []string{"testing", "TEST"} {
		if m, err := ParseMode(s); err != nil || m != Testing {
			t.Errorf("ParseMode(%q) = %v, %v", s, m, err)
		}
	}
	if _, err := ParseMode("staging"); err == nil {
		t.Error("ParseMode accepted staging")
	}
	if Testing.Dir() != "testing_firmware" || Production.Dir() != "production_firmware" {
		t.Error("wrong firmware directories")
	}
}
