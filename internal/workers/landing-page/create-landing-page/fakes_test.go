package createlandingpage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"dynamic-site-maker/internal/common/contentstore"
	"dynamic-site-maker/internal/common/media"
	"dynamic-site-maker/internal/common/notify"
	"dynamic-site-maker/internal/common/pageindex"
	"dynamic-site-maker/internal/common/provisioning"
	"dynamic-site-maker/internal/common/throttle"

	"github.com/stretchr/testify/mock"
)

// memoryStore is an in-memory content store with per-operation failure injection.
type memoryStore struct {
	mu         sync.Mutex
	nextID     int64
	pages      map[int64]string // id -> slug
	titles     map[int64]string
	meta       map[int64]map[string]string
	media      map[int64]string
	cacheClear int
	failOn     map[string]error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		nextID: 100,
		pages:  map[int64]string{},
		titles: map[int64]string{},
		meta:   map[int64]map[string]string{},
		media:  map[int64]string{},
		failOn: map[string]error{},
	}
}

func (s *memoryStore) fail(op string) error {
	return s.failOn[op]
}

func (s *memoryStore) UniqueSlug(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	base := contentstore.Slugify(name)
	taken := func(slug string) bool {
		for _, existing := range s.pages {
			if existing == slug {
				return true
			}
		}
		return false
	}
	candidate := base
	for i := 1; taken(candidate); i++ {
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
	return candidate, nil
}

func (s *memoryStore) CreatePage(ctx context.Context, title, slug string, authorID int64) (int64, error) {
	if err := s.fail("CreatePage"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.pages[s.nextID] = slug
	s.titles[s.nextID] = title
	s.meta[s.nextID] = map[string]string{}
	return s.nextID, nil
}

func (s *memoryStore) DeletePage(ctx context.Context, pageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pages, pageID)
	delete(s.titles, pageID)
	delete(s.meta, pageID)
	return nil
}

func (s *memoryStore) SetMetas(ctx context.Context, pageID int64, meta map[string]string) error {
	if err := s.fail("SetMetas"); err != nil {
		return err
	}
	for k, v := range meta {
		if err := s.SetMeta(ctx, pageID, k, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *memoryStore) SetMeta(ctx context.Context, pageID int64, key, value string) error {
	if err := s.fail("SetMeta:" + key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.meta[pageID] == nil {
		s.meta[pageID] = map[string]string{}
	}
	s.meta[pageID][key] = value
	return nil
}

func (s *memoryStore) GetMeta(ctx context.Context, pageID int64, key string) (string, error) {
	if err := s.fail("GetMeta"); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta[pageID][key], nil
}

func (s *memoryStore) ListMeta(ctx context.Context, pageID int64) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]string{}
	for k, v := range s.meta[pageID] {
		out[k] = v
	}
	return out, nil
}

func (s *memoryStore) MediaExists(ctx context.Context, mediaID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.media[mediaID]
	return ok, nil
}

func (s *memoryStore) GetMediaURL(ctx context.Context, mediaID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.media[mediaID], nil
}

func (s *memoryStore) ClearRenderCache(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cacheClear++
	return nil
}

func (s *memoryStore) slugs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, slug := range s.pages {
		out = append(out, slug)
	}
	sort.Strings(out)
	return out
}

func (s *memoryStore) pageMeta(pageID int64, key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta[pageID][key]
}

// memoryUploader registers uploads as media in a memoryStore.
type memoryUploader struct {
	store     *memoryStore
	discarded []*media.Upload
	removed   []int64
}

func (u *memoryUploader) ReceiveUpload(ctx context.Context, r io.Reader, filename string, size int64) (*media.Upload, error) {
	return &media.Upload{Path: "/uploads/" + filename, URL: "https://cdn.example.com/" + filename, MimeType: "image/png"}, nil
}

func (u *memoryUploader) RegisterAsMediaAsset(ctx context.Context, upload *media.Upload) (int64, error) {
	u.store.mu.Lock()
	defer u.store.mu.Unlock()
	u.store.nextID++
	u.store.media[u.store.nextID] = upload.URL
	return u.store.nextID, nil
}

func (u *memoryUploader) Discard(upload *media.Upload) {
	u.discarded = append(u.discarded, upload)
}

func (u *memoryUploader) Remove(ctx context.Context, upload *media.Upload, mediaID int64) error {
	u.store.mu.Lock()
	delete(u.store.media, mediaID)
	u.store.mu.Unlock()
	u.removed = append(u.removed, mediaID)
	u.Discard(upload)
	return nil
}

type mockThrottle struct{ mock.Mock }

func (m *mockThrottle) Check(ctx context.Context, v throttle.Visitor) error {
	return m.Called(ctx, v).Error(0)
}

func (m *mockThrottle) MarkSubmitted(ctx context.Context, v throttle.Visitor) error {
	return m.Called(ctx, v).Error(0)
}

type mockProvisioner struct{ mock.Mock }

func (m *mockProvisioner) Provision(ctx context.Context, req provisioning.Request) (*provisioning.Result, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*provisioning.Result)
	return res, args.Error(1)
}

type mockIndex struct{ mock.Mock }

func (m *mockIndex) Put(ctx context.Context, doc pageindex.Document) error {
	return m.Called(ctx, doc).Error(0)
}

type mockNotifier struct{ mock.Mock }

func (m *mockNotifier) PageCreated(ctx context.Context, ev notify.PageEvent) notify.Result {
	return m.Called(ctx, ev).Get(0).(notify.Result)
}

var errDiskFull = errors.New("disk full")

func containsAll(s string, parts ...string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}
