// internal/common/pageindex/index.go
package pageindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

var (
	ErrIndexUnavailable = errors.New("PAGE_INDEX_UNAVAILABLE")
	ErrSearchFailed     = errors.New("PAGE_SEARCH_FAILED")
)

const DefaultIndex = "dsmk-landing-pages"

// Document is the indexed view of a landing page.
type Document struct {
	PageID    int64     `json:"pageId"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	URL       string    `json:"url"`
	Username  string    `json:"username,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

const indexMapping = `{
  "mappings": {
    "properties": {
      "pageId":    {"type": "long"},
      "email":     {"type": "keyword"},
      "name":      {"type": "text"},
      "slug":      {"type": "keyword"},
      "url":       {"type": "keyword", "index": false},
      "username":  {"type": "keyword"},
      "updatedAt": {"type": "date"}
    }
  }
}`

type Index struct {
	client *elasticsearch.Client
	name   string
}

func New(client *elasticsearch.Client, name string) *Index {
	if name == "" {
		name = DefaultIndex
	}
	return &Index{client: client, name: name}
}

// EnsureIndex creates the index with its mapping when it does not exist.
func (i *Index) EnsureIndex(ctx context.Context) error {
	res, err := i.client.Indices.Exists([]string{i.name}, i.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	res.Body.Close()
	if res.StatusCode == 200 {
		return nil
	}

	res, err = i.client.Indices.Create(i.name,
		i.client.Indices.Create.WithContext(ctx),
		i.client.Indices.Create.WithBody(strings.NewReader(indexMapping)),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	defer res.Body.Close()
	if res.IsError() && !strings.Contains(readBody(res.Body), "resource_already_exists_exception") {
		return fmt.Errorf("%w: create index: %s", ErrIndexUnavailable, res.Status())
	}
	return nil
}

// Put indexes doc under its page id.
func (i *Index) Put(ctx context.Context, doc Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      i.name,
		DocumentID: strconv.FormatInt(doc.PageID, 10),
		Body:       bytes.NewReader(body),
		Refresh:    "true",
	}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("%w: index page %d: %s", ErrIndexUnavailable, doc.PageID, res.Status())
	}
	return nil
}

// Delete removes a page. A page that was never indexed is not an error.
func (i *Index) Delete(ctx context.Context, pageID int64) error {
	req := esapi.DeleteRequest{Index: i.name, DocumentID: strconv.FormatInt(pageID, 10)}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != 404 {
		return fmt.Errorf("%w: delete page %d: %s", ErrIndexUnavailable, pageID, res.Status())
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source Document `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// FindByEmail returns the lowest page id indexed for email.
func (i *Index) FindByEmail(ctx context.Context, email string) (*Document, bool, error) {
	query := map[string]interface{}{
		"size":  1,
		"query": map[string]interface{}{"term": map[string]interface{}{"email": email}},
		"sort":  []interface{}{map[string]interface{}{"pageId": "asc"}},
	}
	body, _ := json.Marshal(query)

	res, err := i.client.Search(
		i.client.Search.WithContext(ctx),
		i.client.Search.WithIndex(i.name),
		i.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, false, fmt.Errorf("%w: %s", ErrSearchFailed, res.Status())
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, false, fmt.Errorf("%w: decode: %v", ErrSearchFailed, err)
	}
	if len(parsed.Hits.Hits) == 0 {
		return nil, false, nil
	}
	doc := parsed.Hits.Hits[0].Source
	return &doc, true, nil
}

func readBody(r io.Reader) string {
	b, _ := io.ReadAll(r)
	return string(b)
}
