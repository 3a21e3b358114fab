// Package search keeps an optional Elasticsearch index of post headings and
// content. Post listings use it for the search filter when it is configured.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"blogapi/models"
)

// maxHits caps how many ids one search returns; the listing paginates
// over them afterwards.
const maxHits = 1000

type ElasticIndex struct {
	client *elasticsearch.Client
	index  string
}

func NewElasticIndex(addr, index string) (*ElasticIndex, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{addr},
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return &ElasticIndex{client: client, index: index}, nil
}

// EnsureIndex creates the index with its mapping; an existing index is left
// alone.
func (es *ElasticIndex) EnsureIndex(ctx context.Context) error {
	mapping := `{
		"mappings": {
			"properties": {
				"id": {"type": "integer"},
				"h1": {"type": "text"},
				"title": {"type": "text"},
				"slug": {"type": "keyword"},
				"content": {"type": "text"},
				"tags": {"type": "keyword"},
				"created_at": {"type": "date"}
			}
		}
	}`

	req := esapi.IndicesCreateRequest{
		Index: es.index,
		Body:  strings.NewReader(mapping),
	}

	res, err := req.Do(ctx, es.client)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() && !strings.Contains(res.String(), "resource_already_exists_exception") {
		return fmt.Errorf("create index: %s", res.String())
	}
	return nil
}

func (es *ElasticIndex) IndexPost(ctx context.Context, post *models.Post) error {
	docID := strconv.FormatUint(uint64(post.ID), 10)

	tags := make([]string, 0, len(post.Tags))
	for _, t := range post.Tags {
		tags = append(tags, t.Slug)
	}

	doc := map[string]interface{}{
		"id":         post.ID,
		"h1":         post.H1,
		"title":      post.Title,
		"slug":       post.Slug,
		"content":    post.Content,
		"tags":       tags,
		"created_at": post.CreatedAt,
	}

	docJSON, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      es.index,
		DocumentID: docID,
		Body:       bytes.NewReader(docJSON),
		Refresh:    "true",
	}

	res, err := req.Do(ctx, es.client)
	if err != nil {
		return fmt.Errorf("index document %s: %w", docID, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index document %s: %s", docID, res.String())
	}

	log.Printf("Document indexed: %s", docID)
	return nil
}

// DeletePost treats a document that is already gone as deleted.
func (es *ElasticIndex) DeletePost(ctx context.Context, id uint) error {
	docID := strconv.FormatUint(uint64(id), 10)

	req := esapi.DeleteRequest{
		Index:      es.index,
		DocumentID: docID,
		Refresh:    "true",
	}

	res, err := req.Do(ctx, es.client)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", docID, err)
	}
	defer res.Body.Close()

	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("delete document %s: %s", docID, res.String())
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID string `json:"_id"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search matches term against heading and content and returns post ids in
// relevance order.
func (es *ElasticIndex) Search(ctx context.Context, term string) ([]uint, error) {
	searchQuery := map[string]interface{}{
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  term,
				"fields": []string{"h1", "content"},
			},
		},
		"_source": false,
		"size":    maxHits,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(searchQuery); err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	res, err := es.client.Search(
		es.client.Search.WithContext(ctx),
		es.client.Search.WithIndex(es.index),
		es.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("search: %s", res.String())
	}

	var result searchResponse
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("parse search response: %w", err)
	}

	ids := make([]uint, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		id, err := strconv.ParseUint(hit.ID, 10, 64)
		if err != nil {
			log.Printf("Skipping search hit with non-numeric id %q", hit.ID)
			continue
		}
		ids = append(ids, uint(id))
	}
	return ids, nil
}
