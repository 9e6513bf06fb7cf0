package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

// Entity is an untyped backend record. Domain packages map entities to
// their own structs; this layer only knows collections and ids.
type Entity = map[string]any

// Repository provides CRUD over a named collection without assuming the
// backend's route or payload shape. Each operation walks a ranked
// strategy chain and stops at the first definitive answer.
type Repository struct {
	client    *Client
	registry  *Registry
	queryPath string
	logger    *slog.Logger
}

func NewRepository(client *Client, registry *Registry, queryPath string, logger *slog.Logger) *Repository {
	return &Repository{
		client:    client,
		registry:  registry,
		queryPath: queryPath,
		logger:    logger,
	}
}

// List fetches every entity in the collection.
func (r *Repository) List(ctx context.Context, collection string) ([]Entity, error) {
	var lastErr error

	if r.queryPath != "" {
		resp, err := r.client.Post(ctx, r.queryPath, map[string]any{
			"collection": collection,
			"filter":     map[string]any{},
		}, true)
		if err == nil {
			return normalizeMany(resp.Data), nil
		}
		lastErr = err
	}

	for _, path := range r.collectionPaths(ctx, collection) {
		resp, err := r.client.Get(ctx, path, true)
		if err != nil {
			lastErr = err
			continue
		}
		r.registry.Memorize(ctx, operationFor(collection), path)
		return normalizeMany(resp.Data), nil
	}

	return nil, fmt.Errorf("list %s: every strategy failed: %w", collection, lastErr)
}

// GetByID resolves one entity by id, matching both "_id" and "id"
// conventions. Returns nil, nil when the entity is absent under every
// strategy; an error only when no strategy produced a definitive answer.
func (r *Repository) GetByID(ctx context.Context, collection, id string) (Entity, error) {
	var lastErr error
	definitive := false

	if r.queryPath != "" {
		for _, field := range []string{"_id", "id"} {
			resp, err := r.client.Post(ctx, r.queryPath, map[string]any{
				"collection": collection,
				"filter":     map[string]any{field: id},
			}, true)
			if err != nil {
				lastErr = err
				continue
			}
			definitive = true
			if entity := firstOf(normalizeMany(resp.Data)); entity != nil {
				return entity, nil
			}
		}
	}

	for _, base := range r.collectionPaths(ctx, collection) {
		resp, err := r.client.Get(ctx, base+"/"+id, true)
		if err != nil {
			if StatusOf(err) == http.StatusNotFound {
				definitive = true
			} else {
				lastErr = err
			}
			continue
		}
		r.registry.Memorize(ctx, operationFor(collection), base)
		if entity := normalizeOne(resp.Data); entity != nil {
			return entity, nil
		}
		definitive = true
	}

	// Last resort: pull everything and scan client-side.
	entities, err := r.List(ctx, collection)
	if err == nil {
		definitive = true
		for _, entity := range entities {
			if EntityID(entity) == id {
				return entity, nil
			}
		}
	} else {
		lastErr = err
	}

	if definitive {
		return nil, nil
	}
	return nil, fmt.Errorf("get %s/%s: every strategy failed: %w", collection, id, lastErr)
}

// FindOne returns the first entity matching the filter, nil when none
// matches. Single-field email/domain filters use the discovered
// parametrized routes before falling back to a full scan.
func (r *Repository) FindOne(ctx context.Context, collection string, filter map[string]any) (Entity, error) {
	var lastErr error
	definitive := false

	if r.queryPath != "" {
		resp, err := r.client.Post(ctx, r.queryPath, map[string]any{
			"collection": collection,
			"filter":     filter,
		}, true)
		if err == nil {
			definitive = true
			if entity := firstOf(normalizeMany(resp.Data)); entity != nil {
				return entity, nil
			}
		} else {
			lastErr = err
		}
	}

	if path := r.parametrizedPath(ctx, collection, filter); path != "" {
		resp, err := r.client.Get(ctx, path, true)
		if err != nil {
			if StatusOf(err) == http.StatusNotFound {
				definitive = true
			} else {
				lastErr = err
			}
		} else {
			definitive = true
			if entity := firstOf(normalizeMany(resp.Data)); entity != nil {
				return entity, nil
			}
		}
	}

	entities, err := r.List(ctx, collection)
	if err == nil {
		definitive = true
		for _, entity := range entities {
			if matches(entity, filter) {
				return entity, nil
			}
		}
	} else {
		lastErr = err
	}

	if definitive {
		return nil, nil
	}
	return nil, fmt.Errorf("find in %s: every strategy failed: %w", collection, lastErr)
}

// Create posts the entity, trying each path convention until one
// accepts it. The last error propagates when all refuse.
func (r *Repository) Create(ctx context.Context, collection string, entity Entity) (Entity, error) {
	var lastErr error
	for _, path := range r.collectionPaths(ctx, collection) {
		resp, err := r.client.Post(ctx, path, entity, true)
		if err != nil {
			lastErr = err
			continue
		}
		r.registry.Memorize(ctx, operationFor(collection), path)
		if created := normalizeOne(resp.Data); created != nil {
			return created, nil
		}
		return entity, nil
	}
	return nil, fmt.Errorf("create in %s: every strategy failed: %w", collection, lastErr)
}

// Update PUTs the patch against each path convention.
func (r *Repository) Update(ctx context.Context, collection, id string, patch Entity) (Entity, error) {
	var lastErr error
	for _, path := range r.collectionPaths(ctx, collection) {
		resp, err := r.client.Request(ctx, http.MethodPut, path+"/"+id, patch, true)
		if err != nil {
			lastErr = err
			continue
		}
		r.registry.Memorize(ctx, operationFor(collection), path)
		if updated := normalizeOne(resp.Data); updated != nil {
			return updated, nil
		}
		return patch, nil
	}
	return nil, fmt.Errorf("update %s/%s: every strategy failed: %w", collection, id, lastErr)
}

// Delete removes the entity; the last error propagates when every path
// convention refuses.
func (r *Repository) Delete(ctx context.Context, collection, id string) error {
	var lastErr error
	for _, path := range r.collectionPaths(ctx, collection) {
		_, err := r.client.Request(ctx, http.MethodDelete, path+"/"+id, nil, true)
		if err != nil {
			lastErr = err
			continue
		}
		r.registry.Memorize(ctx, operationFor(collection), path)
		return nil
	}
	return fmt.Errorf("delete %s/%s: every strategy failed: %w", collection, id, lastErr)
}

// collectionPaths ranks REST paths for a collection: the registry's
// resolved path first, then the hardcoded alternative conventions.
func (r *Repository) collectionPaths(ctx context.Context, collection string) []string {
	var ordered []string
	seen := make(map[string]bool)

	add := func(path string) {
		if path != "" && !strings.Contains(path, "{") && !seen[path] {
			seen[path] = true
			ordered = append(ordered, path)
		}
	}

	add(r.registry.Resolve(ctx, operationFor(collection)))
	add("/api/" + collection)
	add("/api/" + strings.TrimSuffix(collection, "s"))
	add("/api/v1/" + collection)
	add("/" + collection)
	return ordered
}

// parametrizedPath maps a single-field filter onto a discovered
// templated route, when one applies.
func (r *Repository) parametrizedPath(ctx context.Context, collection string, filter map[string]any) string {
	if len(filter) != 1 {
		return ""
	}
	if email, ok := filter["email"].(string); ok && collection == "users" {
		if template := r.registry.Resolve(ctx, OpUserByEmail); template != "" {
			return ExpandPath(template, email, "")
		}
	}
	if domain, ok := filter["domain"].(string); ok && collection == "companies" {
		if template := r.registry.Resolve(ctx, OpCompanyByDomain); template != "" {
			return ExpandPath(template, "", domain)
		}
	}
	return ""
}

func operationFor(collection string) Operation {
	switch collection {
	case "users":
		return OpUsers
	case "companies":
		return OpCompanies
	default:
		return Operation(collection)
	}
}

// normalizeMany accepts the four payload shapes backends answer with:
// {data: [...]}, {data: {...}}, a bare array, or a bare entity.
func normalizeMany(data any) []Entity {
	switch v := data.(type) {
	case []any:
		return toEntities(v)
	case map[string]any:
		if inner, ok := v["data"]; ok {
			switch d := inner.(type) {
			case []any:
				return toEntities(d)
			case map[string]any:
				return []Entity{d}
			case nil:
				return nil
			}
		}
		return []Entity{v}
	default:
		return nil
	}
}

func normalizeOne(data any) Entity {
	return firstOf(normalizeMany(data))
}

func toEntities(items []any) []Entity {
	entities := make([]Entity, 0, len(items))
	for _, item := range items {
		if entity, ok := item.(map[string]any); ok {
			entities = append(entities, entity)
		}
	}
	return entities
}

func firstOf(entities []Entity) Entity {
	if len(entities) == 0 {
		return nil
	}
	return entities[0]
}

// EntityID reads the record id under either identifier convention.
func EntityID(entity Entity) string {
	for _, key := range []string{"_id", "id"} {
		switch id := entity[key].(type) {
		case string:
			if id != "" {
				return id
			}
		case float64:
			return strconv.FormatFloat(id, 'f', -1, 64)
		}
	}
	return ""
}

// matches reports whether every filter field equals the entity's value,
// compared as strings so numeric ids and JSON numbers line up.
func matches(entity Entity, filter map[string]any) bool {
	for field, want := range filter {
		got, ok := entity[field]
		if !ok {
			return false
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}
