package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound is returned by stores when no entity exists for an id.
var ErrNotFound = errors.New("task not found")

// cachePageSize is the fixed page size used for full scans, both over tenant
// stores at load time and over the aggregated cache.
const cachePageSize = 1000

// TaskStore is the per-tenant persistence contract the crontab builds on.
// Implementations must be safe for concurrent use; the entity version is
// store-owned and increments on every update.
type TaskStore interface {
	Create(ctx context.Context, task Task) (TaskEntity, error)
	CreateWithID(ctx context.Context, id string, task Task) (TaskEntity, error)
	Retrieve(ctx context.Context, id string) (TaskEntity, error)
	Update(ctx context.Context, entity TaskEntity, task Task) (TaskEntity, error)
	Delete(ctx context.Context, entity TaskEntity) error
	Page(ctx context.Context, startIndex, endIndex int64) ([]TaskEntity, int64, error)
}

// StoreObserver receives change notifications after successful store
// mutations.
type StoreObserver interface {
	TaskCreated(entity TaskEntity)
	TaskUpdated(entity TaskEntity)
	TaskDeleted(entity TaskEntity)
}

// ObservableStore decorates a TaskStore so registered observers see every
// successful mutation. Notifications fire synchronously, in mutation order.
type ObservableStore struct {
	store     TaskStore
	observers []StoreObserver
}

func NewObservableStore(store TaskStore) *ObservableStore {
	return &ObservableStore{store: store}
}

func (o *ObservableStore) AddObserver(observer StoreObserver) *ObservableStore {
	o.observers = append(o.observers, observer)
	return o
}

func (o *ObservableStore) Create(ctx context.Context, task Task) (TaskEntity, error) {
	entity, err := o.store.Create(ctx, task)
	if err != nil {
		return TaskEntity{}, err
	}
	for _, obs := range o.observers {
		obs.TaskCreated(entity)
	}
	return entity, nil
}

func (o *ObservableStore) CreateWithID(ctx context.Context, id string, task Task) (TaskEntity, error) {
	entity, err := o.store.CreateWithID(ctx, id, task)
	if err != nil {
		return TaskEntity{}, err
	}
	for _, obs := range o.observers {
		obs.TaskCreated(entity)
	}
	return entity, nil
}

func (o *ObservableStore) Retrieve(ctx context.Context, id string) (TaskEntity, error) {
	return o.store.Retrieve(ctx, id)
}

func (o *ObservableStore) Update(ctx context.Context, entity TaskEntity, task Task) (TaskEntity, error) {
	updated, err := o.store.Update(ctx, entity, task)
	if err != nil {
		return TaskEntity{}, err
	}
	for _, obs := range o.observers {
		obs.TaskUpdated(updated)
	}
	return updated, nil
}

func (o *ObservableStore) Delete(ctx context.Context, entity TaskEntity) error {
	if err := o.store.Delete(ctx, entity); err != nil {
		return err
	}
	for _, obs := range o.observers {
		obs.TaskDeleted(entity)
	}
	return nil
}

func (o *ObservableStore) Page(ctx context.Context, startIndex, endIndex int64) ([]TaskEntity, int64, error) {
	return o.store.Page(ctx, startIndex, endIndex)
}

// Crontab aggregates every tenant's tasks into one read-optimized in-memory
// cache keyed by "tenant/id". The cache only changes through tenant-store
// change notifications (plus the direct bootstrap load), so after settling it
// equals the union of all tenant stores. A failure applying a notification
// means the cache can no longer be trusted and is escalated through the fatal
// callback.
type Crontab struct {
	mu      sync.Mutex
	resolve func(tenant string) (TaskStore, error)
	cache   map[string]TaskEntity
	logger  *slog.Logger
	fatal   func(msg string, err error)
}

// NewCrontab builds a crontab over a tenant-to-store resolver. fatal is
// invoked on cache synchronization failure; a nil fatal panics, matching the
// strict-consistency stance.
func NewCrontab(resolve func(tenant string) (TaskStore, error), logger *slog.Logger, fatal func(msg string, err error)) *Crontab {
	if fatal == nil {
		fatal = func(msg string, err error) {
			panic(fmt.Sprintf("%s: %v", msg, err))
		}
	}
	return &Crontab{
		resolve: resolve,
		cache:   make(map[string]TaskEntity),
		logger:  logger,
		fatal:   fatal,
	}
}

// ForTenant resolves the tenant's store and wraps it so every mutation is
// mirrored into the aggregated cache. This wrapper is the only mutation path
// API handlers and the tick loop should use.
func (c *Crontab) ForTenant(tenant string) (TaskStore, error) {
	store, err := c.resolve(tenant)
	if err != nil {
		return nil, fmt.Errorf("resolve store for tenant %q: %w", tenant, err)
	}
	return NewObservableStore(store).AddObserver(&tenantObserver{crontab: c, tenant: tenant}), nil
}

// Tasks returns an ordered snapshot of the whole cache, paged through at the
// fixed page size. Safe to call while mutations are in flight.
func (c *Crontab) Tasks() []TaskEntity {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.cache))
	for id := range c.cache {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	result := make([]TaskEntity, 0, len(ids))
	for start := 0; start < len(ids); start += cachePageSize {
		end := start + cachePageSize
		if end > len(ids) {
			end = len(ids)
		}
		for _, id := range ids[start:end] {
			result = append(result, c.cache[id])
		}
	}
	return result
}

// Selectable snapshots the cache and filters it through the selector on the
// shared pool. The lock is only held for the snapshot; selection work runs
// outside it.
func (c *Crontab) Selectable(selector TaskSelector, pool *Pool) []TaskEntity {
	tasks := c.Tasks()
	keep := make([]bool, len(tasks))
	pool.Each(len(tasks), func(i int) {
		keep[i] = selector.Selectable(tasks[i].Task.Spec)
	})

	var result []TaskEntity
	for i, k := range keep {
		if k {
			result = append(result, tasks[i])
		}
	}
	return result
}

// Update routes a cache-scoped entity back to its owning tenant store. The
// cache itself is not touched here; it follows from the store's update
// notification.
func (c *Crontab) Update(ctx context.Context, entity TaskEntity, value Task) error {
	tenant, localID, err := splitCacheID(entity.ID)
	if err != nil {
		return err
	}
	store, err := c.ForTenant(tenant)
	if err != nil {
		return err
	}
	_, err = store.Update(ctx, TaskEntity{ID: localID, Version: entity.Version, Task: entity.Task}, value)
	return err
}

// Delete removes a cache-scoped entity from its owning tenant store, which in
// turn evicts it from the cache via the delete notification.
func (c *Crontab) Delete(ctx context.Context, entity TaskEntity) error {
	tenant, localID, err := splitCacheID(entity.ID)
	if err != nil {
		return err
	}
	store, err := c.ForTenant(tenant)
	if err != nil {
		return err
	}
	return store.Delete(ctx, TaskEntity{ID: localID, Version: entity.Version, Task: entity.Task})
}

// LoadTenants pages through each tenant's store and seeds the cache. This is
// the bootstrap path: it writes the cache directly with upsert semantics, so
// a live create notification racing the load cannot double-apply.
func (c *Crontab) LoadTenants(ctx context.Context, tenants ...string) error {
	for _, tenant := range tenants {
		store, err := c.resolve(tenant)
		if err != nil {
			return fmt.Errorf("resolve store for tenant %q: %w", tenant, err)
		}
		count := 0
		var start int64
		for {
			end := start + cachePageSize - 1
			entities, _, err := store.Page(ctx, start, end)
			if err != nil {
				return fmt.Errorf("load tenant %q: %w", tenant, err)
			}
			for _, entity := range entities {
				c.loaded(tenant, entity)
			}
			count += len(entities)
			if len(entities) < cachePageSize {
				break
			}
			start = end + 1
		}
		c.logger.Info("loaded tenant tasks", "tenant", tenant, "count", count)
	}
	return nil
}

type tenantObserver struct {
	crontab *Crontab
	tenant  string
}

func (o *tenantObserver) TaskCreated(entity TaskEntity) { o.crontab.created(o.tenant, entity) }
func (o *tenantObserver) TaskUpdated(entity TaskEntity) { o.crontab.updated(o.tenant, entity) }
func (o *tenantObserver) TaskDeleted(entity TaskEntity) { o.crontab.deleted(o.tenant, entity) }

func (c *Crontab) loaded(tenant string, entity TaskEntity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := cacheID(tenant, entity.ID)
	c.cache[id] = TaskEntity{ID: id, Version: entity.Version, Task: entity.Task}
}

// created upserts: a create notification for a task the bootstrap already
// loaded must not be treated as divergence.
func (c *Crontab) created(tenant string, entity TaskEntity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := cacheID(tenant, entity.ID)
	c.cache[id] = TaskEntity{ID: id, Version: entity.Version, Task: entity.Task}
}

func (c *Crontab) updated(tenant string, entity TaskEntity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := cacheID(tenant, entity.ID)
	if _, ok := c.cache[id]; !ok {
		c.syncFailure(fmt.Errorf("update notification for unknown cache entry %q", id))
		return
	}
	c.cache[id] = TaskEntity{ID: id, Version: entity.Version, Task: entity.Task}
}

func (c *Crontab) deleted(tenant string, entity TaskEntity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := cacheID(tenant, entity.ID)
	if _, ok := c.cache[id]; !ok {
		c.syncFailure(fmt.Errorf("delete notification for unknown cache entry %q", id))
		return
	}
	delete(c.cache, id)
}

// syncFailure marks the cache untrustworthy. The crontab must not keep
// serving selection results after this, so the condition escalates through
// the fatal callback instead of being swallowed.
func (c *Crontab) syncFailure(err error) {
	const msg = "failed syncing crontab in-memory cache, crontab inconsistency risk"
	c.logger.Error("GRAVE -- "+msg, "err", err)
	c.fatal(msg, err)
}

func cacheID(tenant, localID string) string {
	return tenant + "/" + localID
}

func splitCacheID(id string) (tenant, localID string, err error) {
	sep := strings.Index(id, "/")
	if sep == -1 {
		return "", "", fmt.Errorf("cannot map task id %q to a tenant/id pair", id)
	}
	return id[:sep], id[sep+1:], nil
}
