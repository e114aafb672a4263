package store

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/synckit/internal/client/models"
	"github.com/dmitrijs2005/synckit/internal/client/query"
	"github.com/dmitrijs2005/synckit/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/synckit/internal/client/repositories/pending"
	"github.com/dmitrijs2005/synckit/internal/client/repositories/querycache"
	"github.com/dmitrijs2005/synckit/internal/client/repositories/records"
	"github.com/dmitrijs2005/synckit/internal/common"
	"github.com/dmitrijs2005/synckit/internal/dbx"
)

// Memory is a Store kept entirely in process memory. WithTx snapshots the
// state and restores it when fn fails.
type Memory struct {
	writes  *dbx.Serializer
	schemas *query.Registry

	mu    sync.Mutex
	state *memState
}

type memRecord struct {
	doc map[string]any
	seq int
}

type cpKey struct {
	collection, query, fields string
}

type memState struct {
	seq         int
	records     map[string]map[string]memRecord
	pending     []models.PendingOperation
	checkpoints map[cpKey]string
	meta        map[string][]byte
}

// NewMemory returns an empty in-memory store.
func NewMemory(schemas *query.Registry) *Memory {
	if schemas == nil {
		schemas = query.NewRegistry()
	}
	return &Memory{
		writes:  dbx.NewSerializer(),
		schemas: schemas,
		state: &memState{
			records:     make(map[string]map[string]memRecord),
			checkpoints: make(map[cpKey]string),
			meta:        make(map[string][]byte),
		},
	}
}

// OpenMemory is Open for an in-memory store, including the schema version check.
func OpenMemory(ctx context.Context, opts Options) (*Memory, error) {
	m := NewMemory(opts.Schemas)
	if err := checkSchemaVersion(ctx, m, opts); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *memState) clone() *memState {
	c := &memState{
		seq:         s.seq,
		records:     make(map[string]map[string]memRecord, len(s.records)),
		pending:     make([]models.PendingOperation, len(s.pending)),
		checkpoints: make(map[cpKey]string, len(s.checkpoints)),
		meta:        make(map[string][]byte, len(s.meta)),
	}
	for coll, recs := range s.records {
		m := make(map[string]memRecord, len(recs))
		for id, r := range recs {
			m[id] = r
		}
		c.records[coll] = m
	}
	copy(c.pending, s.pending)
	for k, v := range s.checkpoints {
		c.checkpoints[k] = v
	}
	for k, v := range s.meta {
		c.meta[k] = v
	}
	return c
}

func (m *Memory) Records() records.Repository        { return memRecords{m} }
func (m *Memory) Pending() pending.Repository        { return memPending{m} }
func (m *Memory) Checkpoints() querycache.Repository { return memCheckpoints{m} }
func (m *Memory) Metadata() metadata.Repository      { return memMetadata{m} }
func (m *Memory) Schemas() *query.Registry           { return m.schemas }
func (m *Memory) Close() error                       { return nil }

func (m *Memory) WithTx(ctx context.Context, fn func(ctx context.Context, tx Repos) error) error {
	return m.writes.Do(ctx, func(ctx context.Context) error {
		m.mu.Lock()
		snapshot := m.state.clone()
		m.mu.Unlock()

		if err := fn(ctx, m); err != nil {
			m.mu.Lock()
			m.state = snapshot
			m.mu.Unlock()
			return err
		}
		return nil
	})
}

type memRecords struct{ m *Memory }

func (r memRecords) Upsert(_ context.Context, collection string, entities []models.Entity) error {
	for _, e := range entities {
		if e.ID == "" {
			return common.ErrIDRequired
		}
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	recs := r.m.state.records[collection]
	if recs == nil {
		recs = make(map[string]memRecord)
		r.m.state.records[collection] = recs
	}
	for _, e := range entities {
		prev, ok := recs[e.ID]
		seq := prev.seq
		if !ok {
			r.m.state.seq++
			seq = r.m.state.seq
		}
		recs[e.ID] = memRecord{doc: e.Clone().Document(), seq: seq}
	}
	return nil
}

// ordered returns copies of the collection's documents in insertion order.
func (r memRecords) ordered(collection string) []map[string]any {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	recs := make([]memRecord, 0, len(r.m.state.records[collection]))
	for _, rec := range r.m.state.records[collection] {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq < recs[j].seq })
	docs := make([]map[string]any, len(recs))
	for i, rec := range recs {
		docs[i] = models.CloneValue(rec.doc).(map[string]any)
	}
	return docs
}

func (r memRecords) Find(_ context.Context, collection string, q *query.Query) ([]models.Entity, error) {
	tr := query.NewTranslator(r.m.schemas.Schema(collection))
	docs, err := tr.Apply(q, r.ordered(collection))
	if err != nil {
		return nil, err
	}
	out := make([]models.Entity, 0, len(docs))
	for _, d := range docs {
		e, err := models.FromDocument(tr.Project(q, d))
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (r memRecords) FindByID(_ context.Context, collection, id string) (*models.Entity, error) {
	r.m.mu.Lock()
	rec, ok := r.m.state.records[collection][id]
	r.m.mu.Unlock()
	if !ok {
		return nil, common.ErrorNotFound
	}
	e, err := models.FromDocument(models.CloneValue(rec.doc).(map[string]any))
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r memRecords) Count(ctx context.Context, collection string, q *query.Query) (int, error) {
	q = q.Clone()
	q.Skip, q.Limit = 0, 0
	found, err := r.Find(ctx, collection, q)
	return len(found), err
}

func (r memRecords) RemoveByID(_ context.Context, collection, id string) (int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.state.records[collection][id]; !ok {
		return 0, nil
	}
	delete(r.m.state.records[collection], id)
	return 1, nil
}

func (r memRecords) Remove(ctx context.Context, collection string, q *query.Query) ([]string, error) {
	q = q.Clone()
	q.Skip, q.Limit, q.Fields = 0, 0, nil
	found, err := r.Find(ctx, collection, q)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(found))
	for _, e := range found {
		if _, err := r.RemoveByID(ctx, collection, e.ID); err != nil {
			return nil, err
		}
		ids = append(ids, e.ID)
	}
	return ids, nil
}

func (r memRecords) Versions(_ context.Context, collection string) (map[string]string, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := make(map[string]string, len(r.m.state.records[collection]))
	for id, rec := range r.m.state.records[collection] {
		lmt := ""
		if md, ok := rec.doc[common.FieldMetadata].(map[string]any); ok {
			lmt, _ = md["lmt"].(string)
		}
		out[id] = lmt
	}
	return out, nil
}

func (r memRecords) ReplaceID(_ context.Context, collection, oldID, newID string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	recs := r.m.state.records[collection]
	rec, ok := recs[oldID]
	if !ok {
		return common.ErrorNotFound
	}
	delete(recs, oldID)
	doc := models.CloneValue(rec.doc).(map[string]any)
	doc[common.FieldID] = newID
	recs[newID] = memRecord{doc: doc, seq: rec.seq}
	return nil
}

func (r memRecords) Clear(_ context.Context, collection string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	delete(r.m.state.records, collection)
	return nil
}

type memPending struct{ m *Memory }

func (p memPending) Add(_ context.Context, op models.PendingOperation) error {
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now()
	}
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	p.m.state.pending = append(p.m.state.pending, op)
	return nil
}

func (p memPending) Update(_ context.Context, op models.PendingOperation) error {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	for i, cur := range p.m.state.pending {
		if cur.RequestID == op.RequestID {
			cur.Method, cur.URL, cur.Headers, cur.Body = op.Method, op.URL, op.Headers, op.Body
			p.m.state.pending[i] = cur
			return nil
		}
	}
	return common.ErrorNotFound
}

func (p memPending) filter(keep func(models.PendingOperation) bool) []models.PendingOperation {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	var out []models.PendingOperation
	for _, op := range p.m.state.pending {
		if keep(op) {
			out = append(out, op)
		}
	}
	return out
}

func (p memPending) List(_ context.Context, collection string) ([]models.PendingOperation, error) {
	return p.filter(func(op models.PendingOperation) bool {
		return collection == "" || op.Collection == collection
	}), nil
}

func (p memPending) ListByEntity(_ context.Context, collection, entityID string) ([]models.PendingOperation, error) {
	return p.filter(func(op models.PendingOperation) bool {
		return op.Collection == collection && op.EntityID == entityID
	}), nil
}

func (p memPending) drop(match func(models.PendingOperation) bool) int {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	kept := p.m.state.pending[:0:0]
	n := 0
	for _, op := range p.m.state.pending {
		if match(op) {
			n++
			continue
		}
		kept = append(kept, op)
	}
	p.m.state.pending = kept
	return n
}

func (p memPending) Delete(_ context.Context, requestID string) error {
	p.drop(func(op models.PendingOperation) bool { return op.RequestID == requestID })
	return nil
}

func (p memPending) DeleteByEntity(_ context.Context, collection, entityID string) (int, error) {
	return p.drop(func(op models.PendingOperation) bool {
		return op.Collection == collection && op.EntityID == entityID
	}), nil
}

func (p memPending) DeleteByCollection(_ context.Context, collection string) (int, error) {
	return p.drop(func(op models.PendingOperation) bool { return op.Collection == collection }), nil
}

func (p memPending) Count(ctx context.Context, collection string) (int, error) {
	ops, err := p.List(ctx, collection)
	return len(ops), err
}

func (p memPending) ReplaceEntityID(_ context.Context, collection, oldID, newID string) error {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	for i, op := range p.m.state.pending {
		if op.Collection == collection && op.EntityID == oldID {
			op.EntityID = newID
			op.URL = strings.ReplaceAll(op.URL, oldID, newID)
			p.m.state.pending[i] = op
		}
	}
	return nil
}

type memCheckpoints struct{ m *Memory }

func (c memCheckpoints) Get(_ context.Context, collection, q, fields string) (*models.Checkpoint, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	last, ok := c.m.state.checkpoints[cpKey{collection, q, fields}]
	if !ok {
		return nil, nil
	}
	return &models.Checkpoint{Collection: collection, Query: q, Fields: fields, LastRequest: last}, nil
}

func (c memCheckpoints) Set(_ context.Context, cp models.Checkpoint) error {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	c.m.state.checkpoints[cpKey{cp.Collection, cp.Query, cp.Fields}] = cp.LastRequest
	return nil
}

func (c memCheckpoints) Delete(_ context.Context, collection, q, fields string) error {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	delete(c.m.state.checkpoints, cpKey{collection, q, fields})
	return nil
}

func (c memCheckpoints) DeleteByCollection(_ context.Context, collection string) (int, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	n := 0
	for k := range c.m.state.checkpoints {
		if k.collection == collection {
			delete(c.m.state.checkpoints, k)
			n++
		}
	}
	return n, nil
}

type memMetadata struct{ m *Memory }

func (d memMetadata) Get(_ context.Context, key string) ([]byte, error) {
	d.m.mu.Lock()
	defer d.m.mu.Unlock()
	return d.m.state.meta[key], nil
}

func (d memMetadata) Set(_ context.Context, key string, value []byte) error {
	d.m.mu.Lock()
	defer d.m.mu.Unlock()
	d.m.state.meta[key] = append([]byte(nil), value...)
	return nil
}

func (d memMetadata) Delete(_ context.Context, key string) error {
	d.m.mu.Lock()
	defer d.m.mu.Unlock()
	delete(d.m.state.meta, key)
	return nil
}

func (d memMetadata) List(_ context.Context) (map[string][]byte, error) {
	d.m.mu.Lock()
	defer d.m.mu.Unlock()
	out := make(map[string][]byte, len(d.m.state.meta))
	for k, v := range d.m.state.meta {
		out[k] = v
	}
	return out, nil
}

func (d memMetadata) Clear(_ context.Context) error {
	d.m.mu.Lock()
	defer d.m.mu.Unlock()
	d.m.state.meta = make(map[string][]byte)
	return nil
}

func (d memMetadata) GetInt(ctx context.Context, key string) (int, bool, error) {
	raw, _ := d.Get(ctx, key)
	if raw == nil {
		return 0, false, nil
	}
	v, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func (d memMetadata) SetInt(ctx context.Context, key string, v int) error {
	return d.Set(ctx, key, []byte(strconv.Itoa(v)))
}

var _ Store = (*Memory)(nil)
var _ Store = (*SQLite)(nil)
