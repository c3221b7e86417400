// Package repotest provides in-memory stores with the same conditional-update
// semantics as the MySQL repositories, for service and worker tests.
package repotest

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/jmehdipour/crm-campaigns/internal/model"
	"github.com/jmehdipour/crm-campaigns/internal/repository"
	"github.com/jmehdipour/crm-campaigns/internal/rules"
	"github.com/jmoiron/sqlx"
)

// DB holds every table. The Err* fields inject failures into the matching call.
type DB struct {
	mu        sync.Mutex
	customers map[string]*model.Customer
	segments  map[string]model.Segment
	campaigns map[string]model.Campaign
	records   map[string]model.DeliveryRecord
	orders    map[string]model.Order

	ErrCustomers   error
	ErrInsertBatch error
	ErrApply       error
	ErrCount       error
	ErrCampaignIDs error

	Now func() time.Time
}

func New() *DB {
	return &DB{
		customers: map[string]*model.Customer{},
		segments:  map[string]model.Segment{},
		campaigns: map[string]model.Campaign{},
		records:   map[string]model.DeliveryRecord{},
		orders:    map[string]model.Order{},
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

func (db *DB) AddCustomers(cs ...*model.Customer) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, c := range cs {
		db.customers[c.ID] = c
	}
}

func (db *DB) DeleteCustomer(id string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.customers, id)
}

func (db *DB) Campaign(id string) (model.Campaign, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	c, ok := db.campaigns[id]
	return c, ok
}

func (db *DB) PutCampaign(c model.Campaign) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.campaigns[c.ID] = c
}

// Records returns the campaign's records ordered by id.
func (db *DB) Records(campaignID string) []model.DeliveryRecord {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.recordsOf(campaignID)
}

func (db *DB) PutRecord(r model.DeliveryRecord) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.records[r.ID] = r
}

func (db *DB) SegmentCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.segments)
}

func (db *DB) CampaignCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.campaigns)
}

func (db *DB) recordsOf(campaignID string) []model.DeliveryRecord {
	var out []model.DeliveryRecord
	for _, r := range db.records {
		if r.CampaignID == campaignID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Customer returns a copy of the stored customer.
func (db *DB) Customer(id string) (model.Customer, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	c, ok := db.customers[id]
	if !ok {
		return model.Customer{}, false
	}
	return *c, true
}

func (db *DB) Orders() repository.OrdersRepository { return orders{db} }

func (db *DB) OrderCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.orders)
}

func (db *DB) Tx() repository.TxRunner { return txRunner{db} }

func (db *DB) Customers() repository.CustomersRepository { return customers{db} }

func (db *DB) Segments() repository.SegmentsRepository { return segments{db} }

func (db *DB) Campaigns() repository.CampaignsRepository { return campaigns{db} }

func (db *DB) Deliveries() repository.DeliveriesRepository { return deliveries{db} }

// txRunner restores a snapshot of all tables when fn fails.
type txRunner struct{ db *DB }

func (t txRunner) InTx(_ context.Context, fn func(tx *sqlx.Tx) error) error {
	t.db.mu.Lock()
	segs, camps, recs := maps.Clone(t.db.segments), maps.Clone(t.db.campaigns), maps.Clone(t.db.records)
	custs, ords := maps.Clone(t.db.customers), maps.Clone(t.db.orders)
	t.db.mu.Unlock()

	if err := fn(nil); err != nil {
		t.db.mu.Lock()
		t.db.segments, t.db.campaigns, t.db.records = segs, camps, recs
		t.db.customers, t.db.orders = custs, ords
		t.db.mu.Unlock()
		return err
	}
	return nil
}

type customers struct{ db *DB }

func (c customers) Count(ctx context.Context, p rules.Predicate) (int64, error) {
	refs, err := c.FindRefs(ctx, p)
	return int64(len(refs)), err
}

func (c customers) FindRefs(_ context.Context, p rules.Predicate) ([]model.CustomerRef, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	if c.db.ErrCustomers != nil {
		return nil, c.db.ErrCustomers
	}
	var out []model.CustomerRef
	for _, id := range slices.Sorted(maps.Keys(c.db.customers)) {
		cu := c.db.customers[id]
		if p.Match(rules.CustomerRecord(cu)) {
			out = append(out, model.CustomerRef{ID: cu.ID, Name: cu.Name})
		}
	}
	return out, nil
}

func (c customers) GetByID(_ context.Context, id string) (*model.Customer, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	if c.db.ErrCustomers != nil {
		return nil, c.db.ErrCustomers
	}
	cu, ok := c.db.customers[id]
	if !ok {
		return nil, nil
	}
	cp := *cu
	return &cp, nil
}

func (c customers) List(_ context.Context, limit, offset int) ([]model.Customer, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	if c.db.ErrCustomers != nil {
		return nil, c.db.ErrCustomers
	}
	ids := slices.Sorted(maps.Keys(c.db.customers))
	if offset > len(ids) {
		offset = len(ids)
	}
	ids = ids[offset:min(offset+limit, len(ids))]
	out := make([]model.Customer, 0, len(ids))
	for _, id := range ids {
		out = append(out, *c.db.customers[id])
	}
	return out, nil
}

// Upsert and ApplyOrder replace the stored pointer so tx snapshots stay intact.
func (c customers) Upsert(_ context.Context, _ *sqlx.Tx, cu model.Customer) error {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	if c.db.ErrCustomers != nil {
		return c.db.ErrCustomers
	}
	if old, ok := c.db.customers[cu.ID]; ok {
		next := *old
		next.Name, next.Email, next.Phone, next.Attributes, next.UpdatedAt = cu.Name, cu.Email, cu.Phone, cu.Attributes, cu.UpdatedAt
		c.db.customers[cu.ID] = &next
		return nil
	}
	cu.TotalSpend, cu.TotalVisits, cu.LastActive = 0, 0, nil
	c.db.customers[cu.ID] = &cu
	return nil
}

func (c customers) ApplyOrder(_ context.Context, _ *sqlx.Tx, id string, amount float64, at time.Time) (bool, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	if c.db.ErrCustomers != nil {
		return false, c.db.ErrCustomers
	}
	old, ok := c.db.customers[id]
	if !ok {
		return false, nil
	}
	next := *old
	next.TotalSpend += amount
	next.TotalVisits++
	if next.LastActive == nil || at.After(*next.LastActive) {
		t := at
		next.LastActive = &t
	}
	next.UpdatedAt = c.db.Now()
	c.db.customers[id] = &next
	return true, nil
}

type orders struct{ db *DB }

func (o orders) Insert(_ context.Context, _ *sqlx.Tx, ord model.Order) error {
	o.db.mu.Lock()
	defer o.db.mu.Unlock()
	if _, dup := o.db.orders[ord.ID]; dup {
		return errors.New("duplicate order id " + ord.ID)
	}
	o.db.orders[ord.ID] = ord
	return nil
}

type segments struct{ db *DB }

func (s segments) Insert(_ context.Context, _ *sqlx.Tx, seg model.Segment) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.segments[seg.ID] = seg
	return nil
}

func (s segments) GetByID(_ context.Context, id string) (*model.Segment, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	seg, ok := s.db.segments[id]
	if !ok {
		return nil, nil
	}
	return &seg, nil
}

type campaigns struct{ db *DB }

func (c campaigns) Insert(_ context.Context, _ *sqlx.Tx, cmp model.Campaign) error {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	c.db.campaigns[cmp.ID] = cmp
	return nil
}

func (c campaigns) GetByID(_ context.Context, id string) (*model.Campaign, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	cmp, ok := c.db.campaigns[id]
	if !ok {
		return nil, nil
	}
	return &cmp, nil
}

func (c campaigns) List(_ context.Context, limit, offset int) ([]model.Campaign, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	out := slices.Collect(maps.Values(c.db.campaigns))
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if offset > len(out) {
		return nil, nil
	}
	out = out[max(offset, 0):]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (c campaigns) CompareAndSetStatus(_ context.Context, id string, from, to model.CampaignStatus) (bool, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	cmp, ok := c.db.campaigns[id]
	if !ok || cmp.Status != from {
		return false, nil
	}
	now := c.db.Now()
	cmp.Status = to
	cmp.UpdatedAt = now
	if to == model.CampaignProcessing {
		cmp.ProcessingStartedAt = &now
	}
	c.db.campaigns[id] = cmp
	return true, nil
}

func (c campaigns) UpdateAggregates(_ context.Context, id string, expected model.CampaignStatus, counts model.DeliveryCounts, next model.CampaignStatus) (bool, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	cmp, ok := c.db.campaigns[id]
	if !ok || cmp.Status != expected {
		return false, nil
	}
	now := c.db.Now()
	cmp.SentCount, cmp.FailedCount, cmp.Status, cmp.UpdatedAt = counts.Sent, counts.Failed, next, now
	if next.Terminal() && cmp.CompletedAt == nil {
		cmp.CompletedAt = &now
	}
	c.db.campaigns[id] = cmp
	return true, nil
}

func (c campaigns) MarkFailed(_ context.Context, id, reason string, from ...model.CampaignStatus) (bool, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	cmp, ok := c.db.campaigns[id]
	if !ok {
		return false, nil
	}
	if len(from) == 0 {
		from = repository.NonTerminalStatuses
	}
	if !slices.Contains(from, cmp.Status) {
		return false, nil
	}
	now := c.db.Now()
	cmp.Status = model.CampaignFailed
	cmp.FailureReason = &reason
	cmp.CompletedAt = &now
	cmp.UpdatedAt = now
	c.db.campaigns[id] = cmp
	return true, nil
}

func (c campaigns) ListProcessingBefore(_ context.Context, before time.Time, limit int) ([]string, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	var rows []model.Campaign
	for _, cmp := range c.db.campaigns {
		if cmp.Status == model.CampaignProcessing && cmp.ProcessingStartedAt != nil && cmp.ProcessingStartedAt.Before(before) {
			rows = append(rows, cmp)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ProcessingStartedAt.Before(*rows[j].ProcessingStartedAt) })
	var ids []string
	for _, r := range rows {
		if limit > 0 && len(ids) == limit {
			break
		}
		ids = append(ids, r.ID)
	}
	return ids, nil
}

type deliveries struct{ db *DB }

func (d deliveries) InsertBatch(_ context.Context, _ *sqlx.Tx, recs []model.DeliveryRecord) error {
	d.db.mu.Lock()
	defer d.db.mu.Unlock()
	if d.db.ErrInsertBatch != nil {
		return d.db.ErrInsertBatch
	}
	for _, r := range recs {
		r.Status = model.DeliveryPending
		d.db.records[r.ID] = r
	}
	return nil
}

func (d deliveries) ListPendingWithCustomer(_ context.Context, campaignID string) ([]model.PendingDelivery, error) {
	d.db.mu.Lock()
	defer d.db.mu.Unlock()
	var out []model.PendingDelivery
	for _, r := range d.db.recordsOf(campaignID) {
		if r.Status != model.DeliveryPending {
			continue
		}
		pd := model.PendingDelivery{Record: r}
		if c, ok := d.db.customers[r.CustomerID]; ok {
			cp := *c
			pd.Customer = &cp
		}
		out = append(out, pd)
	}
	return out, nil
}

func (d deliveries) ListByCampaign(_ context.Context, campaignID string, status model.DeliveryStatus, limit, offset int) ([]model.DeliveryRecord, error) {
	d.db.mu.Lock()
	defer d.db.mu.Unlock()
	var out []model.DeliveryRecord
	for _, r := range d.db.recordsOf(campaignID) {
		if status == "" || r.Status == status {
			out = append(out, r)
		}
	}
	if offset > len(out) {
		return nil, nil
	}
	out = out[max(offset, 0):]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (d deliveries) update(id string, fn func(r *model.DeliveryRecord)) bool {
	r, ok := d.db.records[id]
	if !ok || r.Status != model.DeliveryPending {
		return false
	}
	fn(&r)
	r.UpdatedAt = d.db.Now()
	d.db.records[id] = r
	return true
}

func (d deliveries) SaveContent(_ context.Context, id, content string) error {
	d.db.mu.Lock()
	defer d.db.mu.Unlock()
	d.update(id, func(r *model.DeliveryRecord) { r.MessageContent = content })
	return nil
}

func (d deliveries) MarkTriggered(_ context.Context, id string) error {
	d.db.mu.Lock()
	defer d.db.mu.Unlock()
	now := d.db.Now()
	d.update(id, func(r *model.DeliveryRecord) { r.SentAt = &now })
	return nil
}

func (d deliveries) MarkFailed(_ context.Context, id, reason string) (bool, error) {
	d.db.mu.Lock()
	defer d.db.mu.Unlock()
	now := d.db.Now()
	return d.update(id, func(r *model.DeliveryRecord) {
		r.Status = model.DeliveryFailed
		r.FailureReason = &reason
		r.FailedAt = &now
	}), nil
}

func (d deliveries) ApplyUpdates(_ context.Context, ups []model.DeliveryUpdate) ([]string, error) {
	d.db.mu.Lock()
	defer d.db.mu.Unlock()
	if d.db.ErrApply != nil {
		return nil, d.db.ErrApply
	}
	now := d.db.Now()
	var applied []string
	for _, u := range ups {
		if u.Status != model.DeliverySent && u.Status != model.DeliveryFailed {
			continue
		}
		ok := d.update(u.RecordID, func(r *model.DeliveryRecord) {
			r.Status = u.Status
			if u.VendorMessageID != "" {
				v := u.VendorMessageID
				r.VendorMessageID = &v
			}
			if u.Status == model.DeliverySent {
				r.DeliveredAt = &now
				return
			}
			r.FailedAt = &now
			if u.ErrorReason != "" {
				e := u.ErrorReason
				r.FailureReason = &e
			}
		})
		if ok {
			applied = append(applied, u.RecordID)
		}
	}
	return applied, nil
}

func (d deliveries) CampaignIDs(_ context.Context, recordIDs []string) (map[string]string, error) {
	d.db.mu.Lock()
	defer d.db.mu.Unlock()
	if d.db.ErrCampaignIDs != nil {
		return nil, d.db.ErrCampaignIDs
	}
	out := make(map[string]string, len(recordIDs))
	for _, id := range recordIDs {
		if r, ok := d.db.records[id]; ok {
			out[id] = r.CampaignID
		}
	}
	return out, nil
}

func (d deliveries) CountByStatus(_ context.Context, campaignID string) (model.DeliveryCounts, error) {
	d.db.mu.Lock()
	defer d.db.mu.Unlock()
	if d.db.ErrCount != nil {
		return model.DeliveryCounts{}, d.db.ErrCount
	}
	var c model.DeliveryCounts
	for _, r := range d.db.records {
		if r.CampaignID != campaignID {
			continue
		}
		switch r.Status {
		case model.DeliverySent:
			c.Sent++
		case model.DeliveryFailed:
			c.Failed++
		default:
			c.Pending++
		}
	}
	return c, nil
}
