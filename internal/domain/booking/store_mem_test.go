package booking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore serializes transactions with a mutex and applies a transaction's
// writes only when fn returns nil.
type memStore struct {
	mu     sync.Mutex
	appts  map[uuid.UUID]*Appointment
	locks  map[string]*SlotLock
	txRuns int

	failCreate error
	// blindLocks makes GetSlotLock report no lock, simulating a caller that
	// read before a concurrent winner committed.
	blindLocks bool
}

func newMemStore() *memStore {
	return &memStore{
		appts: make(map[uuid.UUID]*Appointment),
		locks: make(map[string]*SlotLock),
	}
}

type memTx struct {
	store *memStore
	appts map[uuid.UUID]*Appointment
	locks map[string]*SlotLock
}

func (m *memStore) WithinTx(_ context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txRuns++

	tx := &memTx{store: m, appts: make(map[uuid.UUID]*Appointment), locks: make(map[string]*SlotLock)}
	if err := fn(tx); err != nil {
		return err
	}
	for k, v := range tx.locks {
		m.locks[k] = v
	}
	for k, v := range tx.appts {
		m.appts[k] = v
	}
	return nil
}

func (t *memTx) GetSlotLock(_ context.Context, key string) (*SlotLock, error) {
	if t.store.blindLocks {
		return nil, nil
	}
	if l, ok := t.locks[key]; ok {
		cp := *l
		return &cp, nil
	}
	if l, ok := t.store.locks[key]; ok {
		cp := *l
		return &cp, nil
	}
	return nil, nil
}

func (t *memTx) CreateAppointment(_ context.Context, a *Appointment) error {
	if t.store.failCreate != nil {
		return t.store.failCreate
	}
	now := time.Now()
	a.CreatedAt, a.UpdatedAt = now, now
	cp := *a
	t.appts[a.ID] = &cp
	return nil
}

func (t *memTx) ReserveKeyOrFail(_ context.Context, l *SlotLock) error {
	if _, ok := t.locks[l.Key]; ok {
		return ErrSlotAlreadyBooked
	}
	if _, ok := t.store.locks[l.Key]; ok {
		return ErrSlotAlreadyBooked
	}
	cp := *l
	cp.CreatedAt = time.Now()
	t.locks[l.Key] = &cp
	return nil
}

func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) List(_ context.Context, f Filter, limit, offset int) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*Appointment
	for _, a := range m.appts {
		if (f.DoctorID == "" || a.DoctorID == f.DoctorID) &&
			(f.PatientID == "" || a.PatientID == f.PatientID) &&
			(f.Date == "" || a.AppointmentDate == f.Date) &&
			(f.Status == "" || a.Status == f.Status) &&
			(f.BranchID == "" || a.BranchID == f.BranchID) {
			cp := *a
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID.String() < all[j].ID.String() })
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *memStore) UpdateStatus(_ context.Context, id uuid.UUID, from, to string) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrNotFound
	}
	if a.Status != from {
		return nil, ErrStatusChanged
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (m *memStore) lockCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

func (m *memStore) apptCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.appts)
}

func (m *memStore) lock(key string) *SlotLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locks[key]
}
