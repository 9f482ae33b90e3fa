package service_test

import (
	"bytes"
	"context"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pkordes/tripcrew/internal/domain"
	"github.com/pkordes/tripcrew/internal/repo"
)

// ---- in-memory store -------------------------------------------------------

// memStore is a hand-written test double for repo.Store. Like Postgres, it
// only serialises transactions that lock the same trip: Trips().Lock inside
// WithTx takes a per-trip mutex held until the transaction ends. A failed
// transaction replays its undo log.
type memStore struct {
	mu sync.Mutex

	lockMu    sync.Mutex
	tripLocks map[uuid.UUID]*sync.Mutex

	users       map[uuid.UUID]domain.User
	trips       map[uuid.UUID]domain.Trip
	members     []domain.Member
	invitations []domain.Invitation
	outbox      []domain.OutboxMessage

	// failOn makes the named repo method return err once, to exercise
	// rollback and error wrapping.
	failOn  string
	failErr error
}

var _ repo.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		tripLocks: map[uuid.UUID]*sync.Mutex{},
		users:     map[uuid.UUID]domain.User{},
		trips:     map[uuid.UUID]domain.Trip{},
	}
}

var clock atomic.Int64

// tick returns strictly increasing timestamps so join order is stable.
func tick() time.Time {
	return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(clock.Add(1)) * time.Millisecond)
}

// enter takes the state lock for one statement. It yields first so that
// concurrent transactions interleave between statements.
func (s *memStore) enter() {
	runtime.Gosched()
	s.mu.Lock()
}

func (s *memStore) tripLock(id uuid.UUID) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	l, ok := s.tripLocks[id]
	if !ok {
		l = &sync.Mutex{}
		s.tripLocks[id] = l
	}
	return l
}

// memTx is one transaction: the trip locks it holds and how to undo its writes.
type memTx struct {
	s    *memStore
	held []uuid.UUID
	undo []func()
}

func (tx *memTx) Trips() repo.TripRepo             { return memTrips{tx.s, tx} }
func (tx *memTx) Users() repo.UserRepo             { return memUsers{tx.s, tx} }
func (tx *memTx) Members() repo.MemberRepo         { return memMembers{tx.s, tx} }
func (tx *memTx) Invitations() repo.InvitationRepo { return memInvitations{tx.s, tx} }
func (tx *memTx) Outbox() repo.OutboxRepo          { return memOutbox{tx.s, tx} }

// record queues fn to run on rollback. Outside a transaction it is a no-op.
// Callers hold s.mu; fn runs with s.mu held.
func (tx *memTx) record(fn func()) {
	if tx != nil {
		tx.undo = append(tx.undo, fn)
	}
}

func (tx *memTx) acquire(id uuid.UUID) {
	if slices.Contains(tx.held, id) {
		return
	}
	tx.s.tripLock(id).Lock()
	tx.held = append(tx.held, id)
}

func (tx *memTx) release() {
	for i := len(tx.held) - 1; i >= 0; i-- {
		tx.s.tripLock(tx.held[i]).Unlock()
	}
	tx.held = nil
}

func (tx *memTx) rollback() {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (s *memStore) WithTx(_ context.Context, fn func(tx repo.Repos) error) error {
	tx := &memTx{s: s}
	defer tx.release()
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (s *memStore) Trips() repo.TripRepo             { return memTrips{s, nil} }
func (s *memStore) Users() repo.UserRepo             { return memUsers{s, nil} }
func (s *memStore) Members() repo.MemberRepo         { return memMembers{s, nil} }
func (s *memStore) Invitations() repo.InvitationRepo { return memInvitations{s, nil} }
func (s *memStore) Outbox() repo.OutboxRepo          { return memOutbox{s, nil} }

// Row helpers for undo closures. Callers hold s.mu.

func (s *memStore) dropMember(id uuid.UUID) {
	s.members = slices.DeleteFunc(s.members, func(m domain.Member) bool { return m.ID == id })
}

func (s *memStore) putMember(row domain.Member) {
	for i := range s.members {
		if s.members[i].ID == row.ID {
			s.members[i] = row
			return
		}
	}
}

func (s *memStore) reinsertMember(i int, row domain.Member) {
	s.members = slices.Insert(s.members, min(i, len(s.members)), row)
}

func (s *memStore) dropInvitation(id uuid.UUID) {
	s.invitations = slices.DeleteFunc(s.invitations, func(inv domain.Invitation) bool { return inv.ID == id })
}

func (s *memStore) putInvitation(row domain.Invitation) {
	for i := range s.invitations {
		if s.invitations[i].ID == row.ID {
			s.invitations[i] = row
			return
		}
	}
}

func (s *memStore) reinsertInvitation(i int, row domain.Invitation) {
	s.invitations = slices.Insert(s.invitations, min(i, len(s.invitations)), row)
}

// injected returns the configured failure for method, once. Callers hold s.mu.
func (s *memStore) injected(method string) error {
	if s.failOn != method {
		return nil
	}
	s.failOn = ""
	return s.failErr
}

// ---- fixtures --------------------------------------------------------------

func (s *memStore) addUser(name, phone string) domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := domain.User{ID: uuid.New(), PhoneNumber: phone, DisplayName: name}
	s.users[u.ID] = u
	return u
}

// addTrip creates a trip and, like the trip subsystem does, an organizer
// member row for the creator.
func (s *memStore) addTrip(creator domain.User) domain.Trip {
	t := domain.Trip{ID: uuid.New(), Name: "Lisbon", CreatedBy: creator.ID}
	s.mu.Lock()
	s.trips[t.ID] = t
	s.mu.Unlock()
	s.addMember(t.ID, creator.ID, true)
	return t
}

func (s *memStore) addMember(tripID, userID uuid.UUID, organizer bool) domain.Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := tick()
	m := domain.Member{
		ID: uuid.New(), TripID: tripID, UserID: userID,
		Status: domain.StatusNoResponse, IsOrganizer: organizer,
		CreatedAt: now, UpdatedAt: now,
	}
	s.members = append(s.members, m)
	return m
}

func (s *memStore) addInvitation(tripID, inviterID uuid.UUID, phone string) domain.Invitation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertInvitation(tripID, inviterID, phone)
}

func (s *memStore) insertInvitation(tripID, inviterID uuid.UUID, phone string) domain.Invitation {
	now := tick()
	inv := domain.Invitation{
		ID: uuid.New(), TripID: tripID, InviterID: inviterID, InviteePhone: phone,
		Status: domain.InvitationPending, SentAt: now, CreatedAt: now, UpdatedAt: now,
	}
	s.invitations = append(s.invitations, inv)
	return inv
}

func (s *memStore) memberRows(tripID uuid.UUID) []domain.Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Member
	for _, m := range s.members {
		if m.TripID == tripID {
			out = append(out, m)
		}
	}
	return out
}

func (s *memStore) invitationRows(tripID uuid.UUID) []domain.Invitation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Invitation
	for _, inv := range s.invitations {
		if inv.TripID == tripID {
			out = append(out, inv)
		}
	}
	return out
}

func (s *memStore) outboxPhones() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, m := range s.outbox {
		out = append(out, m.Phone)
	}
	return out
}

// ---- trips -----------------------------------------------------------------

type memTrips struct {
	s  *memStore
	tx *memTx
}

func (r memTrips) GetByID(_ context.Context, id uuid.UUID) (domain.Trip, error) {
	r.s.enter()
	defer r.s.mu.Unlock()
	if err := r.s.injected("Trips.GetByID"); err != nil {
		return domain.Trip{}, err
	}
	t, ok := r.s.trips[id]
	if !ok {
		return domain.Trip{}, domain.ErrNotFound
	}
	return t, nil
}

func (r memTrips) Exists(_ context.Context, id uuid.UUID) (bool, error) {
	r.s.enter()
	defer r.s.mu.Unlock()
	_, ok := r.s.trips[id]
	return ok, nil
}

// Lock mirrors SELECT ... ORDER BY id FOR UPDATE: existing trips are locked
// in id order and held until the transaction ends.
func (r memTrips) Lock(_ context.Context, ids ...uuid.UUID) ([]uuid.UUID, error) {
	sorted := slices.Clone(ids)
	slices.SortFunc(sorted, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	sorted = slices.Compact(sorted)

	var locked []uuid.UUID
	for _, id := range sorted {
		r.s.enter()
		_, ok := r.s.trips[id]
		r.s.mu.Unlock()
		if !ok {
			continue
		}
		if r.tx != nil {
			r.tx.acquire(id)
		}
		locked = append(locked, id)
	}
	return locked, nil
}

// ---- users -----------------------------------------------------------------

type memUsers struct {
	s  *memStore
	tx *memTx
}

func (r memUsers) GetByID(_ context.Context, id uuid.UUID) (domain.User, error) {
	r.s.enter()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (r memUsers) GetByPhone(_ context.Context, phone string) (domain.User, error) {
	r.s.enter()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.PhoneNumber == phone {
			return u, nil
		}
	}
	return domain.User{}, domain.ErrNotFound
}

func (r memUsers) ListByPhones(_ context.Context, phones []string) ([]domain.User, error) {
	r.s.enter()
	defer r.s.mu.Unlock()
	out := []domain.User{}
	for _, u := range r.s.users {
		if slices.Contains(phones, u.PhoneNumber) {
			out = append(out, u)
		}
	}
	return out, nil
}

// ---- members ---------------------------------------------------------------

type memMembers struct {
	s  *memStore
	tx *memTx
}

func (r memMembers) find(pred func(domain.Member) bool) (int, bool) {
	for i, m := range r.s.members {
		if pred(m) {
			return i, true
		}
	}
	return -1, false
}

func (r memMembers) GetByID(_ context.Context, tripID, memberID uuid.UUID) (domain.Member, error) {
	r.s.enter()
	defer r.s.mu.Unlock()
	if err := r.s.injected("Members.GetByID"); err != nil {
		return domain.Member{}, err
	}
	i, ok := r.find(func(m domain.Member) bool { return m.ID == memberID && m.TripID == tripID })
	if !ok {
		return domain.Member{}, domain.ErrNotFound
	}
	return r.s.members[i], nil
}

func (r memMembers) GetByUser(_ context.Context, tripID, userID uuid.UUID) (domain.Member, error) {
	r.s.enter()
	defer r.s.mu.Unlock()
	i, ok := r.find(func(m domain.Member) bool { return m.UserID == userID && m.TripID == tripID })
	if !ok {
		return domain.Member{}, domain.ErrNotFound
	}
	return r.s.members[i], nil
}

func (r memMembers) CountByTrip(_ context.Context, tripID uuid.UUID) (int, error) {
	r.s.enter()
	defer r.s.mu.Unlock()
	n := 0
	for _, m := range r.s.members {
		if m.TripID == tripID {
			n++
		}
	}
	return n, nil
}

func (r memMembers) CountOrganizers(_ context.Context, tripID uuid.UUID) (int, error) {
	r.s.enter()
	defer r.s.mu.Unlock()
	n := 0
	for _, m := range r.s.members {
		if m.TripID == tripID && m.IsOrganizer {
			n++
		}
	}
	return n, nil
}

func (r memMembers) CountByTrips(_ context.Context, tripIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	r.s.enter()
	defer r.s.mu.Unlock()
	counts := map[uuid.UUID]int{}
	for _, m := range r.s.members {
		if slices.Contains(tripIDs, m.TripID) {
			counts[m.TripID]++
		}
	}
	return counts, nil
}

func (r memMembers) ExistingKeys(_ context.Context, keys []domain.MemberKey) (map[domain.MemberKey]bool, error) {
	r.s.enter()
	defer r.s.mu.Unlock()
	out := map[domain.MemberKey]bool{}
	for _, m := range r.s.members {
		k := domain.MemberKey{TripID: m.TripID, UserID: m.UserID}
		if slices.Contains(keys, k) {
			out[k] = true
		}
	}
	return out, nil
}

func (r memMembers) CreateNoResponse(_ context.Context, keys []domain.MemberKey) ([]domain.Member, error) {
	r.s.enter()
	defer r.s.mu.Unlock()
	if err := r.s.injected("Members.CreateNoResponse"); err != nil {
		return nil, err
	}
	created := []domain.Member{}
	for _, k := range keys {
		if _, dup := r.find(func(m domain.Member) bool { return m.TripID == k.TripID && m.UserID == k.UserID }); dup {
			continue
		}
		now := tick()
		m := domain.Member{
			ID: uuid.New(), TripID: k.TripID, UserID: k.UserID,
			Status: domain.StatusNoResponse, CreatedAt: now, UpdatedAt: now,
		}
		r.s.members = append(r.s.members, m)
		r.tx.record(func() { r.s.dropMember(m.ID) })
		created = append(created, m)
	}
	return created, nil
}

func (r memMembers) UpdateStatus(_ context.Context, tripID, userID uuid.UUID, status domain.MemberStatus) error {
	r.s.enter()
	defer r.s.mu.Unlock()
	i, ok := r.find(func(m domain.Member) bool { return m.UserID == userID && m.TripID == tripID })
	if !ok {
		return domain.ErrNotFound
	}
	prev := r.s.members[i]
	r.tx.record(func() { r.s.putMember(prev) })
	r.s.members[i].Status = status
	r.s.members[i].UpdatedAt = tick()
	return nil
}

func (r memMembers) UpdateRole(_ context.Context, tripID, memberID uuid.UUID, isOrganizer bool) error {
	r.s.enter()
	defer r.s.mu.Unlock()
	i, ok := r.find(func(m domain.Member) bool { return m.ID == memberID && m.TripID == tripID })
	if !ok {
		return domain.ErrNotFound
	}
	prev := r.s.members[i]
	r.tx.record(func() { r.s.putMember(prev) })
	r.s.members[i].IsOrganizer = isOrganizer
	r.s.members[i].UpdatedAt = tick()
	return nil
}

func (r memMembers) Delete(_ context.Context, tripID, memberID uuid.UUID) error {
	r.s.enter()
	defer r.s.mu.Unlock()
	i, ok := r.find(func(m domain.Member) bool { return m.ID == memberID && m.TripID == tripID })
	if !ok {
		return domain.ErrNotFound
	}
	prev := r.s.members[i]
	r.tx.record(func() { r.s.reinsertMember(i, prev) })
	r.s.members = slices.Delete(r.s.members, i, i+1)
	return nil
}

func (r memMembers) profile(m domain.Member) domain.MemberWithProfile {
	u := r.s.users[m.UserID]
	phone := u.PhoneNumber
	return domain.MemberWithProfile{
		ID: m.ID, UserID: m.UserID, DisplayName: u.DisplayName,
		ProfilePhotoURL: u.ProfilePhotoURL, Handles: u.Handles, PhoneNumber: &phone,
		Status: m.Status, IsOrganizer: m.IsOrganizer, CreatedAt: m.CreatedAt,
	}
}

func (r memMembers) GetProfile(_ context.Context, tripID, memberID uuid.UUID) (domain.MemberWithProfile, error) {
	r.s.enter()
	defer r.s.mu.Unlock()
	i, ok := r.find(func(m domain.Member) bool { return m.ID == memberID && m.TripID == tripID })
	if !ok {
		return domain.MemberWithProfile{}, domain.ErrNotFound
	}
	return r.profile(r.s.members[i]), nil
}

func (r memMembers) ListProfiles(_ context.Context, tripID uuid.UUID) ([]domain.MemberWithProfile, error) {
	r.s.enter()
	defer r.s.mu.Unlock()
	out := []domain.MemberWithProfile{}
	for _, m := range r.s.members {
		if m.TripID == tripID {
			out = append(out, r.profile(m))
		}
	}
	return out, nil
}

// ---- invitations -----------------------------------------------------------

type memInvitations struct {
	s  *memStore
	tx *memTx
}

func (r memInvitations) GetByID(_ context.Context, id uuid.UUID) (domain.Invitation, error) {
	r.s.enter()
	defer r.s.mu.Unlock()
	for _, inv := range r.s.invitations {
		if inv.ID == id {
			return inv, nil
		}
	}
	return domain.Invitation{}, domain.ErrNotFound
}

func (r memInvitations) PendingPhones(_ context.Context, tripID uuid.UUID, phones []string) (map[string]bool, error) {
	r.s.enter()
	defer r.s.mu.Unlock()
	out := map[string]bool{}
	for _, inv := range r.s.invitations {
		if inv.TripID == tripID && inv.Status == domain.InvitationPending && slices.Contains(phones, inv.InviteePhone) {
			out[inv.InviteePhone] = true
		}
	}
	return out, nil
}

func (r memInvitations) CreatePending(_ context.Context, tripID, inviterID uuid.UUID, phones []string) ([]domain.Invitation, error) {
	r.s.enter()
	defer r.s.mu.Unlock()
	out := make([]domain.Invitation, 0, len(phones))
	for _, p := range phones {
		inv := r.s.insertInvitation(tripID, inviterID, p)
		r.tx.record(func() { r.s.dropInvitation(inv.ID) })
		out = append(out, inv)
	}
	return out, nil
}

func (r memInvitations) ListPendingByPhone(_ context.Context, phone string) ([]domain.Invitation, error) {
	r.s.enter()
	defer r.s.mu.Unlock()
	out := []domain.Invitation{}
	for _, inv := range r.s.invitations {
		if inv.InviteePhone == phone && inv.Status == domain.InvitationPending {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (r memInvitations) ListByTrip(_ context.Context, tripID uuid.UUID) ([]domain.InvitationWithInvitee, error) {
	r.s.enter()
	defer r.s.mu.Unlock()
	out := []domain.InvitationWithInvitee{}
	for _, inv := range r.s.invitations {
		if inv.TripID != tripID {
			continue
		}
		row := domain.InvitationWithInvitee{Invitation: inv}
		for _, u := range r.s.users {
			if u.PhoneNumber == inv.InviteePhone {
				name := u.DisplayName
				row.InviteeName = &name
			}
		}
		out = append(out, row)
	}
	return out, nil
}

func (r memInvitations) MarkAccepted(_ context.Context, ids []uuid.UUID) (int64, error) {
	r.s.enter()
	defer r.s.mu.Unlock()
	var n int64
	for i, inv := range r.s.invitations {
		if slices.Contains(ids, inv.ID) {
			prev := inv
			r.tx.record(func() { r.s.putInvitation(prev) })
			now := tick()
			r.s.invitations[i].Status = domain.InvitationAccepted
			r.s.invitations[i].RespondedAt = &now
			r.s.invitations[i].UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (r memInvitations) Delete(_ context.Context, id uuid.UUID) error {
	r.s.enter()
	defer r.s.mu.Unlock()
	for i, inv := range r.s.invitations {
		if inv.ID == id {
			prev := inv
			r.tx.record(func() { r.s.reinsertInvitation(i, prev) })
			r.s.invitations = slices.Delete(r.s.invitations, i, i+1)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r memInvitations) DeleteByPhone(_ context.Context, tripID uuid.UUID, phone string) (int64, error) {
	r.s.enter()
	defer r.s.mu.Unlock()
	var n int64
	for i := len(r.s.invitations) - 1; i >= 0; i-- {
		inv := r.s.invitations[i]
		if inv.TripID != tripID || inv.InviteePhone != phone {
			continue
		}
		r.tx.record(func() { r.s.reinsertInvitation(i, inv) })
		r.s.invitations = slices.Delete(r.s.invitations, i, i+1)
		n++
	}
	return n, nil
}

// ---- outbox ----------------------------------------------------------------

type memOutbox struct {
	s  *memStore
	tx *memTx
}

func (r memOutbox) Enqueue(_ context.Context, reason string, phones []string) error {
	r.s.enter()
	defer r.s.mu.Unlock()
	if err := r.s.injected("Outbox.Enqueue"); err != nil {
		return err
	}
	for _, p := range phones {
		msg := domain.OutboxMessage{
			ID: uuid.New(), Phone: p, Reason: reason, Status: domain.OutboxPending, CreatedAt: tick(),
		}
		r.s.outbox = append(r.s.outbox, msg)
		r.tx.record(func() {
			r.s.outbox = slices.DeleteFunc(r.s.outbox, func(o domain.OutboxMessage) bool { return o.ID == msg.ID })
		})
	}
	return nil
}

func (r memOutbox) ClaimPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	r.s.enter()
	defer r.s.mu.Unlock()
	out := []domain.OutboxMessage{}
	for i := range r.s.outbox {
		if len(out) == limit {
			break
		}
		if r.s.outbox[i].Status == domain.OutboxPending {
			r.s.outbox[i].Status = domain.OutboxDispatched
			out = append(out, r.s.outbox[i])
		}
	}
	return out, nil
}

func (r memOutbox) MarkFailed(_ context.Context, id uuid.UUID, reason string) error {
	r.s.enter()
	defer r.s.mu.Unlock()
	for i := range r.s.outbox {
		if r.s.outbox[i].ID == id {
			r.s.outbox[i].Status = domain.OutboxFailed
			r.s.outbox[i].Error = reason
			return nil
		}
	}
	return domain.ErrNotFound
}

// ---- permission oracle -----------------------------------------------------

// memOracle answers from the in-memory state with the same rules as
// repo.PermissionRepo.
type memOracle struct{ s *memStore }

func (o memOracle) roles(userID, tripID uuid.UUID) (member, organizer, creator bool) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	if t, ok := o.s.trips[tripID]; ok && t.CreatedBy == userID {
		creator = true
	}
	for _, m := range o.s.members {
		if m.TripID == tripID && m.UserID == userID {
			return true, m.IsOrganizer, creator
		}
	}
	return false, false, creator
}

func (o memOracle) CanInviteMembers(ctx context.Context, userID, tripID uuid.UUID) (bool, error) {
	return o.IsOrganizer(ctx, userID, tripID)
}

func (o memOracle) IsOrganizer(_ context.Context, userID, tripID uuid.UUID) (bool, error) {
	_, organizer, creator := o.roles(userID, tripID)
	return organizer || creator, nil
}

func (o memOracle) CanUpdateRsvp(_ context.Context, userID, tripID uuid.UUID) (bool, error) {
	member, _, _ := o.roles(userID, tripID)
	return member, nil
}

func (o memOracle) GetMembershipInfo(_ context.Context, userID, tripID uuid.UUID) (domain.MembershipInfo, error) {
	member, organizer, creator := o.roles(userID, tripID)
	return domain.MembershipInfo{IsMember: member || creator, IsOrganizer: organizer || creator}, nil
}

// ---- lock helpers ----------------------------------------------------------

// holdTrip opens a transaction that locks tripID, runs during inside it and
// keeps the lock until release is called.
func holdTrip(t *testing.T, s *memStore, tripID uuid.UUID, during func(ctx context.Context, tx repo.Repos) error) (release func()) {
	t.Helper()
	locked := make(chan struct{})
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		err := s.WithTx(context.Background(), func(tx repo.Repos) error {
			ctx := context.Background()
			ids, err := tx.Trips().Lock(ctx, tripID)
			if err == nil && len(ids) != 1 {
				err = domain.ErrTripNotFound
			}
			if err == nil && during != nil {
				err = during(ctx, tx)
			}
			close(locked)
			if err != nil {
				return err
			}
			<-done
			return nil
		})
		if err != nil {
			t.Errorf("holdTrip: %v", err)
		}
	}()
	<-locked
	return func() {
		close(done)
		<-finished
	}
}

// requireBlocked fails if result delivers while the trip is still held.
func requireBlocked(t *testing.T, result <-chan error) {
	t.Helper()
	select {
	case err := <-result:
		t.Fatalf("call returned while the trip was locked (err=%v)", err)
	case <-time.After(50 * time.Millisecond):
	}
}

// async runs fn in a goroutine and delivers its error.
func async(fn func() error) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- fn() }()
	return ch
}
