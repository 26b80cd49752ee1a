package trips

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"triptimer/internal/clock"
)

const (
	subjectColumns = `id, owner_id, kind, number, departure_at, COALESCE(origin,''), COALESCE(destination,''),
		COALESCE(car,''), COALESCE(seat,''), COALESCE(train_type,''), updated_at`
	targetColumns = `id, owner_id, channel, endpoint, COALESCE(p256dh,''), COALESCE(auth,''), created_at`
)

// Store reads and writes the trips and delivery_targets tables.
type Store struct {
	db    *sql.DB
	clock clock.Clock
}

func NewStore(db *sql.DB, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.Real()
	}
	return &Store{db: db, clock: clk}
}

func (s *Store) PutSubject(ctx context.Context, sub Subject) error {
	if strings.TrimSpace(sub.ID) == "" || strings.TrimSpace(sub.OwnerID) == "" {
		return errors.New("subject id and owner are required")
	}
	if sub.Kind == "" {
		sub.Kind = KindTrain
	}
	now := s.clock.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trips(id, owner_id, kind, number, departure_at, origin, destination, car, seat, train_type, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   owner_id = excluded.owner_id, kind = excluded.kind, number = excluded.number,
		   departure_at = excluded.departure_at, origin = excluded.origin, destination = excluded.destination,
		   car = excluded.car, seat = excluded.seat, train_type = excluded.train_type,
		   updated_at = excluded.updated_at`,
		sub.ID, sub.OwnerID, string(sub.Kind), sub.Number, sub.DepartureAt.UnixMilli(),
		nullStr(sub.Origin), nullStr(sub.Destination), nullStr(sub.Car), nullStr(sub.Seat), nullStr(sub.TrainType),
		now, now,
	)
	if err != nil {
		return fmt.Errorf("put subject %s: %w", sub.ID, err)
	}
	return nil
}

func (s *Store) DeleteSubject(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM trips WHERE id = ?`, id)
	return err
}

func (s *Store) GetSubject(ctx context.Context, id string) (Subject, error) {
	sub, err := scanSubject(s.db.QueryRowContext(ctx, `SELECT `+subjectColumns+` FROM trips WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Subject{}, ErrSubjectNotFound
	}
	if err != nil {
		return Subject{}, fmt.Errorf("get subject %s: %w", id, err)
	}
	return sub, nil
}

// ListUpcoming returns subjects departing strictly after t, soonest first.
func (s *Store) ListUpcoming(ctx context.Context, after time.Time) ([]Subject, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subjectColumns+` FROM trips WHERE departure_at > ? ORDER BY departure_at, id`, after.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("list upcoming subjects: %w", err)
	}
	defer rows.Close()

	var out []Subject
	for rows.Next() {
		sub, err := scanSubject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// UpdateMetadata stores a refreshed train type.
func (s *Store) UpdateMetadata(ctx context.Context, id, value string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE trips SET train_type = ?, updated_at = ? WHERE id = ?`,
		nullStr(value), s.clock.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("update metadata %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSubjectNotFound
	}
	return nil
}

func (s *Store) PutTarget(ctx context.Context, t Target) error {
	if strings.TrimSpace(t.ID) == "" || strings.TrimSpace(t.OwnerID) == "" || strings.TrimSpace(t.Endpoint) == "" {
		return errors.New("target id, owner and endpoint are required")
	}
	if t.Channel == "" {
		t.Channel = ChannelWebPush
	}
	created := t.CreatedAt
	if created.IsZero() {
		created = s.clock.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_targets(id, owner_id, channel, endpoint, p256dh, auth, created_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   owner_id = excluded.owner_id, channel = excluded.channel, endpoint = excluded.endpoint,
		   p256dh = excluded.p256dh, auth = excluded.auth`,
		t.ID, t.OwnerID, string(t.Channel), t.Endpoint, nullStr(t.P256dh), nullStr(t.Auth), created.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("put target %s: %w", t.ID, err)
	}
	return nil
}

func (s *Store) GetTarget(ctx context.Context, id string) (Target, error) {
	t, err := scanTarget(s.db.QueryRowContext(ctx, `SELECT `+targetColumns+` FROM delivery_targets WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Target{}, ErrTargetNotFound
	}
	if err != nil {
		return Target{}, fmt.Errorf("get target %s: %w", id, err)
	}
	return t, nil
}

// ListTargetsFor returns the owner's targets, oldest first.
func (s *Store) ListTargetsFor(ctx context.Context, ownerID string) ([]Target, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+targetColumns+` FROM delivery_targets WHERE owner_id = ? ORDER BY created_at, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list targets for %s: %w", ownerID, err)
	}
	defer rows.Close()

	var out []Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteTarget removes a target. Deleting a missing target is not an error.
func (s *Store) DeleteTarget(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM delivery_targets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete target %s: %w", id, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSubject(r scanner) (Subject, error) {
	var (
		sub                Subject
		kind               string
		departure, updated int64
	)
	err := r.Scan(&sub.ID, &sub.OwnerID, &kind, &sub.Number, &departure,
		&sub.Origin, &sub.Destination, &sub.Car, &sub.Seat, &sub.TrainType, &updated)
	if err != nil {
		return Subject{}, err
	}
	sub.Kind = Kind(kind)
	sub.DepartureAt = time.UnixMilli(departure)
	sub.UpdatedAt = time.UnixMilli(updated)
	return sub, nil
}

func scanTarget(r scanner) (Target, error) {
	var (
		t       Target
		channel string
		created int64
	)
	if err := r.Scan(&t.ID, &t.OwnerID, &channel, &t.Endpoint, &t.P256dh, &t.Auth, &created); err != nil {
		return Target{}, err
	}
	t.Channel = Channel(channel)
	t.CreatedAt = time.UnixMilli(created)
	return t, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
