package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateIdentity persists a new global identity. The caller supplies the ID
// when the strategy derives it deterministically (forced, isolated).
func (s *Store) CreateIdentity(ctx context.Context, identity *Identity) (*Identity, error) {
	if identity == nil {
		return nil, errors.New("identity is nil")
	}
	if identity.ID == "" {
		identity.ID = uuid.NewString()
	}
	if identity.Status == "" {
		identity.Status = IdentityTentative
	}
	now := time.Now().UTC()
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = now
	}
	if identity.LastSeenAt.IsZero() {
		identity.LastSeenAt = now
	}
	identity.Active = true

	var galleryJSON any
	if len(identity.Gallery) > 0 {
		raw, err := marshalJSON(identity.Gallery)
		if err != nil {
			return nil, err
		}
		galleryJSON = raw
	}

	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO identities (identity_id, status, subject_id, gallery_json, active, created_at, last_seen_at)
         VALUES (?, ?, ?, ?, 1, ?, ?)`,
		identity.ID,
		identity.Status,
		nullableString(identity.SubjectID),
		galleryJSON,
		formatTime(identity.CreatedAt),
		formatTime(identity.LastSeenAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert identity: %w", err)
	}
	return identity, nil
}

// GetIdentity fetches an identity by identifier. Returns nil when absent.
func (s *Store) GetIdentity(ctx context.Context, id string) (*Identity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE identity_id = ?`, id)
	identity, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return identity, nil
}

// ActiveIdentities returns active identities ordered by most recent sighting.
func (s *Store) ActiveIdentities(ctx context.Context) ([]*Identity, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+identityColumns+` FROM identities WHERE active = 1 ORDER BY last_seen_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("active identities: %w", err)
	}
	defer rows.Close()

	var identities []*Identity
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		identities = append(identities, identity)
	}
	return identities, rows.Err()
}

// ListIdentities returns every identity ordered by creation time.
func (s *Store) ListIdentities(ctx context.Context) ([]*Identity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+identityColumns+` FROM identities ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	var identities []*Identity
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		identities = append(identities, identity)
	}
	return identities, rows.Err()
}

// TouchIdentity refreshes last-seen and persists the bounded gallery after a
// merge decision.
func (s *Store) TouchIdentity(ctx context.Context, id string, gallery [][]float64, seenAt time.Time) error {
	var galleryJSON any
	if len(gallery) > 0 {
		raw, err := marshalJSON(gallery)
		if err != nil {
			return err
		}
		galleryJSON = raw
	}
	_, err := s.execWithRetry(
		ctx,
		`UPDATE identities SET gallery_json = ?, last_seen_at = ?, active = 1 WHERE identity_id = ?`,
		galleryJSON,
		formatTime(seenAt),
		id,
	)
	if err != nil {
		return fmt.Errorf("touch identity: %w", err)
	}
	return nil
}

// ErrConfirmedBinding is returned when a write would silently downgrade a
// confirmed subject binding. Re-binding requires RebindIdentity.
var ErrConfirmedBinding = errors.New("identity binding is confirmed")

// ConfirmBinding promotes an identity to confirmed with the given subject.
// Promoting an already-confirmed identity to a different subject fails;
// operators use RebindIdentity for that.
func (s *Store) ConfirmBinding(ctx context.Context, id, subjectID string) error {
	if subjectID == "" {
		return errors.New("subject id required")
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE identities SET status = ?, subject_id = ?
         WHERE identity_id = ? AND (status != ? OR subject_id = ? OR subject_id IS NULL)`,
		IdentityConfirmed,
		subjectID,
		id,
		IdentityConfirmed,
		subjectID,
	)
	if err != nil {
		return fmt.Errorf("confirm binding: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		existing, getErr := s.GetIdentity(ctx, id)
		if getErr != nil {
			return getErr
		}
		if existing == nil {
			return fmt.Errorf("identity %s not found", id)
		}
		return ErrConfirmedBinding
	}
	return nil
}

// RebindIdentity is the explicit operator action that replaces a confirmed
// binding. It never runs implicitly.
func (s *Store) RebindIdentity(ctx context.Context, id, subjectID string) error {
	if subjectID == "" {
		return errors.New("subject id required")
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE identities SET status = ?, subject_id = ? WHERE identity_id = ?`,
		IdentityConfirmed,
		subjectID,
		id,
	)
	if err != nil {
		return fmt.Errorf("rebind identity: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("identity %s not found", id)
	}
	return nil
}

// DeactivateIdle marks identities inactive when unseen since the cutoff.
// Inactive identities stay queryable but are skipped as merge candidates.
func (s *Store) DeactivateIdle(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE identities SET active = 0 WHERE active = 1 AND last_seen_at < ?`,
		formatTime(cutoff.UTC()),
	)
	if err != nil {
		return 0, fmt.Errorf("deactivate idle identities: %w", err)
	}
	return res.RowsAffected()
}

// AppendAssociation records a merge decision in the append-only audit trail.
func (s *Store) AppendAssociation(ctx context.Context, assoc *Association) (*Association, error) {
	if assoc == nil {
		return nil, errors.New("association is nil")
	}
	if assoc.TrackletID == "" || assoc.IdentityID == "" {
		return nil, errors.New("association requires tracklet and identity ids")
	}
	if assoc.ID == "" {
		assoc.ID = uuid.NewString()
	}
	if assoc.DecidedAt.IsZero() {
		assoc.DecidedAt = time.Now().UTC()
	}

	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO associations (association_id, tracklet_id, identity_id, confidence, win_margin, strategy, decided_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		assoc.ID,
		assoc.TrackletID,
		assoc.IdentityID,
		assoc.Confidence,
		assoc.WinMargin,
		assoc.Strategy,
		formatTime(assoc.DecidedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert association: %w", err)
	}
	return assoc, nil
}

// AssociationsForIdentity returns the audit trail for one identity, newest first.
func (s *Store) AssociationsForIdentity(ctx context.Context, identityID string) ([]*Association, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT association_id, tracklet_id, identity_id, confidence, win_margin, strategy, decided_at
         FROM associations WHERE identity_id = ? ORDER BY decided_at DESC`,
		identityID,
	)
	if err != nil {
		return nil, fmt.Errorf("associations for identity: %w", err)
	}
	defer rows.Close()

	var associations []*Association
	for rows.Next() {
		assoc, err := scanAssociation(rows)
		if err != nil {
			return nil, err
		}
		associations = append(associations, assoc)
	}
	return associations, rows.Err()
}

const identityColumns = "identity_id, status, subject_id, gallery_json, active, created_at, last_seen_at"

func scanIdentity(scanner interface{ Scan(dest ...any) error }) (*Identity, error) {
	var (
		id          string
		status      string
		subjectID   sql.NullString
		galleryRaw  sql.NullString
		active      int
		createdRaw  string
		lastSeenRaw string
	)
	if err := scanner.Scan(&id, &status, &subjectID, &galleryRaw, &active, &createdRaw, &lastSeenRaw); err != nil {
		return nil, err
	}
	identity := &Identity{
		ID:        id,
		Status:    IdentityStatus(status),
		SubjectID: subjectID.String,
		Active:    active != 0,
	}
	if galleryRaw.Valid {
		identity.Gallery = unmarshalGallery(galleryRaw.String)
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		identity.CreatedAt = created
	}
	if lastSeen, err := parseTimeString(lastSeenRaw); err == nil {
		identity.LastSeenAt = lastSeen
	}
	return identity, nil
}

func scanAssociation(scanner interface{ Scan(dest ...any) error }) (*Association, error) {
	var (
		id         string
		trackletID string
		identityID string
		confidence float64
		winMargin  float64
		strategy   string
		decidedRaw string
	)
	if err := scanner.Scan(&id, &trackletID, &identityID, &confidence, &winMargin, &strategy, &decidedRaw); err != nil {
		return nil, err
	}
	assoc := &Association{
		ID:         id,
		TrackletID: trackletID,
		IdentityID: identityID,
		Confidence: confidence,
		WinMargin:  winMargin,
		Strategy:   strategy,
	}
	if decided, err := parseTimeString(decidedRaw); err == nil {
		assoc.DecidedAt = decided
	}
	return assoc, nil
}
