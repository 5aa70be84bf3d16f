package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateTracklet opens a new tracklet for a camera's local track.
func (s *Store) CreateTracklet(ctx context.Context, cameraID string, localTrackID int64, startedAt time.Time) (*Tracklet, error) {
	if cameraID == "" {
		return nil, errors.New("camera id required")
	}
	tracklet := &Tracklet{
		ID:           uuid.NewString(),
		CameraID:     cameraID,
		LocalTrackID: localTrackID,
		StartedAt:    startedAt.UTC(),
	}
	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO tracklets (tracklet_id, camera_id, local_track_id, started_at, quality, closed)
         VALUES (?, ?, ?, ?, 0, 0)`,
		tracklet.ID,
		tracklet.CameraID,
		tracklet.LocalTrackID,
		formatTime(tracklet.StartedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert tracklet: %w", err)
	}
	return tracklet, nil
}

// AppendObservation adds an observation to a live tracklet and refreshes the
// tracklet's running quality score.
func (s *Store) AppendObservation(ctx context.Context, obs *Observation) (*Observation, error) {
	if obs == nil {
		return nil, errors.New("observation is nil")
	}
	if obs.TrackletID == "" {
		return nil, errors.New("observation tracklet id required")
	}
	if obs.ID == "" {
		obs.ID = uuid.NewString()
	}

	bboxJSON, err := marshalJSON(obs.BBox)
	if err != nil {
		return nil, err
	}
	var embeddingJSON any
	if len(obs.Embedding) > 0 {
		raw, err := marshalJSON(obs.Embedding)
		if err != nil {
			return nil, err
		}
		embeddingJSON = raw
	}

	_, err = s.execWithRetry(
		ctx,
		`INSERT INTO observations (observation_id, tracklet_id, ts, bbox_json, embedding_json, confidence)
         VALUES (?, ?, ?, ?, ?, ?)`,
		obs.ID,
		obs.TrackletID,
		formatTime(obs.TS),
		bboxJSON,
		embeddingJSON,
		obs.Confidence,
	)
	if err != nil {
		return nil, fmt.Errorf("insert observation: %w", err)
	}

	_, err = s.execWithRetry(
		ctx,
		`UPDATE tracklets
         SET quality = round((quality + ?) / 2.0, 6)
         WHERE tracklet_id = ? AND closed = 0`,
		obs.Confidence,
		obs.TrackletID,
	)
	if err != nil {
		return nil, fmt.Errorf("update tracklet quality: %w", err)
	}
	return obs, nil
}

// CloseTracklet marks a tracklet immutable once its local track is lost.
func (s *Store) CloseTracklet(ctx context.Context, trackletID string, endedAt time.Time) error {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE tracklets SET ended_at = ?, closed = 1 WHERE tracklet_id = ? AND closed = 0`,
		formatTime(endedAt),
		trackletID,
	)
	if err != nil {
		return fmt.Errorf("close tracklet: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("tracklet %s not open", trackletID)
	}
	return nil
}

// GetTracklet fetches a tracklet by identifier. Returns nil when absent.
func (s *Store) GetTracklet(ctx context.Context, id string) (*Tracklet, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+trackletColumns+` FROM tracklets WHERE tracklet_id = ?`, id)
	tracklet, err := scanTracklet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tracklet: %w", err)
	}
	return tracklet, nil
}

// TrackletsForIdentity returns the tracklets associated with a global
// identity, most recent association winning per tracklet.
func (s *Store) TrackletsForIdentity(ctx context.Context, identityID string) ([]*Tracklet, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+prefixedTrackletColumns+`
         FROM tracklets t
         JOIN (
             SELECT tracklet_id, MAX(decided_at) AS latest
             FROM associations GROUP BY tracklet_id
         ) last ON last.tracklet_id = t.tracklet_id
         JOIN associations a ON a.tracklet_id = t.tracklet_id AND a.decided_at = last.latest
         WHERE a.identity_id = ?
         ORDER BY t.started_at`,
		identityID,
	)
	if err != nil {
		return nil, fmt.Errorf("tracklets for identity: %w", err)
	}
	defer rows.Close()

	var tracklets []*Tracklet
	for rows.Next() {
		tracklet, err := scanTracklet(rows)
		if err != nil {
			return nil, err
		}
		tracklets = append(tracklets, tracklet)
	}
	return tracklets, rows.Err()
}

// ObservationsForTracklets returns observations for the given tracklets
// within [from, to], ordered by timestamp.
func (s *Store) ObservationsForTracklets(ctx context.Context, trackletIDs []string, from, to time.Time) ([]*Observation, error) {
	if len(trackletIDs) == 0 {
		return nil, nil
	}
	placeholders := makePlaceholders(len(trackletIDs))
	args := make([]any, 0, len(trackletIDs)+2)
	for _, id := range trackletIDs {
		args = append(args, id)
	}
	args = append(args, formatTime(from), formatTime(to))

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT observation_id, tracklet_id, ts, bbox_json, embedding_json, confidence
         FROM observations
         WHERE tracklet_id IN (`+placeholders+`) AND ts >= ? AND ts <= ?
         ORDER BY ts`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("observations for tracklets: %w", err)
	}
	defer rows.Close()

	var observations []*Observation
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		observations = append(observations, obs)
	}
	return observations, rows.Err()
}

const trackletColumns = "tracklet_id, camera_id, local_track_id, started_at, ended_at, quality, closed"

const prefixedTrackletColumns = "t.tracklet_id, t.camera_id, t.local_track_id, t.started_at, t.ended_at, t.quality, t.closed"

func scanTracklet(scanner interface{ Scan(dest ...any) error }) (*Tracklet, error) {
	var (
		id         string
		cameraID   string
		localID    int64
		startedRaw string
		endedRaw   sql.NullString
		quality    float64
		closed     int
	)
	if err := scanner.Scan(&id, &cameraID, &localID, &startedRaw, &endedRaw, &quality, &closed); err != nil {
		return nil, err
	}
	tracklet := &Tracklet{
		ID:           id,
		CameraID:     cameraID,
		LocalTrackID: localID,
		Quality:      quality,
		Closed:       closed != 0,
	}
	if started, err := parseTimeString(startedRaw); err == nil {
		tracklet.StartedAt = started
	}
	if endedRaw.Valid {
		if ended, err := parseTimeString(endedRaw.String); err == nil {
			tracklet.EndedAt = &ended
		}
	}
	return tracklet, nil
}

func scanObservation(scanner interface{ Scan(dest ...any) error }) (*Observation, error) {
	var (
		id         string
		trackletID string
		tsRaw      string
		bboxRaw    string
		embedRaw   sql.NullString
		confidence float64
	)
	if err := scanner.Scan(&id, &trackletID, &tsRaw, &bboxRaw, &embedRaw, &confidence); err != nil {
		return nil, err
	}
	obs := &Observation{
		ID:         id,
		TrackletID: trackletID,
		BBox:       unmarshalBBox(bboxRaw),
		Confidence: confidence,
	}
	if ts, err := parseTimeString(tsRaw); err == nil {
		obs.TS = ts
	}
	if embedRaw.Valid {
		obs.Embedding = unmarshalEmbedding(embedRaw.String)
	}
	return obs, nil
}
