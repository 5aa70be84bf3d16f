package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateCamera registers a camera stream. The ID is generated when empty.
func (s *Store) CreateCamera(ctx context.Context, camera *Camera) (*Camera, error) {
	if camera == nil {
		return nil, errors.New("camera is nil")
	}
	if camera.ID == "" {
		camera.ID = uuid.NewString()
	}
	if camera.FrameIntervalSeconds <= 0 {
		return nil, errors.New("camera frame interval must be positive")
	}
	camera.CreatedAt = time.Now().UTC()

	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO cameras (camera_id, name, zone, stream_url, frame_interval_seconds, created_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		camera.ID,
		camera.Name,
		nullableString(camera.Zone),
		nullableString(camera.StreamURL),
		camera.FrameIntervalSeconds,
		formatTime(camera.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert camera: %w", err)
	}
	return camera, nil
}

// GetCamera fetches a camera by identifier. Returns nil when absent.
func (s *Store) GetCamera(ctx context.Context, id string) (*Camera, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT camera_id, name, zone, stream_url, frame_interval_seconds, created_at
         FROM cameras WHERE camera_id = ?`,
		id,
	)
	camera, err := scanCamera(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get camera: %w", err)
	}
	return camera, nil
}

// ListCameras returns all registered cameras ordered by creation time.
func (s *Store) ListCameras(ctx context.Context) ([]*Camera, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT camera_id, name, zone, stream_url, frame_interval_seconds, created_at
         FROM cameras ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("list cameras: %w", err)
	}
	defer rows.Close()

	var cameras []*Camera
	for rows.Next() {
		camera, err := scanCamera(rows)
		if err != nil {
			return nil, err
		}
		cameras = append(cameras, camera)
	}
	return cameras, rows.Err()
}

// AddMediaSegment records a recorded stream slice for a camera.
func (s *Store) AddMediaSegment(ctx context.Context, segment *MediaSegment) (*MediaSegment, error) {
	if segment == nil {
		return nil, errors.New("segment is nil")
	}
	if segment.CameraID == "" {
		return nil, errors.New("segment camera id required")
	}
	if !segment.EndTS.After(segment.StartTS) {
		return nil, errors.New("segment end must follow start")
	}
	if segment.ID == "" {
		segment.ID = uuid.NewString()
	}

	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO media_segments (segment_id, camera_id, path, start_ts, end_ts, codec)
         VALUES (?, ?, ?, ?, ?, ?)`,
		segment.ID,
		segment.CameraID,
		segment.Path,
		formatTime(segment.StartTS),
		formatTime(segment.EndTS),
		nullableString(segment.Codec),
	)
	if err != nil {
		return nil, fmt.Errorf("insert media segment: %w", err)
	}
	return segment, nil
}

// SegmentsForCamera returns the camera's segments overlapping [from, to],
// ordered by start time.
func (s *Store) SegmentsForCamera(ctx context.Context, cameraID string, from, to time.Time) ([]*MediaSegment, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT segment_id, camera_id, path, start_ts, end_ts, codec
         FROM media_segments
         WHERE camera_id = ? AND end_ts >= ? AND start_ts <= ?
         ORDER BY start_ts`,
		cameraID,
		formatTime(from),
		formatTime(to),
	)
	if err != nil {
		return nil, fmt.Errorf("segments for camera: %w", err)
	}
	defer rows.Close()

	var segments []*MediaSegment
	for rows.Next() {
		segment, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		segments = append(segments, segment)
	}
	return segments, rows.Err()
}

func scanCamera(scanner interface{ Scan(dest ...any) error }) (*Camera, error) {
	var (
		id         string
		name       string
		zone       sql.NullString
		streamURL  sql.NullString
		interval   float64
		createdRaw string
	)
	if err := scanner.Scan(&id, &name, &zone, &streamURL, &interval, &createdRaw); err != nil {
		return nil, err
	}
	camera := &Camera{
		ID:                   id,
		Name:                 name,
		Zone:                 zone.String,
		StreamURL:            streamURL.String,
		FrameIntervalSeconds: interval,
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		camera.CreatedAt = created
	}
	return camera, nil
}

func scanSegment(scanner interface{ Scan(dest ...any) error }) (*MediaSegment, error) {
	var (
		id       string
		cameraID string
		path     string
		startRaw string
		endRaw   string
		codec    sql.NullString
	)
	if err := scanner.Scan(&id, &cameraID, &path, &startRaw, &endRaw, &codec); err != nil {
		return nil, err
	}
	segment := &MediaSegment{
		ID:       id,
		CameraID: cameraID,
		Path:     path,
		Codec:    codec.String,
	}
	if start, err := parseTimeString(startRaw); err == nil {
		segment.StartTS = start
	}
	if end, err := parseTimeString(endRaw); err == nil {
		segment.EndTS = end
	}
	return segment, nil
}
