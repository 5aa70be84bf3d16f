package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"corral/internal/services"
)

// ManifestSegment is one cut in the export: a slice of a recorded media file
// identified by offsets into the file, already clipped to stream bounds.
type ManifestSegment struct {
	CameraID    string  `json:"camera_id"`
	SegmentID   string  `json:"segment_id"`
	SegmentPath string  `json:"segment_path"`
	StartOffset float64 `json:"start_offset_seconds"`
	EndOffset   float64 `json:"end_offset_seconds"`
	Score       float64 `json:"score"`
}

// Manifest is the full description of an export: the identity, the requested
// window, the resolved parameters, and the ordered cut list. It is written to
// disk before rendering so a retried job can replay the exact same plan.
type Manifest struct {
	IdentityID string            `json:"identity_id"`
	WindowFrom time.Time         `json:"window_from"`
	WindowTo   time.Time         `json:"window_to"`
	Params     Params            `json:"params"`
	Segments   []ManifestSegment `json:"segments"`
}

// TotalDuration sums the cut lengths in seconds.
func (m Manifest) TotalDuration() float64 {
	var total float64
	for _, seg := range m.Segments {
		total += seg.EndOffset - seg.StartOffset
	}
	return total
}

// Encode renders the manifest as indented JSON. Field order is fixed by the
// struct definitions, so equal manifests encode to equal bytes.
func (m Manifest) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "export", "encode", "marshal manifest", err)
	}
	return append(data, '\n'), nil
}

// Save writes the manifest atomically via a temp file rename.
func (m Manifest) Save(path string) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, "export", "save", "create manifest directory", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return services.Wrap(services.ErrTransient, "export", "save", "write manifest", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return services.Wrap(services.ErrTransient, "export", "save", "rename manifest", err)
	}
	return nil
}

// LoadManifest reads a manifest previously written by Save.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Manifest{}, services.Wrap(services.ErrNotFound, "export", "load", fmt.Sprintf("manifest %s", path), err)
		}
		return Manifest{}, services.Wrap(services.ErrTransient, "export", "load", "read manifest", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, services.Wrap(services.ErrValidation, "export", "load", "decode manifest", err)
	}
	return m, nil
}
