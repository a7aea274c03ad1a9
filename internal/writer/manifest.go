package writer

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const maxSnapshots = 500

// dataFile describes one uploaded parquet object.
type dataFile struct {
	Path        string            `json:"path"`
	FileSize    int64             `json:"file_size_in_bytes"`
	RecordCount int64             `json:"record_count"`
	Partition   map[string]string `json:"partition"`
}

type manifestEntry struct {
	Status   int      `json:"status"`
	DataFile dataFile `json:"data_file"`
}

type snapshot struct {
	SnapshotID  int64  `json:"snapshot-id"`
	TimestampMs int64  `json:"timestamp-ms"`
	Manifest    string `json:"manifest-list"`
}

type tableMetadata struct {
	FormatVersion     int        `json:"format-version"`
	TableUUID         string     `json:"table-uuid"`
	Location          string     `json:"location"`
	CurrentSnapshotID int64      `json:"current-snapshot-id"`
	Snapshots         []snapshot `json:"snapshots"`
}

// manifest keeps Iceberg-style table metadata for the archive next to the
// data under <prefix>/metadata. Only the newest maxSnapshots are listed.
type manifest struct {
	mu        sync.Mutex
	bucket    string
	location  string
	prefix    string
	tableUUID string
	snapshots []snapshot
	lastID    int64
}

func newManifest(bucket, prefix string) *manifest {
	prefix = strings.Trim(prefix, "/")
	return &manifest{
		bucket:    bucket,
		location:  strings.TrimSuffix(fmt.Sprintf("s3://%s/%s", bucket, prefix), "/"),
		prefix:    prefix,
		tableUUID: uuid.NewString(),
	}
}

func (m *manifest) objectPath(key string) string {
	return fmt.Sprintf("s3://%s/%s", m.bucket, key)
}

// commit records df as a new snapshot and writes the manifest and the table
// metadata through put. Commits are serialised so metadata.json always
// reflects the latest snapshot.
func (m *manifest) commit(df dataFile, ts time.Time, put func(key string, body []byte) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := ts.UnixNano()
	if id <= m.lastID {
		id = m.lastID + 1
	}

	manifestFile := fmt.Sprintf("manifest-%d.json", id)
	body, err := json.Marshal([]manifestEntry{{Status: 1, DataFile: df}})
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := put(path.Join(m.prefix, "metadata", manifestFile), body); err != nil {
		return err
	}

	snapshots := append(m.snapshots, snapshot{SnapshotID: id, TimestampMs: ts.UnixMilli(), Manifest: manifestFile})
	if len(snapshots) > maxSnapshots {
		snapshots = append([]snapshot(nil), snapshots[len(snapshots)-maxSnapshots:]...)
	}

	meta, err := json.MarshalIndent(tableMetadata{
		FormatVersion:     2,
		TableUUID:         m.tableUUID,
		Location:          m.location,
		CurrentSnapshotID: id,
		Snapshots:         snapshots,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal table metadata: %w", err)
	}
	if err := put(path.Join(m.prefix, "metadata", "metadata.json"), meta); err != nil {
		return err
	}

	m.snapshots = snapshots
	m.lastID = id
	return nil
}
