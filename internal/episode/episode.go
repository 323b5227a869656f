package episode

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/xtxerr/replay/internal/errors"
	"github.com/xtxerr/replay/internal/validation"
)

// =============================================================================
// Episode Types
// =============================================================================

// Info describes one recorded episode.
type Info struct {
	ID                    int64
	URL                   string
	UploadedAt            *time.Time
	SubdatasetName        string
	SubdatasetDescription string
	EmbodimentName        string
	TeleopModeName        string
}

// IsBimanual reports whether the episode was recorded on a two-handed
// embodiment.
func (i *Info) IsBimanual() bool {
	return strings.Contains(strings.ToLower(i.EmbodimentName), "bimanual")
}

// Episode is a row of the episodes table.
type Episode struct {
	ID           int64
	URL          string
	UploadedAt   time.Time
	SubdatasetID int64
}

// Subdataset is a row of the subdatasets table.
type Subdataset struct {
	ID           int64
	Name         string
	Description  string
	EmbodimentID int64
	TeleopModeID int64
}

// =============================================================================
// Lookups
// =============================================================================

const infoSelect = `
	SELECT
		e.id,
		e.url,
		e.uploaded_at,
		s.name,
		s.description,
		emb.name,
		tm.name
	FROM episodes e
	LEFT JOIN subdatasets s ON e.subdataset_id = s.id
	LEFT JOIN embodiments emb ON s.embodiment_id = emb.id
	LEFT JOIN teleop_modes tm ON s.teleop_mode_id = tm.id`

const infoQuery = infoSelect + `
	WHERE e.id = ?
`

// rowScanner is implemented by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInfo(row rowScanner) (*Info, error) {
	var (
		info                                       Info
		url, subName, subDesc, embName, teleopName sql.NullString
		uploadedAt                                 sql.NullTime
	)
	err := row.Scan(&info.ID, &url, &uploadedAt, &subName, &subDesc, &embName, &teleopName)
	if err != nil {
		return nil, err
	}

	info.URL = url.String
	if uploadedAt.Valid {
		t := uploadedAt.Time
		info.UploadedAt = &t
	}
	info.SubdatasetName = subName.String
	info.SubdatasetDescription = subDesc.String
	info.EmbodimentName = embName.String
	info.TeleopModeName = teleopName.String
	return &info, nil
}

// Get returns the episode with its subdataset, embodiment and teleop mode.
// Missing joined rows leave the corresponding names empty.
func (r *Repository) Get(ctx context.Context, id int64) (*Info, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	info, err := scanInfo(r.db.QueryRowContext(ctx, infoQuery, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("episode %d: %w", id, errors.ErrEpisodeNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query episode %d: %w", id, err)
	}
	return info, nil
}

// GetURL returns the store location of an episode. An episode without a
// URL returns ErrEpisodeURLMissing.
func (r *Repository) GetURL(ctx context.Context, id int64) (string, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var url sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT url FROM episodes WHERE id = ?`, id).Scan(&url)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("episode %d: %w", id, errors.ErrEpisodeNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("query episode %d: %w", id, err)
	}
	if url.String == "" {
		return "", fmt.Errorf("episode %d: %w", id, errors.ErrEpisodeURLMissing)
	}
	return url.String, nil
}

// Filter selects episodes in Find. Empty fields match everything.
type Filter struct {
	// Subdataset matches subdataset names containing this text.
	Subdataset string

	// Embodiment matches embodiment names containing this text.
	Embodiment string

	// Limit caps the result count. Zero means no limit.
	Limit int
}

const findQuery = infoSelect + `
	WHERE (? = '' OR s.name ILIKE ? ESCAPE '\')
	  AND (? = '' OR emb.name ILIKE ? ESCAPE '\')
	ORDER BY e.id
`

// Find lists episodes matching f, ordered by ID.
func (r *Repository) Find(ctx context.Context, f Filter) ([]*Info, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := findQuery
	args := []interface{}{
		f.Subdataset, validation.SafeLikeContains(f.Subdataset),
		f.Embodiment, validation.SafeLikeContains(f.Embodiment),
	}
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query episodes: %w", err)
	}
	defer rows.Close()

	var out []*Info
	for rows.Next() {
		info, err := scanInfo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// =============================================================================
// Writes
// =============================================================================

// PutEmbodiment inserts or replaces an embodiment.
func (r *Repository) PutEmbodiment(ctx context.Context, id int64, name string) error {
	if err := validation.ValidateEntityName(name); err != nil {
		return errors.NewValidation("embodiment", err.Error())
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO embodiments (id, name) VALUES (?, ?)`, id, name)
	if err != nil {
		return fmt.Errorf("insert embodiment: %w", err)
	}
	return nil
}

// PutTeleopMode inserts or replaces a teleoperation mode.
func (r *Repository) PutTeleopMode(ctx context.Context, id int64, name string) error {
	if err := validation.ValidateEntityName(name); err != nil {
		return errors.NewValidation("teleop_mode", err.Error())
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO teleop_modes (id, name) VALUES (?, ?)`, id, name)
	if err != nil {
		return fmt.Errorf("insert teleop mode: %w", err)
	}
	return nil
}

// PutSubdataset inserts or replaces a subdataset.
func (r *Repository) PutSubdataset(ctx context.Context, s *Subdataset) error {
	if err := validation.ValidateEntityName(s.Name); err != nil {
		return errors.NewValidation("subdataset", err.Error())
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO subdatasets (id, name, description, embodiment_id, teleop_mode_id)
		VALUES (?, ?, ?, ?, ?)
	`, s.ID, s.Name, nullString(s.Description), nullID(s.EmbodimentID), nullID(s.TeleopModeID))
	if err != nil {
		return fmt.Errorf("insert subdataset: %w", err)
	}
	return nil
}

// Put inserts or replaces an episode. A zero UploadedAt is stored as the
// current time.
func (r *Repository) Put(ctx context.Context, e *Episode) error {
	if e.UploadedAt.IsZero() {
		e.UploadedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO episodes (id, url, uploaded_at, subdataset_id)
		VALUES (?, ?, ?, ?)
	`, e.ID, nullString(e.URL), e.UploadedAt, nullID(e.SubdatasetID))
	if err != nil {
		return fmt.Errorf("insert episode: %w", err)
	}
	log.Debug("episode stored", "episode_id", e.ID, "url", e.URL)
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}
