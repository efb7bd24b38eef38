package history

import (
	"context"

	"github.com/amankumarsingh77/media-downloader/internal/models"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

const insertHistoryQuery = `INSERT INTO download_history
					(job_id, owner, source_url, title, thumbnail, format, quality, file_size, duration, downloaded_at)
					VALUES (:job_id, :owner, :source_url, :title, :thumbnail, :format, :quality, :file_size, :duration, :downloaded_at)
					ON CONFLICT (job_id) DO NOTHING`

type pgSink struct {
	db *sqlx.DB
}

func NewPgSink(db *sqlx.DB) Sink {
	return &pgSink{db: db}
}

func (p *pgSink) Record(ctx context.Context, entry *models.HistoryEntry) (bool, error) {
	res, err := p.db.NamedExecContext(ctx, insertHistoryQuery, entry)
	if err != nil {
		return false, errors.Wrap(err, "pgSink.Record")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "pgSink.Record.RowsAffected")
	}
	return n == 1, nil
}
