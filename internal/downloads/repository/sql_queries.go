package repository

const (
	createDownloadQuery = `INSERT INTO downloads (id, owner, source_url, format, quality, status, created_at, updated_at)
					VALUES ($1, $2, $3, $4, $5, $6, now(), now()) RETURNING *`
	getDownloadByIDQuery      = `SELECT * FROM downloads WHERE id = $1`
	lockDownloadByIDQuery     = `SELECT * FROM downloads WHERE id = $1 FOR UPDATE`
	getDownloadsByOwnerQuery  = `SELECT * FROM downloads WHERE owner = $1 ORDER BY created_at DESC, id DESC`
	deleteDownloadQuery       = `DELETE FROM downloads WHERE id = $1 AND owner = $2 RETURNING id`
	insertTombstoneQuery      = `INSERT INTO download_tombstones (id, owner) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`
	tombstoneExistsQuery      = `SELECT EXISTS (SELECT 1 FROM download_tombstones WHERE id = $1 AND owner = $2)`
	countActiveByOwnerQuery   = `SELECT COUNT(id) FROM downloads WHERE owner = $1 AND status = 'downloading'`
	listUnarchivedQuery       = `SELECT * FROM downloads WHERE status = 'completed' AND NOT archived ORDER BY completed_at LIMIT $1`
	markArchivedQuery         = `UPDATE downloads SET archived = TRUE WHERE id = $1`
	listExpiredLeasesQuery    = `SELECT id FROM downloads WHERE status = 'downloading' AND lease_expires_at < $1 ORDER BY lease_expires_at LIMIT $2`
	lockExpiredDownloadQuery  = `SELECT * FROM downloads WHERE id = $1 AND status = 'downloading' AND lease_expires_at < $2 FOR UPDATE SKIP LOCKED`
	getFeedCursorQuery        = `SELECT last_seq, pruned_seq FROM feed_cursors WHERE owner = $1`
	getEventsSinceQuery       = `SELECT owner, seq, job_id, op, snapshot, created_at FROM download_events
					WHERE owner = $1 AND seq > $2 ORDER BY seq LIMIT $3`

	// The candidate is picked FIFO and skipped when its owner is already at the ceiling.
	// The count is rechecked under the owner's cursor lock before the claim is written.
	selectClaimCandidateQuery = `SELECT * FROM downloads p
					WHERE p.status = 'pending'
					  AND (SELECT COUNT(a.id) FROM downloads a WHERE a.owner = p.owner AND a.status = 'downloading') < $1
					ORDER BY p.created_at, p.id
					LIMIT 1
					FOR UPDATE SKIP LOCKED`
	claimDownloadQuery = `UPDATE downloads
					SET status = 'downloading',
					    attempt = attempt + 1,
					    worker_id = $2,
					    claimed_at = $3,
					    lease_expires_at = $4,
					    progress = 0,
					    download_speed = '',
					    eta = '',
					    file_size = NULL,
					    error_message = '',
					    updated_at = $3
					WHERE id = $1 AND status = 'pending'
					RETURNING *`

	saveDownloadQuery = `UPDATE downloads
					SET status = :status,
					    progress = :progress,
					    title = :title,
					    thumbnail = :thumbnail,
					    file_size = :file_size,
					    download_speed = :download_speed,
					    eta = :eta,
					    duration = :duration,
					    error_message = :error_message,
					    attempt = :attempt,
					    worker_id = :worker_id,
					    claimed_at = :claimed_at,
					    lease_expires_at = :lease_expires_at,
					    completed_at = :completed_at,
					    updated_at = :updated_at
					WHERE id = :id
					RETURNING *`
	// A write the client cannot see only moves the lease; updated_at stays.
	touchLeaseQuery = `UPDATE downloads SET lease_expires_at = $2 WHERE id = $1`

	// Locking the owner's cursor row serialises sequence allocation, so
	// events of one owner commit in sequence order.
	lockFeedCursorQuery = `INSERT INTO feed_cursors (owner) VALUES ($1)
					ON CONFLICT (owner) DO UPDATE SET last_seq = feed_cursors.last_seq
					RETURNING last_seq`
	nextSequenceQuery = `INSERT INTO feed_cursors (owner, last_seq) VALUES ($1, 1)
					ON CONFLICT (owner) DO UPDATE SET last_seq = feed_cursors.last_seq + 1
					RETURNING last_seq`
	insertEventQuery = `INSERT INTO download_events (owner, seq, job_id, op, snapshot)
					VALUES ($1, $2, $3, $4, $5::jsonb) RETURNING created_at`
	pruneEventsQuery = `WITH pruned AS (
					    DELETE FROM download_events WHERE created_at < $1 RETURNING owner, seq
					), bumped AS (
					    UPDATE feed_cursors c
					    SET pruned_seq = GREATEST(c.pruned_seq, p.max_seq)
					    FROM (SELECT owner, MAX(seq) AS max_seq FROM pruned GROUP BY owner) p
					    WHERE c.owner = p.owner
					    RETURNING c.owner
					)
					SELECT COUNT(*) FROM pruned`
)
