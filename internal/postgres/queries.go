package postgres

const (
	querySchema = `
		CREATE TABLE IF NOT EXISTS rooms (
			id               TEXT PRIMARY KEY,
			name             TEXT        NOT NULL,
			host_id          TEXT        NOT NULL DEFAULT '',
			status           TEXT        NOT NULL DEFAULT 'active',
			is_locked        BOOLEAN     NOT NULL DEFAULT FALSE,
			is_recording     BOOLEAN     NOT NULL DEFAULT FALSE,
			password_hash    TEXT        NOT NULL DEFAULT '',
			max_participants INTEGER     NOT NULL,
			settings         JSONB       NOT NULL DEFAULT '{}',
			created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS room_messages (
			id          TEXT PRIMARY KEY,
			room_id     TEXT        NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
			sender_id   TEXT        NOT NULL,
			sender_name TEXT        NOT NULL DEFAULT '',
			body        TEXT        NOT NULL,
			is_system   BOOLEAN     NOT NULL DEFAULT FALSE,
			created_at  TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS room_messages_room_created_idx
			ON room_messages (room_id, created_at DESC, id DESC);
	`

	queryUpsertRoom = `
		INSERT INTO rooms (id, name, host_id, status, is_locked, is_recording, password_hash, max_participants, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (id) DO UPDATE SET
			name             = EXCLUDED.name,
			status           = EXCLUDED.status,
			is_locked        = EXCLUDED.is_locked,
			is_recording     = EXCLUDED.is_recording,
			password_hash    = EXCLUDED.password_hash,
			max_participants = EXCLUDED.max_participants,
			settings         = EXCLUDED.settings,
			updated_at       = now()
	`
	queryGetRoom = `
		SELECT id, name, host_id, status, is_locked, is_recording, password_hash, max_participants, settings, created_at
		FROM rooms
		WHERE id = $1
	`
	queryListRooms = `
		SELECT id, name, host_id, status, is_locked, is_recording, password_hash, max_participants, settings, created_at
		FROM rooms
		WHERE ($1::timestamptz IS NULL OR created_at < $1
		       OR (created_at = $1 AND id < $2))
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`
	queryDeleteRoom = `DELETE FROM rooms WHERE id = $1`

	queryInsertMessage = `
		INSERT INTO room_messages (id, room_id, sender_id, sender_name, body, is_system, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`
	queryHistory = `
		SELECT id, room_id, sender_id, sender_name, body, is_system, created_at
		FROM room_messages
		WHERE room_id = $1
		  AND (
		    $2::timestamptz IS NULL
		    OR created_at < $2
		    OR (created_at = $2 AND id < $3)
		  )
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`
)
