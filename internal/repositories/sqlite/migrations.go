package sqlite

type migration struct {
	version int
	sql     string
}

// migrations run in order; versions are sequential from 1 and each one records itself.
// Timestamps are stored as fixed-width UTC text (see timestamp.go) so they compare lexically.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS profiles (
	id        TEXT PRIMARY KEY,
	full_name TEXT NOT NULL DEFAULT '',
	email     TEXT NOT NULL DEFAULT '',
	role      TEXT NOT NULL DEFAULT 'client',
	locale    TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS cases (
	id             TEXT PRIMARY KEY,
	client_id      TEXT NOT NULL,
	service_name   TEXT NOT NULL DEFAULT '',
	access_granted INTEGER NOT NULL DEFAULT 0,
	form_data      TEXT NOT NULL DEFAULT '{}',
	current_step   INTEGER NOT NULL DEFAULT 0,
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS payments (
	id                 TEXT PRIMARY KEY,
	case_id            TEXT NOT NULL REFERENCES cases(id) ON DELETE CASCADE,
	client_id          TEXT NOT NULL,
	amount             INTEGER NOT NULL,
	currency           TEXT NOT NULL DEFAULT 'usd',
	installment_number INTEGER NOT NULL,
	total_installments INTEGER NOT NULL,
	status             TEXT NOT NULL,
	payment_method     TEXT NOT NULL DEFAULT '',
	transaction_ref    TEXT NOT NULL DEFAULT '',
	due_date           TEXT NOT NULL,
	paid_at            TEXT,
	notes              TEXT NOT NULL DEFAULT '',
	last_reminder_at   TEXT,
	created_at         TEXT NOT NULL,
	updated_at         TEXT NOT NULL,
	CHECK (installment_number >= 1 AND installment_number <= total_installments),
	CHECK (status IN ('pending', 'completed')),
	UNIQUE (case_id, installment_number)
);

CREATE TABLE IF NOT EXISTS notifications (
	id           TEXT PRIMARY KEY,
	recipient_id TEXT NOT NULL,
	case_id      TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL,
	message      TEXT NOT NULL,
	type         TEXT NOT NULL,
	created_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_payments_status_due ON payments(status, due_date);
CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications(recipient_id, created_at);
CREATE INDEX IF NOT EXISTS idx_profiles_role ON profiles(role);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
