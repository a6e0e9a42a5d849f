package store

// schema is applied on every start; all statements are idempotent. Decimal
// columns are stored as TEXT so values round-trip without float drift.
const schema = `
CREATE TABLE IF NOT EXISTS signals_raw (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	strategy       TEXT NOT NULL,
	ticker         TEXT NOT NULL,
	timeframe      TEXT NOT NULL,
	action         TEXT NOT NULL,
	price          TEXT,
	atr            TEXT,
	risk_pct       TEXT,
	trail_atr_mult TEXT,
	bar_time       TIMESTAMP NOT NULL,
	dedup_key      TEXT NOT NULL UNIQUE,
	source         TEXT NOT NULL DEFAULT 'tv-v2',
	raw            BLOB,
	created_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS order_queue (
	id              TEXT PRIMARY KEY,
	status          TEXT NOT NULL DEFAULT 'ready',
	reason          TEXT,
	strategy        TEXT NOT NULL,
	ticker          TEXT NOT NULL,
	timeframe       TEXT NOT NULL,
	action          TEXT NOT NULL,
	price           TEXT,
	atr             TEXT,
	risk_pct        TEXT,
	trail_atr_mult  TEXT,
	r_multiple_tp   TEXT,
	max_slots       INTEGER,
	buffer_ratio    TEXT,
	bar_time        TIMESTAMP NOT NULL,
	subaccount      TEXT NOT NULL DEFAULT 'default',
	raw             BLOB,
	retry_count     INTEGER NOT NULL DEFAULT 0,
	next_attempt_at TIMESTAMP,
	last_error      TEXT,
	created_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_order_queue_status ON order_queue(status);
CREATE INDEX IF NOT EXISTS idx_order_queue_updated ON order_queue(status, updated_at);

CREATE TABLE IF NOT EXISTS order_queue_dlq (
	id              TEXT PRIMARY KEY,
	reason          TEXT,
	strategy        TEXT NOT NULL,
	ticker          TEXT NOT NULL,
	timeframe       TEXT NOT NULL,
	action          TEXT NOT NULL,
	price           TEXT,
	atr             TEXT,
	risk_pct        TEXT,
	trail_atr_mult  TEXT,
	r_multiple_tp   TEXT,
	max_slots       INTEGER,
	buffer_ratio    TEXT,
	bar_time        TIMESTAMP NOT NULL,
	subaccount      TEXT NOT NULL DEFAULT 'default',
	raw             BLOB,
	retry_count     INTEGER NOT NULL DEFAULT 0,
	last_error      TEXT,
	created_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	dead_lettered_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS account_state (
	id                   INTEGER PRIMARY KEY CHECK (id = 1),
	trading_enabled      INTEGER NOT NULL DEFAULT 1,
	daily_dd_limit_pct   TEXT,
	daily_dd_triggered   INTEGER NOT NULL DEFAULT 0,
	daily_high_watermark TEXT,
	daily_loss_cap_usd   TEXT,
	reset_time_utc       TEXT NOT NULL DEFAULT '13:30',
	pause_reason         TEXT,
	max_positions_total  INTEGER
);

CREATE TABLE IF NOT EXISTS daily_metrics (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	d              TEXT NOT NULL,
	alias          TEXT NOT NULL DEFAULT 'default',
	equity         TEXT,
	high_watermark TEXT,
	UNIQUE (d, alias)
);

CREATE TABLE IF NOT EXISTS strategies (
	name             TEXT PRIMARY KEY,
	status           TEXT NOT NULL DEFAULT 'active',
	default_risk_pct TEXT,
	trail_atr_mult   TEXT,
	r_multiple_tp    TEXT,
	max_positions    INTEGER,
	allow_short      INTEGER NOT NULL DEFAULT 0,
	time_in_force    TEXT
);

CREATE TABLE IF NOT EXISTS webhook_queue (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	data       BLOB NOT NULL,
	status     TEXT NOT NULL DEFAULT 'pending',
	error      TEXT,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_webhook_queue_status ON webhook_queue(status);

INSERT INTO account_state (id, trading_enabled)
	SELECT 1, 1 WHERE NOT EXISTS (SELECT 1 FROM account_state WHERE id = 1);
`
