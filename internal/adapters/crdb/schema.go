package crdb

// Schema holds the DDL for all pipeline state. Applied by the test helpers
// and by ops tooling; the service itself never creates tables.
const Schema = `
CREATE TABLE IF NOT EXISTS events (
	id UUID PRIMARY KEY,
	organizer_id UUID NOT NULL,
	name TEXT NOT NULL,
	allows_repeat_purchases BOOL NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS ticket_types (
	id UUID PRIMARY KEY,
	event_id UUID NOT NULL REFERENCES events (id),
	capacity INT NOT NULL,
	sold_count INT NOT NULL DEFAULT 0,
	price INT8,
	min_quantity INT NOT NULL DEFAULT 1,
	max_quantity INT NOT NULL DEFAULT 10,
	sale_starts_at TIMESTAMPTZ,
	sale_ends_at TIMESTAMPTZ,
	CONSTRAINT sold_within_capacity CHECK (sold_count >= 0 AND sold_count <= capacity)
);

CREATE TABLE IF NOT EXISTS payments (
	id UUID PRIMARY KEY,
	event_id UUID NOT NULL REFERENCES events (id),
	participant_id UUID NOT NULL,
	ticket_type_id UUID NOT NULL REFERENCES ticket_types (id),
	quantity INT NOT NULL,
	amount INT8 NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('PENDING', 'PAID', 'FAILED', 'EXPIRED')),
	paid_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS registrations (
	id UUID PRIMARY KEY,
	event_id UUID NOT NULL REFERENCES events (id),
	participant_id UUID NOT NULL,
	ticket_type_id UUID REFERENCES ticket_types (id),
	payment_id UUID REFERENCES payments (id),
	status TEXT NOT NULL CHECK (status IN ('ACTIVE', 'CANCELLED')),
	registration_token TEXT NOT NULL UNIQUE,
	quantity INT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE INDEX registrations_payment_id_key (payment_id) WHERE payment_id IS NOT NULL
);

CREATE TABLE IF NOT EXISTS balance_transactions (
	id UUID PRIMARY KEY,
	organizer_id UUID NOT NULL,
	seq INT8 NOT NULL,
	tx_type TEXT NOT NULL CHECK (tx_type IN ('CREDIT', 'DEBIT', 'ADJUSTMENT')),
	amount INT8 NOT NULL CHECK (amount > 0),
	balance_before INT8 NOT NULL,
	balance_after INT8 NOT NULL,
	reference_type TEXT NOT NULL,
	reference_id UUID,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE INDEX balance_transactions_organizer_seq_key (organizer_id, seq DESC)
);

CREATE TABLE IF NOT EXISTS disbursements (
	id UUID PRIMARY KEY,
	organizer_id UUID NOT NULL,
	amount INT8 NOT NULL CHECK (amount > 0),
	status TEXT NOT NULL CHECK (status IN ('PENDING', 'PROCESSING', 'COMPLETED', 'FAILED', 'CANCELLED')),
	payout_account_ref TEXT NOT NULL,
	failure_reason TEXT,
	requested_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	processed_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	INDEX disbursements_organizer_idx (organizer_id, status)
);

CREATE TABLE IF NOT EXISTS outbox (
	id UUID PRIMARY KEY,
	aggregate_type TEXT NOT NULL,
	aggregate_id UUID NOT NULL,
	event_type TEXT NOT NULL,
	payload_json BYTES NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	published_at TIMESTAMPTZ,
	status TEXT NOT NULL CHECK (status IN ('NEW', 'PUBLISHED', 'FAILED')),
	dedupe_key TEXT NOT NULL
);
`
