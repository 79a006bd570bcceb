package postgres

// SQL-миграции встроены в код для упрощения деплоя.
var migrations = []struct {
	version int
	name    string
	sql     string
}{
	{1, "ledger", migration001Ledger},
	{2, "catalog", migration002Catalog},
	{3, "subscriptions", migration003Subscriptions},
	{4, "operations", migration004Operations},
	{5, "receipts", migration005Receipts},
	{6, "admins", migration006Admins},
}

var migration001Ledger = `
CREATE TABLE IF NOT EXISTS accounts (
    id BIGINT PRIMARY KEY,
    balance NUMERIC(14,2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS ledger_entries (
    id BIGSERIAL PRIMARY KEY,
    account_id BIGINT NOT NULL REFERENCES accounts(id),
    amount NUMERIC(14,2) NOT NULL,
    kind VARCHAR(32) NOT NULL CHECK (kind IN ('deposit','purchase','renewal','refund','manual_adjustment')),
    memo TEXT NOT NULL DEFAULT '',
    operation_id UUID,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_account ON ledger_entries(account_id, id DESC);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_operation ON ledger_entries(operation_id);
-- Проводки неизменяемы
CREATE OR REPLACE RULE ledger_entries_no_update AS ON UPDATE TO ledger_entries DO INSTEAD NOTHING;
CREATE OR REPLACE RULE ledger_entries_no_delete AS ON DELETE TO ledger_entries DO INSTEAD NOTHING;
`

var migration002Catalog = `
CREATE TABLE IF NOT EXISTS backends (
    id BIGSERIAL PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    kind VARCHAR(32) NOT NULL DEFAULT 'mikrotik',
    host VARCHAR(255) NOT NULL DEFAULT '',
    port INTEGER NOT NULL DEFAULT 8728,
    username VARCHAR(255) NOT NULL DEFAULT '',
    password TEXT NOT NULL DEFAULT '',
    location VARCHAR(255) NOT NULL DEFAULT '',
    active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS plans (
    id BIGSERIAL PRIMARY KEY,
    family VARCHAR(64) NOT NULL,
    version INTEGER NOT NULL,
    name VARCHAR(255) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    price NUMERIC(14,2) NOT NULL CHECK (price > 0),
    validity_days INTEGER NOT NULL CHECK (validity_days > 0),
    data_cap_bytes BIGINT NOT NULL DEFAULT 0,
    remote_profile VARCHAR(255) NOT NULL,
    rate_limit VARCHAR(64) NOT NULL DEFAULT '',
    backend_id BIGINT NOT NULL REFERENCES backends(id),
    active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (family, backend_id, version)
);
`

var migration003Subscriptions = `
CREATE TABLE IF NOT EXISTS remote_usernames (
    username VARCHAR(64) PRIMARY KEY,
    reserved_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS subscriptions (
    id BIGSERIAL PRIMARY KEY,
    owner_account_id BIGINT NOT NULL REFERENCES accounts(id),
    backend_id BIGINT NOT NULL REFERENCES backends(id),
    remote_username VARCHAR(64) UNIQUE NOT NULL REFERENCES remote_usernames(username),
    remote_secret TEXT NOT NULL,
    plan_id BIGINT NOT NULL REFERENCES plans(id),
    plan JSONB NOT NULL,
    expiry_at TIMESTAMPTZ NOT NULL,
    total_cap_bytes BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    renewed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_subscriptions_owner ON subscriptions(owner_account_id);
CREATE INDEX IF NOT EXISTS idx_subscriptions_expiry ON subscriptions(expiry_at);
`

var migration004Operations = `
CREATE TABLE IF NOT EXISTS operations (
    id UUID PRIMARY KEY,
    kind VARCHAR(32) NOT NULL,
    state VARCHAR(16) NOT NULL CHECK (state IN ('pending','completed','compensated','failed')),
    account_id BIGINT NOT NULL,
    subscription_id BIGINT NOT NULL DEFAULT 0,
    backend_id BIGINT NOT NULL DEFAULT 0,
    remote_username VARCHAR(64) NOT NULL DEFAULT '',
    amount NUMERIC(14,2) NOT NULL DEFAULT 0,
    payload JSONB NOT NULL DEFAULT '{}',
    error TEXT NOT NULL DEFAULT '',
    remote_cleanup BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_operations_pending ON operations(created_at) WHERE state = 'pending';
CREATE INDEX IF NOT EXISTS idx_operations_cleanup ON operations(created_at) WHERE remote_cleanup;
`

var migration005Receipts = `
CREATE TABLE IF NOT EXISTS receipts (
    id BIGSERIAL PRIMARY KEY,
    account_id BIGINT NOT NULL REFERENCES accounts(id),
    claimed_amount NUMERIC(14,2) NOT NULL CHECK (claimed_amount > 0),
    evidence_ref TEXT NOT NULL DEFAULT '',
    status VARCHAR(16) NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','approved','rejected')),
    decision_memo TEXT NOT NULL DEFAULT '',
    decided_by BIGINT NOT NULL DEFAULT 0,
    submitted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    decided_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_receipts_pending ON receipts(submitted_at) WHERE status = 'pending';
`

var migration006Admins = `
CREATE TABLE IF NOT EXISTS admins (
    user_id BIGINT PRIMARY KEY,
    username VARCHAR(255) NOT NULL DEFAULT '',
    added_by BIGINT NOT NULL,
    added_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS admin_settings (
    key VARCHAR(64) PRIMARY KEY,
    value JSONB NOT NULL,
    updated_by BIGINT NOT NULL DEFAULT 0,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS admin_login_attempts (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL,
    success BOOLEAN NOT NULL,
    attempt_time TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_admin_login_attempts_user ON admin_login_attempts(user_id, attempt_time);
`
