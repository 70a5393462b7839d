package database

// Migrations is the ordered schema for the banking records store. Dependency
// order matters: extensions before any table, parents before children.
// Deleting a user cascades to accounts and grants but only nulls the actor on
// audit_logs, so audit history outlives the user.
var Migrations = []Migration{
	{
		Version: 1,
		Name:    "enable_extensions",
		// Safe to re-run; no down because later objects depend on the
		// extension for primary key generation.
		Up: `CREATE EXTENSION IF NOT EXISTS "pgcrypto"`,
	},
	{
		Version: 2,
		Name:    "create_users",
		Up: `
			CREATE TABLE users (
				id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
				name TEXT NOT NULL,
				email TEXT NOT NULL UNIQUE,
				phone VARCHAR(32),
				password TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
		Down: `DROP TABLE users`,
	},
	{
		Version: 3,
		Name:    "create_accounts",
		Up: `
			CREATE TABLE accounts (
				id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
				user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				account_number VARCHAR(20) NOT NULL UNIQUE,
				account_type VARCHAR(16) NOT NULL
					CHECK (account_type IN ('checking', 'savings', 'business', 'investment')),
				balance NUMERIC(15,2) NOT NULL DEFAULT 0,
				currency CHAR(3) NOT NULL DEFAULT 'USD',
				is_active BOOLEAN NOT NULL DEFAULT TRUE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX idx_accounts_user_id ON accounts(user_id)`,
		Down: `DROP TABLE accounts`,
	},
	{
		Version: 4,
		Name:    "create_grants",
		Up: `
			CREATE TABLE grants (
				id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
				user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				account_id UUID NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
				amount NUMERIC(15,2) NOT NULL,
				currency CHAR(3) NOT NULL DEFAULT 'USD',
				purpose TEXT NOT NULL,
				status VARCHAR(16) NOT NULL DEFAULT 'approved'
					CHECK (status IN ('pending', 'approved', 'rejected', 'cancelled')),
				metadata JSONB,
				approved_at TIMESTAMPTZ,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX idx_grants_user_id ON grants(user_id);
			CREATE INDEX idx_grants_account_id ON grants(account_id);
			CREATE INDEX idx_grants_status ON grants(status)`,
		Down: `DROP TABLE grants`,
	},
	{
		Version: 5,
		Name:    "create_audit_logs",
		Up: `
			CREATE TABLE audit_logs (
				id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
				user_id UUID REFERENCES users(id) ON DELETE SET NULL,
				action VARCHAR(100) NOT NULL,
				resource_type VARCHAR(50) NOT NULL,
				resource_id VARCHAR(100),
				old_values JSONB,
				new_values JSONB,
				ip_address VARCHAR(45),
				user_agent TEXT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX idx_audit_logs_user_id ON audit_logs(user_id);
			CREATE INDEX idx_audit_logs_action ON audit_logs(action);
			CREATE INDEX idx_audit_logs_resource_type ON audit_logs(resource_type);
			CREATE INDEX idx_audit_logs_created_at ON audit_logs(created_at)`,
		Down: `DROP TABLE audit_logs`,
	},
	{
		Version: 6,
		Name:    "create_transactions",
		Up: `
			CREATE TABLE transactions (
				id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
				from_account_id UUID NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
				to_account_id UUID REFERENCES accounts(id) ON DELETE SET NULL,
				amount NUMERIC(15,2) NOT NULL,
				type VARCHAR(16) NOT NULL
					CHECK (type IN ('transfer', 'deposit', 'withdrawal', 'payment', 'fee')),
				status VARCHAR(16) NOT NULL DEFAULT 'pending'
					CHECK (status IN ('pending', 'completed', 'failed', 'cancelled')),
				description TEXT,
				reference VARCHAR(64) UNIQUE,
				category VARCHAR(50),
				recipient VARCHAR(140),
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX idx_transactions_from_account_id ON transactions(from_account_id);
			CREATE INDEX idx_transactions_status ON transactions(status)`,
		Down: `DROP TABLE transactions`,
	},
}
