package postgres

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_users",
			UpSQL:   migration001Up,
		},
		{
			Version: 2,
			Name:    "create_tasks_and_submissions",
			UpSQL:   migration002Up,
		},
		{
			Version: 3,
			Name:    "create_xp_ledger",
			UpSQL:   migration003Up,
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE USERS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create users table
-- Version: 001
-- Only the columns the core reads. Identity is owned by the auth service.

CREATE TABLE IF NOT EXISTS users (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    role VARCHAR(20) NOT NULL DEFAULT 'learner',
    xp_total INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_role CHECK (role IN ('learner', 'instructor', 'admin', 'partner'))
);

CREATE INDEX IF NOT EXISTS idx_users_xp_total ON users(xp_total DESC);

-- Updated_at trigger function for automatic timestamp updates
CREATE OR REPLACE FUNCTION update_updated_at_column()
RETURNS TRIGGER AS $$
BEGIN
    NEW.updated_at = NOW();
    RETURN NEW;
END;
$$ language 'plpgsql';

DROP TRIGGER IF EXISTS update_users_updated_at ON users;
CREATE TRIGGER update_users_updated_at
    BEFORE UPDATE ON users
    FOR EACH ROW
    EXECUTE FUNCTION update_updated_at_column();
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE TASKS AND SUBMISSIONS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create tasks and submissions
-- Version: 002

CREATE TABLE IF NOT EXISTS tasks (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    course_id UUID NOT NULL,
    title VARCHAR(200) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    task_type VARCHAR(30) NOT NULL,
    xp_reward INTEGER NOT NULL DEFAULT 0,
    auto_verify BOOLEAN NOT NULL DEFAULT FALSE,
    verification_rules JSONB,
    owner_id UUID NOT NULL REFERENCES users(id),
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_task_type CHECK (task_type IN (
        'transaction_proof', 'link_submission', 'text_submission', 'quiz', 'file_upload'
    )),
    CONSTRAINT valid_xp_reward CHECK (xp_reward >= 0)
);

CREATE INDEX IF NOT EXISTS idx_tasks_course_created ON tasks(course_id, created_at);

CREATE TABLE IF NOT EXISTS submissions (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    task_id UUID NOT NULL REFERENCES tasks(id) ON DELETE RESTRICT,
    user_id UUID NOT NULL REFERENCES users(id),
    submission_text TEXT,
    files JSONB,
    links JSONB,
    transaction_hash VARCHAR(66),
    status VARCHAR(20) NOT NULL DEFAULT 'pending',
    xp_awarded INTEGER NOT NULL DEFAULT 0,
    feedback TEXT,
    reviewer_id UUID REFERENCES users(id),
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    reviewed_at TIMESTAMP WITH TIME ZONE,

    -- One submission per learner per task; re-submission merges in place
    CONSTRAINT uq_submissions_task_user UNIQUE (task_id, user_id),
    CONSTRAINT valid_submission_status CHECK (status IN ('pending', 'approved', 'rejected')),
    CONSTRAINT valid_xp_awarded CHECK (xp_awarded >= 0)
);

CREATE INDEX IF NOT EXISTS idx_submissions_pending ON submissions(created_at) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_submissions_user_created ON submissions(user_id, created_at DESC);

DROP TRIGGER IF EXISTS update_tasks_updated_at ON tasks;
CREATE TRIGGER update_tasks_updated_at
    BEFORE UPDATE ON tasks
    FOR EACH ROW
    EXECUTE FUNCTION update_updated_at_column();
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: CREATE XP LEDGER
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Migration: Create append-only XP ledger
-- Version: 003

CREATE TABLE IF NOT EXISTS xp_ledger (
    id BIGSERIAL PRIMARY KEY,
    user_id UUID NOT NULL REFERENCES users(id),
    source_type VARCHAR(30) NOT NULL,
    source_id UUID,
    xp_change INTEGER NOT NULL,
    balance_after INTEGER NOT NULL,
    reason VARCHAR(200),
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_source_type CHECK (source_type IN (
        'task_completion', 'course_completion', 'admin_grant', 'admin_deduction', 'bounty'
    )),
    CONSTRAINT non_zero_change CHECK (xp_change <> 0)
);

CREATE INDEX IF NOT EXISTS idx_xp_ledger_user_id ON xp_ledger(user_id, id DESC);
CREATE INDEX IF NOT EXISTS idx_xp_ledger_source ON xp_ledger(source_type, source_id);

-- Ledger rows are immutable
CREATE OR REPLACE FUNCTION reject_xp_ledger_mutation()
RETURNS TRIGGER AS $$
BEGIN
    RAISE EXCEPTION 'xp_ledger is append-only';
END;
$$ language 'plpgsql';

DROP TRIGGER IF EXISTS xp_ledger_append_only ON xp_ledger;
CREATE TRIGGER xp_ledger_append_only
    BEFORE UPDATE OR DELETE ON xp_ledger
    FOR EACH ROW
    EXECUTE FUNCTION reject_xp_ledger_mutation();
`

