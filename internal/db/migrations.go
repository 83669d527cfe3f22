package db

import (
	"context"
	"fmt"
)

// Migrate creates the schema. Statements are valid for both SQLite and PostgreSQL.
func (db *DB) Migrate(ctx context.Context) error {
	for _, m := range migrations {
		if _, err := db.DB.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

var migrations = []string{
	migrationSubjects,
	`CREATE INDEX IF NOT EXISTS idx_subjects_stage ON subjects(tenant_id, stage_id)`,
	`CREATE INDEX IF NOT EXISTS idx_subjects_event_date ON subjects(event_date)`,

	migrationCampaigns,
	// one current version per lineage
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_campaigns_lineage_current ON campaigns(lineage_id) WHERE is_current_version = 1`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_campaigns_lineage_version ON campaigns(lineage_id, version)`,
	// one open draft per tenant and stage
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_campaigns_single_draft ON campaigns(tenant_id, target_stage_id) WHERE status = 'DRAFT' AND is_current_version = 1`,
	`CREATE INDEX IF NOT EXISTS idx_campaigns_stage ON campaigns(tenant_id, target_stage_id, status)`,

	migrationCampaignEmails,

	migrationSubscriptions,
	`CREATE INDEX IF NOT EXISTS idx_subscriptions_due ON subscriptions(status, next_email_at)`,
	`CREATE INDEX IF NOT EXISTS idx_subscriptions_campaign ON subscriptions(campaign_id)`,
	`CREATE INDEX IF NOT EXISTS idx_subscriptions_subject ON subscriptions(subject_id)`,

	migrationDeliveries,
	`CREATE INDEX IF NOT EXISTS idx_deliveries_provider ON deliveries(provider_id)`,
	`CREATE INDEX IF NOT EXISTS idx_deliveries_email ON deliveries(campaign_email_id)`,

	migrationAutomations,
	migrationAutomationSteps,

	migrationAutomationExecutions,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_executions_communication ON automation_executions(subject_id, automation_id, step_id) WHERE kind = 'COMMUNICATION'`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_executions_stage_change ON automation_executions(subject_id, automation_id, trigger_type) WHERE kind = 'STAGE_CHANGE'`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_executions_countdown ON automation_executions(subject_id, automation_id, event_date, days_before) WHERE kind = 'COUNTDOWN'`,

	migrationAPIKeys,
	`CREATE INDEX IF NOT EXISTS idx_api_keys_prefix ON api_keys(key_prefix)`,
}

const migrationSubjects = `
CREATE TABLE IF NOT EXISTS subjects (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    email TEXT NOT NULL DEFAULT '',
    phone TEXT NOT NULL DEFAULT '',
    first_name TEXT NOT NULL DEFAULT '',
    last_name TEXT NOT NULL DEFAULT '',
    stage_id TEXT NOT NULL DEFAULT '',
    stage_entered_at TIMESTAMP NOT NULL,
    event_date TIMESTAMP,
    email_opt_out INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`

const migrationCampaigns = `
CREATE TABLE IF NOT EXISTS campaigns (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    target_stage_id TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'DRAFT',
    content_origin TEXT NOT NULL DEFAULT 'MANUAL',
    cadence_days INTEGER NOT NULL DEFAULT 7,
    max_duration_days INTEGER NOT NULL DEFAULT 0,
    version INTEGER NOT NULL DEFAULT 1,
    parent_campaign_id TEXT REFERENCES campaigns(id),
    lineage_id TEXT NOT NULL,
    is_current_version INTEGER NOT NULL DEFAULT 1,
    from_email TEXT NOT NULL DEFAULT '',
    from_name TEXT NOT NULL DEFAULT '',
    reply_to TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`

const migrationCampaignEmails = `
CREATE TABLE IF NOT EXISTS campaign_emails (
    id TEXT PRIMARY KEY,
    campaign_id TEXT NOT NULL REFERENCES campaigns(id),
    sequence_index INTEGER NOT NULL,
    subject TEXT NOT NULL,
    html_body TEXT NOT NULL DEFAULT '',
    text_body TEXT NOT NULL DEFAULT '',
    days_after_start INTEGER NOT NULL DEFAULT 0,
    send_at_hour INTEGER,
    approval_status TEXT NOT NULL DEFAULT 'PENDING',
    original_subject TEXT,
    original_html_body TEXT,
    original_text_body TEXT,
    created_at TIMESTAMP NOT NULL,
    UNIQUE(campaign_id, sequence_index)
)`

const migrationSubscriptions = `
CREATE TABLE IF NOT EXISTS subscriptions (
    id TEXT PRIMARY KEY,
    campaign_id TEXT NOT NULL REFERENCES campaigns(id),
    lineage_id TEXT NOT NULL,
    subject_id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    started_at TIMESTAMP NOT NULL,
    next_email_index INTEGER NOT NULL DEFAULT 0,
    next_email_at TIMESTAMP,
    status TEXT NOT NULL DEFAULT 'ACTIVE',
    completed_at TIMESTAMP,
    end_reason TEXT NOT NULL DEFAULT '',
    revision INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    UNIQUE(lineage_id, subject_id)
)`

const migrationDeliveries = `
CREATE TABLE IF NOT EXISTS deliveries (
    id TEXT PRIMARY KEY,
    subscription_id TEXT NOT NULL REFERENCES subscriptions(id),
    campaign_email_id TEXT NOT NULL REFERENCES campaign_emails(id),
    sequence_index INTEGER NOT NULL,
    status TEXT NOT NULL DEFAULT 'PENDING',
    provider_id TEXT NOT NULL DEFAULT '',
    attempts INTEGER NOT NULL DEFAULT 0,
    last_error TEXT NOT NULL DEFAULT '',
    claimed_at TIMESTAMP,
    retry_after TIMESTAMP,
    sent_at TIMESTAMP,
    delivered_at TIMESTAMP,
    opened_at TIMESTAMP,
    clicked_at TIMESTAMP,
    bounced_at TIMESTAMP,
    failed_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    UNIQUE(subscription_id, campaign_email_id),
    UNIQUE(subscription_id, sequence_index)
)`

const migrationAutomations = `
CREATE TABLE IF NOT EXISTS automations (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    kind TEXT NOT NULL,
    trigger_stage_id TEXT NOT NULL DEFAULT '',
    trigger_type TEXT NOT NULL DEFAULT '',
    target_stage_id TEXT NOT NULL DEFAULT '',
    days_before INTEGER NOT NULL DEFAULT 0,
    channel TEXT NOT NULL DEFAULT '',
    subject TEXT NOT NULL DEFAULT '',
    body TEXT NOT NULL DEFAULT '',
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL
)`

const migrationAutomationSteps = `
CREATE TABLE IF NOT EXISTS automation_steps (
    id TEXT PRIMARY KEY,
    automation_id TEXT NOT NULL REFERENCES automations(id),
    step_index INTEGER NOT NULL,
    delay_minutes INTEGER NOT NULL DEFAULT 0,
    channel TEXT NOT NULL DEFAULT 'email',
    subject TEXT NOT NULL DEFAULT '',
    body TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    UNIQUE(automation_id, step_index)
)`

// Discriminator columns default to '' and 0 so the partial unique indexes
// never compare NULLs.
const migrationAutomationExecutions = `
CREATE TABLE IF NOT EXISTS automation_executions (
    id TEXT PRIMARY KEY,
    subject_id TEXT NOT NULL,
    automation_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    step_id TEXT NOT NULL DEFAULT '',
    trigger_type TEXT NOT NULL DEFAULT '',
    event_date TEXT NOT NULL DEFAULT '',
    days_before INTEGER NOT NULL DEFAULT 0,
    executed_at TIMESTAMP NOT NULL
)`

const migrationAPIKeys = `
CREATE TABLE IF NOT EXISTS api_keys (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    key_hash TEXT NOT NULL,
    key_prefix TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    last_used_at TIMESTAMP,
    revoked_at TIMESTAMP
)`
