package db

// SchemaSQL contains the database schema initialization SQL.
const SchemaSQL = `
    -- ==========================================================================
    -- SCAN SESSION TABLE (one row per batch-processing request)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS scan_session SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS connection_ref ON scan_session TYPE string;
    DEFINE FIELD IF NOT EXISTS total_items ON scan_session TYPE int;
    DEFINE FIELD IF NOT EXISTS processed_count ON scan_session TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS status ON scan_session TYPE string DEFAULT 'IN_PROGRESS';
    DEFINE FIELD IF NOT EXISTS artifact_url ON scan_session TYPE string DEFAULT '';
    DEFINE FIELD IF NOT EXISTS created_at ON scan_session TYPE datetime DEFAULT time::now();

    -- ==========================================================================
    -- SCAN RESULT TABLE (one row per processed item)
    -- ==========================================================================
    -- Record id is the composite [session_id, item_ref] so redeliveries upsert
    -- the same row instead of duplicating it.
    DEFINE TABLE IF NOT EXISTS scan_result SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS session_id ON scan_result TYPE string;
    DEFINE FIELD IF NOT EXISTS item_ref ON scan_result TYPE string;
    DEFINE FIELD IF NOT EXISTS found_codes ON scan_result TYPE array<string> DEFAULT [];
    DEFINE FIELD IF NOT EXISTS status ON scan_result TYPE string;
    DEFINE FIELD IF NOT EXISTS link ON scan_result TYPE string DEFAULT '';
    DEFINE FIELD IF NOT EXISTS failed ON scan_result TYPE bool DEFAULT false;
    DEFINE FIELD IF NOT EXISTS error ON scan_result TYPE string DEFAULT '';
    DEFINE FIELD IF NOT EXISTS timestamp ON scan_result TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS scan_result_session ON scan_result FIELDS session_id;

    -- ==========================================================================
    -- SCAN TASK TABLE (durable work queue)
    -- ==========================================================================
    -- claimed_until implements the visibility timeout: a task is receivable
    -- while claimed_until is in the past, so unacked deliveries reappear.
    DEFINE TABLE IF NOT EXISTS scan_task SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS session_id ON scan_task TYPE string;
    DEFINE FIELD IF NOT EXISTS item_ref ON scan_task TYPE string;
    DEFINE FIELD IF NOT EXISTS item_payload ON scan_task TYPE string;
    DEFINE FIELD IF NOT EXISTS link ON scan_task TYPE string DEFAULT '';
    DEFINE FIELD IF NOT EXISTS search_targets ON scan_task TYPE array<string>;
    DEFINE FIELD IF NOT EXISTS claimed_until ON scan_task TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS receipt ON scan_task TYPE string DEFAULT '';
    DEFINE FIELD IF NOT EXISTS attempts ON scan_task TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS enqueued_at ON scan_task TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS scan_task_claim ON scan_task FIELDS claimed_until;
    DEFINE INDEX IF NOT EXISTS scan_task_receipt ON scan_task FIELDS receipt;
`
