package statusstore

// SchemaSQL defines the job/timeline/document-index/memory/dead-letter
// tables the Status Store reads and writes.
const SchemaSQL = `
    -- ==========================================================================
    -- JOB TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS job SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS job_id ON job TYPE string;
    DEFINE FIELD IF NOT EXISTS owner_id ON job TYPE string;
    DEFINE FIELD IF NOT EXISTS title ON job TYPE string;
    DEFINE FIELD IF NOT EXISTS audience ON job TYPE string;
    DEFINE FIELD IF NOT EXISTS cycles_requested ON job TYPE int DEFAULT 1;
    DEFINE FIELD IF NOT EXISTS cycles_completed ON job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS stage ON job TYPE string;
    DEFINE FIELD IF NOT EXISTS message ON job TYPE string DEFAULT '';
    DEFINE FIELD IF NOT EXISTS artifact ON job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS has_error ON job TYPE bool DEFAULT false;
    DEFINE FIELD IF NOT EXISTS last_error ON job TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS cancelled ON job TYPE bool DEFAULT false;
    DEFINE FIELD IF NOT EXISTS diagrams_total ON job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS diagrams_rendered ON job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS memory_version ON job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS created_ts ON job TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated_ts ON job TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS schema_version ON job TYPE int DEFAULT 1;

    DEFINE INDEX IF NOT EXISTS job_job_id ON job FIELDS job_id UNIQUE;
    DEFINE INDEX IF NOT EXISTS job_owner ON job FIELDS owner_id;

    -- ==========================================================================
    -- TIMELINE_EVENT TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS timeline_event SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS job_id ON timeline_event TYPE string;
    DEFINE FIELD IF NOT EXISTS owner_id ON timeline_event TYPE string;
    DEFINE FIELD IF NOT EXISTS stage ON timeline_event TYPE string;
    DEFINE FIELD IF NOT EXISTS phase ON timeline_event TYPE string;
    DEFINE FIELD IF NOT EXISTS ts ON timeline_event TYPE datetime;
    DEFINE FIELD IF NOT EXISTS cycle ON timeline_event TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS artifact ON timeline_event TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS message ON timeline_event TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS details ON timeline_event TYPE option<object> FLEXIBLE;
    -- Idempotence key: replayed ST events with the same identity must not
    -- double-append.
    DEFINE FIELD IF NOT EXISTS event_identity ON timeline_event VALUE
        <string>string::concat(job_id, '|', stage, '|', phase, '|', <string>ts);
    DEFINE INDEX IF NOT EXISTS timeline_event_identity ON timeline_event FIELDS event_identity UNIQUE;
    DEFINE INDEX IF NOT EXISTS timeline_event_job ON timeline_event FIELDS job_id, ts;

    -- ==========================================================================
    -- DOCUMENT_INDEX TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS document_index SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS owner_id ON document_index TYPE string;
    DEFINE FIELD IF NOT EXISTS job_id ON document_index TYPE string;
    DEFINE FIELD IF NOT EXISTS title ON document_index TYPE string;
    DEFINE FIELD IF NOT EXISTS audience ON document_index TYPE string;
    DEFINE FIELD IF NOT EXISTS stage ON document_index TYPE string;
    DEFINE FIELD IF NOT EXISTS message ON document_index TYPE string DEFAULT '';
    DEFINE FIELD IF NOT EXISTS updated_ts ON document_index TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS artifact ON document_index TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS cycles_requested ON document_index TYPE int DEFAULT 1;
    DEFINE FIELD IF NOT EXISTS cycles_completed ON document_index TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS has_error ON document_index TYPE bool DEFAULT false;
    DEFINE FIELD IF NOT EXISTS last_error ON document_index TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS schema_version ON document_index TYPE int DEFAULT 1;
    DEFINE FIELD IF NOT EXISTS composite_key ON document_index VALUE
        <string>string::concat(owner_id, '/', job_id);

    DEFINE INDEX IF NOT EXISTS document_index_composite ON document_index FIELDS composite_key UNIQUE;
    DEFINE INDEX IF NOT EXISTS document_index_owner ON document_index FIELDS owner_id;

    -- ==========================================================================
    -- MEMORY_SNAPSHOT TABLE (one row per job; compare-and-swap target)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS memory_snapshot SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS job_id ON memory_snapshot TYPE string;
    DEFINE FIELD IF NOT EXISTS owner_id ON memory_snapshot TYPE string;
    DEFINE FIELD IF NOT EXISTS version ON memory_snapshot TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS style_notes ON memory_snapshot TYPE array<string> DEFAULT [];
    DEFINE FIELD IF NOT EXISTS declared_facts ON memory_snapshot TYPE object FLEXIBLE DEFAULT {};
    DEFINE FIELD IF NOT EXISTS glossary ON memory_snapshot TYPE array<string> DEFAULT [];

    DEFINE INDEX IF NOT EXISTS memory_snapshot_job ON memory_snapshot FIELDS job_id UNIQUE;

    -- ==========================================================================
    -- DEAD_LETTER TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS dead_letter SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS queue ON dead_letter TYPE string;
    DEFINE FIELD IF NOT EXISTS body ON dead_letter TYPE string;
    DEFINE FIELD IF NOT EXISTS reason ON dead_letter TYPE string;
    DEFINE FIELD IF NOT EXISTS delivery_count ON dead_letter TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS dead_lettered_at ON dead_letter TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS dedupe_key ON dead_letter VALUE
        <string>string::concat(queue, '|', body, '|', <string>delivery_count);

    DEFINE INDEX IF NOT EXISTS dead_letter_dedupe ON dead_letter FIELDS dedupe_key UNIQUE;
    DEFINE INDEX IF NOT EXISTS dead_letter_queue ON dead_letter FIELDS queue;

    -- ==========================================================================
    -- FEATURE_FLAG TABLE (one row per feature/owner grant)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS feature_flag SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS feature_key ON feature_flag TYPE string;
    DEFINE FIELD IF NOT EXISTS owner_id ON feature_flag TYPE string;
    DEFINE FIELD IF NOT EXISTS granted_ts ON feature_flag TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS grant_key ON feature_flag VALUE
        <string>string::concat(feature_key, '|', owner_id);

    DEFINE INDEX IF NOT EXISTS feature_flag_grant ON feature_flag FIELDS grant_key UNIQUE;
    DEFINE INDEX IF NOT EXISTS feature_flag_owner ON feature_flag FIELDS owner_id;
`
