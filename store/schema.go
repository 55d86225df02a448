package store

import (
	"fmt"
	"regexp"

	"github.com/pkg/errors"
)

const (
	// RecordsTable is the replicated table.
	RecordsTable = "records"
	// NotifyChannel is the default channel the change capture trigger notifies on.
	NotifyChannel = "record_changes"
	// MaxNotifyPayload is the largest payload, in bytes, the trigger hands to pg_notify.
	// Postgres rejects payloads of 8000 bytes or more. Larger payloads are replaced by
	// a compact {id, version, origin} form flagged with "truncated": true.
	MaxNotifyPayload = 7900
	// OriginSetting is the transaction-local setting naming the origin of a delete.
	OriginSetting = "peersync.origin"
)

var identifierRe = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

const triggerTemplate = `
CREATE OR REPLACE FUNCTION peersync_notify_%[1]s() RETURNS trigger AS $$
DECLARE
    rec     json;
    old_rec json;
    origin  text;
    payload text;
BEGIN
    -- bookkeeping updates (needs_sync, last_synced_at) don't produce a new version
    IF TG_OP = 'UPDATE' AND NEW.version = OLD.version AND NEW.origin = OLD.origin THEN
        RETURN NULL;
    END IF;

    IF TG_OP = 'DELETE' THEN
        rec := row_to_json(OLD);
        origin := COALESCE(NULLIF(current_setting('%[4]s', true), ''), OLD.origin);
    ELSE
        rec := row_to_json(NEW);
        origin := NEW.origin;
    END IF;
    IF TG_OP <> 'INSERT' THEN
        old_rec := row_to_json(OLD);
    END IF;

    payload := json_build_object(
        'operation', TG_OP,
        'record', rec,
        'old_record', old_rec,
        'instance_id', origin,
        'emitted_at', clock_timestamp()
    )::text;

    IF octet_length(payload) > %[3]d THEN
        payload := json_build_object(
            'operation', TG_OP,
            'record', json_build_object(
                'id', rec->>'id',
                'version', (rec->>'version')::bigint,
                'origin', rec->>'origin'
            ),
            'old_record', NULL,
            'instance_id', origin,
            'emitted_at', clock_timestamp(),
            'truncated', true
        )::text;
    END IF;

    PERFORM pg_notify('%[2]s', payload);
    RETURN NULL;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS peersync_%[1]s_changes ON %[1]s;

CREATE TRIGGER peersync_%[1]s_changes
AFTER INSERT OR UPDATE OR DELETE ON %[1]s
FOR EACH ROW
EXECUTE FUNCTION peersync_notify_%[1]s();
`

// TriggerDDL renders the change capture function and trigger for table.
// Every committed row mutation that produces a new version notifies channel with
// {operation, record, old_record, instance_id, emitted_at[, truncated]}.
// Updates that keep both version and origin are skipped: raw SQL updates that don't
// bump version are never replicated.
func TriggerDDL(table, channel string) (string, error) {
	if !identifierRe.MatchString(table) {
		return "", errors.Errorf("invalid table name %q", table)
	}
	if !identifierRe.MatchString(channel) {
		return "", errors.Errorf("invalid notification channel %q", channel)
	}
	return fmt.Sprintf(triggerTemplate, table, channel, MaxNotifyPayload, OriginSetting), nil
}
