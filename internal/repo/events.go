package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"bidworks/internal/domain"
)

// LatestEvents returns recent audit rows, newest first, optionally filtered.
func (r Repo) LatestEvents(ctx context.Context, limit int, jobID, evtType string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, jobID, evtType)
}

// LatestEventsFrom pages backwards from the cursor event id.
func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, jobID, evtType string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if jobID != "" {
		clauses = append(clauses, "job_id=?")
		args = append(args, jobID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,job_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var jobID, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &jobID, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if jobID.Valid {
			e.JobID = jobID.String
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
