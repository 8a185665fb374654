package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"

	"bankintake/internal/domain"
)

// TimeLayout is fixed width so stored timestamps sort lexically.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

type Writer struct {
	Now func() time.Time
}

type row struct {
	ID            int64  `db:"id"`
	TS            string `db:"ts"`
	Type          string `db:"type"`
	ApplicationID string `db:"application_id"`
	Family        string `db:"family"`
	ActorID       string `db:"actor_id"`
	PayloadJSON   string `db:"payload_json"`
}

// Append records evt inside tx. A zero TS is stamped with Now.
func (w Writer) Append(ctx context.Context, tx *sqlx.Tx, evt domain.Event) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := evt.TS
	if ts.IsZero() {
		ts = w.Now()
	}
	payload := evt.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, tx.Rebind(`INSERT INTO application_events(ts,type,application_id,family,actor_id,payload_json) VALUES (?,?,?,?,?,?)`),
		FormatTime(ts), evt.Type, evt.ApplicationID, string(evt.Family), evt.ActorID, string(data))
	return err
}

// List returns the events of one application, oldest first.
func List(ctx context.Context, q sqlx.QueryerContext, applicationID string) ([]domain.Event, error) {
	var rows []row
	query := sqlx.Rebind(sqlx.BindType(driverName(q)), `SELECT id,ts,type,application_id,family,actor_id,payload_json FROM application_events WHERE application_id=? ORDER BY id`)
	if err := sqlx.SelectContext(ctx, q, &rows, query, applicationID); err != nil {
		return nil, err
	}
	out := make([]domain.Event, 0, len(rows))
	for _, r := range rows {
		ts, err := ParseTime(r.TS)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", r.ID, err)
		}
		evt := domain.Event{
			ID:            strconv.FormatInt(r.ID, 10),
			TS:            ts,
			Type:          r.Type,
			ApplicationID: r.ApplicationID,
			Family:        domain.Family(r.Family),
			ActorID:       r.ActorID,
		}
		if r.PayloadJSON != "" && r.PayloadJSON != "{}" {
			if err := json.Unmarshal([]byte(r.PayloadJSON), &evt.Payload); err != nil {
				return nil, fmt.Errorf("event %d payload: %w", r.ID, err)
			}
		}
		out = append(out, evt)
	}
	return out, nil
}

func driverName(q sqlx.QueryerContext) string {
	if d, ok := q.(interface{ DriverName() string }); ok {
		return d.DriverName()
	}
	return ""
}
