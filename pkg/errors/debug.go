package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Postgres constraints whose violations map to a known storefront condition.
var knownConstraints = map[string]string{
	"ux_orders_payment_result_id":   "payment_replay",
	"orders_payment_channel_check":  "unknown_payment_channel",
	"orders_delivery_status_check":  "unknown_delivery_status",
	"order_line_items_qty_check":    "non_positive_quantity",
	"products_price_check":          "negative_price",
	"outbox_dlq_error_reason_check": "unknown_dlq_reason",
}

// Diagnostics is the log-oriented view of an error: its typed code, the
// unwrap chain and, when the database rejected a statement, the server's
// own diagnosis.
type Diagnostics struct {
	Message string
	Code    Code
	Chain   []string

	SQLState   string
	Constraint string
	Condition  string
	Table      string
	Column     string
	Detail     string
}

// Diagnose inspects err. Both pgx and lib/pq driver errors are recognized.
func Diagnose(err error) Diagnostics {
	if err == nil {
		return Diagnostics{}
	}
	d := Diagnostics{Message: err.Error()}
	if te := As(err); te != nil {
		d.Code = te.Code()
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}

	var pgxErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pgxErr):
		d.SQLState, d.Constraint = pgxErr.Code, pgxErr.ConstraintName
		d.Table, d.Column, d.Detail = pgxErr.TableName, pgxErr.ColumnName, pgxErr.Detail
	case errors.As(err, &pqErr):
		d.SQLState, d.Constraint = string(pqErr.Code), pqErr.Constraint
		d.Table, d.Column, d.Detail = pqErr.Table, pqErr.Column, pqErr.Detail
	}
	d.Condition = knownConstraints[d.Constraint]
	return d
}

// LogFields flattens the diagnostics for a structured log line. Database
// fields appear only when a driver error was found in the chain.
func (d Diagnostics) LogFields() map[string]any {
	fields := map[string]any{
		"error":       d.Message,
		"error_code":  string(d.Code),
		"error_chain": d.Chain,
	}
	if d.SQLState == "" {
		return fields
	}
	fields["sqlstate"] = d.SQLState
	for key, value := range map[string]string{
		"db_constraint": d.Constraint,
		"db_condition":  d.Condition,
		"db_table":      d.Table,
		"db_column":     d.Column,
		"db_detail":     d.Detail,
	} {
		if value != "" {
			fields[key] = value
		}
	}
	return fields
}
