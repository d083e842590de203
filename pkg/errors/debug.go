package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// ErrorDump flattens an error for structured logs.
type ErrorDump struct {
	TopMessage string   `json:"top_message"`
	Code       Code     `json:"code,omitempty"`
	Chain      []string `json:"chain,omitempty"`

	PG *PGFields `json:"pg,omitempty"`
}

// PGFields are the postgres diagnostics carried by either driver's error type.
type PGFields struct {
	Code       string `json:"code,omitempty"`
	Constraint string `json:"constraint,omitempty"`
	Table      string `json:"table,omitempty"`
	Column     string `json:"column,omitempty"`
	Detail     string `json:"detail,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Fields renders the dump as log fields. Postgres keys are only present when
// the chain carried a driver error.
func (d ErrorDump) Fields() map[string]any {
	fields := map[string]any{
		"error":       d.TopMessage,
		"error_code":  d.Code,
		"error_chain": d.Chain,
	}
	if d.PG == nil {
		return fields
	}
	fields["pg_code"] = d.PG.Code
	fields["pg_constraint"] = d.PG.Constraint
	fields["pg_table"] = d.PG.Table
	fields["pg_column"] = d.PG.Column
	fields["pg_detail"] = d.PG.Detail
	fields["pg_message"] = d.PG.Message
	if hint, ok := constraintHints[d.PG.Constraint]; ok {
		fields["constraint_hint"] = hint.message
	}
	return fields
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}
	d := ErrorDump{TopMessage: err.Error(), PG: pgFieldsOf(err)}
	if te := As(err); te != nil {
		d.Code = te.Code()
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}
	return d
}

func pgFieldsOf(err error) *PGFields {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return &PGFields{
			Code:       pgxErr.Code,
			Constraint: pgxErr.ConstraintName,
			Table:      pgxErr.TableName,
			Column:     pgxErr.ColumnName,
			Detail:     pgxErr.Detail,
			Message:    pgxErr.Message,
		}
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &PGFields{
			Code:       string(pqErr.Code),
			Constraint: pqErr.Constraint,
			Table:      pqErr.Table,
			Column:     pqErr.Column,
			Detail:     pqErr.Detail,
			Message:    pqErr.Message,
		}
	}
	return nil
}

type constraintHint struct {
	code    Code
	message string
}

// constraintHints maps schema constraints to the domain error a service
// would have raised had it caught the condition first.
var constraintHints = map[string]constraintHint{
	"users_balance_non_negative":        {CodeInsufficientFunds, "balance would go negative"},
	"users_not_self_invited":            {CodeValidation, "user cannot invite themselves"},
	"users_member_level_range":          {CodeValidation, "member level out of range"},
	"idx_users_email":                   {CodeConflict, "email already registered"},
	"idx_users_invite_code":             {CodeConflict, "invite code already taken"},
	"ux_commission_records_agent_order": {CodeConflict, "commission already recorded for agent and order"},
	"commission_records_amount_bounded": {CodeValidation, "commission exceeds order amount"},
	"idx_cashback_records_order_id":     {CodeConflict, "cashback already recorded for order"},
	"idx_recharge_records_out_trade_no": {CodeConflict, "duplicate out_trade_no"},
	"idx_outbox_dlq_event_id":           {CodeConflict, "event already dead-lettered"},
}

// FromConstraint translates a known constraint violation into a typed error.
// It returns nil when err carries no recognised constraint.
func FromConstraint(err error) *Error {
	pg := pgFieldsOf(err)
	if pg == nil {
		return nil
	}
	hint, ok := constraintHints[pg.Constraint]
	if !ok {
		return nil
	}
	return Wrap(hint.code, err, hint.message)
}
