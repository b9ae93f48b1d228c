package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// ProviderError is a failure returned by an upstream HTTP API such as the
// payment gateway.
type ProviderError interface {
	error
	Provider() string
	ProviderStatus() int
}

// ErrorDump flattens an error chain into log fields.
type ErrorDump struct {
	TopMessage string   `json:"top_message"`
	Code       Code     `json:"code,omitempty"`
	Retryable  bool     `json:"retryable"`
	Chain      []string `json:"chain,omitempty"`

	Provider          string `json:"provider,omitempty"`
	ProviderStatus    int    `json:"provider_status,omitempty"`
	ProviderOperation string `json:"provider_operation,omitempty"`

	PGCode       string `json:"pg_code,omitempty"`
	PGConstraint string `json:"pg_constraint,omitempty"`
	PGTable      string `json:"pg_table,omitempty"`
	PGColumn     string `json:"pg_column,omitempty"`
	PGDetail     string `json:"pg_detail,omitempty"`
	PGMessage    string `json:"pg_message,omitempty"`
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}

	d := ErrorDump{TopMessage: err.Error(), Retryable: IsRetryable(err)}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}

	if te := As(err); te != nil {
		d.Code = te.Code()
		// carrier failures carry {operation, status} details
		if details, ok := te.Details().(map[string]any); ok {
			if op, ok := details["operation"].(string); ok {
				d.ProviderOperation = op
			}
			if status, ok := details["status"].(int); ok {
				d.ProviderStatus = status
			}
		}
	}

	var pe ProviderError
	if errors.As(err, &pe) {
		d.Provider = pe.Provider()
		d.ProviderStatus = pe.ProviderStatus()
	}

	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		d.PGCode = pgxErr.Code
		d.PGConstraint = pgxErr.ConstraintName
		d.PGTable = pgxErr.TableName
		d.PGColumn = pgxErr.ColumnName
		d.PGDetail = pgxErr.Detail
		d.PGMessage = pgxErr.Message
		return d
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		d.PGCode = string(pqErr.Code)
		d.PGConstraint = pqErr.Constraint
		d.PGTable = pqErr.Table
		d.PGColumn = pqErr.Column
		d.PGDetail = pqErr.Detail
		d.PGMessage = pqErr.Message
	}
	return d
}

// Fields returns the non-empty parts of the dump for structured logging.
func (d ErrorDump) Fields() map[string]any {
	fields := map[string]any{
		"error":       d.TopMessage,
		"error_code":  d.Code,
		"error_chain": d.Chain,
		"retryable":   d.Retryable,
	}
	add := func(key string, v string) {
		if v != "" {
			fields[key] = v
		}
	}
	add("provider", d.Provider)
	add("provider_operation", d.ProviderOperation)
	if d.ProviderStatus != 0 {
		fields["provider_status"] = d.ProviderStatus
	}
	add("pg_code", d.PGCode)
	add("pg_constraint", d.PGConstraint)
	add("pg_table", d.PGTable)
	add("pg_column", d.PGColumn)
	add("pg_detail", d.PGDetail)
	add("pg_message", d.PGMessage)
	return fields
}
