package migrate

import "fmt"

// DDLError reports a failed CREATE/ALTER/DROP. The run stops at the failing
// statement; everything executed before it stays applied.
type DDLError struct {
	Table     string
	Statement string
	Err       error
}

func (e *DDLError) Error() string {
	return fmt.Sprintf("ddl failed on %s: %v (statement: %s)", e.Table, e.Err, e.Statement)
}

func (e *DDLError) Unwrap() error { return e.Err }

// RecoveryRequiredError means a backup table from an aborted rebuild is
// still present. The run refuses to touch it; an operator must inspect the
// backup and either restore or drop it before re-running.
type RecoveryRequiredError struct {
	Table  string
	Backup string
}

func (e *RecoveryRequiredError) Error() string {
	return fmt.Sprintf("table %s has a leftover backup %s from an aborted rebuild; manual recovery required", e.Table, e.Backup)
}
