package handlers

import "fmt"

const termDialogPrefix = "badword_dialog"

// TermDialogKey is the kv key holding an open add-term dialog of an account
// in a scope.
func TermDialogKey(scopeID, accountID int64) string {
	return fmt.Sprintf("%s:%d:%d", termDialogPrefix, scopeID, accountID)
}
