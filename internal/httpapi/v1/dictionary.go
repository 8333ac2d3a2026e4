package v1

import (
	"net/http"

	"github.com/tinoosan/settlements/internal/dictionary"
)

// GET /v1/dictionary/enums
func (s *Server) getEnumsDictionary(w http.ResponseWriter, r *http.Request) {
	toJSON(w, http.StatusOK, struct {
		ExecutionStatuses []dictionary.Def `json:"execution_statuses"`
		PaymentStatuses   []dictionary.Def `json:"payment_statuses"`
		ExpenseTypes      []dictionary.Def `json:"expense_types"`
		ExpenseStatuses   []dictionary.Def `json:"expense_statuses"`
	}{
		ExecutionStatuses: dictionary.ExecutionStatuses(),
		PaymentStatuses:   dictionary.PaymentStatuses(),
		ExpenseTypes:      dictionary.ExpenseTypes(),
		ExpenseStatuses:   dictionary.ExpenseStatuses(),
	})
}
