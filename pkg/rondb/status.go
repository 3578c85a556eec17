package rondb

import (
	"fmt"
	"net/http"

	"github.com/KernelMaker/rondb/pkg/ndb"
)

// SUCCESS is the HTTPCode of a successful Status.
const SUCCESS = http.StatusOK

// Status is the operation outcome exchanged with the layer embedding the
// pool. HTTPCode == SUCCESS denotes OK; Code carries the catalog error code
// and Classification the native driver classification, when one applies.
type Status struct {
	HTTPCode       int                `json:"http_code"`
	Code           int                `json:"code"`
	Classification ndb.Classification `json:"classification"`
	Message        string             `json:"message"`
}

// OK reports whether the status denotes success.
func (s Status) OK() bool {
	return s.HTTPCode == SUCCESS
}

func (s Status) String() string {
	if s.OK() {
		return "OK"
	}
	return fmt.Sprintf("code: %d classification: %s msg: %s", s.Code, s.Classification, s.Message)
}

// OkStatus returns a successful Status.
func OkStatus() Status {
	return Status{HTTPCode: SUCCESS}
}

// ServerErrorStatus returns a failed Status with the given catalog code and
// message.
func ServerErrorStatus(code int, message string) Status {
	return Status{
		HTTPCode: http.StatusInternalServerError,
		Code:     code,
		Message:  message,
	}
}

// ClassifiedErrorStatus returns a failed Status carrying a native driver
// classification. Callers use it to report per-request outcomes back to the
// pool on release.
func ClassifiedErrorStatus(code int, classification ndb.Classification, message string) Status {
	return Status{
		HTTPCode:       http.StatusInternalServerError,
		Code:           code,
		Classification: classification,
		Message:        message,
	}
}

func errorStatus(code int, err error) Status {
	return ServerErrorStatus(code, err.Error())
}
