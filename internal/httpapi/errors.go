package httpapi

import (
	"net/http"
	"strings"

	"github.com/MarkoPoloResearchLab/parkwise/internal/grpcserver"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	errorLedger            = "ledger_error"
	errorLedgerUnavailable = "ledger_unavailable"
	errorLedgerTimeout     = "ledger_timeout"
	errorHardDelete        = "hard_delete_disallowed"
)

var statusByCode = map[codes.Code]int{
	codes.InvalidArgument:    http.StatusBadRequest,
	codes.PermissionDenied:   http.StatusForbidden,
	codes.NotFound:           http.StatusNotFound,
	codes.Aborted:            http.StatusConflict,
	codes.AlreadyExists:      http.StatusConflict,
	codes.FailedPrecondition: http.StatusConflict,
	codes.Unauthenticated:    http.StatusUnauthorized,
}

// translateLedgerError maps a ledger RPC failure to an HTTP status, a stable code and a message.
func translateLedgerError(err error) (int, string, string) {
	statusInfo, ok := status.FromError(err)
	if !ok {
		return http.StatusBadGateway, errorLedger, "ledger call failed"
	}
	switch statusInfo.Code() {
	case codes.Unavailable:
		return http.StatusServiceUnavailable, errorLedgerUnavailable, "ledger is unavailable"
	case codes.DeadlineExceeded, codes.Canceled:
		return http.StatusGatewayTimeout, errorLedgerTimeout, "ledger did not answer in time"
	}
	httpStatus, known := statusByCode[statusInfo.Code()]
	if !known {
		return http.StatusBadGateway, errorLedger, "ledger call failed"
	}
	name := grpcserver.ErrorName(err)
	if name == errorHardDelete {
		httpStatus = http.StatusMethodNotAllowed
	}
	message := statusInfo.Message()
	if _, detail, found := strings.Cut(message, ":"); found && strings.TrimSpace(detail) != "" {
		message = strings.TrimSpace(detail)
	}
	if name == "" {
		name = errorLedger
	}
	return httpStatus, name, message
}
