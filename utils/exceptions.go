package utils

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindMissingParameter
	KindInvalidParameterValue
	KindVersionNegotiationFailed
	KindServiceNotSupported
	KindOperationNotSupported
	KindOptionNotSupported
	KindNoSuchCoverage
	KindNoSuchDatasetSeries
	KindNoSuchField
	KindInvalidAxisLabel
	KindInvalidSubsetting
	KindUnknownCRS
	KindStructuralError
	KindMalformedDocument
)

var kindNames = map[ErrorKind]string{
	KindInternal:                 "InternalError",
	KindMissingParameter:         "MissingParameter",
	KindInvalidParameterValue:    "InvalidParameterValue",
	KindVersionNegotiationFailed: "VersionNegotiationFailed",
	KindServiceNotSupported:      "ServiceNotSupported",
	KindOperationNotSupported:    "OperationNotSupported",
	KindOptionNotSupported:       "OptionNotSupported",
	KindNoSuchCoverage:           "NoSuchCoverage",
	KindNoSuchDatasetSeries:      "NoSuchDatasetSeries",
	KindNoSuchField:              "NoSuchField",
	KindInvalidAxisLabel:         "InvalidAxisLabel",
	KindInvalidSubsetting:        "InvalidSubsetting",
	KindUnknownCRS:               "UnknownCRS",
	KindStructuralError:          "StructuralError",
	KindMalformedDocument:        "MalformedDocument",
}

func (k ErrorKind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// OWSError is an error that is reported to clients as an OWS exception.
// Code is the exceptionCode written to the report and Locator names the
// offending parameter, if any.
type OWSError struct {
	Kind    ErrorKind
	Code    string
	Locator string
	Message string
	Err     error
}

func (e *OWSError) Error() string {
	if e.Err != nil && len(e.Message) == 0 {
		return e.Err.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *OWSError) Unwrap() error {
	return e.Err
}

// Is matches on kind so that errors.Is(err, &OWSError{Kind: ...}) works
// as a kind check.
func (e *OWSError) Is(target error) bool {
	t, ok := target.(*OWSError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (len(t.Code) == 0 || t.Code == e.Code)
}

// Status returns the default HTTP status for the error.
func (e *OWSError) Status() int {
	switch e.Kind {
	case KindNoSuchCoverage, KindNoSuchDatasetSeries, KindNoSuchField, KindInvalidAxisLabel, KindInvalidSubsetting:
		return http.StatusNotFound
	case KindOperationNotSupported, KindOptionNotSupported:
		return http.StatusNotImplemented
	case KindInternal, KindStructuralError:
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}

// IsInternal reports whether the details of the error should be hidden
// from clients.
func (e *OWSError) IsInternal() bool {
	return e.Kind == KindInternal || e.Kind == KindStructuralError
}

func newOWSError(kind ErrorKind, code, locator, msg string) *OWSError {
	return &OWSError{Kind: kind, Code: code, Locator: locator, Message: msg}
}

func MissingParameter(locator string) *OWSError {
	return newOWSError(KindMissingParameter, "MissingParameterValue", locator,
		fmt.Sprintf("Mandatory '%s' parameter missing.", locator))
}

func InvalidParameterValue(locator, msg string) *OWSError {
	return newOWSError(KindInvalidParameterValue, "InvalidParameterValue", locator, msg)
}

// AmbiguousParameter is raised when a single valued parameter occurs more
// than once.
func AmbiguousParameter(locator string, n int) *OWSError {
	return newOWSError(KindInvalidParameterValue, "InvalidParameterValue", locator,
		fmt.Sprintf("Parameter '%s' must occur at most once, found %d values.", locator, n))
}

func TypeConversion(locator, value, typeName string, err error) *OWSError {
	e := newOWSError(KindInvalidParameterValue, "InvalidParameterValue", locator,
		fmt.Sprintf("Cannot convert '%s' of parameter '%s' to %s.", value, locator, typeName))
	e.Err = err
	return e
}

// OccurrenceError reports a count violation of an XML location.
func OccurrenceError(locator, msg string) *OWSError {
	return newOWSError(KindInvalidParameterValue, "InvalidParameterValue", locator, msg)
}

func VersionNegotiationFailed(highest, lowest string) *OWSError {
	return newOWSError(KindVersionNegotiationFailed, "VersionNegotiationFailed", "acceptversions",
		fmt.Sprintf("Version negotiation failed! Highest supported version: %s; Lowest supported version: %s", highest, lowest))
}

func ServiceNotSupported(service string) *OWSError {
	return newOWSError(KindServiceNotSupported, "InvalidParameterValue", "service",
		fmt.Sprintf("Service '%s' is not supported.", service))
}

func OperationNotSupported(operation string) *OWSError {
	return newOWSError(KindOperationNotSupported, "OperationNotSupported", "request",
		fmt.Sprintf("Operation '%s' is not supported.", operation))
}

func OptionNotSupported(locator, msg string) *OWSError {
	return newOWSError(KindOptionNotSupported, "OptionNotSupported", locator, msg)
}

func NoSuchCoverage(ids []string) *OWSError {
	return newOWSError(KindNoSuchCoverage, "NoSuchCoverage", strings.Join(ids, " "),
		fmt.Sprintf("No coverage with coverage id%s %s found", plural(ids), quoteList(ids)))
}

func NoSuchDatasetSeriesOrCoverage(ids []string) *OWSError {
	return newOWSError(KindNoSuchDatasetSeries, "NoSuchDatasetSeriesOrCoverage", strings.Join(ids, " "),
		fmt.Sprintf("No dataset series or coverage with EO ID%s %s found", plural(ids), quoteList(ids)))
}

func NoSuchField(fields []string) *OWSError {
	return newOWSError(KindNoSuchField, "NoSuchField", strings.Join(fields, " "),
		fmt.Sprintf("No field%s %s in the range type", plural(fields), quoteList(fields)))
}

func InvalidAxisLabel(axis string) *OWSError {
	return newOWSError(KindInvalidAxisLabel, "InvalidAxisLabel", axis,
		fmt.Sprintf("Invalid axis label '%s'.", axis))
}

func InvalidSubsetting(locator, msg string) *OWSError {
	return newOWSError(KindInvalidSubsetting, "InvalidSubsetting", locator, msg)
}

func UnknownCRS(crs string) *OWSError {
	return newOWSError(KindUnknownCRS, "SubsettingCrs-NotSupported", "subset",
		fmt.Sprintf("Coordinate reference system '%s' is not recognised.", crs))
}

func StructuralError(msg string) *OWSError {
	return newOWSError(KindStructuralError, "NoApplicableCode", "", msg)
}

func MalformedDocument(err error) *OWSError {
	e := newOWSError(KindMalformedDocument, "OperationParsingFailed", "", "Could not parse XML request document.")
	e.Err = err
	return e
}

func InternalError(format string, args ...interface{}) *OWSError {
	return newOWSError(KindInternal, "NoApplicableCode", "", fmt.Sprintf(format, args...))
}

// AsOWSError extracts an *OWSError from err. Errors of any other type are
// wrapped as internal errors.
func AsOWSError(err error) *OWSError {
	var oe *OWSError
	if errors.As(err, &oe) {
		return oe
	}
	return &OWSError{Kind: KindInternal, Code: "NoApplicableCode", Err: err}
}

// ErrorStatus returns the HTTP status for err. Overrides map exception
// codes to statuses and take precedence over the kind default.
func ErrorStatus(err error, overrides map[string]int) int {
	oe := AsOWSError(err)
	if s, ok := overrides[oe.Code]; ok {
		return s
	}
	return oe.Status()
}

func plural(items []string) string {
	if len(items) > 1 {
		return "s"
	}
	return ""
}

func quoteList(items []string) string {
	q := make([]string, len(items))
	for i, s := range items {
		q[i] = "'" + s + "'"
	}
	return strings.Join(q, ", ")
}
