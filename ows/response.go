package ows

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/nci/eows/encoder"
	"github.com/nci/eows/utils"
)

// Response is the encoded result of an operation.
type Response struct {
	Status      int
	ContentType string
	Header      http.Header
	Body        []byte
}

const (
	xmlContentType   = "application/xml"
	gmlContentType   = "application/gml+xml"
	wms111Exceptions = "application/vnd.ogc.se_xml"
)

func encodeXML(enc *encoder.Encoder, n encoder.Node, contentType string) (*Response, error) {
	body, err := enc.Encode(n)
	if err != nil {
		return nil, utils.InternalError("encoding response: %v", err)
	}
	return &Response{Status: http.StatusOK, ContentType: contentType, Body: body}, nil
}

// Write sends the response.
func (r *Response) Write(w http.ResponseWriter) {
	for k, vs := range r.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	if len(r.ContentType) > 0 {
		w.Header().Set("Content-Type", r.ContentType)
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(r.Body)))
	status := r.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	w.Write(r.Body)
}

// ExceptionResponse encodes err in the exception format of service. The
// details of internal errors are replaced by a generic message.
func ExceptionResponse(service, version string, err error, overrides map[string]int) *Response {
	oe := utils.AsOWSError(err)
	text := oe.Error()
	if oe.IsInternal() {
		text = "Internal error"
	}
	status := utils.ErrorStatus(err, overrides)

	var enc *encoder.Encoder
	var node encoder.Node
	contentType := xmlContentType
	if strings.EqualFold(service, "WMS") {
		if version != "1.1.1" {
			version = "1.3.0"
		} else {
			contentType = wms111Exceptions
		}
		enc, node = encoder.Legacy, encoder.ServiceExceptionReport(version, oe.Code, oe.Locator, text)
	} else {
		enc, node = encoder.EOWCS, encoder.ExceptionReport(oe.Code, oe.Locator, text)
	}

	body, encErr := enc.Encode(node)
	if encErr != nil {
		return &Response{Status: http.StatusInternalServerError, ContentType: "text/plain", Body: []byte("Internal error")}
	}
	return &Response{Status: status, ContentType: contentType, Body: body}
}
