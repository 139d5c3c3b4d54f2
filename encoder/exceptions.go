package encoder

// ExceptionReport is the OWS 2.0 exception report of WCS responses.
func ExceptionReport(code, locator, text string) Node {
	exception := []interface{}{Attr("", "exceptionCode", code)}
	if len(locator) > 0 {
		exception = append(exception, Attr("", "locator", locator))
	}
	exception = append(exception, N("ows", "ExceptionText", text))

	return N("ows", "ExceptionReport",
		Attr("", "version", "2.0.0"),
		Attr("xml", "lang", "en"),
		N("ows", "Exception", exception...),
	)
}

// ServiceExceptionReport is the exception document of WMS responses.
func ServiceExceptionReport(version, code, locator, text string) Node {
	exception := []interface{}{Attr("", "code", code)}
	if len(locator) > 0 {
		exception = append(exception, Attr("", "locator", locator))
	}
	exception = append(exception, text)

	root := []interface{}{Attr("", "version", version)}
	if version == "1.3.0" {
		root = append(root, Attr("", "xmlns", NsOGC))
	}
	root = append(root, N("", "ServiceException", exception...))
	return N("", "ServiceExceptionReport", root...)
}
